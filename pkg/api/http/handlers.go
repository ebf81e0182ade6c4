package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/garymjr/beadworks/internal/application/orchestrator"
	"github.com/garymjr/beadworks/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartWorkRequest represents a work start request. The body is optional.
type StartWorkRequest struct {
	WorkDir string `json:"workDir"`
	// AcquireTimeoutSeconds and TurnTimeoutSeconds override the server defaults when positive
	AcquireTimeoutSeconds int `json:"acquireTimeoutSeconds"`
	TurnTimeoutSeconds    int `json:"turnTimeoutSeconds"`
}

// StartWorkResponse represents a work start response
type StartWorkResponse struct {
	WorkID    string `json:"workId"`
	SubjectID string `json:"subjectId"`
}

// Response is the success envelope
type Response struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// respondDomainError maps orchestration errors onto HTTP statuses
func (s *Server) respondDomainError(c *gin.Context, err error) {
	var cmdErr *domain.CommandError
	switch {
	case errors.Is(err, domain.ErrActiveSession):
		respondError(c, http.StatusConflict, "ACTIVE_SESSION", err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		respondError(c, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrNotInitialized):
		respondError(c, http.StatusServiceUnavailable, "POOL_NOT_INITIALIZED", err.Error())
	case errors.As(err, &cmdErr):
		respondError(c, http.StatusUnprocessableEntity, "TRACKER_ERROR", err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
		return
	}

	status := s.health.GetStatus()
	code, label := http.StatusOK, "healthy"
	if !status.Healthy {
		code, label = http.StatusServiceUnavailable, "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":    label,
		"timestamp": status.Timestamp,
		"checks": gin.H{
			"pool_initialized": status.Initialized,
			"roles":            status.Roles,
			"saturated":        status.Saturated,
		},
	})
}

// handleStartWork starts background work on an issue
func (s *Server) handleStartWork(c *gin.Context) {
	subjectID := c.Param("id")

	var req StartWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	workID, err := s.work.StartWork(c.Request.Context(), subjectID, orchestrator.StartOptions{
		WorkDir:        req.WorkDir,
		AcquireTimeout: time.Duration(req.AcquireTimeoutSeconds) * time.Second,
		TurnTimeout:    time.Duration(req.TurnTimeoutSeconds) * time.Second,
	})
	if err != nil {
		s.respondDomainError(c, err)
		return
	}

	respond(c, http.StatusAccepted, StartWorkResponse{WorkID: workID, SubjectID: subjectID})
}

// handleGetWork returns the latest session for an issue
func (s *Server) handleGetWork(c *gin.Context) {
	subjectID := c.Param("id")

	session := s.work.GetWorkStatus(subjectID)
	if session == nil {
		respondError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "no work session for issue "+subjectID)
		return
	}
	respond(c, http.StatusOK, session)
}

// handleCancelWork requests cooperative cancellation of an issue's active work
func (s *Server) handleCancelWork(c *gin.Context) {
	subjectID := c.Param("id")

	if err := s.work.CancelWork(subjectID); err != nil {
		s.respondDomainError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{
		"subjectId": subjectID,
		"status":    domain.WorkStatusCancelled,
	})
}

// handleListSessions lists active sessions in start order
func (s *Server) handleListSessions(c *gin.Context) {
	respond(c, http.StatusOK, s.work.GetAllActiveWork())
}

// handleGetSession returns one session by work id
func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.work.GetSession(c.Param("workId"))
	if err != nil {
		s.respondDomainError(c, err)
		return
	}
	respond(c, http.StatusOK, session)
}

// handleListWorkers lists pooled workers
func (s *Server) handleListWorkers(c *gin.Context) {
	respond(c, http.StatusOK, s.work.Workers())
}

// handleWorkerStats returns pool occupancy per role
func (s *Server) handleWorkerStats(c *gin.Context) {
	respond(c, http.StatusOK, s.work.PoolStats())
}
