package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/garymjr/beadworks/pkg/api/stream"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleEvents streams an issue's session as server-sent events
func (s *Server) handleEvents(c *gin.Context) {
	subjectID := c.Param("id")
	if s.watcher == nil {
		respondError(c, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "event streaming is not configured")
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	s.logger.Info("event stream opened",
		zap.String("subject_id", subjectID),
		zap.String("client", c.ClientIP()))

	send := func(frame stream.Frame) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("failed to marshal frame: %w", err)
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := stream.Run(c.Request.Context(), s.watcher, subjectID, send, s.stream)
	switch {
	case errors.Is(err, stream.ErrSlowConsumer):
		s.logger.Warn("event stream closed for slow consumer", zap.String("subject_id", subjectID))
	case err != nil:
		s.logger.Debug("event stream ended", zap.String("subject_id", subjectID), zap.Error(err))
	default:
		s.logger.Info("event stream closed", zap.String("subject_id", subjectID))
	}
}
