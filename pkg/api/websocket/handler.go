package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/garymjr/beadworks/pkg/api/stream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	watcher stream.Watcher
	opts    stream.Options
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(watcher stream.Watcher, opts stream.Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Handler{
		watcher: watcher,
		opts:    opts,
		logger:  logger,
	}
}

// HandleIssueStream handles WebSocket streaming for a specific issue
func (h *Handler) HandleIssueStream(c *gin.Context) {
	subjectID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("subject_id", subjectID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read side only watches for the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(frame stream.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(frame)
	}

	err = stream.Run(ctx, h.watcher, subjectID, send, h.opts)
	closeCode, reason := websocket.CloseNormalClosure, "stream ended"
	switch {
	case errors.Is(err, stream.ErrSlowConsumer):
		closeCode, reason = websocket.ClosePolicyViolation, "consumer too slow"
		h.logger.Warn("WebSocket stream closed for slow consumer", zap.String("subject_id", subjectID))
	case err != nil:
		h.logger.Debug("WebSocket stream ended", zap.String("subject_id", subjectID), zap.Error(err))
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, reason),
		time.Now().Add(writeWait))
	h.logger.Info("WebSocket connection closed", zap.String("subject_id", subjectID))
}
