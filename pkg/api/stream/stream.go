package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/garymjr/beadworks/internal/domain"
	"github.com/garymjr/beadworks/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultReplayLimit = 50
	DefaultKeepAlive   = 15 * time.Second
	DefaultMaxLifetime = 30 * time.Minute
	DefaultBufferSize  = 256
)

// FrameTypeKeepAlive marks a frame sent only to keep an idle connection open
const FrameTypeKeepAlive = "keepalive"

// ErrSlowConsumer is returned when live events arrive faster than the peer reads them
var ErrSlowConsumer = errors.New("stream buffer overflow: observer too slow")

// Frame is one message written to an observer
type Frame struct {
	Type      string    `json:"type"`
	SubjectID string    `json:"subjectId"`
	WorkID    string    `json:"workId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// FromEvent wraps a session event in a frame
func FromEvent(event domain.Event) Frame {
	return Frame{
		Type:      string(event.Type),
		SubjectID: event.SubjectID,
		WorkID:    event.WorkID,
		Timestamp: event.Timestamp,
		Data:      event.Data,
	}
}

// Watcher captures a subject's latest session and subscribes to what follows it
type Watcher interface {
	Watch(subjectID string, listener ports.Listener) (*domain.WorkSession, func())
}

// SendFunc writes one frame to the peer
type SendFunc func(Frame) error

// Options tunes replay and connection lifetime
type Options struct {
	ReplayLimit int
	KeepAlive   time.Duration
	MaxLifetime time.Duration
	BufferSize  int
	Now         func() time.Time
	Logger      *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.ReplayLimit <= 0 {
		o.ReplayLimit = DefaultReplayLimit
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.MaxLifetime <= 0 {
		o.MaxLifetime = DefaultMaxLifetime
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Run replays the subject's latest session through send and then forwards
// live events until ctx is done or the maximum lifetime passes, both of which
// return nil. A failed send or a buffer overflow ends the stream with an error.
func Run(ctx context.Context, watcher Watcher, subjectID string, send SendFunc, opts Options) error {
	opts.applyDefaults()
	logger := opts.Logger.With(zap.String("subject_id", subjectID))

	live := make(chan domain.Event, opts.BufferSize)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	snapshot, unsubscribe := watcher.Watch(subjectID, func(event domain.Event) error {
		if event.SubjectID != subjectID {
			return nil
		}
		select {
		case live <- event:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
		return nil
	})
	defer unsubscribe()

	for _, frame := range ReplayFrames(snapshot, opts.ReplayLimit, opts.Now()) {
		if err := send(frame); err != nil {
			return err
		}
	}

	keepAlive := time.NewTicker(opts.KeepAlive)
	defer keepAlive.Stop()
	lifetime := time.NewTimer(opts.MaxLifetime)
	defer lifetime.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lifetime.C:
			logger.Debug("stream reached maximum lifetime")
			return nil
		case <-overflow:
			logger.Warn("closing stream after buffer overflow", zap.Int("buffer", opts.BufferSize))
			return ErrSlowConsumer
		case <-keepAlive.C:
			if err := send(Frame{Type: FrameTypeKeepAlive, SubjectID: subjectID, Timestamp: opts.Now()}); err != nil {
				return err
			}
		case event := <-live:
			if err := send(FromEvent(event)); err != nil {
				return err
			}
		}
	}
}

// ReplayFrames builds the catch-up frames for a session, oldest first.
// A nil session yields no frames.
func ReplayFrames(session *domain.WorkSession, limit int, now time.Time) []Frame {
	if session == nil {
		return nil
	}

	frame := func(eventType domain.EventType, data any) Frame {
		return Frame{
			Type:      string(eventType),
			SubjectID: session.SubjectID,
			WorkID:    session.ID,
			Timestamp: now,
			Data:      data,
		}
	}

	tail := session.TailEvents(limit)
	frames := make([]Frame, 0, len(tail)+3)
	frames = append(frames,
		frame(domain.EventTypeStatus, domain.StatusData{Status: session.Status}),
		frame(domain.EventTypeProgress, domain.ProgressData{
			Percent:     session.Progress,
			CurrentStep: session.CurrentStep,
			TotalSteps:  session.TotalSteps,
		}),
	)
	for _, event := range tail {
		frames = append(frames, FromEvent(event))
	}

	switch {
	case session.Status == domain.WorkStatusComplete && session.Result != nil && !containsType(tail, domain.EventTypeComplete):
		frames = append(frames, frame(domain.EventTypeComplete, domain.CompleteData{
			Success:      session.Result.Success,
			Summary:      session.Result.Summary,
			FilesChanged: session.Result.FilesChanged,
		}))
	case session.Status == domain.WorkStatusError && session.Error != nil && !containsType(tail, domain.EventTypeError):
		frames = append(frames, frame(domain.EventTypeError, domain.ErrorData{
			Message:     session.Error.Message,
			Recoverable: session.Error.Recoverable,
			CanRetry:    session.Error.CanRetry,
		}))
	}
	return frames
}

func containsType(events []domain.Event, eventType domain.EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
