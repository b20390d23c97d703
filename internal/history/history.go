package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of operator event.
type EventType string

const (
	EventAction        EventType = "action"
	EventVersionSwitch EventType = "version_switch"
)

// Result values recorded with an event.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Event is one operator request handled by the controller, exported to
// external analytics systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Action     string    `json:"action"` // start, stop, restart or switch
	Target     string    `json:"target,omitempty"`
	Result     string    `json:"result"`
	Message    string    `json:"message,omitempty"`
	State      string    `json:"state,omitempty"` // process state right after the request
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(t EventType, action, result, message string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Action:     action,
		Result:     result,
		Message:    message,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to every configured sink. A failing sink is
// logged and does not affect the others or the request being recorded.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, timeout: 5 * time.Second, logger: logger}
}

// Enabled reports whether any sink is configured.
func (r *Recorder) Enabled() bool { return r != nil && len(r.sinks) > 0 }

// Record sends e to all sinks and returns the joined errors.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if !r.Enabled() {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var errs []error
	for _, s := range r.sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history sink failed", "event", e.ID, "type", e.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
