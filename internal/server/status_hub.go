package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cockpit/internal/controller"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/status"
)

var allStates = []string{
	string(status.StateStopped), string(status.StateStarting),
	string(status.StateRunning), string(status.StateError),
}

// statusHub samples the controller and hands changed statuses to socket
// clients. Each subscriber holds only the latest status.
type statusHub struct {
	ctl      controller.Controller
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	last *status.Status
	subs map[chan status.Status]struct{}
}

func newStatusHub(ctl controller.Controller, interval time.Duration, l *slog.Logger) *statusHub {
	return &statusHub{ctl: ctl, interval: interval, logger: l, subs: make(map[chan status.Status]struct{})}
}

func (h *statusHub) run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		h.sample(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (h *statusHub) sample(ctx context.Context) {
	st, err := h.ctl.Status(ctx)
	if err != nil {
		h.logger.Debug("status sample failed", "error", err)
		return
	}
	h.publish(st)
}

// publish records st and notifies subscribers when it differs from the
// previous sample. The first sample is always delivered.
func (h *statusHub) publish(st status.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last != nil && *h.last == st {
		return
	}
	if h.last == nil || h.last.State != st.State {
		from := ""
		if h.last != nil {
			from = string(h.last.State)
		}
		metrics.RecordStateTransition(from, string(st.State))
		metrics.SetCurrentState(string(st.State), allStates)
	}
	h.last = &st
	for ch := range h.subs {
		offerLatest(ch, st)
	}
}

func (h *statusHub) latest() (status.Status, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return status.Status{}, false
	}
	return *h.last, true
}

// subscribe returns a channel primed with the current status, if any.
func (h *statusHub) subscribe() (<-chan status.Status, func()) {
	ch := make(chan status.Status, 1)
	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// offerLatest replaces any unread value in ch with st.
func offerLatest(ch chan status.Status, st status.Status) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}
