// Package panel wires the status transport, pending tracker, dispatcher and
// version workflow onto one event loop and publishes View snapshots.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/cockpit/internal/dispatch"
	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/internal/transport"
	"github.com/loykin/cockpit/internal/versionswitch"
	"github.com/loykin/cockpit/pkg/client"
)

// Mode selects how status reaches the panel.
type Mode string

const (
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePush:
		return ModePush, nil
	case ModePoll:
		return ModePoll, nil
	}
	return ModePush, fmt.Errorf("unknown transport mode %q", s)
}

type Config struct {
	Mode           Mode
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	RestartPolicy  pending.RestartPolicy
	ConflictPolicy dispatch.ConflictPolicy
	Logger         *slog.Logger
}

// Deps are the collaborators a session talks to. Fetcher is used in poll
// mode, Dialer and SocketURL in push mode.
type Deps struct {
	Exec      loop.Executor
	Sender    dispatch.Sender
	Source    versionswitch.Source
	Fetcher   transport.StatusFetcher
	Dialer    transport.Dialer
	SocketURL string
}

// Session owns every client-side entity. Exported methods are safe to call
// from any goroutine except the loop itself.
type Session struct {
	cfg    Config
	exec   loop.Executor
	logger *slog.Logger

	tracker    *pending.Tracker
	dispatcher *dispatch.Dispatcher
	versions   *versionswitch.Workflow
	push       *transport.Push
	poll       *transport.Poll

	// loop-owned
	status    status.Status
	observed  bool
	connected bool
	stale     bool
	logs      []string
	started   bool
	closed    bool

	mu         sync.Mutex
	latest     View
	subs       map[int]chan View
	subsClosed bool
	nextID     int
}

// New builds a session on the given dependencies.
func New(cfg Config, deps Deps) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePush
	}
	if deps.Exec == nil {
		deps.Exec = loop.New(cfg.Logger)
	}
	s := &Session{
		cfg:     cfg,
		exec:    deps.Exec,
		logger:  cfg.Logger,
		tracker: pending.NewTracker(cfg.RestartPolicy),
		status:  status.Zero(),
		subs:    make(map[int]chan View),
	}
	s.tracker.OnClear(func(a pending.Action, reason string) {
		metrics.IncPendingClear(string(a), reason)
		s.logger.Debug("pending action cleared", "action", a, "reason", reason)
	})
	s.dispatcher = dispatch.New(s.exec, s.tracker, deps.Sender, dispatch.Config{Policy: cfg.ConflictPolicy, Logger: cfg.Logger})
	s.dispatcher.OnChange(s.publish)
	s.versions = versionswitch.New(s.exec, deps.Source, cfg.Logger)
	s.versions.OnChange(s.publish)

	switch cfg.Mode {
	case ModePoll:
		s.poll = transport.NewPoll(s.exec, deps.Fetcher, transport.PollConfig{Interval: cfg.PollInterval, Logger: cfg.Logger}, s)
	default:
		s.push = transport.NewPush(s.exec, transport.PushConfig{
			URL:            deps.SocketURL,
			Dialer:         deps.Dialer,
			ReconnectDelay: cfg.ReconnectDelay,
			Logger:         cfg.Logger,
		}, s)
	}
	s.latest = s.buildView()
	return s
}

// NewFromClient builds a session that talks to the controller behind c.
func NewFromClient(c *client.Client, cfg Config) (*Session, error) {
	deps := Deps{
		Sender:  dispatch.ClientSender{Client: c},
		Source:  versionswitch.ClientSource{Client: c},
		Fetcher: transport.ClientFetcher{Client: c},
		Dialer:  transport.WebsocketDialer{TLS: c.TLSConfig()},
	}
	if cfg.Mode != ModePoll {
		u, err := c.SocketURL()
		if err != nil {
			return nil, err
		}
		deps.SocketURL = u
	}
	return New(cfg, deps), nil
}

// Start opens the transport and loads version data.
func (s *Session) Start() {
	s.exec.Post(func() {
		if s.started || s.closed {
			return
		}
		s.started = true
		s.logger.Info("panel session starting", "mode", s.cfg.Mode)
		if s.push != nil {
			s.push.Open()
		} else {
			s.poll.Start()
		}
		s.versions.Load()
	})
}

// Run starts the session and drives its loop until ctx is done or Close is called.
func (s *Session) Run(ctx context.Context) error {
	r, ok := s.exec.(interface{ Run(context.Context) error })
	if !ok {
		return fmt.Errorf("executor %T cannot be run", s.exec)
	}
	s.Start()
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stopped:
		}
	}()
	// the loop stops through Close so subscribers and transports are released
	err := r.Run(context.Background())
	if errors.Is(err, loop.ErrClosed) {
		return nil
	}
	return err
}

// Close tears the transport down and stops the loop. Late responses are dropped.
func (s *Session) Close() {
	s.exec.Post(func() {
		if s.closed {
			return
		}
		s.closed = true
		if s.push != nil {
			s.push.Close()
		}
		if s.poll != nil {
			s.poll.Close()
		}
		s.mu.Lock()
		s.subsClosed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.mu.Unlock()
		if c, ok := s.exec.(interface{ Close() }); ok {
			c.Close()
		}
	})
}

// View returns the latest snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Subscribe returns a channel that always holds the most recent View. Slow
// readers skip intermediate snapshots but never miss the latest.
func (s *Session) Subscribe() (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan View, 1)
	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.latest
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// Dispatch sends a process action and returns once it has been marked pending.
func (s *Session) Dispatch(a pending.Action) error {
	return s.call(func() error { return s.dispatcher.Dispatch(a) })
}

// DismissError clears the dispatch failure banner.
func (s *Session) DismissError() {
	s.exec.Post(s.dispatcher.ClearError)
}

// Revalidate refreshes status now, as on window focus. Push mode ignores it.
func (s *Session) Revalidate() {
	s.exec.Post(func() {
		if s.poll != nil {
			s.poll.Revalidate()
		}
	})
}

func (s *Session) SelectVersion(v string) {
	s.exec.Post(func() { s.versions.Select(v) })
}

func (s *Session) ConfirmVersion() error {
	return s.call(s.versions.Confirm)
}

func (s *Session) DismissVersionOutcome() {
	s.exec.Post(s.versions.Dismiss)
}

func (s *Session) call(fn func() error) error {
	done := make(chan error, 1)
	if !s.exec.Post(func() {
		if s.closed {
			done <- loop.ErrClosed
			return
		}
		done <- fn()
	}) {
		return loop.ErrClosed
	}
	return <-done
}

// Listener implementation; all calls arrive on the loop.

func (s *Session) OnStatus(st status.Status) {
	metrics.IncObservation(string(st.State))
	changed := !s.observed || st != s.status
	s.observed = true
	s.status = st
	if s.tracker.Observe(st.State) {
		changed = true
	}
	if changed {
		s.publish()
	}
}

func (s *Session) OnLog(line string) {
	s.logs = append(s.logs, line)
	s.publish()
}

func (s *Session) OnConnectivity(connected bool) {
	if s.connected == connected {
		return
	}
	s.connected = connected
	s.publish()
}

func (s *Session) OnStale(stale bool) {
	if s.stale == stale {
		return
	}
	s.stale = stale
	s.publish()
}

func (s *Session) buildView() View {
	v := View{
		Status:    s.status,
		Observed:  s.observed,
		Display:   status.ToDisplay(s.status.State),
		Mode:      s.cfg.Mode,
		Connected: s.connected,
		Stale:     s.stale,
		Logs:      s.logs[:len(s.logs):len(s.logs)],
		Pending:   s.tracker.Set(),
		Policy:    s.dispatcher.Policy(),
		Version:   s.versions.Snapshot(),
	}
	if pid, ok := s.status.PID(); ok {
		v.PID = pid
	}
	if up, ok := s.status.Uptime(); ok {
		v.Uptime = up
	}
	if e := s.dispatcher.LastError(); e != nil {
		v.DispatchError = e.Error()
	}
	return v
}

func (s *Session) publish() {
	s.versions.SetDisabledQuiet(s.tracker.Set().Restart)
	v := s.buildView()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = v
	if s.subsClosed {
		return
	}
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
