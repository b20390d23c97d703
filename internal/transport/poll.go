package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/pkg/client"
)

const DefaultPollInterval = 5 * time.Second

// StatusFetcher performs one status request.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (status.Status, error)
}

// ClientFetcher adapts the HTTP client to StatusFetcher.
type ClientFetcher struct {
	Client *client.Client
}

func (f ClientFetcher) FetchStatus(ctx context.Context) (status.Status, error) {
	ps, err := f.Client.GetProcess(ctx)
	if err != nil {
		return status.Status{}, err
	}
	return status.Status{State: status.ParseState(ps.Status), Message: ps.Message}, nil
}

// PollConfig configures a poll transport.
type PollConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Poll fetches status on a fixed interval. The next cycle is scheduled only
// after the previous one completes. All methods must be called on the executor.
type Poll struct {
	exec     loop.Executor
	fetcher  StatusFetcher
	listener Listener
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	next     loop.Timer
	inFlight bool
	stale    bool
	started  bool
	closed   bool
}

func NewPoll(exec loop.Executor, fetcher StatusFetcher, cfg PollConfig, l Listener) *Poll {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poll{
		exec:     exec,
		fetcher:  fetcher,
		listener: l,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start performs the first poll immediately.
func (p *Poll) Start() {
	if p.started || p.closed {
		return
	}
	p.started = true
	p.poll()
}

// Revalidate polls now unless a poll is already outstanding.
func (p *Poll) Revalidate() {
	if p.closed || p.inFlight {
		return
	}
	p.started = true
	p.poll()
}

func (p *Poll) Stale() bool { return p.stale }

func (p *Poll) InFlight() bool { return p.inFlight }

// Close stops scheduling. A response still in flight is discarded.
func (p *Poll) Close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.next != nil {
		p.next.Stop()
		p.next = nil
	}
	p.cancel()
}

func (p *Poll) poll() {
	if p.next != nil {
		p.next.Stop()
		p.next = nil
	}
	p.inFlight = true
	ctx, fetcher := p.ctx, p.fetcher
	p.exec.Go(func() func() {
		st, err := fetcher.FetchStatus(ctx)
		return func() { p.handleResult(st, err) }
	})
}

func (p *Poll) handleResult(st status.Status, err error) {
	p.inFlight = false
	if p.closed {
		return
	}
	if err != nil {
		metrics.IncPollFailure()
		p.logger.Warn("status poll failed", "error", err)
		if !p.stale {
			p.stale = true
			p.listener.OnStale(true)
		}
	} else {
		if p.stale {
			p.stale = false
			p.listener.OnStale(false)
		}
		p.listener.OnStatus(st)
	}
	p.next = p.exec.AfterFunc(p.interval, func() {
		p.next = nil
		if !p.closed && !p.inFlight {
			p.poll()
		}
	})
}
