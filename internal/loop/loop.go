package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Run when the loop was closed before or while running.
var ErrClosed = errors.New("loop closed")

// Executor is the single logical thread every panel component runs on.
// Post, Go and AfterFunc may be called from any goroutine; the functions they
// schedule always execute on the loop, one at a time, in FIFO order.
type Executor interface {
	// Post enqueues fn. It reports false when the executor is closed, in which
	// case fn is dropped.
	Post(fn func()) bool
	// Go runs work off the loop and posts the continuation it returns (if any).
	Go(work func() func())
	// AfterFunc posts fn after d unless the returned Timer is stopped first.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a cancellable scheduled callback. Stop must be called on the loop.
type Timer interface {
	Stop() bool
}

// Loop is the goroutine-backed Executor.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) Go(work func() func()) {
	go func() {
		if cont := work(); cont != nil {
			l.Post(cont)
		}
	}()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.fired = true
			fn()
		})
	})
	return t
}

// Run drains the queue until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.safeCall(fn)
		}
		if closed {
			return ErrClosed
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting work. Work already queued still runs once.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in loop callback", "panic", r)
		}
	}()
	fn()
}

// loopTimer flags are only touched on the loop goroutine.
type loopTimer struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
