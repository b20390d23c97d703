package loop

import (
	"sort"
	"time"
)

// Manual is a deterministic Executor for tests. Go runs work inline, posted
// functions run before Post returns (FIFO, never re-entrantly) and timers
// fire only when Advance moves the virtual clock past their deadline.
type Manual struct {
	now     time.Duration
	seq     int
	timers  []*manualTimer
	queue   []func()
	running bool
	closed  bool
}

func NewManual() *Manual { return &Manual{} }

func (m *Manual) Post(fn func()) bool {
	if m.closed {
		return false
	}
	m.queue = append(m.queue, fn)
	if m.running {
		return true
	}
	m.running = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		next()
	}
	m.running = false
	return true
}

func (m *Manual) Go(work func() func()) {
	if cont := work(); cont != nil {
		m.Post(cont)
	}
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward and fires every due timer in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.now += d
	for {
		due := m.due()
		if due == nil {
			return
		}
		due.fired = true
		m.Post(due.fn)
	}
}

// Pending reports the number of timers that are neither stopped nor fired.
func (m *Manual) Pending() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Close drops all later posts, like Loop.Close.
func (m *Manual) Close() { m.closed = true }

func (m *Manual) due() *manualTimer {
	var live []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= m.now {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].at == live[j].at {
			return live[i].seq < live[j].seq
		}
		return live[i].at < live[j].at
	})
	return live[0]
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
