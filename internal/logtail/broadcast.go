package logtail

import "sync"

// DefaultBuffer is the per-subscriber line buffer.
const DefaultBuffer = 256

// Broadcaster fans lines out to subscribers. A subscriber whose buffer is
// full misses lines instead of blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan string
	next   int
	buf    int
	closed bool
}

func NewBroadcaster(buf int) *Broadcaster {
	if buf <= 0 {
		buf = DefaultBuffer
	}
	return &Broadcaster{subs: make(map[int]chan string), buf: buf}
}

// Publish delivers line to every subscriber without blocking.
func (b *Broadcaster) Publish(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe returns a line channel and a cancel func that closes it.
// After Close the returned channel is already closed.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, b.buf)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Subscribers reports the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
