package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/status"
)

type recorder struct {
	mu           sync.Mutex
	statuses     []status.Status
	logs         []string
	connectivity []bool
	stale        []bool
}

func (r *recorder) OnStatus(st status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) OnLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, line)
}

func (r *recorder) OnConnectivity(c bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectivity = append(r.connectivity, c)
}

func (r *recorder) OnStale(s bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = append(r.stale, s)
}

func (r *recorder) snapshot() (int, int, []bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses), len(r.logs), append([]bool(nil), r.connectivity...)
}

type fakeConn struct{ closed int }

func (c *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("not used") }
func (c *fakeConn) Close() error                      { c.closed++; return nil }

type fakeDialer struct {
	calls int
	fail  bool
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.calls++
	if d.fail {
		return nil, errors.New("connection refused")
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func newTestPush(t *testing.T, d *fakeDialer) (*Push, *loop.Manual, *recorder) {
	t.Helper()
	m := loop.NewManual()
	rec := &recorder{}
	p := NewPush(m, PushConfig{URL: "ws://test/socket", Dialer: d}, rec)
	p.startReader = func(uint64, Conn) {}
	return p, m, rec
}

func TestDecodeFrame(t *testing.T) {
	ev, err := DecodeFrame([]byte(`{"type":"status","data":{"status":"running","message":"pid 1"}}`))
	if err != nil || ev.Type != FrameStatus || ev.Status.State != status.StateRunning {
		t.Fatalf("status frame: %+v %v", ev, err)
	}
	ev, err = DecodeFrame([]byte(`{"type":"log","data":"hello"}`))
	if err != nil || ev.Log != "hello" {
		t.Fatalf("string log: %+v %v", ev, err)
	}
	ev, err = DecodeFrame([]byte(`{"type":"log","data":{"line":"world"}}`))
	if err != nil || ev.Log != "world" {
		t.Fatalf("object log: %+v %v", ev, err)
	}
	for _, bad := range []string{`nope`, `{"type":"status"}`, `{"type":"log","data":42}`, `{"type":"other","data":1}`} {
		if _, err := DecodeFrame([]byte(bad)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("%s: expected ErrMalformedFrame, got %v", bad, err)
		}
	}
}

func TestFrameBuildersRoundTrip(t *testing.T) {
	b, err := StatusFrame(status.Status{State: status.StateError, Message: "FATAL"})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := DecodeFrame(b)
	if err != nil || ev.Status.State != status.StateError || ev.Status.Message != "FATAL" {
		t.Fatalf("status round trip: %+v %v", ev, err)
	}
	b, _ = LogFrame("line 1")
	if ev, err := DecodeFrame(b); err != nil || ev.Log != "line 1" {
		t.Fatalf("log round trip: %+v %v", ev, err)
	}
}

func TestPushDeliversFramesInOrder(t *testing.T) {
	d := &fakeDialer{}
	p, _, rec := newTestPush(t, d)
	p.Open()
	if !p.Connected() {
		t.Fatal("expected connected after open")
	}
	gen := p.gen
	p.handleFrame(gen, []byte(`{"type":"status","data":{"status":"starting","message":""}}`))
	p.handleFrame(gen, []byte(`{"type":"log","data":"boot"}`))
	p.handleFrame(gen, []byte(`garbage`))
	p.handleFrame(gen, []byte(`{"type":"status","data":{"status":"running","message":""}}`))

	if len(rec.statuses) != 2 || rec.statuses[1].State != status.StateRunning {
		t.Fatalf("statuses=%+v", rec.statuses)
	}
	if len(rec.logs) != 1 || rec.logs[0] != "boot" {
		t.Fatalf("logs=%v", rec.logs)
	}
	if len(rec.connectivity) != 1 || !rec.connectivity[0] {
		t.Fatalf("malformed frame must not drop the connection: %v", rec.connectivity)
	}
}

func TestPushSchedulesExactlyOneReconnect(t *testing.T) {
	d := &fakeDialer{}
	p, m, rec := newTestPush(t, d)
	p.Open()
	gen := p.gen

	p.handleClose(gen, errors.New("eof"))
	p.handleClose(gen, errors.New("eof again"))
	if m.Pending() != 1 {
		t.Fatalf("pending timers=%d want 1", m.Pending())
	}
	if got := rec.connectivity; len(got) != 2 || got[1] {
		t.Fatalf("connectivity=%v", got)
	}
	if d.conns[0].closed == 0 {
		t.Fatal("dropped connection was not closed")
	}

	m.Advance(DefaultReconnectDelay - time.Millisecond)
	if d.calls != 1 {
		t.Fatalf("reconnected early: calls=%d", d.calls)
	}
	m.Advance(time.Millisecond)
	if d.calls != 2 {
		t.Fatalf("calls=%d want 2", d.calls)
	}
	if !p.Connected() {
		t.Fatal("expected reconnected")
	}
}

func TestPushCloseBeforeDelayCancelsReconnect(t *testing.T) {
	d := &fakeDialer{}
	p, m, _ := newTestPush(t, d)
	p.Open()
	p.handleClose(p.gen, errors.New("eof"))
	p.Close()
	if m.Pending() != 0 {
		t.Fatalf("reconnect timer survived Close: %d", m.Pending())
	}
	m.Advance(time.Minute)
	if d.calls != 1 {
		t.Fatalf("dialed after Close: calls=%d", d.calls)
	}
}

func TestPushIgnoresEventsAfterClose(t *testing.T) {
	d := &fakeDialer{}
	p, m, rec := newTestPush(t, d)
	p.Open()
	gen := p.gen
	p.Close()
	if d.conns[0].closed != 1 {
		t.Fatal("Close should close the socket")
	}
	p.handleFrame(gen, []byte(`{"type":"status","data":{"status":"running","message":""}}`))
	p.handleClose(gen, errors.New("closed by Close"))
	if len(rec.statuses) != 0 {
		t.Fatal("frame after Close was delivered")
	}
	if len(rec.connectivity) != 1 {
		t.Fatalf("close after Close reported: %v", rec.connectivity)
	}
	if m.Pending() != 0 {
		t.Fatal("teardown scheduled a reconnect")
	}
}

func TestPushDialFailureCountsAsLoss(t *testing.T) {
	d := &fakeDialer{fail: true}
	p, m, rec := newTestPush(t, d)
	p.Open()
	if p.Connected() {
		t.Fatal("must not be connected")
	}
	if len(rec.connectivity) != 1 || rec.connectivity[0] {
		t.Fatalf("connectivity=%v", rec.connectivity)
	}
	for i := 0; i < 3; i++ {
		m.Advance(DefaultReconnectDelay)
	}
	if d.calls != 4 {
		t.Fatalf("calls=%d want 4 (fixed delay, no cap)", d.calls)
	}
	if m.Pending() != 1 {
		t.Fatalf("pending=%d", m.Pending())
	}
}

func TestPushOpenIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	p, _, _ := newTestPush(t, d)
	p.Open()
	p.Open()
	if d.calls != 1 {
		t.Fatalf("calls=%d", d.calls)
	}
}

type fakeFetcher struct {
	calls int
	err   error
	st    status.Status
}

func (f *fakeFetcher) FetchStatus(ctx context.Context) (status.Status, error) {
	f.calls++
	return f.st, f.err
}

func TestPollIntervalAndStale(t *testing.T) {
	m := loop.NewManual()
	rec := &recorder{}
	f := &fakeFetcher{st: status.Status{State: status.StateRunning}}
	p := NewPoll(m, f, PollConfig{}, rec)
	p.Start()
	if f.calls != 1 || len(rec.statuses) != 1 {
		t.Fatalf("first poll: calls=%d statuses=%d", f.calls, len(rec.statuses))
	}
	m.Advance(DefaultPollInterval)
	if f.calls != 2 {
		t.Fatalf("calls=%d want 2", f.calls)
	}

	f.err = errors.New("503")
	m.Advance(DefaultPollInterval)
	m.Advance(DefaultPollInterval)
	if !p.Stale() || len(rec.stale) != 1 || !rec.stale[0] {
		t.Fatalf("stale=%v events=%v", p.Stale(), rec.stale)
	}
	if len(rec.statuses) != 2 || rec.statuses[1].State != status.StateRunning {
		t.Fatal("last status must be kept on failure")
	}

	f.err = nil
	f.st = status.Status{State: status.StateStopped}
	m.Advance(DefaultPollInterval)
	if p.Stale() || len(rec.stale) != 2 || rec.stale[1] {
		t.Fatalf("stale not cleared: %v", rec.stale)
	}
	if rec.statuses[len(rec.statuses)-1].State != status.StateStopped {
		t.Fatal("fresh status not delivered")
	}
}

func TestPollRevalidate(t *testing.T) {
	m := loop.NewManual()
	rec := &recorder{}
	f := &fakeFetcher{}
	p := NewPoll(m, f, PollConfig{}, rec)
	p.Start()
	p.Revalidate()
	if f.calls != 2 {
		t.Fatalf("revalidate should poll now: calls=%d", f.calls)
	}
	if m.Pending() != 1 {
		t.Fatalf("exactly one scheduled poll expected, got %d", m.Pending())
	}

	p.inFlight = true
	p.Revalidate()
	if f.calls != 2 {
		t.Fatal("revalidate must not overlap an in-flight poll")
	}
}

func TestPollCloseStopsSchedule(t *testing.T) {
	m := loop.NewManual()
	f := &fakeFetcher{}
	p := NewPoll(m, f, PollConfig{Interval: time.Second}, &recorder{})
	p.Start()
	p.Close()
	m.Advance(time.Minute)
	if f.calls != 1 {
		t.Fatalf("polled after Close: %d", f.calls)
	}
	p.Revalidate()
	if f.calls != 1 {
		t.Fatal("revalidate after Close polled")
	}
}
