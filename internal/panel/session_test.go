package panel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/loykin/cockpit/internal/dispatch"
	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/internal/versionswitch"
	"github.com/loykin/cockpit/pkg/client"
)

type stubFetcher struct{ st status.Status }

func (f *stubFetcher) FetchStatus(ctx context.Context) (status.Status, error) { return f.st, nil }

type stubSender struct {
	err  error
	sent []pending.Action
}

func (s *stubSender) SendAction(ctx context.Context, a pending.Action) error {
	s.sent = append(s.sent, a)
	return s.err
}

type stubSource struct {
	current string
	list    []string
}

func (s *stubSource) CurrentVersion(ctx context.Context) (string, bool, error) {
	return s.current, s.current != "", nil
}
func (s *stubSource) AvailableVersions(ctx context.Context) ([]string, error) { return s.list, nil }
func (s *stubSource) Switch(ctx context.Context, v string) (versionswitch.Result, error) {
	return versionswitch.Result{Success: true}, nil
}

type fixture struct {
	m       *loop.Manual
	s       *Session
	fetcher *stubFetcher
	sender  *stubSender
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		m:       loop.NewManual(),
		fetcher: &stubFetcher{st: status.Status{State: status.StateStopped, Message: "comfyui STOPPED"}},
		sender:  &stubSender{},
	}
	cfg.Mode = ModePoll
	f.s = New(cfg, Deps{
		Exec:    f.m,
		Sender:  f.sender,
		Source:  &stubSource{current: "v1", list: []string{"v2", "v1"}},
		Fetcher: f.fetcher,
	})
	return f
}

func TestInitialViewShowsSentinels(t *testing.T) {
	s := New(Config{Mode: ModePoll}, Deps{Exec: loop.NewManual(), Fetcher: &stubFetcher{}, Source: &stubSource{}, Sender: &stubSender{}})
	v := s.View()
	if v.Status.State != status.StateStopped || v.Display.Label != "Stopped" {
		t.Fatalf("initial status: %+v", v)
	}
	if v.Version.Current != versionswitch.UnknownVersion {
		t.Fatalf("initial version label %q", v.Version.Current)
	}
	if v.Pending.Any() || v.Connected || v.Stale {
		t.Fatalf("unexpected flags: %+v", v)
	}
}

func TestStartScenarioClearsAtStarting(t *testing.T) {
	f := newFixture(t, Config{})
	f.s.Start()
	if got := f.s.View().Status.State; got != status.StateStopped {
		t.Fatalf("baseline %s", got)
	}
	if err := f.s.Dispatch(pending.ActionStart); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !f.s.View().Pending.Start {
		t.Fatal("start should be pending")
	}

	f.s.Revalidate()
	if !f.s.View().Pending.Start {
		t.Fatal("stopped must not clear start")
	}

	f.fetcher.st = status.Status{State: status.StateStarting, Message: "comfyui STARTING"}
	f.m.Advance(5 * time.Second)
	v := f.s.View()
	if v.Pending.Start {
		t.Fatal("starting should clear start")
	}
	if v.Status.State != status.StateStarting || v.Display.Color != status.ColorOrange {
		t.Fatalf("view status %+v", v)
	}

	f.fetcher.st = status.Status{State: status.StateRunning, Message: "comfyui RUNNING pid 4242, uptime 0:01:02"}
	f.m.Advance(5 * time.Second)
	v = f.s.View()
	if v.PID != 4242 || v.Uptime != "0:01:02" {
		t.Fatalf("pid/uptime %d %q", v.PID, v.Uptime)
	}
}

func TestFailingStopClearsAndShowsBanner(t *testing.T) {
	f := newFixture(t, Config{})
	f.sender.err = errors.New("supervisorctl failed")
	f.s.Start()
	if err := f.s.Dispatch(pending.ActionStop); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	v := f.s.View()
	if v.Pending.Stop {
		t.Fatal("failed stop must be cleared synchronously")
	}
	if v.DispatchError == "" {
		t.Fatal("expected dispatch error banner")
	}
	f.s.DismissError()
	if f.s.View().DispatchError != "" {
		t.Fatal("banner not dismissed")
	}
}

func TestRejectWhileBusy(t *testing.T) {
	f := newFixture(t, Config{})
	f.s.Start()
	_ = f.s.Dispatch(pending.ActionRestart)
	if err := f.s.Dispatch(pending.ActionStop); !errors.Is(err, dispatch.ErrActionInFlight) {
		t.Fatalf("expected ErrActionInFlight, got %v", err)
	}
}

func TestRestartPendingDisablesVersionConfirm(t *testing.T) {
	f := newFixture(t, Config{})
	f.s.Start()
	f.s.SelectVersion("v2")
	if !f.s.View().Version.CanConfirm {
		t.Fatal("v2 should be confirmable")
	}
	_ = f.s.Dispatch(pending.ActionRestart)
	if f.s.View().Version.CanConfirm {
		t.Fatal("confirm must be disabled while restart is pending")
	}
	if err := f.s.ConfirmVersion(); !errors.Is(err, versionswitch.ErrCannotConfirm) {
		t.Fatalf("got %v", err)
	}

	f.fetcher.st = status.Status{State: status.StateRunning}
	f.s.Revalidate()
	if !f.s.View().Version.CanConfirm {
		t.Fatal("confirm should come back after restart completes")
	}
	if err := f.s.ConfirmVersion(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if o := f.s.View().Version.Outcome; o == nil || !o.Success {
		t.Fatalf("outcome %+v", o)
	}
}

func TestRepeatedStatusDoesNotPublish(t *testing.T) {
	f := newFixture(t, Config{})
	f.s.Start()
	ch, cancel := f.s.Subscribe()
	defer cancel()
	<-ch

	f.s.Revalidate()
	select {
	case v := <-ch:
		t.Fatalf("identical status published: %+v", v)
	default:
	}

	f.fetcher.st = status.Status{State: status.StateError, Message: "FATAL"}
	f.s.Revalidate()
	select {
	case v := <-ch:
		if v.Status.State != status.StateError {
			t.Fatalf("got %s", v.Status.State)
		}
	default:
		t.Fatal("change not published")
	}
}

func TestSubscribeKeepsLatestOnly(t *testing.T) {
	f := newFixture(t, Config{})
	ch, cancel := f.s.Subscribe()
	defer cancel()
	f.m.Post(func() {
		f.s.OnLog("a")
		f.s.OnLog("b")
		f.s.OnLog("c")
	})
	v := <-ch
	if len(v.Logs) != 3 || v.Logs[2] != "c" {
		t.Fatalf("logs=%v", v.Logs)
	}
	select {
	case <-ch:
		t.Fatal("only the latest view should be buffered")
	default:
	}
}

func TestConnectivityAndStaleAreSeparate(t *testing.T) {
	f := newFixture(t, Config{})
	f.m.Post(func() {
		f.s.OnConnectivity(true)
		f.s.OnStale(true)
	})
	v := f.s.View()
	if !v.Connected || !v.Stale {
		t.Fatalf("view %+v", v)
	}
	f.m.Post(func() { f.s.OnConnectivity(false) })
	if v := f.s.View(); v.Connected || !v.Stale {
		t.Fatalf("view %+v", v)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	f := newFixture(t, Config{})
	f.s.Start()
	ch, _ := f.s.Subscribe()
	<-ch
	f.s.Close()
	if _, ok := <-ch; ok {
		t.Fatal("subscription should be closed")
	}
	if err := f.s.Dispatch(pending.ActionStart); !errors.Is(err, loop.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if f.m.Pending() != 0 {
		t.Fatalf("timers left after close: %d", f.m.Pending())
	}
	late, _ := f.s.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}

func TestParseMode(t *testing.T) {
	if m, _ := ParseMode(""); m != ModePush {
		t.Fatal("default should be push")
	}
	if m, _ := ParseMode("poll"); m != ModePoll {
		t.Fatal("poll not parsed")
	}
	if _, err := ParseMode("carrier-pigeon"); err == nil {
		t.Fatal("expected error")
	}
}

func TestViewCanDispatch(t *testing.T) {
	v := View{Status: status.Status{State: status.StateRunning}}
	if v.CanDispatch(pending.ActionStart) || !v.CanDispatch(pending.ActionStop) || !v.CanDispatch(pending.ActionRestart) {
		t.Fatal("running affordances wrong")
	}
	v.Pending.Stop = true
	if v.CanDispatch(pending.ActionRestart) {
		t.Fatal("busy view must disable actions")
	}
}

func TestViewCanDispatchAllowPolicy(t *testing.T) {
	v := View{Status: status.Status{State: status.StateRunning}, Policy: dispatch.ConflictAllow}
	v.Pending.Restart = true
	if v.CanDispatch(pending.ActionRestart) {
		t.Fatal("pending restart must block another restart")
	}
	if !v.CanDispatch(pending.ActionStop) {
		t.Fatal("allow policy should leave stop enabled while restart is pending")
	}
	if v.CanDispatch(pending.ActionStart) {
		t.Fatal("start stays disabled while running")
	}
}

func TestSessionViewCarriesConflictPolicy(t *testing.T) {
	if got := newFixture(t, Config{}).s.View().Policy; got != dispatch.ConflictReject {
		t.Fatalf("default policy = %s", got)
	}
	f := newFixture(t, Config{ConflictPolicy: dispatch.ConflictAllow})
	f.s.Start()
	if err := f.s.Dispatch(pending.ActionStart); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	v := f.s.View()
	if v.Policy != dispatch.ConflictAllow {
		t.Fatalf("policy = %s", v.Policy)
	}
	if v.CanDispatch(pending.ActionStart) {
		t.Fatal("start must stay blocked while it is pending")
	}
}

func TestSessionOverHTTPPolling(t *testing.T) {
	var mu sync.Mutex
	state := "stopped"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.URL.Path == "/comfyui-cockpit/process" && r.Method == http.MethodPost:
			state = "starting"
			_, _ = w.Write([]byte(`{"status":"success","message":"comfyui: started"}`))
		case r.URL.Path == "/comfyui-cockpit/process":
			_, _ = w.Write([]byte(`{"status":"` + state + `","message":""}`))
		case r.URL.Query().Get("action") == "list":
			_, _ = w.Write([]byte(`{"available_versions":[]}`))
		default:
			_, _ = w.Write([]byte(`{"comfyui_version":"1.2.3"}`))
		}
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL + "/comfyui-cockpit"})
	s, err := NewFromClient(c, Config{Mode: ModePoll, PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitView(t, s, func(v View) bool { return v.Version.Current == "1.2.3" })
	if err := s.Dispatch(pending.ActionStart); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitView(t, s, func(v View) bool { return v.Status.State == status.StateStarting && !v.Pending.Start })
	if opts := s.View().Version.Options; len(opts) != 1 || opts[0] != "1.2.3" {
		t.Fatalf("options %v", opts)
	}

	s.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func waitView(t *testing.T, s *Session, cond func(View) bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond(s.View()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met, last view %+v", s.View())
}
