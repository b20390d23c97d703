package versionswitch

import (
	"context"
	"errors"
	"testing"

	"github.com/loykin/cockpit/internal/loop"
)

type fakeSource struct {
	current    string
	known      bool
	list       []string
	switchRes  Result
	switchErr  error
	currentHit int
	switched   []string
	afterSwap  string
}

func (s *fakeSource) CurrentVersion(ctx context.Context) (string, bool, error) {
	s.currentHit++
	return s.current, s.known, nil
}

func (s *fakeSource) AvailableVersions(ctx context.Context) ([]string, error) {
	return s.list, nil
}

func (s *fakeSource) Switch(ctx context.Context, v string) (Result, error) {
	s.switched = append(s.switched, v)
	if s.switchErr == nil && s.switchRes.Success && s.afterSwap != "" {
		s.current = s.afterSwap
	}
	return s.switchRes, s.switchErr
}

func loaded(t *testing.T, src *fakeSource) *Workflow {
	t.Helper()
	w := New(loop.NewManual(), src, nil)
	w.Load()
	return w
}

func TestEmptyListOffersCurrentOnly(t *testing.T) {
	w := loaded(t, &fakeSource{current: "1.2.3", known: true})
	opts := w.Options()
	if len(opts) != 1 || opts[0] != "1.2.3" {
		t.Fatalf("options=%v", opts)
	}
	w.Select("1.2.3")
	if w.CanConfirm() {
		t.Fatal("confirm must stay disabled for the current version")
	}
	if err := w.Confirm(); !errors.Is(err, ErrCannotConfirm) {
		t.Fatalf("expected ErrCannotConfirm, got %v", err)
	}
}

func TestEmptyListIgnoresUnofferedSelection(t *testing.T) {
	src := &fakeSource{current: "1.2.3", known: true}
	w := loaded(t, src)
	w.Select("9.9.9")
	if w.Selection() != "" {
		t.Fatalf("selection=%q, want none", w.Selection())
	}
	if w.CanConfirm() {
		t.Fatal("confirm must stay disabled when only the current version is offered")
	}
	if err := w.Confirm(); !errors.Is(err, ErrCannotConfirm) {
		t.Fatalf("expected ErrCannotConfirm, got %v", err)
	}
	if len(src.switched) != 0 {
		t.Fatalf("switch sent: %v", src.switched)
	}
}

func TestSelectEmptyClearsSelection(t *testing.T) {
	w := loaded(t, &fakeSource{current: "v1", known: true, list: []string{"v2", "v1"}})
	w.Select("v2")
	w.Select("")
	if w.Selection() != "" || w.Phase() != PhaseIdle {
		t.Fatalf("selection=%q phase=%s", w.Selection(), w.Phase())
	}
}

func TestEmptyListUnknownCurrent(t *testing.T) {
	w := loaded(t, &fakeSource{})
	if len(w.Options()) != 0 {
		t.Fatalf("options=%v", w.Options())
	}
	if w.CurrentLabel() != UnknownVersion {
		t.Fatalf("label=%q", w.CurrentLabel())
	}
}

func TestConfirmDisabledForCurrentEnabledForOther(t *testing.T) {
	w := loaded(t, &fakeSource{current: "v1", known: true, list: []string{"v2", "v1"}})
	if w.CanConfirm() {
		t.Fatal("nothing selected")
	}
	w.Select("v1")
	if w.CanConfirm() || w.Phase() != PhaseSelecting {
		t.Fatalf("current selected: can=%v phase=%s", w.CanConfirm(), w.Phase())
	}
	w.Select("v2")
	if !w.CanConfirm() || w.Phase() != PhaseConfirming {
		t.Fatalf("other selected: can=%v phase=%s", w.CanConfirm(), w.Phase())
	}
	w.SetDisabled(true)
	if w.CanConfirm() {
		t.Fatal("disabled workflow must not confirm")
	}
}

func TestSuccessClearsSelectionAndRefetches(t *testing.T) {
	src := &fakeSource{current: "v1", known: true, list: []string{"v2", "v1"},
		switchRes: Result{Success: true, Message: "Successfully switched to version v2"}, afterSwap: "v2"}
	w := loaded(t, src)
	w.Select("v2")
	if err := w.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if w.Selection() != "" {
		t.Fatalf("selection=%q", w.Selection())
	}
	if src.currentHit != 2 {
		t.Fatalf("current version fetched %d times, want 2", src.currentHit)
	}
	if w.CurrentLabel() != "v2" {
		t.Fatalf("label=%q", w.CurrentLabel())
	}
	o := w.Outcome()
	if o == nil || !o.Success || o.Message != "Successfully switched to version v2" {
		t.Fatalf("outcome=%+v", o)
	}
	if w.Applying() {
		t.Fatal("still applying")
	}
	w.Dismiss()
	if w.Outcome() != nil || w.Phase() != PhaseIdle {
		t.Fatalf("after dismiss: %+v %s", w.Outcome(), w.Phase())
	}
}

func TestStructuredFailurePreservesSelection(t *testing.T) {
	src := &fakeSource{current: "v1", known: true, list: []string{"v2", "v1"},
		switchRes: Result{Success: false, Message: "Git checkout failed: pathspec"}}
	w := loaded(t, src)
	w.Select("v2")
	_ = w.Confirm()
	o := w.Outcome()
	if o == nil || o.Success || o.Message != "Git checkout failed: pathspec" {
		t.Fatalf("outcome=%+v", o)
	}
	if w.Selection() != "v2" {
		t.Fatal("selection lost on failure")
	}
	if w.Phase() != PhaseSettled {
		t.Fatalf("phase=%s", w.Phase())
	}
	if src.currentHit != 1 {
		t.Fatal("failure must not refetch")
	}
	if w.CurrentLabel() != "v1" {
		t.Fatal("current changed on failure")
	}
}

func TestTransportFailureShowsMessage(t *testing.T) {
	src := &fakeSource{current: "v1", known: true, list: []string{"v2"}, switchErr: errors.New("connection reset")}
	w := loaded(t, src)
	w.Select("v2")
	_ = w.Confirm()
	if o := w.Outcome(); o == nil || o.Success || o.Message != "connection reset" {
		t.Fatalf("outcome=%+v", o)
	}
	if !w.CanConfirm() {
		t.Fatal("retry should be possible with the preserved selection")
	}
}

func TestSelectClearsOutcome(t *testing.T) {
	src := &fakeSource{current: "v1", known: true, list: []string{"v2", "v3"}, switchRes: Result{}}
	w := loaded(t, src)
	w.Select("v2")
	_ = w.Confirm()
	if w.Outcome() == nil {
		t.Fatal("expected outcome")
	}
	w.Select("v3")
	if w.Outcome() != nil {
		t.Fatal("select must clear outcome")
	}
}

func TestApplyingBlocksReentry(t *testing.T) {
	m := loop.NewManual()
	src := &fakeSource{current: "v1", known: true, list: []string{"v2"}}
	w := New(m, src, nil)
	w.Load()
	w.Select("v2")
	w.applying = true
	if w.CanConfirm() || w.Phase() != PhaseApplying {
		t.Fatal("applying must block confirm")
	}
	w.Select("v1")
	if w.Selection() != "v2" {
		t.Fatal("selection changed while applying")
	}
}

func TestLoadOnce(t *testing.T) {
	src := &fakeSource{current: "v1", known: true}
	w := loaded(t, src)
	w.Load()
	if src.currentHit != 1 {
		t.Fatalf("loaded %d times", src.currentHit)
	}
	s := w.Snapshot()
	if s.Current != "v1" || !s.Known || len(s.Options) != 1 {
		t.Fatalf("snapshot=%+v", s)
	}
}
