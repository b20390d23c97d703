// Package tui renders a panel session in the terminal with bubbletea.
package tui

import (
	"errors"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/loykin/cockpit/internal/dispatch"
	"github.com/loykin/cockpit/internal/panel"
	"github.com/loykin/cockpit/internal/pending"
)

// Controls is the part of a panel session the terminal UI drives.
// *panel.Session satisfies it.
type Controls interface {
	Subscribe() (<-chan panel.View, func())
	Dispatch(a pending.Action) error
	DismissError()
	Revalidate()
	SelectVersion(v string)
	ConfirmVersion() error
	DismissVersionOutcome()
}

type (
	viewMsg   panel.View
	closedMsg struct{}
	resultMsg struct {
		what string
		err  error
	}
	flashMsg string
)

// Model is the bubbletea model for the cockpit panel.
type Model struct {
	ctl     Controls
	updates <-chan panel.View
	cancel  func()

	view  panel.View
	ready bool
	keys  keyMap

	spinner spinner.Model
	logs    viewport.Model
	follow  bool

	width, height int
	flash         string
	flashErr      bool
	quitting      bool

	copyText func(string) error
}

// New subscribes to ctl; the subscription ends when the program quits.
func New(ctl Controls) Model {
	updates, cancel := ctl.Subscribe()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle
	return Model{
		ctl:      ctl,
		updates:  updates,
		cancel:   cancel,
		keys:     defaultKeyMap(),
		spinner:  sp,
		logs:     viewport.New(80, 10),
		follow:   true,
		copyText: clipboard.WriteAll,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForView(m.updates), m.spinner.Tick)
}

func waitForView(ch <-chan panel.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return viewMsg(v)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = panel.View(msg)
		m.ready = true
		m.logs.SetContent(strings.Join(m.view.Logs, "\n"))
		if m.follow {
			m.logs.GotoBottom()
		}
		return m, waitForView(m.updates)

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case resultMsg:
		if msg.err != nil {
			m.flash, m.flashErr = msg.what+": "+describe(msg.err), true
		} else {
			m.flash, m.flashErr = "", false
		}
		return m, nil

	case flashMsg:
		m.flash, m.flashErr = string(msg), false
		return m, nil

	case tea.FocusMsg:
		m.ctl.Revalidate()
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.logs.Width = max(msg.Width-4, 20)
		m.logs.Height = max(msg.Height-headerLines, 3)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case key.Matches(msg, m.keys.Start):
		return m, m.dispatch(pending.ActionStart)
	case key.Matches(msg, m.keys.Stop):
		return m, m.dispatch(pending.ActionStop)
	case key.Matches(msg, m.keys.Restart):
		return m, m.dispatch(pending.ActionRestart)
	case key.Matches(msg, m.keys.Prev):
		m.moveSelection(-1)
		return m, nil
	case key.Matches(msg, m.keys.Next):
		m.moveSelection(1)
		return m, nil
	case key.Matches(msg, m.keys.Confirm):
		if !m.view.Version.CanConfirm {
			return m, nil
		}
		ctl := m.ctl
		return m, func() tea.Msg { return resultMsg{what: "switch", err: ctl.ConfirmVersion()} }
	case key.Matches(msg, m.keys.Dismiss):
		m.flash, m.flashErr = "", false
		if m.view.DispatchError != "" {
			m.ctl.DismissError()
		}
		if m.view.Version.Outcome != nil {
			m.ctl.DismissVersionOutcome()
		}
		return m, nil
	case key.Matches(msg, m.keys.Revalidate):
		m.ctl.Revalidate()
		return m, nil
	case key.Matches(msg, m.keys.CopyLogs):
		return m, m.copyLogs()
	}
	var cmd tea.Cmd
	m.logs, cmd = m.logs.Update(msg)
	m.follow = m.logs.AtBottom()
	return m, cmd
}

func (m Model) dispatch(a pending.Action) tea.Cmd {
	if !m.view.CanDispatch(a) {
		return nil
	}
	ctl := m.ctl
	return func() tea.Msg { return resultMsg{what: string(a), err: ctl.Dispatch(a)} }
}

// moveSelection walks the option list relative to the current selection,
// falling back to the installed version as the starting point.
func (m Model) moveSelection(delta int) {
	vs := m.view.Version
	if vs.Disabled || vs.Applying || len(vs.Options) == 0 {
		return
	}
	from := vs.Selection
	if from == "" {
		from = vs.Current
	}
	idx := -1
	for i, o := range vs.Options {
		if o == from {
			idx = i
			break
		}
	}
	next := idx + delta
	if idx < 0 {
		next = 0
	}
	if next < 0 || next >= len(vs.Options) {
		return
	}
	m.ctl.SelectVersion(vs.Options[next])
}

func (m Model) copyLogs() tea.Cmd {
	logs := m.view.Logs
	copyText := m.copyText
	return func() tea.Msg {
		if len(logs) == 0 {
			return flashMsg("no logs to copy")
		}
		if err := copyText(strings.Join(logs, "\n")); err != nil {
			return resultMsg{what: "copy logs", err: err}
		}
		return flashMsg("copied logs to clipboard")
	}
}

func describe(err error) string {
	if errors.Is(err, dispatch.ErrActionInFlight) {
		return "another action is still pending"
	}
	return err.Error()
}
