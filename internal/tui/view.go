package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/loykin/cockpit/internal/panel"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/versionswitch"
)

// Rows taken by everything above and below the log viewport.
const headerLines = 16

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return m.spinner.View() + " connecting..."
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("ComfyUI Cockpit"))
	b.WriteString("  ")
	b.WriteString(connectivity(m.view))
	b.WriteString("\n\n")
	b.WriteString(m.statusBlock())
	b.WriteString("\n")
	b.WriteString(m.buttons())
	b.WriteString("\n")
	if m.view.DispatchError != "" {
		b.WriteString(errorStyle.Render("✗ " + m.view.DispatchError))
		b.WriteString("\n")
	}
	b.WriteString(m.versionBlock())
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.logsBlock()))
	b.WriteString("\n")
	if m.flash != "" {
		if m.flashErr {
			b.WriteString(errorStyle.Render(m.flash))
		} else {
			b.WriteString(successStyle.Render(m.flash))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.helpLine())
	return b.String()
}

func connectivity(v panel.View) string {
	mode := mutedStyle.Render(string(v.Mode))
	switch {
	case v.Mode == panel.ModePush && !v.Connected:
		return errorStyle.Render("○ disconnected") + " " + mode
	case v.Stale:
		return warningStyle.Render("◐ stale") + " " + mode
	default:
		return successStyle.Render("● live") + " " + mode
	}
}

func (m Model) statusBlock() string {
	v := m.view
	line := stateStyle(v.Display).Render("● " + v.Display.Label)
	if v.PID > 0 {
		line += mutedStyle.Render(fmt.Sprintf("  pid %d", v.PID))
	}
	if v.Uptime != "" {
		line += mutedStyle.Render("  uptime " + v.Uptime)
	}
	if v.Busy() {
		line += "  " + m.spinner.View() + warningStyle.Render(pendingLabel(v.Pending))
	}
	if msg := strings.TrimSpace(v.Status.Message); msg != "" {
		line += "\n" + mutedStyle.Render(msg)
	}
	return line + "\n"
}

func pendingLabel(p pending.Set) string {
	var parts []string
	for _, a := range pending.Actions {
		if p.Get(a) {
			parts = append(parts, string(a))
		}
	}
	return strings.Join(parts, ", ") + " pending"
}

func (m Model) buttons() string {
	render := func(label string, a pending.Action) string {
		if m.view.CanDispatch(a) {
			return buttonStyle.Render(label)
		}
		return disabledButtonStyle.Render(label)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		render("Start", pending.ActionStart), " ",
		render("Stop", pending.ActionStop), " ",
		render("Restart", pending.ActionRestart),
	)
}

func (m Model) versionBlock() string {
	vs := m.view.Version
	var b strings.Builder
	current := vs.Current
	if !vs.Known {
		current = versionswitch.UnknownVersion
	}
	b.WriteString("Version: " + selectedStyle.Render(current))
	switch {
	case vs.Applying:
		b.WriteString("  " + m.spinner.View() + warningStyle.Render("switching to "+vs.Selection))
	case vs.Disabled:
		b.WriteString(mutedStyle.Render("  (locked while an action is pending)"))
	case vs.Selection != "":
		b.WriteString(mutedStyle.Render("  → " + vs.Selection + ", enter to apply"))
	}
	b.WriteString("\n")
	if vs.Outcome != nil {
		if vs.Outcome.Success {
			b.WriteString(successStyle.Render("✓ " + vs.Outcome.Message))
		} else {
			b.WriteString(errorStyle.Render("✗ " + vs.Outcome.Message))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) logsBlock() string {
	if len(m.view.Logs) == 0 {
		return mutedStyle.Render("no log output yet")
	}
	return m.logs.View()
}

func (m Model) helpLine() string {
	parts := make([]string, 0, len(m.keys.help()))
	for _, k := range m.keys.help() {
		h := k.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}

// Line renders a one-line plain summary of v, used by non-interactive
// watchers.
func Line(v panel.View) string {
	var b strings.Builder
	b.WriteString(v.Display.Label)
	if v.PID > 0 {
		fmt.Fprintf(&b, " pid=%d", v.PID)
	}
	if v.Uptime != "" {
		b.WriteString(" uptime=" + v.Uptime)
	}
	if v.Busy() {
		b.WriteString(" [" + pendingLabel(v.Pending) + "]")
	}
	if v.Mode == panel.ModePush && !v.Connected {
		b.WriteString(" (disconnected)")
	} else if v.Stale {
		b.WriteString(" (stale)")
	}
	if v.DispatchError != "" {
		b.WriteString(" error=" + v.DispatchError)
	}
	return b.String()
}
