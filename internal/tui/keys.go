package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Start      key.Binding
	Stop       key.Binding
	Restart    key.Binding
	Prev       key.Binding
	Next       key.Binding
	Confirm    key.Binding
	Dismiss    key.Binding
	Revalidate key.Binding
	CopyLogs   key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Stop:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		Restart:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
		Prev:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev version")),
		Next:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next version")),
		Confirm:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "switch version")),
		Dismiss:    key.NewBinding(key.WithKeys("esc", "d"), key.WithHelp("d", "dismiss")),
		Revalidate: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh")),
		CopyLogs:   key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy logs")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Restart, k.Prev, k.Next, k.Confirm, k.Dismiss, k.Revalidate, k.CopyLogs, k.Quit}
}
