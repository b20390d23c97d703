package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
)

// ErrCommandFailed wraps failures reported by the underlying process manager.
var ErrCommandFailed = errors.New("controller command failed")

// Controller reports and changes the state of the supervised ComfyUI process.
// Implementations must be safe for concurrent use.
type Controller interface {
	Status(ctx context.Context) (status.Status, error)
	// Do performs start, stop or restart and returns the manager's message.
	Do(ctx context.Context, a pending.Action) (string, error)
}

// CommandError carries the message printed by a failed command.
type CommandError struct {
	Command  string
	ExitCode int
	Message  string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	}
	return e.Message
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }
