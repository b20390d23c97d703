package release

import (
	"context"
	"fmt"
)

// DummyVersions is the fixed list served in dummy mode.
var DummyVersions = []string{"1.0.0-dummy", "0.9.0-dummy", "0.8.0-dummy"}

const DummyCurrent = "1.0.0-dummy"

// Dummy serves canned version data and accepts every switch.
type Dummy struct{}

func (Dummy) Current(context.Context) (string, bool) { return DummyCurrent, true }

func (Dummy) Available(context.Context) []string {
	return append([]string(nil), DummyVersions...)
}

func (Dummy) Switch(_ context.Context, version string) SwitchResult {
	return SwitchResult{
		Success: true,
		Message: fmt.Sprintf("Successfully switched to version %s (dummy mode)", version),
		Version: version,
	}
}
