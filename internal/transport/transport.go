// Package transport delivers process status observations to the panel,
// either pushed over a websocket or pulled by polling.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loykin/cockpit/internal/status"
)

// Listener receives transport events. Every call happens on the event loop.
type Listener interface {
	OnStatus(st status.Status)
	OnLog(line string)
	OnConnectivity(connected bool)
	OnStale(stale bool)
}

// Frame types carried by the socket.
const (
	FrameStatus = "status"
	FrameLog    = "log"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the socket envelope.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// StatusFrame builds a status envelope.
func StatusFrame(st status.Status) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: FrameStatus, Data: data})
}

// LogFrame builds a log envelope carrying a plain string.
func LogFrame(line string) ([]byte, error) {
	data, err := json.Marshal(line)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: FrameLog, Data: data})
}

// Event is a decoded frame. Exactly one of Status or Log is meaningful.
type Event struct {
	Type   string
	Status status.Status
	Log    string
}

// DecodeFrame parses one socket message. Log data may be a JSON string or an
// object with a "line" field.
func DecodeFrame(b []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameStatus:
		var st status.Status
		if len(f.Data) == 0 {
			return Event{}, fmt.Errorf("%w: status without data", ErrMalformedFrame)
		}
		if err := json.Unmarshal(f.Data, &st); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return Event{Type: FrameStatus, Status: st}, nil
	case FrameLog:
		var line string
		if err := json.Unmarshal(f.Data, &line); err == nil {
			return Event{Type: FrameLog, Log: line}, nil
		}
		var obj struct {
			Line *string `json:"line"`
		}
		if err := json.Unmarshal(f.Data, &obj); err != nil || obj.Line == nil {
			return Event{}, fmt.Errorf("%w: log data is neither string nor {line}", ErrMalformedFrame)
		}
		return Event{Type: FrameLog, Log: *obj.Line}, nil
	}
	return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
}
