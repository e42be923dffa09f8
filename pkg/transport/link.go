// Package transport carries wire commands to the rover.
//
// A Link is the command channel: serial, WebRTC data channel, websocket
// gateway, or the simulator. Each reports a ConnState that gates navigation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned when writing to a link that is not Connected.
var ErrNotConnected = errors.New("transport: link not connected")

// ErrClosed is returned by operations on a closed link.
var ErrClosed = errors.New("transport: link closed")

// Link is a command channel to the vehicle.
type Link interface {
	// WriteCommand sends one encoded command. Framing is the link's concern.
	WriteCommand(ctx context.Context, cmd []byte) error

	// State returns the current connection state.
	State() ConnState
}

// StatusHandler receives status lines reported back by the vehicle.
type StatusHandler func(line string)

// ConnState is the connection state of a link.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Disconnecting
	Error
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WriteError reports a command that could not be delivered.
type WriteError struct {
	Command string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("transport: write %q: %v", e.Command, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Ready returns an error unless l is Connected. It fits navigation.Gate.
func Ready(l Link) func() error {
	return func() error {
		if s := l.State(); s != Connected {
			return fmt.Errorf("%w (%s)", ErrNotConnected, s)
		}
		return nil
	}
}

// frame terminates cmd with a single newline.
func frame(cmd []byte) []byte {
	line := strings.TrimRight(string(cmd), "\r\n")
	return []byte(line + "\n")
}
