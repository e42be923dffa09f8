package navigation

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the control loop.
var (
	// ErrAlreadyRunning is returned when a session is already active.
	ErrAlreadyRunning = errors.New("navigation: already running")

	// ErrStopped is returned by Machine.Run when the session was stopped
	// before arriving.
	ErrStopped = errors.New("navigation: stopped")

	// ErrNoPendingMove is logged when an actuation state is entered without
	// a chosen move.
	ErrNoPendingMove = errors.New("navigation: no pending move")

	// ErrNotConnected is returned by Start when the link gate rejects.
	ErrNotConnected = errors.New("navigation: link not connected")
)

// Executor actuates moves and performs the sense step of the loop.
type Executor interface {
	// ExecuteMove encodes and sends a move to the vehicle.
	ExecuteMove(ctx context.Context, move Move) error

	// Stop halts the vehicle. It must be callable at any time.
	Stop(ctx context.Context) error

	// MeasureDistance blocks until a stabilised distance computed from
	// samples captured after the call began is available.
	MeasureDistance(ctx context.Context) (float64, error)
}

// Event is published on every state transition of a session.
type Event struct {
	Session  string    `json:"session"`
	State    State     `json:"state"`
	Move     *Move     `json:"move,omitempty"`
	Distance float64   `json:"distance,omitempty"`
	Arrived  bool      `json:"arrived"`
	Stalled  bool      `json:"stalled"`
	Err      string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Observer receives events. It is called synchronously from the control
// loop and must not block or call back into the Machine.
type Observer func(Event)
