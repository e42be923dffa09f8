package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-beaconrover/internal/log"
)

// Gate is consulted by Start. A non-nil error rejects the session.
type Gate func() error

// Status is a snapshot of the navigator observables.
type Status struct {
	Session   string        `json:"session,omitempty"`
	Algorithm AlgorithmType `json:"algorithm,omitempty"`
	State     State         `json:"state"`
	Running   bool          `json:"running"`
	Arrived   bool          `json:"arrived"`
	Stalled   bool          `json:"stalled"`
	LastMove  *Move         `json:"last_move,omitempty"`
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithAlgorithmConfig overrides the algorithm tunables.
func WithAlgorithmConfig(cfg AlgorithmConfig) Option {
	return func(n *Navigator) { n.algCfg = cfg }
}

// WithGate installs a readiness check, typically the link state.
func WithGate(g Gate) Option {
	return func(n *Navigator) { n.gate = g }
}

// Navigator owns at most one active session and exposes its observables.
type Navigator struct {
	exec   Executor
	algCfg AlgorithmConfig
	gate   Gate
	log    *slog.Logger

	mu        sync.Mutex
	machine   *Machine
	done      chan struct{}
	status    Status
	subs      map[int]chan Event
	nextSubID int
}

// NewNavigator creates a Navigator that actuates through exec.
func NewNavigator(exec Executor, opts ...Option) *Navigator {
	n := &Navigator{
		exec:   exec,
		algCfg: DefaultAlgorithmConfig(),
		log:    log.Component("navigator"),
		subs:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Start begins a session with the given algorithm and returns its ID.
// It does not block; the loop runs until arrival or Stop.
func (n *Navigator) Start(ctx context.Context, kind AlgorithmType) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.activeLocked() {
		return "", ErrAlreadyRunning
	}
	if n.gate != nil {
		if err := n.gate(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}
	alg, err := NewAlgorithm(kind, n.algCfg)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	m := NewMachine(id, alg, n.exec, n.onEvent)
	done := make(chan struct{})

	n.machine = m
	n.done = done
	n.status = Status{Session: id, Algorithm: kind, State: Idle, Running: true}

	// The session outlives the caller's request.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		err := m.Run(runCtx)

		n.mu.Lock()
		if n.status.Session == id {
			n.status.Running = false
			n.status.State = Idle
		}
		n.mu.Unlock()

		n.log.Info("session finished", "session", id, "arrived", err == nil)
	}()

	n.log.Info("session started", "session", id, "algorithm", kind.String())
	return id, nil
}

// Stop halts the active session, if any, and always sends the stop
// command. It waits for the loop to exit or ctx to end.
func (n *Navigator) Stop(ctx context.Context) error {
	n.mu.Lock()
	m, done := n.machine, n.done
	n.mu.Unlock()

	if m == nil {
		return n.exec.Stop(ctx)
	}
	err := m.Stop(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// State returns the current state.
func (n *Navigator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.State
}

// Arrived reports whether the latest session arrived. It stays true until
// the next Start.
func (n *Navigator) Arrived() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.Arrived
}

// Stalled reports whether the active session is waiting on a stalled
// measurement.
func (n *Navigator) Stalled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status.Stalled
}

// LastMove returns the most recently chosen move of the latest session.
func (n *Navigator) LastMove() (Move, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.LastMove == nil {
		return Move{}, false
	}
	return *n.status.LastMove, true
}

// Running reports whether a session is active.
func (n *Navigator) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activeLocked()
}

// Status returns a snapshot of all observables.
func (n *Navigator) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.status
	if s.LastMove != nil {
		mv := *s.LastMove
		s.LastMove = &mv
	}
	return s
}

// Done is closed when the latest session's loop exits. It is nil before
// the first Start.
func (n *Navigator) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.done
}

// Subscribe returns a channel of events with the given buffer and a cancel
// function. Slow subscribers miss events rather than stall the loop.
func (n *Navigator) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.nextSubID
	n.nextSubID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *Navigator) activeLocked() bool {
	if n.done == nil {
		return false
	}
	select {
	case <-n.done:
		return false
	default:
		return true
	}
}

// onEvent is the machine observer. Lock order is machine then navigator.
func (n *Navigator) onEvent(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ev.Session != n.status.Session {
		return
	}
	n.status.State = ev.State
	n.status.Arrived = ev.Arrived
	n.status.Stalled = ev.Stalled
	if ev.Move != nil && ev.Err == "" {
		mv := *ev.Move
		n.status.LastMove = &mv
	}
	if ev.State == Idle {
		n.status.Running = false
	}

	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.log.Debug("subscriber behind, dropping event", "subscriber", id, "state", ev.State.String())
		}
	}
}
