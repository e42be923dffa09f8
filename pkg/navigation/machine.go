package navigation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/estimator"
)

// Default timings of the control loop.
const (
	DefaultRetryDelay  = 100 * time.Millisecond
	DefaultStopTimeout = 2 * time.Second
)

// Machine runs one navigation session.
//
// All transitions happen on the goroutine calling Run. Stop may be called
// from any goroutine: it clears the running flag, cancels the in-flight
// step, forces Idle and sends the stop command. Actuation and the stop
// command share a lock, so no move is written after the stop.
type Machine struct {
	id       string
	alg      Algorithm
	exec     Executor
	observe  Observer
	log      *slog.Logger
	retry    time.Duration
	stopWait time.Duration

	mu      sync.Mutex
	state   State
	running bool
	stopped bool
	arrived bool
	stalled bool
	cancel  context.CancelFunc

	actMu sync.Mutex

	// Owned by the Run goroutine.
	distances []float64
	lastTurn  int
	pending   *Move
}

// NewMachine creates an Idle session. observe may be nil.
func NewMachine(id string, alg Algorithm, exec Executor, observe Observer) *Machine {
	if observe == nil {
		observe = func(Event) {}
	}
	return &Machine{
		id:       id,
		alg:      alg,
		exec:     exec,
		observe:  observe,
		log:      log.Component("navigation").With("session", id),
		retry:    DefaultRetryDelay,
		stopWait: DefaultStopTimeout,
	}
}

// ID returns the session identifier.
func (m *Machine) ID() string {
	return m.id
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Arrived reports whether the session ended at the target.
func (m *Machine) Arrived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arrived
}

// Stalled reports whether the last measurement gave up waiting for samples.
func (m *Machine) Stalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled
}

// Running reports whether the loop is active.
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Run drives the session until arrival (nil) or stop (ErrStopped).
// Cancelling ctx is equivalent to calling Stop.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return ErrStopped
	case m.running:
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	m.log.Info("navigation started")
	m.transition(Gathering, Event{})

	for {
		if ctx.Err() != nil || !m.Running() {
			return m.finish()
		}

		switch state := m.State(); state {
		case Gathering:
			m.gather(ctx)
		case Calculating:
			m.calculate()
		case Turning, Moving:
			m.actuate(ctx, state)
		case Idle:
			return m.finish()
		}
	}
}

// finish resolves the Run result once the loop has left its states.
func (m *Machine) finish() error {
	m.mu.Lock()
	arrived, stopped := m.arrived, m.stopped
	m.mu.Unlock()

	if arrived {
		return nil
	}
	if !stopped {
		// Parent context cancelled without Stop.
		stopCtx, cancel := context.WithTimeout(context.Background(), m.stopWait)
		defer cancel()
		_ = m.Stop(stopCtx)
	}
	return ErrStopped
}

// Stop halts the session from any state and sends the stop command.
func (m *Machine) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	m.stopped = true
	cancel := m.cancel
	wasIdle := m.state == Idle
	m.state = Idle
	if !wasIdle {
		m.observe(m.eventLocked(Event{}))
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.actMu.Lock()
	defer m.actMu.Unlock()
	if err := m.exec.Stop(ctx); err != nil {
		m.log.Error("stop command failed", "error", err)
		return err
	}
	m.log.Info("navigation stopped")
	return nil
}

// gather takes one distance measurement.
func (m *Machine) gather(ctx context.Context) {
	d, err := m.exec.MeasureDistance(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		stalled := errors.Is(err, estimator.ErrStalled)
		if stalled {
			m.log.Warn("distance measurement stalled", "error", err)
		} else {
			m.log.Error("distance measurement failed", "error", err)
		}
		m.mu.Lock()
		if m.running {
			m.stalled = m.stalled || stalled
			m.observe(m.eventLocked(Event{Err: err.Error()}))
		}
		m.mu.Unlock()
		m.sleep(ctx, m.retry)
		return
	}

	m.mu.Lock()
	m.stalled = false
	m.mu.Unlock()

	m.distances = append(m.distances, d)
	if len(m.distances) > 2 {
		m.distances = m.distances[len(m.distances)-2:]
	}
	m.transition(Calculating, Event{Distance: d})
}

// calculate checks arrival and chooses the next move.
func (m *Machine) calculate() {
	if len(m.distances) == 0 {
		m.transition(Gathering, Event{})
		return
	}
	current := m.distances[len(m.distances)-1]

	if m.alg.CheckArrival(current) {
		m.arrive(current)
		return
	}

	var move Move
	if len(m.distances) < 2 {
		move = m.alg.InitialMove()
	} else {
		move = m.alg.NextMove(m.distances[0], current, m.lastTurn)
	}
	m.pending = &move

	next := Moving
	if move.Direction.IsTurn() {
		next = Turning
	}
	m.log.Info("next move", "move", move.String(), "distance", current)
	m.transition(next, Event{Move: &move, Distance: current})
}

// arrive ends the session at the target.
func (m *Machine) arrive(distance float64) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.arrived = true
	m.state = Idle
	m.observe(m.eventLocked(Event{Distance: distance}))
	m.mu.Unlock()

	m.log.Info("arrived", "distance", distance)

	ctx, cancel := context.WithTimeout(context.Background(), m.stopWait)
	defer cancel()
	m.actMu.Lock()
	defer m.actMu.Unlock()
	if err := m.exec.Stop(ctx); err != nil {
		m.log.Error("stop after arrival failed", "error", err)
	}
}

// actuate executes the pending move for Turning or Moving.
func (m *Machine) actuate(ctx context.Context, state State) {
	move := m.pending
	m.pending = nil
	if move == nil {
		m.log.Error("actuation without a move, re-gathering", "state", state.String(), "error", ErrNoPendingMove)
		m.transition(Gathering, Event{Err: ErrNoPendingMove.Error()})
		return
	}

	if err := m.execute(ctx, *move); err != nil && !errors.Is(err, ErrStopped) && ctx.Err() == nil {
		m.log.Warn("move not delivered", "move", move.String(), "error", err)
		m.mu.Lock()
		if m.running {
			m.observe(m.eventLocked(Event{Move: move, Err: err.Error()}))
		}
		m.mu.Unlock()
	}

	if state == Turning {
		m.lastTurn = move.Magnitude
		m.transition(Calculating, Event{})
		return
	}
	m.lastTurn = 0
	m.transition(Gathering, Event{})
}

// execute sends a move unless the session was stopped first.
func (m *Machine) execute(ctx context.Context, move Move) error {
	m.actMu.Lock()
	defer m.actMu.Unlock()
	if !m.Running() {
		return ErrStopped
	}
	return m.exec.ExecuteMove(ctx, move)
}

// transition moves to s and publishes, unless the session is no longer
// running. It reports whether the transition happened.
func (m *Machine) transition(s State, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.state = s
	m.observe(m.eventLocked(ev))
	return true
}

// eventLocked fills session fields into ev. Caller holds m.mu.
func (m *Machine) eventLocked(ev Event) Event {
	ev.Session = m.id
	ev.State = m.state
	ev.Arrived = m.arrived
	ev.Stalled = m.stalled
	ev.Time = time.Now()
	return ev
}

func (m *Machine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
