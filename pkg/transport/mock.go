package transport

import (
	"context"
	"sync"
)

// Mock is an in-memory Link that records commands.
type Mock struct {
	mu       sync.Mutex
	state    ConnState
	commands []string
	failNext []error
}

// NewMock returns a Connected mock link.
func NewMock() *Mock {
	return &Mock{state: Connected}
}

// SetState changes the reported connection state.
func (m *Mock) SetState(s ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// FailNext makes the next len(errs) writes fail with errs in order.
func (m *Mock) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// State implements Link.
func (m *Mock) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WriteCommand implements Link. Failed writes are not recorded.
func (m *Mock) WriteCommand(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{Command: string(cmd), Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return &WriteError{Command: string(cmd), Err: ErrNotConnected}
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return &WriteError{Command: string(cmd), Err: err}
	}
	m.commands = append(m.commands, string(cmd))
	return nil
}

// Commands returns the delivered commands in order.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}
