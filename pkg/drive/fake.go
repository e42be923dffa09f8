package drive

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-beaconrover/pkg/navigation"
)

// fakeDefaultDistance is reported once the script runs out.
const fakeDefaultDistance = 1.0

// FakeExecutor drives nothing. It replays scripted distances, then reports
// a constant 1.0, and records every move.
type FakeExecutor struct {
	delay time.Duration

	mu        sync.Mutex
	distances []float64
	moves     []navigation.Move
	stops     int
}

var _ navigation.Executor = (*FakeExecutor)(nil)

// NewFakeExecutor sleeps delay per move and replays distances in order.
func NewFakeExecutor(delay time.Duration, distances ...float64) *FakeExecutor {
	return &FakeExecutor{delay: delay, distances: distances}
}

// ExecuteMove records move after the configured delay.
func (f *FakeExecutor) ExecuteMove(ctx context.Context, move navigation.Move) error {
	if err := sleepCtx(ctx, f.delay); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, move)
	return nil
}

// Stop counts the call.
func (f *FakeExecutor) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

// MeasureDistance pops the next scripted distance.
func (f *FakeExecutor) MeasureDistance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.distances) == 0 {
		return fakeDefaultDistance, nil
	}
	d := f.distances[0]
	f.distances = f.distances[1:]
	return d, nil
}

// Moves returns recorded moves in order.
func (f *FakeExecutor) Moves() []navigation.Move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]navigation.Move(nil), f.moves...)
}

// Stops returns how many times Stop was called.
func (f *FakeExecutor) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
