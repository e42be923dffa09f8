package drive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/estimator"
	"github.com/teslashibe/go-beaconrover/pkg/navigation"
	"github.com/teslashibe/go-beaconrover/pkg/transport"
)

// DefaultCommandTimeout bounds a single link write.
const DefaultCommandTimeout = 2 * time.Second

// Option configures an Executor.
type Option func(*Executor)

// WithCommandTimeout bounds each link write.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxWindows overrides the stall ceiling of the profile's sampling.
func WithMaxWindows(n int) Option {
	return func(e *Executor) { e.profile.Sampling.MaxWindows = n }
}

// WithClock replaces time.Now for window start times.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor actuates moves over a transport.Link and measures distance from
// an estimator.Source. It implements navigation.Executor.
type Executor struct {
	link    transport.Link
	profile Profile
	sampler *estimator.Sampler
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	lastStart time.Time
}

var _ navigation.Executor = (*Executor)(nil)

// NewExecutor creates an executor for the given hardware profile.
func NewExecutor(link transport.Link, src estimator.Source, profile Profile, opts ...Option) (*Executor, error) {
	e := &Executor{
		link:    link,
		profile: profile,
		timeout: DefaultCommandTimeout,
		now:     time.Now,
		log:     log.Component("drive").With("profile", profile.Name),
	}
	for _, opt := range opts {
		opt(e)
	}

	sampler, err := estimator.NewSampler(src, e.profile.Sampling)
	if err != nil {
		return nil, err
	}
	e.sampler = sampler
	return e, nil
}

// Profile returns the calibration in use.
func (e *Executor) Profile() Profile {
	return e.profile
}

// ExecuteMove encodes and writes move.
func (e *Executor) ExecuteMove(ctx context.Context, move navigation.Move) error {
	cmd, err := e.profile.Encode(move)
	if err != nil {
		return err
	}
	e.log.Info("move", "move", move.String(), "command", cmd.String())
	return e.send(ctx, cmd)
}

// Stop writes the stop command, retrying once on failure.
func (e *Executor) Stop(ctx context.Context) error {
	e.log.Info("stop", "command", StopCommand.String())
	err := e.send(ctx, StopCommand)
	if err == nil || ctx.Err() != nil {
		return err
	}
	e.log.Warn("stop failed, retrying", "error", err)
	return e.send(ctx, StopCommand)
}

// MeasureDistance reduces samples captured after the call began. Window
// starts never move backwards, so consecutive windows do not overlap.
func (e *Executor) MeasureDistance(ctx context.Context) (float64, error) {
	since := e.windowStart()
	d, err := e.sampler.Measure(ctx, since)
	if err != nil {
		return 0, err
	}
	e.log.Info("distance", "meters", d, "since", since.Format(time.StampMilli))
	return d, nil
}

func (e *Executor) windowStart() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.now()
	if t.Before(e.lastStart) {
		t = e.lastStart
	}
	e.lastStart = t
	return t
}

func (e *Executor) send(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.link.WriteCommand(ctx, cmd.Bytes()); err != nil {
		e.log.Error("command failed", "command", cmd.String(), "link", e.link.State().String(), "error", err)
		return err
	}
	return nil
}
