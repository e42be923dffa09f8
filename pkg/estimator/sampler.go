package estimator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-beaconrover/internal/log"
	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

// Sentinel errors for sampling.
var (
	// ErrStalled is returned when MaxWindows consecutive windows time out
	// without collecting enough samples.
	ErrStalled = errors.New("estimator: stalled waiting for samples")

	errWindowTimeout = errors.New("estimator: window timed out")
)

// Source is the scanning collaborator as seen by the estimator.
type Source interface {
	// SamplesSince returns samples captured strictly after t, oldest first.
	SamplesSince(t time.Time) []proximity.Sample

	// IsScanning reports whether the scanner is currently producing samples.
	IsScanning() bool
}

// Config holds the tunables of one sampling profile.
type Config struct {
	MinSamples    int           // samples required before reducing a window
	PollInterval  time.Duration // how often the source is polled
	WindowTimeout time.Duration // a window is retried after this long
	Threshold     float64       // outlier cut-off in standard deviations
	MaxWindows    int           // consecutive timeouts before ErrStalled (0 = never)
	Reducer       Reducer       // defaults to TrimmedMean
}

// DefaultConfig returns the profile used with high-voltage drive hardware.
func DefaultConfig() Config {
	return Config{
		MinSamples:    12,
		PollInterval:  1500 * time.Millisecond,
		WindowTimeout: 3100 * time.Millisecond,
		Threshold:     DefaultThreshold,
		MaxWindows:    10,
		Reducer:       TrimmedMean,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MinSamples < 1 {
		return errors.New("estimator: MinSamples must be >= 1")
	}
	if c.PollInterval <= 0 {
		return errors.New("estimator: PollInterval must be > 0")
	}
	if c.WindowTimeout <= 0 {
		return errors.New("estimator: WindowTimeout must be > 0")
	}
	if c.MaxWindows < 0 {
		return errors.New("estimator: MaxWindows must be >= 0")
	}
	return nil
}

// Sampler waits for enough fresh samples and reduces them to one distance.
type Sampler struct {
	src Source
	cfg Config
	log *slog.Logger
}

// NewSampler creates a sampler over src.
func NewSampler(src Source, cfg Config) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Reducer == nil {
		cfg.Reducer = TrimmedMean
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Sampler{src: src, cfg: cfg, log: log.Component("estimator")}, nil
}

// Config returns the effective configuration.
func (s *Sampler) Config() Config {
	return s.cfg
}

// Measure blocks until at least MinSamples samples captured after since are
// available and returns their reduced distance. A window that times out is
// retried from scratch with the same start, never reduced on too few points.
// Cancelling ctx aborts at the next poll or retry boundary.
func (s *Sampler) Measure(ctx context.Context, since time.Time) (float64, error) {
	timeouts := 0
	for {
		values, err := s.collect(ctx, since)
		if err == nil {
			d, err := s.cfg.Reducer(values, s.cfg.Threshold)
			if err != nil {
				return 0, err
			}
			s.log.Debug("window reduced", "samples", len(values), "distance", d, "retries", timeouts)
			return d, nil
		}
		if !errors.Is(err, errWindowTimeout) {
			return 0, err
		}

		timeouts++
		s.log.Warn("sampling window timed out, retrying",
			"since", since.Format(time.StampMilli),
			"have", len(s.src.SamplesSince(since)),
			"need", s.cfg.MinSamples,
			"scanning", s.src.IsScanning(),
			"attempt", timeouts,
		)
		if s.cfg.MaxWindows > 0 && timeouts >= s.cfg.MaxWindows {
			return 0, fmt.Errorf("%w: %d windows since %s", ErrStalled, timeouts, since.Format(time.StampMilli))
		}
	}
}

// collect polls the source for one window.
func (s *Sampler) collect(ctx context.Context, since time.Time) ([]float64, error) {
	timer := time.NewTimer(s.cfg.WindowTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errWindowTimeout
		case <-ticker.C:
			samples := s.src.SamplesSince(since)
			if len(samples) >= s.cfg.MinSamples {
				return distances(samples), nil
			}
		}
	}
}

func distances(samples []proximity.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, sm := range samples {
		out[i] = sm.Distance
	}
	return out
}
