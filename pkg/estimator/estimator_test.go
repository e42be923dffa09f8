package estimator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-beaconrover/pkg/proximity"
)

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	in := []float64{3, 1, 2}
	Median(in)
	assert.Equal(t, []float64{3, 1, 2}, in, "input must not be reordered")
}

func TestStdDevIsBesselCorrected(t *testing.T) {
	assert.Equal(t, 0.0, StdDev([]float64{5}))
	// mean 5, squared deviations sum to 32, n-1 = 7 → sqrt(32/7)
	assert.InDelta(t, 2.13809, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-4)
}

func TestTrimmedMean(t *testing.T) {
	t.Run("rejects gross outlier", func(t *testing.T) {
		got, err := TrimmedMean([]float64{1.0, 1.1, 0.9, 1.05, 50.0}, DefaultThreshold)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got, 0.05)
	})

	t.Run("too few first-pass survivors returns median", func(t *testing.T) {
		got, err := TrimmedMean([]float64{1, 100}, DefaultThreshold)
		require.NoError(t, err)
		assert.Equal(t, 50.5, got)
	})

	t.Run("identical values", func(t *testing.T) {
		got, err := TrimmedMean([]float64{2, 2, 2, 2}, DefaultThreshold)
		require.NoError(t, err)
		assert.Equal(t, 2.0, got)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := TrimmedMean(nil, DefaultThreshold)
		assert.ErrorIs(t, err, ErrNoSamples)
	})

	t.Run("non-positive threshold uses default", func(t *testing.T) {
		a, _ := TrimmedMean([]float64{1.0, 1.1, 0.9, 1.05, 50.0}, 0)
		b, _ := TrimmedMean([]float64{1.0, 1.1, 0.9, 1.05, 50.0}, DefaultThreshold)
		assert.Equal(t, b, a)
	})
}

func TestMeanReducer(t *testing.T) {
	got, err := Mean([]float64{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)

	_, err = Mean(nil, 0)
	assert.ErrorIs(t, err, ErrNoSamples)
}

// fakeSource serves samples appended by the test.
type fakeSource struct {
	mu       sync.Mutex
	samples  []proximity.Sample
	scanning bool
}

func (f *fakeSource) add(d float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, proximity.Sample{RSSI: -60, Distance: d, CapturedAt: at})
}

func (f *fakeSource) SamplesSince(t time.Time) []proximity.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proximity.Sample
	for _, s := range f.samples {
		if s.CapturedAt.After(t) {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSource) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

func fastConfig() Config {
	return Config{
		MinSamples:    5,
		PollInterval:  5 * time.Millisecond,
		WindowTimeout: 40 * time.Millisecond,
		Threshold:     DefaultThreshold,
	}
}

func TestSamplerMeasure(t *testing.T) {
	src := &fakeSource{scanning: true}
	since := time.Now()
	for _, d := range []float64{1.0, 1.1, 0.9, 1.05, 50.0} {
		src.add(d, since.Add(time.Millisecond))
	}

	s, err := NewSampler(src, fastConfig())
	require.NoError(t, err)

	got, err := s.Measure(context.Background(), since)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 0.05)
}

func TestSamplerIgnoresStaleSamples(t *testing.T) {
	src := &fakeSource{scanning: true}
	since := time.Now()
	for i := 0; i < 10; i++ {
		src.add(99, since.Add(-time.Second))
	}

	cfg := fastConfig()
	cfg.MaxWindows = 2
	s, err := NewSampler(src, cfg)
	require.NoError(t, err)

	_, err = s.Measure(context.Background(), since)
	assert.ErrorIs(t, err, ErrStalled)
}

func TestSamplerRetriesTimedOutWindow(t *testing.T) {
	src := &fakeSource{scanning: true}
	since := time.Now()

	cfg := fastConfig()
	cfg.MaxWindows = 0
	s, err := NewSampler(src, cfg)
	require.NoError(t, err)

	// Deliver the samples only after the first window has expired.
	go func() {
		time.Sleep(60 * time.Millisecond)
		for i := 0; i < 5; i++ {
			src.add(2.0, time.Now())
		}
	}()

	got, err := s.Measure(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestSamplerCancellation(t *testing.T) {
	src := &fakeSource{}
	s, err := NewSampler(src, fastConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = s.Measure(ctx, time.Now())
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MinSamples = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.PollInterval = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.WindowTimeout = -1
	assert.Error(t, bad.Validate())

	_, err := NewSampler(&fakeSource{}, bad)
	assert.Error(t, err)
}
