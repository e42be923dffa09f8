package proximity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleAt(i int) Sample {
	return Sample{RSSI: -60, Distance: float64(i), CapturedAt: epoch.Add(time.Duration(i) * time.Millisecond)}
}

func TestHistoryKeepsMostRecentInOrder(t *testing.T) {
	for _, total := range []int{1, 99, 100, 101, 250, 1000} {
		h := NewHistory(HistoryCapacity)
		for i := 0; i < total; i++ {
			h.Append(sampleAt(i))
		}

		got := h.Snapshot()
		want := total
		if want > HistoryCapacity {
			want = HistoryCapacity
		}
		require.Len(t, got, want, "total=%d", total)

		first := total - want
		for i, s := range got {
			assert.Equal(t, float64(first+i), s.Distance, "total=%d index=%d", total, i)
		}
	}
}

func TestHistorySinceIsStrict(t *testing.T) {
	h := NewHistory(10)
	for i := 0; i < 5; i++ {
		h.Append(sampleAt(i))
	}

	got := h.Since(epoch.Add(2 * time.Millisecond))
	require.Len(t, got, 2)
	assert.Equal(t, 3.0, got[0].Distance)
	assert.Equal(t, 4.0, got[1].Distance)

	assert.Empty(t, h.Since(epoch.Add(time.Hour)))
}

func TestHistoryLatestAndClear(t *testing.T) {
	h := NewHistory(3)
	_, ok := h.Latest()
	assert.False(t, ok)

	for i := 0; i < 4; i++ {
		h.Append(sampleAt(i))
	}
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Distance)
	assert.Equal(t, 3, h.Len())

	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Snapshot())
}

func TestStorePerDevice(t *testing.T) {
	s := NewStore(0)
	s.Append("aa:bb", sampleAt(1))
	s.Append("AA:BB ", sampleAt(2))
	s.Append("cc:dd", sampleAt(3))

	assert.Equal(t, []string{"AA:BB", "CC:DD"}, s.Devices())
	assert.Len(t, s.Snapshot("aa:bb"), 2)
	assert.Nil(t, s.SamplesSince("ee:ff", epoch))

	tracked := s.Device("aa:bb")
	assert.Equal(t, "AA:BB", tracked.Addr())
	assert.Len(t, tracked.SamplesSince(epoch.Add(time.Millisecond)), 1)

	assert.False(t, tracked.IsScanning())
	s.SetScanning(true)
	assert.True(t, tracked.IsScanning())

	s.Clear()
	assert.Empty(t, s.Devices())
	assert.Empty(t, tracked.SamplesSince(epoch))
}

func TestStoreConcurrentIngestAndQuery(t *testing.T) {
	s := NewStore(HistoryCapacity)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Append("beacon", sampleAt(i))
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = s.SamplesSince("beacon", epoch)
				_, _ = s.Latest("beacon")
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Snapshot("beacon"), HistoryCapacity)
}

func TestStoreClearWaitsForInFlightAppend(t *testing.T) {
	s := NewStore(HistoryCapacity)
	s.Append("beacon", sampleAt(1))
	h := s.history("BEACON")
	require.NotNil(t, h)

	// Stall the next append inside the ring.
	h.mu.Lock()
	appended := make(chan struct{})
	go func() {
		s.Append("beacon", sampleAt(2))
		close(appended)
	}()
	time.Sleep(20 * time.Millisecond)

	cleared := make(chan struct{})
	go func() {
		s.Clear()
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("Clear returned while an append was still writing")
	case <-time.After(20 * time.Millisecond):
	}

	h.mu.Unlock()
	<-appended
	<-cleared

	// Appends after Clear land in the live store.
	s.Append("beacon", sampleAt(3))
	got := s.Snapshot("beacon")
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Distance)
}

func TestRSSIDistanceRoundTrip(t *testing.T) {
	assert.InDelta(t, 1.0, RSSIToDistance(DefaultMeasuredPower, DefaultMeasuredPower, DefaultPathLossExp), 1e-9)
	assert.InDelta(t, 10.0, RSSIToDistance(-79, -59, 2), 1e-9)
	assert.Equal(t, -79, DistanceToRSSI(10, -59, 2))
	assert.Equal(t, -59, DistanceToRSSI(1, -59, 0))
}
