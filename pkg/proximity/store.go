package proximity

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Store keeps one History per device address. Ingestion (Append) runs
// concurrently with distance queries; histories are only emptied by Clear.
type Store struct {
	mu       sync.RWMutex
	capacity int
	devices  map[string]*History
	scanning atomic.Bool
}

// NewStore creates an empty store whose histories hold capacity samples.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &Store{
		capacity: capacity,
		devices:  make(map[string]*History),
	}
}

// NormalizeAddr canonicalises a device address (upper-case, trimmed).
func NormalizeAddr(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// Append records a sample for addr, creating the history on first use.
// The write happens under the store lock so Clear cannot orphan it.
func (s *Store) Append(addr string, sample Sample) {
	addr = NormalizeAddr(addr)

	s.mu.RLock()
	if h := s.devices[addr]; h != nil {
		h.Append(sample)
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.devices[addr]
	if h == nil {
		h = NewHistory(s.capacity)
		s.devices[addr] = h
	}
	h.Append(sample)
}

// SamplesSince returns the samples for addr captured strictly after t.
func (s *Store) SamplesSince(addr string, t time.Time) []Sample {
	h := s.history(NormalizeAddr(addr))
	if h == nil {
		return nil
	}
	return h.Since(t)
}

// Snapshot returns all retained samples for addr, oldest first.
func (s *Store) Snapshot(addr string) []Sample {
	h := s.history(NormalizeAddr(addr))
	if h == nil {
		return nil
	}
	return h.Snapshot()
}

// Latest returns the newest sample for addr.
func (s *Store) Latest(addr string) (Sample, bool) {
	h := s.history(NormalizeAddr(addr))
	if h == nil {
		return Sample{}, false
	}
	return h.Latest()
}

// Devices returns the known device addresses, sorted.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.devices))
	for addr := range s.devices {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Clear drops every device history.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = make(map[string]*History)
}

// SetScanning records whether the scanning collaborator is live.
func (s *Store) SetScanning(on bool) {
	s.scanning.Store(on)
}

// IsScanning reports the last value passed to SetScanning.
func (s *Store) IsScanning() bool {
	return s.scanning.Load()
}

// Device returns a view of a single tracked device.
func (s *Store) Device(addr string) *Tracked {
	return &Tracked{store: s, addr: NormalizeAddr(addr)}
}

func (s *Store) history(addr string) *History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[addr]
}

// Tracked is the per-device query surface the distance estimator reads.
type Tracked struct {
	store *Store
	addr  string
}

// Addr returns the normalised device address.
func (t *Tracked) Addr() string {
	return t.addr
}

// SamplesSince returns the device samples captured strictly after since.
func (t *Tracked) SamplesSince(since time.Time) []Sample {
	return t.store.SamplesSince(t.addr, since)
}

// IsScanning reports whether the scanner feeding the store is live.
func (t *Tracked) IsScanning() bool {
	return t.store.IsScanning()
}
