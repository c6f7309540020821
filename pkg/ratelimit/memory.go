package ratelimit

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is how often expired windows are dropped.
const DefaultSweepInterval = 5 * time.Minute

// MemoryStore keeps windows in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*window
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMemoryStore creates a store and starts a sweeper that runs every
// sweepInterval. A non-positive interval disables the sweeper.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	return newMemoryStore(sweepInterval, time.Now)
}

func newMemoryStore(sweepInterval time.Duration, now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*window),
		now:     now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(sweepInterval)
	}
	return s
}

// Admit counts one request against key.
//
// A missing or expired window is replaced by a fresh one with count 1.
// A full window rejects without changing state.
func (s *MemoryStore) Admit(_ context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.records[key]
	if !ok || w.expired(now) {
		w = &window{count: 1, resetAt: now.Add(p.Window)}
		s.records[key] = w
		activeIdentities.Set(float64(len(s.records)))
		return w.decision(p, true), nil
	}

	if w.count >= p.Limit {
		return w.decision(p, false), nil
	}

	w.count++
	return w.decision(p, true), nil
}

// Peek reports the quota for key without counting a request.
func (s *MemoryStore) Peek(_ context.Context, key string, p Policy) (Decision, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.records[key]
	if !ok || w.expired(now) {
		return freshDecision(p, now), nil
	}
	return w.decision(p, w.count < p.Limit), nil
}

// Sweep removes expired windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.records {
		if w.expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	activeIdentities.Set(float64(len(s.records)))
	return removed
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Destroy stops the sweeper and clears all windows. The store remains
// usable afterwards, without a sweeper.
func (s *MemoryStore) Destroy() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()

	s.mu.Lock()
	s.records = make(map[string]*window)
	s.mu.Unlock()
	activeIdentities.Set(0)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.Destroy()
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
