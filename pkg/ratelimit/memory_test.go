package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_FixedWindow(t *testing.T) {
	clock := newFakeClock()
	s := newMemoryStore(0, clock.Now)
	defer s.Destroy()

	ctx := context.Background()
	p := Policy{Limit: 3, Window: time.Minute}

	var allowed []bool
	var remaining []int
	for i := 0; i < 4; i++ {
		d, err := s.Admit(ctx, "download:1.2.3.4", p)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		allowed = append(allowed, d.Allowed)
		remaining = append(remaining, d.Remaining)
	}

	if fmt.Sprint(allowed) != "[true true true false]" {
		t.Errorf("allowed = %v, want [true true true false]", allowed)
	}
	if fmt.Sprint(remaining) != "[2 1 0 0]" {
		t.Errorf("remaining = %v, want [2 1 0 0]", remaining)
	}

	// Still inside the window at exactly resetAt.
	clock.Advance(time.Minute)
	d, _ := s.Admit(ctx, "download:1.2.3.4", p)
	if d.Allowed {
		t.Error("Expected rejection at the window boundary")
	}

	clock.Advance(time.Millisecond)
	d, _ = s.Admit(ctx, "download:1.2.3.4", p)
	if !d.Allowed || d.Remaining != 2 {
		t.Errorf("Expected fresh window after expiry, got %+v", d)
	}
	if want := clock.Now().Add(time.Minute); !d.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestMemoryStore_RejectionDoesNotExtendWindow(t *testing.T) {
	clock := newFakeClock()
	s := newMemoryStore(0, clock.Now)
	defer s.Destroy()

	ctx := context.Background()
	p := Policy{Limit: 1, Window: time.Minute}

	first, _ := s.Admit(ctx, "k", p)
	clock.Advance(30 * time.Second)
	rejected, _ := s.Admit(ctx, "k", p)

	if rejected.Allowed {
		t.Fatal("Expected rejection")
	}
	if !rejected.ResetAt.Equal(first.ResetAt) {
		t.Errorf("ResetAt moved from %v to %v", first.ResetAt, rejected.ResetAt)
	}
}

func TestMemoryStore_IndependentKeys(t *testing.T) {
	s := newMemoryStore(0, newFakeClock().Now)
	defer s.Destroy()

	ctx := context.Background()
	p := Policy{Limit: 1, Window: time.Minute}

	for _, key := range []string{"info:a", "info:b", "download:a"} {
		d, _ := s.Admit(ctx, key, p)
		if !d.Allowed {
			t.Errorf("Expected first request for %s to be allowed", key)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestMemoryStore_Peek(t *testing.T) {
	clock := newFakeClock()
	s := newMemoryStore(0, clock.Now)
	defer s.Destroy()

	ctx := context.Background()
	p := Policy{Limit: 2, Window: time.Minute}

	d, _ := s.Peek(ctx, "k", p)
	if !d.Allowed || d.Remaining != 2 {
		t.Errorf("Peek on unknown key = %+v", d)
	}
	if s.Len() != 0 {
		t.Error("Peek must not create a window")
	}

	_, _ = s.Admit(ctx, "k", p)
	d, _ = s.Peek(ctx, "k", p)
	if !d.Allowed || d.Remaining != 1 {
		t.Errorf("Peek after one admission = %+v", d)
	}
	d, _ = s.Peek(ctx, "k", p)
	if d.Remaining != 1 {
		t.Errorf("Peek consumed quota: %+v", d)
	}

	_, _ = s.Admit(ctx, "k", p)
	d, _ = s.Peek(ctx, "k", p)
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("Peek on full window = %+v", d)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := newFakeClock()
	s := newMemoryStore(0, clock.Now)
	defer s.Destroy()

	ctx := context.Background()
	short := Policy{Limit: 5, Window: time.Second}
	long := Policy{Limit: 5, Window: time.Hour}

	_, _ = s.Admit(ctx, "short", short)
	_, _ = s.Admit(ctx, "long", long)

	clock.Advance(2 * time.Second)
	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Sweep() removed %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemoryStore_SweeperRuns(t *testing.T) {
	clock := newFakeClock()
	s := newMemoryStore(10*time.Millisecond, clock.Now)
	defer s.Destroy()

	_, _ = s.Admit(context.Background(), "k", Policy{Limit: 1, Window: time.Second})
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Sweeper did not remove the expired window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryStore_Destroy(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)
	_, _ = s.Admit(context.Background(), "k", Policy{Limit: 1, Window: time.Minute})

	s.Destroy()
	if s.Len() != 0 {
		t.Errorf("Len() after Destroy = %d", s.Len())
	}

	// Idempotent, and the store stays usable.
	s.Destroy()
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	d, _ := s.Admit(context.Background(), "k", Policy{Limit: 1, Window: time.Minute})
	if !d.Allowed {
		t.Error("Expected admission after Destroy")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := newMemoryStore(0, newFakeClock().Now)
	defer s.Destroy()

	p := Policy{Limit: 50, Window: time.Minute}
	var admitted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := s.Admit(context.Background(), "shared", p)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 50 {
		t.Errorf("admitted = %d, want exactly 50", got)
	}
}
