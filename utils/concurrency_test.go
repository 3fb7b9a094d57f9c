package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenSetNoDuplicates(t *testing.T) {
	s := NewTokenSet()

	added := s.Add("abc123")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("abc123")
	if added {
		t.Error("second Add of same token should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestTokenSetSeeded(t *testing.T) {
	s := NewTokenSet("a", "b", "a")
	if s.Size() != 2 {
		t.Errorf("size: got %d, want 2", s.Size())
	}
	if !s.Contains("b") {
		t.Error("seeded token b should be present")
	}
	if s.Contains("c") {
		t.Error("token c was never added")
	}
}

func TestTokenSetNilIsEmpty(t *testing.T) {
	var s *TokenSet
	if s.Contains("x") || s.Size() != 0 {
		t.Error("nil TokenSet should behave as empty")
	}
}

func TestTokenSetConcurrency(t *testing.T) {
	s := NewTokenSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(func() {
			if s.Add("same-token") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	interval := 100 * time.Millisecond
	pool := NewWorkerPool(1, interval)

	var mu sync.Mutex
	var timestamps []time.Time

	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
		})
	}
	pool.Wait()

	if len(timestamps) != 3 {
		t.Fatalf("jobs run: got %d, want 3", len(timestamps))
	}
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		// allow a little scheduler slack below the configured spacing
		if gap < interval-10*time.Millisecond {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, interval)
		}
	}
}

func TestWorkerPoolBoundsParallelism(t *testing.T) {
	pool := NewWorkerPool(2, 0)
	var running, peak int64

	for i := 0; i < 8; i++ {
		pool.Submit(func() {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&running, -1)
		})
	}
	pool.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency: got %d, want <= 2", peak)
	}
}
