package utils

import (
	"sync"
	"time"
)

// WorkerPool manages a pool of goroutines with rate limiting.
type WorkerPool struct {
	maxWorkers  int
	minInterval time.Duration
	semaphore   chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	lastStart   time.Time
}

// NewWorkerPool creates a WorkerPool with the given concurrency and minimum
// spacing between job starts.
func NewWorkerPool(maxWorkers int, minInterval time.Duration) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &WorkerPool{
		maxWorkers:  maxWorkers,
		minInterval: minInterval,
		semaphore:   make(chan struct{}, maxWorkers),
	}
}

// Submit enqueues a job for execution in the pool. It blocks while all
// workers are busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		wp.enforceRateLimit()
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) enforceRateLimit() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.lastStart.IsZero() {
		if elapsed := time.Since(wp.lastStart); elapsed < wp.minInterval {
			time.Sleep(wp.minInterval - elapsed)
		}
	}
	wp.lastStart = time.Now()
}

// TokenSet is a thread-safe set of listing tokens.
type TokenSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewTokenSet creates a TokenSet holding the given tokens.
func NewTokenSet(tokens ...string) *TokenSet {
	s := &TokenSet{seen: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		s.seen[t] = struct{}{}
	}
	return s
}

// Add returns true if the token was newly added, false if already present.
func (s *TokenSet) Add(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[token]; exists {
		return false
	}
	s.seen[token] = struct{}{}
	return true
}

// Contains reports whether the token is in the set. A nil set is empty.
func (s *TokenSet) Contains(token string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[token]
	return exists
}

// Size returns the number of tokens tracked. A nil set has size 0.
func (s *TokenSet) Size() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
