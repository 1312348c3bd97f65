package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
)

// MemoryStore keeps the latest result per line and horizon in memory.
// It is safe for concurrent use by multiple goroutines.
//
// If TTL is configured, a background goroutine removes results older than
// the TTL. For multi-instance deployments use RedisStore instead.
type MemoryStore struct {
	mu            sync.RWMutex
	results       map[string]*forecast.Result
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store with no TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*forecast.Result),
	}
}

// NewMemoryStoreWithTTL creates a store that drops results older than ttl,
// checked every cleanupInterval (one minute when <= 0).
//
// Stop must be called when the store is no longer needed.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		results:       make(map[string]*forecast.Result),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine. It is safe to call more than once
// and on a store without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	now := time.Now()
	for key, res := range s.results {
		if now.Sub(res.GeneratedAt) > s.ttl {
			delete(s.results, key)
		}
	}
}

func memoryKey(line string, hours int) string {
	return fmt.Sprintf("%s/%d", line, hours)
}

// Put stores a copy of res as the latest result of its line and horizon.
func (s *MemoryStore) Put(ctx context.Context, res *forecast.Result) error {
	if err := ValidateLine(res.Line); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	stored := *res
	stored.Records = slices.Clone(res.Records)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[memoryKey(res.Line, res.Hours)] = &stored
	return nil
}

// GetLatest returns the latest result of line and hours.
func (s *MemoryStore) GetLatest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res, found := s.results[memoryKey(line, hours)]
	if !found {
		return nil, false, nil
	}
	out := *res
	out.Records = slices.Clone(res.Records)
	return &out, true, nil
}

// Len returns the number of stored results.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// Delete removes the result of line and hours and reports whether one existed.
func (s *MemoryStore) Delete(line string, hours int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(line, hours)
	_, existed := s.results[key]
	delete(s.results, key)
	return existed
}
