package antihammer

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps failure counters in process.
//
// Counters decay by one every cooldown once Run is started; a counter that
// reaches zero is removed.
type MemoryStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	cooldown time.Duration
}

// NewMemoryStore creates an empty store. A zero cooldown uses
// DefaultCooldown; anything below one second is raised to one second.
func NewMemoryStore(cooldown time.Duration) *MemoryStore {
	return &MemoryStore{
		counts:   make(map[string]int64),
		cooldown: normaliseCooldown(cooldown),
	}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key], nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key], nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counts)
}

// Decay lowers every counter by one and forgets those that reach zero.
func (s *MemoryStore) Decay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, n := range s.counts {
		if n <= 1 {
			delete(s.counts, key)
			continue
		}
		s.counts[key] = n - 1
	}
}

// Run decays counters every cooldown until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cooldown)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Decay()
		}
	}
}
