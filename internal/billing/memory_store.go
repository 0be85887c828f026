package billing

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CreditStore
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	charged  map[string]struct{}
}

// NewMemoryStore creates a store seeded with balances in cents
func NewMemoryStore(seed map[string]int64) *MemoryStore {
	s := &MemoryStore{
		balances: make(map[string]int64, len(seed)),
		charged:  make(map[string]struct{}),
	}
	for u, c := range seed {
		s.balances[u] = c
	}
	return s
}

func (s *MemoryStore) Balance(_ context.Context, user string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[user], nil
}

func (s *MemoryStore) Charge(_ context.Context, user, messageID string, cents int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, done := s.charged[messageID]; done {
		return s.balances[user], false, nil
	}
	s.charged[messageID] = struct{}{}
	bal := s.balances[user] - cents
	if bal < 0 {
		bal = 0
	}
	s.balances[user] = bal
	return bal, true, nil
}

func (s *MemoryStore) TopUp(_ context.Context, user string, cents int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[user] += cents
	return s.balances[user], nil
}

// Set overwrites a balance
func (s *MemoryStore) Set(user string, cents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[user] = cents
}
