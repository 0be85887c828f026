package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/types"
)

// Query selects events from a log. Empty Kinds selects every kind.
type Query struct {
	Kinds     []types.EventKind
	AccountID string
	Range     Range
	Limit     int
}

func (q Query) matches(e types.Event) bool {
	if len(q.Kinds) > 0 {
		found := false
		for _, k := range q.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.AccountID != "" && e.AccountID != q.AccountID {
		return false
	}
	return q.Range.Contains(e.At)
}

// EventLog is the append-only event store
type EventLog interface {
	Append(ctx context.Context, e types.Event) error
	// Query returns matching events ordered by time
	Query(ctx context.Context, q Query) ([]types.Event, error)
	// Prune deletes events older than cutoff and returns how many were removed
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MemoryLog is an in-process EventLog
type MemoryLog struct {
	mu     sync.RWMutex
	events []types.Event
}

// NewMemoryLog creates an empty log
func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Append(_ context.Context, e types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryLog) Query(_ context.Context, q Query) ([]types.Event, error) {
	m.mu.RLock()
	out := make([]types.Event, 0)
	for _, e := range m.events {
		if q.matches(e) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out, nil
}

func (m *MemoryLog) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var removed int64
	for _, e := range m.events {
		if e.At.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return removed, nil
}

func (m *MemoryLog) Close() error { return nil }
