package job

import (
	"sort"
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/google/uuid"
)

// Manager creates jobs and keeps them for listing until pruned
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	pub    events.Publisher
	clock  func() time.Time
	logger *logging.Logger
}

// NewManager creates a job manager. A nil publisher discards events.
func NewManager(pub events.Publisher, clock func() time.Time, logger *logging.Logger) *Manager {
	if pub == nil {
		pub = events.Nop{}
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		jobs:   make(map[string]*Job),
		pub:    pub,
		clock:  clock,
		logger: logger.WithField("component", "job_manager"),
	}
}

// Start creates a running job and publishes its start event
func (m *Manager) Start(user string, total int) *Job {
	j := &Job{
		snap: Snapshot{
			JobID:     uuid.NewString(),
			User:      user,
			Total:     total,
			StartedAt: m.clock(),
			Status:    types.JobRunning,
		},
		pub:   m.pub,
		clock: m.clock,
	}

	m.mu.Lock()
	m.jobs[j.snap.JobID] = j
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"jobId": j.snap.JobID,
		"user":  user,
		"total": total,
	}).Info("Dispatch job started")
	j.publish(PhaseStart, j.Snapshot())
	return j
}

// Get returns a job snapshot by id
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.Snapshot(), true
}

// List returns the jobs of user, newest first. An empty user lists all jobs.
func (m *Manager) List(user string) []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.jobs))
	for _, j := range m.jobs {
		s := j.Snapshot()
		if user == "" || s.User == user {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		if out[i].StartedAt.Equal(out[k].StartedAt) {
			return out[i].JobID < out[k].JobID
		}
		return out[i].StartedAt.After(out[k].StartedAt)
	})
	return out
}

// Prune drops finished jobs whose finish time is older than retention and
// returns how many were removed. Running jobs are never pruned.
func (m *Manager) Prune(retention time.Duration) int {
	cutoff := m.clock().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, j := range m.jobs {
		s := j.Snapshot()
		if s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// Running returns the number of jobs not yet finished
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, j := range m.jobs {
		if !j.Snapshot().Status.Terminal() {
			n++
		}
	}
	return n
}
