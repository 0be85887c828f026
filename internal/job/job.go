// Package job tracks the progress of dispatch batches and publishes it.
package job

import (
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/types"
)

// Progress phases carried by send_progress events
const (
	PhaseStart   = "start"
	PhaseUpdate  = "update"
	PhaseStopped = "stopped"
	PhaseFinish  = "finish"
	PhaseError   = "error"
)

// Snapshot is an immutable copy of a job's counters
type Snapshot struct {
	JobID      string          `json:"jobId"`
	User       string          `json:"user"`
	Total      int             `json:"total"`
	Done       int             `json:"done"`
	OK         int             `json:"ok"`
	Failed     int             `json:"failed"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Status     types.JobStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
}

// ProgressEvent is the payload of a send_progress push event
type ProgressEvent struct {
	Phase string `json:"phase"`
	Snapshot
}

// Owner returns the user who started the job
func (p ProgressEvent) Owner() string { return p.User }

// Job is one batch's progress record. Record is called by the single worker
// serving the batch; Finish may race with it and wins exactly once.
type Job struct {
	mu    sync.Mutex
	snap  Snapshot
	once  sync.Once
	pub   events.Publisher
	clock func() time.Time
}

func (j *Job) publish(phase string, s Snapshot) {
	j.pub.Publish(events.Event{
		Type: events.TypeSendProgress,
		At:   j.clock(),
		Data: ProgressEvent{Phase: phase, Snapshot: s},
	})
}

// ID returns the job id
func (j *Job) ID() string { return j.snap.JobID }

// Record counts one processed recipient and publishes an update. It is
// ignored once the job has finished.
func (j *Job) Record(success bool) Snapshot {
	j.mu.Lock()
	if j.snap.Status.Terminal() {
		s := j.snap
		j.mu.Unlock()
		return s
	}
	j.snap.Done++
	if success {
		j.snap.OK++
	} else {
		j.snap.Failed++
	}
	s := j.snap
	j.mu.Unlock()

	j.publish(PhaseUpdate, s)
	return s
}

// Finish stamps the terminal status and publishes the terminal event.
// Only the first call has any effect; it reports whether this call won.
func (j *Job) Finish(status types.JobStatus, reason string) bool {
	if !status.Terminal() {
		status = types.JobError
	}
	won := false
	j.once.Do(func() {
		won = true
		j.mu.Lock()
		now := j.clock()
		j.snap.FinishedAt = &now
		j.snap.Status = status
		j.snap.Reason = reason
		s := j.snap
		j.mu.Unlock()

		j.publish(phaseFor(status), s)
	})
	return won
}

func phaseFor(status types.JobStatus) string {
	switch status {
	case types.JobStopped:
		return PhaseStopped
	case types.JobError:
		return PhaseError
	default:
		return PhaseFinish
	}
}

// Snapshot returns the current counters
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}
