package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/job"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/robfig/cron/v3"
)

// MaintenanceConfig configures the periodic housekeeping jobs. Schedules use
// cron syntax with descriptors such as "@every 15s". A zero retention skips
// the matching prune.
type MaintenanceConfig struct {
	Registry  *account.Registry
	Jobs      *job.Manager
	Ledger    *billing.Ledger
	EventLog  stats.EventLog
	Publisher events.Publisher
	Logger    *logging.Logger
	Clock     func() time.Time

	CooldownSweep  string
	Prune          string
	JobRetention   time.Duration
	TrackedMaxAge  time.Duration
	EventRetention time.Duration
}

// Maintenance runs cooldown sweeps and retention pruning on a cron scheduler
type Maintenance struct {
	cfg    MaintenanceConfig
	pub    events.Publisher
	logger *logging.Logger
	clock  func() time.Time
	c      *cron.Cron
}

var maintenanceParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewMaintenance validates the schedules and registers the jobs. The
// scheduler is not started.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("account registry cannot be nil")
	}
	m := &Maintenance{cfg: cfg, pub: cfg.Publisher, logger: cfg.Logger, clock: cfg.Clock}
	if m.pub == nil {
		m.pub = events.Nop{}
	}
	if m.logger == nil {
		m.logger = logging.GetGlobalLogger()
	}
	m.logger = m.logger.WithField("component", "maintenance")
	if m.clock == nil {
		m.clock = time.Now
	}

	m.c = cron.New(cron.WithParser(maintenanceParser), cron.WithLocation(time.UTC))
	if cfg.CooldownSweep != "" {
		if _, err := m.c.AddFunc(cfg.CooldownSweep, func() { m.SweepCooldowns() }); err != nil {
			return nil, fmt.Errorf("invalid cooldown sweep schedule %q: %w", cfg.CooldownSweep, err)
		}
	}
	if cfg.Prune != "" {
		if _, err := m.c.AddFunc(cfg.Prune, func() { m.Prune(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.Prune, err)
		}
	}
	return m, nil
}

// Start runs the scheduler in its own goroutine
func (m *Maintenance) Start() {
	m.c.Start()
	m.logger.WithFields(map[string]interface{}{
		"cooldownSweep": m.cfg.CooldownSweep,
		"prune":         m.cfg.Prune,
	}).Info("Maintenance scheduler started")
}

// Stop halts the scheduler and waits for running jobs
func (m *Maintenance) Stop(ctx context.Context) error {
	select {
	case <-m.c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepCooldowns clears expired cooldowns and publishes the refreshed
// status of every account that became usable again.
func (m *Maintenance) SweepCooldowns() []string {
	ids := m.cfg.Registry.ExpiredCooldowns()
	for _, id := range ids {
		st, ok := m.cfg.Registry.StatusOf(id)
		if !ok {
			continue
		}
		m.pub.Publish(events.Event{Type: events.TypeAccountUpdate, Data: st})
	}
	if len(ids) > 0 {
		m.logger.WithField("accounts", ids).Info("Cooldowns expired")
	}
	return ids
}

// PruneResult counts what one prune pass removed
type PruneResult struct {
	Jobs    int
	Tracked int
	Events  int64
}

// Prune drops finished jobs, stale tracked messages and old events
func (m *Maintenance) Prune(ctx context.Context) PruneResult {
	var res PruneResult
	now := m.clock()

	if m.cfg.Jobs != nil && m.cfg.JobRetention > 0 {
		res.Jobs = m.cfg.Jobs.Prune(m.cfg.JobRetention)
	}
	if m.cfg.Ledger != nil && m.cfg.TrackedMaxAge > 0 {
		res.Tracked = m.cfg.Ledger.PruneTracked(now.Add(-m.cfg.TrackedMaxAge))
	}
	if m.cfg.EventLog != nil && m.cfg.EventRetention > 0 {
		n, err := m.cfg.EventLog.Prune(ctx, now.Add(-m.cfg.EventRetention))
		if err != nil {
			m.logger.WithError(err).Warn("Failed to prune event log")
		}
		res.Events = n
	}

	if res.Jobs+res.Tracked > 0 || res.Events > 0 {
		m.logger.WithFields(map[string]interface{}{
			"jobs":    res.Jobs,
			"tracked": res.Tracked,
			"events":  res.Events,
		}).Info("Pruned stale state")
	}
	return res
}
