package worker

import (
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/job"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMaintenance_InvalidSchedule(t *testing.T) {
	h := newHarness(t)

	_, err := NewMaintenance(MaintenanceConfig{Registry: h.registry, CooldownSweep: "every now and then"})
	assert.Error(t, err)

	_, err = NewMaintenance(MaintenanceConfig{Registry: h.registry, Prune: "61 * * * *"})
	assert.Error(t, err)

	_, err = NewMaintenance(MaintenanceConfig{})
	assert.Error(t, err)
}

func TestMaintenance_StartStop(t *testing.T) {
	h := newHarness(t)
	m, err := NewMaintenance(MaintenanceConfig{
		Registry:      h.registry,
		CooldownSweep: "@every 15s",
		Prune:         "@every 10m",
	})
	require.NoError(t, err)

	m.Start()
	require.NoError(t, m.Stop(ctxT(t)))
}

func TestMaintenance_SweepCooldowns(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("B")
	_, err := h.registry.Apply("A", account.LifecycleReady, "")
	require.NoError(t, err)

	rec, _ := h.registry.Get("A")
	rec.Update(func(s *account.State) {
		s.CooldownUntil = h.clock.Now().Add(time.Minute)
		s.CooldownReason = "rate-overlimit"
	})
	assert.Empty(t, h.registry.ListReady())
	h.drain()

	m, err := NewMaintenance(MaintenanceConfig{Registry: h.registry, Publisher: h.bus, Clock: h.clock.Now})
	require.NoError(t, err)

	assert.Empty(t, m.SweepCooldowns())

	h.clock.Advance(time.Minute)
	assert.Equal(t, []string{"A"}, m.SweepCooldowns())
	assert.Equal(t, []string{"A"}, h.registry.ListReady())

	pushed := h.drain()
	require.Len(t, pushed, 1)
	assert.Equal(t, events.TypeAccountUpdate, pushed[0].Type)
	st := pushed[0].Data.(account.Status)
	assert.Equal(t, "A", st.ID)
	assert.False(t, st.CoolingDown)
}

func TestMaintenance_Prune(t *testing.T) {
	h := newHarness(t)
	ctx := ctxT(t)
	jobs := job.NewManager(events.Nop{}, h.clock.Now, logging.Nop())

	done := jobs.Start("ann", 1)
	done.Finish(types.JobDone, "")
	jobs.Start("ann", 5)

	h.ledger.Track("old", billing.Owner{User: "ann", TrackedAt: h.clock.Now()})
	require.NoError(t, h.log.Append(ctx, types.Event{Kind: types.EventSent, At: h.clock.Now(), Recipient: "1", AccountID: "A"}))

	h.clock.Advance(2 * time.Hour)
	h.ledger.Track("fresh", billing.Owner{User: "ann", TrackedAt: h.clock.Now()})
	require.NoError(t, h.log.Append(ctx, types.Event{Kind: types.EventSent, At: h.clock.Now(), Recipient: "2", AccountID: "A"}))

	m, err := NewMaintenance(MaintenanceConfig{
		Registry:       h.registry,
		Jobs:           jobs,
		Ledger:         h.ledger,
		EventLog:       h.log,
		Clock:          h.clock.Now,
		JobRetention:   time.Hour,
		TrackedMaxAge:  time.Hour,
		EventRetention: time.Hour,
	})
	require.NoError(t, err)

	res := m.Prune(ctx)
	assert.Equal(t, PruneResult{Jobs: 1, Tracked: 1, Events: 1}, res)
	assert.Equal(t, 1, jobs.Running())
	_, ok := h.ledger.Owner("fresh")
	assert.True(t, ok)
	_, ok = h.ledger.Owner("old")
	assert.False(t, ok)
}

func TestMaintenance_PruneSkipsZeroRetention(t *testing.T) {
	h := newHarness(t)
	ctx := ctxT(t)
	require.NoError(t, h.log.Append(ctx, types.Event{Kind: types.EventSent, At: h.clock.Now().Add(-48 * time.Hour)}))

	m, err := NewMaintenance(MaintenanceConfig{Registry: h.registry, EventLog: h.log, Clock: h.clock.Now})
	require.NoError(t, err)

	assert.Equal(t, PruneResult{}, m.Prune(ctx))
}
