package worker

import (
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventWorker_RequiresDeps(t *testing.T) {
	h := newHarness(t)

	_, err := NewEventWorker(&EventWorkerConfig{Ledger: h.ledger, EventLog: h.log})
	assert.Error(t, err)
	_, err = NewEventWorker(&EventWorkerConfig{Registry: h.registry, EventLog: h.log})
	assert.Error(t, err)
	_, err = NewEventWorker(&EventWorkerConfig{Registry: h.registry, Ledger: h.ledger})
	assert.Error(t, err)
}

func TestEventWorker_Lifecycle(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventReady, AccountID: "A"}))
	assert.Equal(t, []string{"A"}, h.registry.ListReady())

	pushed := h.drain()
	require.Len(t, pushed, 1)
	assert.Equal(t, events.TypeAccountUpdate, pushed[0].Type)
	st, ok := pushed[0].Data.(account.Status)
	require.True(t, ok)
	assert.True(t, st.Ready)

	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventDisconnected, AccountID: "A", Reason: "NAVIGATION"}))
	assert.Empty(t, h.registry.ListReady())
	st, _ = h.registry.StatusOf("A")
	assert.Contains(t, st.LastDisconnect, "NAVIGATION")
}

func TestEventWorker_RejectsBadEvents(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	err := w.Handle(ctx, adapter.InboundEvent{Type: "bogus", AccountID: "A"})
	assert.Equal(t, 400, errStatus(err))

	err = w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventReady, AccountID: "ghost"})
	assert.Equal(t, 404, errStatus(err))

	err = w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, Ack: 2})
	assert.Equal(t, 400, errStatus(err))
}

func TestEventWorker_DeliveredChargesOnce(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	h.ledger.Track("m1", billing.Owner{User: "ann", Recipient: "15550001", AccountID: "A", TrackedAt: h.clock.Now()})

	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, MessageID: "m1", Ack: types.AckDelivered}))
	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, MessageID: "m1", Ack: types.AckDelivered}))

	bal, err := h.store.Balance(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, int64(8), bal)

	evs, err := h.log.Query(ctx, stats.Query{Kinds: []types.EventKind{types.EventDelivered}})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "15550001", evs[0].Recipient)
	assert.Equal(t, "A", evs[0].AccountID)
	assert.Equal(t, h.clock.Now(), evs[0].At)

	got := typesOf(h.drain())
	assert.Contains(t, got, events.TypeCreditUpdate)
	assert.Contains(t, got, events.TypeDeliveredUpdate)
	assert.Contains(t, got, events.TypeLogEvent)
}

func TestEventWorker_SeenWithoutDeliveredStillCharges(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	h.ledger.Track("m2", billing.Owner{User: "ann", Recipient: "15550002", AccountID: "A"})
	at := h.clock.Now().Add(time.Minute)

	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, MessageID: "m2", Ack: types.AckSeen, At: at}))

	bal, _ := h.store.Balance(ctx, "ann")
	assert.Equal(t, int64(8), bal)

	seen, err := h.log.Query(ctx, stats.Query{Kinds: []types.EventKind{types.EventSeen}})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, at, seen[0].At)

	delivered, err := h.log.Query(ctx, stats.Query{Kinds: []types.EventKind{types.EventDelivered}})
	require.NoError(t, err)
	assert.Empty(t, delivered)

	var update AckUpdate
	for _, e := range h.drain() {
		if e.Type == events.TypeSeenUpdate {
			update = e.Data.(AckUpdate)
		}
	}
	assert.Equal(t, AckUpdate{MessageID: "m2", Number: "15550002", AccountID: "A", User: "ann", Charged: true}, update)
}

func TestEventWorker_IgnoresUntrackedAndLowAcks(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	h.ledger.Track("m3", billing.Owner{User: "ann", Recipient: "1", AccountID: "A"})

	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, MessageID: "unknown", Ack: types.AckDelivered}))
	require.NoError(t, w.Handle(ctx, adapter.InboundEvent{Type: adapter.EventAck, MessageID: "m3", Ack: 1}))

	bal, _ := h.store.Balance(ctx, "ann")
	assert.Equal(t, int64(10), bal)
	all, _ := h.log.Query(ctx, stats.Query{})
	assert.Empty(t, all)
}

func TestEventWorker_StartStop(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t)
	ctx := ctxT(t)

	in := make(chan adapter.InboundEvent)
	require.NoError(t, w.Start(ctx, in))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(ctx, in))

	in <- adapter.InboundEvent{Type: adapter.EventReady, AccountID: "A"}
	in <- adapter.InboundEvent{Type: adapter.EventReady, AccountID: "ghost"}
	in <- adapter.InboundEvent{Type: adapter.EventQR, AccountID: "A"}

	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.IsRunning())
	assert.Error(t, w.Stop(ctx))

	st, ok := h.registry.StatusOf("A")
	require.True(t, ok)
	assert.False(t, st.Ready)
	assert.NotNil(t, st.LastReadyAt)
}
