package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/billing"
	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock    *fakeClock
	registry *account.Registry
	store    *billing.MemoryStore
	ledger   *billing.Ledger
	log      *stats.MemoryLog
	bus      *events.Bus
	pushed   <-chan events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.Nop()

	h := &harness{clock: newFakeClock(), log: stats.NewMemoryLog(), bus: events.NewBus()}
	h.registry = account.NewRegistry(h.clock.Now, logger)
	h.registry.Register("A")
	h.store = billing.NewMemoryStore(map[string]int64{"ann": 10})
	h.ledger = billing.NewLedger(h.store, 2, h.bus, logger)

	ch, cancel := h.bus.Subscribe(64)
	t.Cleanup(cancel)
	h.pushed = ch
	return h
}

// drain returns every event pushed so far
func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-h.pushed:
			out = append(out, e)
		default:
			return out
		}
	}
}

func typesOf(evs []events.Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func (h *harness) worker(t *testing.T) *EventWorker {
	t.Helper()
	w, err := NewEventWorker(&EventWorkerConfig{
		Registry:  h.registry,
		Ledger:    h.ledger,
		EventLog:  h.log,
		Publisher: h.bus,
		Clock:     h.clock.Now,
	})
	require.NoError(t, err)
	return w
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func errStatus(err error) int {
	return apperrors.GetHTTPStatusCode(err)
}
