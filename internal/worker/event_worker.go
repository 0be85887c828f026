// Package worker runs the background loops of the orchestrator: the inbound
// transport event consumer and periodic maintenance.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/adapter"
	"github.com/dispatch-orchestrator/internal/billing"
	"github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
)

// AckUpdate is the payload of delivered_update and seen_update push events
type AckUpdate struct {
	MessageID string `json:"messageId"`
	Number    string `json:"number"`
	AccountID string `json:"accountId"`
	User      string `json:"user"`
	Charged   bool   `json:"charged,omitempty"`
}

// Owner returns the user billed for the message
func (a AckUpdate) Owner() string { return a.User }

// EventWorker folds inbound transport events into the account registry, the
// event log and the billing ledger.
type EventWorker struct {
	registry *account.Registry
	ledger   *billing.Ledger
	log      stats.EventLog
	pub      events.Publisher
	logger   *logging.Logger
	clock    func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// EventWorkerConfig holds the dependencies of an event worker
type EventWorkerConfig struct {
	Registry  *account.Registry
	Ledger    *billing.Ledger
	EventLog  stats.EventLog
	Publisher events.Publisher
	Logger    *logging.Logger
	Clock     func() time.Time
}

// NewEventWorker creates a new event worker
func NewEventWorker(cfg *EventWorkerConfig) (*EventWorker, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("account registry cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.EventLog == nil {
		return nil, fmt.Errorf("event log cannot be nil")
	}

	pub := cfg.Publisher
	if pub == nil {
		pub = events.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = cfg.Registry.Now
	}

	return &EventWorker{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		log:      cfg.EventLog,
		pub:      pub,
		logger:   logger.WithField("component", "event_worker"),
		clock:    clock,
	}, nil
}

// Start consumes in until it is closed, ctx is done or Stop is called
func (w *EventWorker) Start(ctx context.Context, in <-chan adapter.InboundEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("event worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.loop(ctx, in, w.stopCh, w.doneCh)
	w.logger.Info("Event worker started")
	return nil
}

// Stop signals the loop and waits for it to finish
func (w *EventWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("event worker is not running")
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		w.logger.Info("Event worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active
func (w *EventWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *EventWorker) loop(ctx context.Context, in <-chan adapter.InboundEvent, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if err := w.Handle(ctx, ev); err != nil {
				w.logger.WithError(err).WithFields(map[string]interface{}{
					"type":      string(ev.Type),
					"accountId": ev.AccountID,
				}).Warn("Failed to handle inbound event")
			}
		}
	}
}

// Handle applies one inbound event synchronously
func (w *EventWorker) Handle(ctx context.Context, ev adapter.InboundEvent) error {
	if !ev.Type.Valid() {
		return errors.NewInvalidParameterError("type", fmt.Sprintf("unknown event type %q", ev.Type))
	}
	if ev.Type == adapter.EventAck {
		return w.handleAck(ctx, ev)
	}

	st, err := w.registry.Apply(ev.AccountID, account.Lifecycle(ev.Type), ev.Reason)
	if err != nil {
		return errors.NewNotFoundError("account", ev.AccountID)
	}
	w.pub.Publish(events.Event{Type: events.TypeAccountUpdate, Data: st})
	return nil
}

// handleAck records delivered (ack 2) and seen (ack 3) events for tracked
// messages. Any ack at or above delivered charges the owner once.
func (w *EventWorker) handleAck(ctx context.Context, ev adapter.InboundEvent) error {
	if ev.MessageID == "" {
		return errors.NewInvalidParameterError("messageId", "messageId required for ack")
	}
	if ev.Ack < types.AckDelivered {
		return nil
	}

	owner, ok := w.ledger.Owner(ev.MessageID)
	if !ok {
		w.logger.WithField("messageId", ev.MessageID).Debug("Ack for untracked message")
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = w.clock()
	}

	charged, err := w.ledger.ChargeDelivery(ctx, ev.MessageID)
	if err != nil {
		w.logger.WithError(err).WithField("messageId", ev.MessageID).Error("Failed to charge delivery")
	}

	update := AckUpdate{
		MessageID: ev.MessageID,
		Number:    owner.Recipient,
		AccountID: owner.AccountID,
		User:      owner.User,
		Charged:   charged,
	}

	switch {
	case ev.Ack == types.AckDelivered:
		w.record(ctx, types.Event{Kind: types.EventDelivered, At: at, Recipient: owner.Recipient, AccountID: owner.AccountID})
		w.pub.Publish(events.Event{Type: events.TypeDeliveredUpdate, At: at, Data: update})
	case ev.Ack >= types.AckSeen:
		w.record(ctx, types.Event{Kind: types.EventSeen, At: at, Recipient: owner.Recipient, AccountID: owner.AccountID})
		w.pub.Publish(events.Event{Type: events.TypeSeenUpdate, At: at, Data: update})
	}
	return err
}

func (w *EventWorker) record(ctx context.Context, e types.Event) {
	if err := w.log.Append(ctx, e); err != nil {
		w.logger.WithError(err).WithField("kind", string(e.Kind)).Warn("Failed to append event")
	}
	w.pub.Publish(events.Event{Type: events.TypeLogEvent, At: e.At, Data: e})
}
