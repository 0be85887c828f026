// Package billing charges users per confirmed delivery and answers
// affordability questions before and during dispatch.
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/logging"
)

// CreditStore persists per-user balances in cents.
type CreditStore interface {
	// Balance returns the user's balance. Unknown users have zero.
	Balance(ctx context.Context, user string) (int64, error)
	// Charge subtracts cents once per messageID, flooring the balance at
	// zero. charged is false when messageID was already charged.
	Charge(ctx context.Context, user, messageID string, cents int64) (balance int64, charged bool, err error)
	// TopUp adds cents and returns the new balance
	TopUp(ctx context.Context, user string, cents int64) (int64, error)
}

// Rate describes the billing rate shown to users
type Rate struct {
	CostPerDeliveredCents int64   `json:"costPerDeliveredCents"`
	CostPerDelivered      float64 `json:"costPerDelivered"`
	DeliveredPer10        int64   `json:"deliveredPer10"`
}

// Owner is who a sent message belongs to
type Owner struct {
	User      string    `json:"user"`
	Recipient string    `json:"number"`
	AccountID string    `json:"accountId"`
	TrackedAt time.Time `json:"trackedAt"`
	Charged   bool      `json:"charged"`
}

// CreditUpdate is the payload of a credit_update push event
type CreditUpdate struct {
	Username string  `json:"username"`
	Credit   float64 `json:"credit"`
}

// Owner returns the user the update belongs to
func (c CreditUpdate) Owner() string { return c.Username }

// Dollars converts cents for display
func Dollars(cents int64) float64 { return float64(cents) / 100 }

// Ledger tracks message ownership and charges deliveries.
type Ledger struct {
	store     CreditStore
	costCents int64
	pub       events.Publisher
	logger    *logging.Logger

	mu     sync.Mutex
	owners map[string]*Owner
}

// NewLedger creates a ledger. costCents below one is raised to one.
func NewLedger(store CreditStore, costCents int64, pub events.Publisher, logger *logging.Logger) *Ledger {
	if costCents < 1 {
		costCents = 1
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Ledger{
		store:     store,
		costCents: costCents,
		pub:       pub,
		logger:    logger.WithField("component", "billing"),
		owners:    make(map[string]*Owner),
	}
}

// Rate returns the billing rate
func (l *Ledger) Rate() Rate {
	return Rate{
		CostPerDeliveredCents: l.costCents,
		CostPerDelivered:      Dollars(l.costCents),
		DeliveredPer10:        1000 / l.costCents,
	}
}

// Balance returns the user's balance in cents
func (l *Ledger) Balance(ctx context.Context, user string) (int64, error) {
	return l.store.Balance(ctx, user)
}

// MaxTargets is how many recipients the balance could pay for if every
// message were delivered.
func (l *Ledger) MaxTargets(ctx context.Context, user string) (int, error) {
	bal, err := l.store.Balance(ctx, user)
	if err != nil {
		return 0, err
	}
	if bal <= 0 {
		return 0, nil
	}
	return int(bal / l.costCents), nil
}

// CanAfford reports whether the balance is still positive
func (l *Ledger) CanAfford(ctx context.Context, user string) (bool, error) {
	bal, err := l.store.Balance(ctx, user)
	if err != nil {
		return false, err
	}
	return bal > 0, nil
}

// Track records the owner of a sent message so that its acknowledgments
// can be attributed and charged.
func (l *Ledger) Track(messageID string, o Owner) {
	if messageID == "" {
		return
	}
	if o.TrackedAt.IsZero() {
		o.TrackedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[messageID]; !ok {
		l.owners[messageID] = &o
	}
}

// Owner returns the tracked owner of a message
func (l *Ledger) Owner(messageID string) (Owner, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[messageID]
	if !ok {
		return Owner{}, false
	}
	return *o, true
}

// ChargeDelivery charges the owner of messageID once. Untracked or already
// charged messages are ignored and return charged=false.
func (l *Ledger) ChargeDelivery(ctx context.Context, messageID string) (bool, error) {
	l.mu.Lock()
	o, ok := l.owners[messageID]
	if !ok || o.Charged {
		l.mu.Unlock()
		return false, nil
	}
	o.Charged = true
	user := o.User
	l.mu.Unlock()

	bal, charged, err := l.store.Charge(ctx, user, messageID, l.costCents)
	if err != nil {
		l.mu.Lock()
		o.Charged = false
		l.mu.Unlock()
		return false, fmt.Errorf("failed to charge delivery %s: %w", messageID, err)
	}
	if !charged {
		return false, nil
	}

	l.logger.WithFields(map[string]interface{}{
		"user":      user,
		"messageId": messageID,
		"balance":   bal,
	}).Debug("Delivery charged")
	l.pub.Publish(events.Event{
		Type: events.TypeCreditUpdate,
		Data: CreditUpdate{Username: user, Credit: Dollars(bal)},
	})
	return true, nil
}

// TopUp adds credit and publishes the new balance
func (l *Ledger) TopUp(ctx context.Context, user string, cents int64) (int64, error) {
	if cents <= 0 {
		return 0, fmt.Errorf("top-up must be positive, got %d", cents)
	}
	bal, err := l.store.TopUp(ctx, user, cents)
	if err != nil {
		return 0, err
	}
	l.pub.Publish(events.Event{
		Type: events.TypeCreditUpdate,
		Data: CreditUpdate{Username: user, Credit: Dollars(bal)},
	})
	return bal, nil
}

// PruneTracked forgets messages tracked before cutoff and returns how many
// were dropped.
func (l *Ledger) PruneTracked(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, o := range l.owners {
		if o.TrackedAt.Before(cutoff) {
			delete(l.owners, id)
			n++
		}
	}
	return n
}
