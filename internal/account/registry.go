// Package account tracks the live health of every outbound messaging account.
package account

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dispatch-orchestrator/internal/logging"
)

// Lifecycle is a connection event reported by the messaging transport
type Lifecycle string

const (
	LifecycleReady        Lifecycle = "ready"
	LifecycleDisconnected Lifecycle = "disconnected"
	LifecycleAuthFailure  Lifecycle = "auth_failure"
	LifecycleQR           Lifecycle = "qr"
)

// State is the mutable health of one account. It is only touched under Record.mu.
type State struct {
	Ready             bool
	CooldownUntil     time.Time
	CooldownReason    string
	WindowStartAt     time.Time
	SentInWindow      int
	WarmupStartAt     time.Time
	ConsecutiveErrors int
	LastReadyAt       time.Time
	LastDisconnect    string
}

// Record is one account's health record.
type Record struct {
	id    string
	mu    sync.Mutex
	state State
}

// ID returns the account identifier
func (r *Record) ID() string { return r.id }

// Snapshot returns a copy of the current state
func (r *Record) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Update mutates the state atomically. fn must not block.
func (r *Record) Update(fn func(s *State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
}

// CoolingDown reports whether cooldownUntil is in the future
func (r *Record) CoolingDown(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.CooldownUntil.After(now)
}

// Eligible reports ready and not cooling down
func (r *Record) Eligible(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Ready && !r.state.CooldownUntil.After(now)
}

// MarkUnready flags the account as unusable until the transport reports ready again
func (r *Record) MarkUnready(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Ready = false
	if reason != "" {
		r.state.LastDisconnect = reason
	}
}

// Registry owns every account record in registration order.
// Selection follows a sticky round-robin: callers keep the current account
// until it becomes ineligible and then scan forward from its position.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	records map[string]*Record
	clock   func() time.Time
	logger  *logging.Logger
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(clock func() time.Time, logger *logging.Logger) *Registry {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		records: make(map[string]*Record),
		clock:   clock,
		logger:  logger.WithField("component", "account_registry"),
	}
}

// Now returns the registry clock reading
func (g *Registry) Now() time.Time { return g.clock() }

// Register adds an account if it is not present yet and returns its record.
// New accounts start unready with the warm-up clock set to now.
func (g *Registry) Register(id string) *Record {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.records[id]; ok {
		return rec
	}
	rec := &Record{id: id, state: State{WarmupStartAt: g.clock()}}
	g.records[id] = rec
	g.order = append(g.order, id)
	return rec
}

// Remove drops an account. Unknown ids are ignored.
func (g *Registry) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[id]; !ok {
		return false
	}
	delete(g.records, id)
	for i, cur := range g.order {
		if cur == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the record for id
func (g *Registry) Get(id string) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[id]
	return rec, ok
}

// IDs returns all account ids in registration order
func (g *Registry) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of registered accounts
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

func (g *Registry) snapshotRecords() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.records[id])
	}
	return out
}

// ListReady returns the ids of accounts that are ready and not cooling down,
// in registration order.
func (g *Registry) ListReady() []string {
	now := g.clock()
	var ready []string
	for _, rec := range g.snapshotRecords() {
		if rec.Eligible(now) {
			ready = append(ready, rec.id)
		}
	}
	return ready
}

// IsCoolingDown reports whether the account's cooldown is still running.
// Unknown accounts are never cooling down.
func (g *Registry) IsCoolingDown(id string) bool {
	rec, ok := g.Get(id)
	if !ok {
		return false
	}
	return rec.CoolingDown(g.clock())
}

// Next returns the first eligible account scanning forward from just after
// afterID and wrapping around. An empty or unknown afterID starts from the
// beginning. Returns nil when no account is eligible.
func (g *Registry) Next(afterID string) *Record {
	recs := g.snapshotRecords()
	if len(recs) == 0 {
		return nil
	}
	now := g.clock()

	start := -1
	for i, rec := range recs {
		if rec.id == afterID {
			start = i
			break
		}
	}
	if start < 0 {
		for _, rec := range recs {
			if rec.Eligible(now) {
				return rec
			}
		}
		return nil
	}

	for step := 1; step <= len(recs); step++ {
		rec := recs[(start+step)%len(recs)]
		if rec.Eligible(now) {
			return rec
		}
	}
	return nil
}

// Pick returns the preferred account when it is eligible, otherwise the
// first eligible account in registration order.
func (g *Registry) Pick(preferredID string) *Record {
	now := g.clock()
	if preferredID != "" {
		if rec, ok := g.Get(preferredID); ok && rec.Eligible(now) {
			return rec
		}
	}
	return g.Next("")
}

// Apply folds a connection lifecycle event into the account's record.
// A ready event clears any cooldown and restarts the warm-up ramp.
func (g *Registry) Apply(id string, ev Lifecycle, reason string) (Status, error) {
	rec, ok := g.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("account not registered: %s", id)
	}
	now := g.clock()

	rec.Update(func(s *State) {
		switch ev {
		case LifecycleReady:
			s.Ready = true
			s.CooldownUntil = time.Time{}
			s.CooldownReason = ""
			s.WarmupStartAt = now
			s.LastReadyAt = now
		case LifecycleDisconnected, LifecycleAuthFailure:
			s.Ready = false
			s.LastDisconnect = fmt.Sprintf("%s | %s", now.UTC().Format(time.RFC3339), reason)
		case LifecycleQR:
			s.Ready = false
		}
	})

	entry := g.logger.WithFields(map[string]interface{}{
		"accountId": id,
		"event":     string(ev),
	})
	if ev == LifecycleReady {
		entry.Info("Account ready")
	} else {
		entry.WithField("reason", reason).Warn("Account not ready")
	}

	return g.status(rec, now), nil
}

// Reset restores an account's health to defaults, as after a reconnect.
func (g *Registry) Reset(id string) error {
	rec, ok := g.Get(id)
	if !ok {
		return fmt.Errorf("account not registered: %s", id)
	}
	now := g.clock()
	rec.Update(func(s *State) {
		*s = State{WarmupStartAt: now}
	})
	return nil
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeID maps arbitrary input onto the allowed id alphabet.
func SanitizeID(raw string) string {
	s := unsafeIDChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		s = "wa"
	}
	if len(s) > 48 {
		s = s[:48]
	}
	return s
}

// NextFreeID returns the first wa<N> id not present in taken.
func NextFreeID(taken []string) string {
	set := make(map[string]struct{}, len(taken))
	for _, id := range taken {
		set[id] = struct{}{}
	}
	for i := 1; ; i++ {
		id := fmt.Sprintf("wa%d", i)
		if _, ok := set[id]; !ok {
			return id
		}
	}
}
