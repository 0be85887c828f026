package account

import "time"

// Status is a point-in-time view of one account for APIs and push events
type Status struct {
	ID                string     `json:"id"`
	Ready             bool       `json:"ready"`
	CoolingDown       bool       `json:"coolingDown"`
	CooldownUntil     *time.Time `json:"cooldownUntil,omitempty"`
	CooldownReason    string     `json:"cooldownReason,omitempty"`
	SentInWindow      int        `json:"sentInWindow"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
	LastReadyAt       *time.Time `json:"lastReadyAt,omitempty"`
	LastDisconnect    string     `json:"lastDisconnect,omitempty"`
}

// RegistryStatus summarizes every account
type RegistryStatus struct {
	Accounts []Status `json:"accounts"`
	AnyReady bool     `json:"anyReady"`
}

func (g *Registry) status(rec *Record, now time.Time) Status {
	s := rec.Snapshot()
	st := Status{
		ID:                rec.id,
		Ready:             s.Ready,
		CoolingDown:       s.CooldownUntil.After(now),
		CooldownReason:    s.CooldownReason,
		SentInWindow:      s.SentInWindow,
		ConsecutiveErrors: s.ConsecutiveErrors,
		LastDisconnect:    s.LastDisconnect,
	}
	if st.CoolingDown {
		until := s.CooldownUntil
		st.CooldownUntil = &until
	}
	if !s.LastReadyAt.IsZero() {
		at := s.LastReadyAt
		st.LastReadyAt = &at
	}
	return st
}

// StatusOf returns the status of one account
func (g *Registry) StatusOf(id string) (Status, bool) {
	rec, ok := g.Get(id)
	if !ok {
		return Status{}, false
	}
	return g.status(rec, g.clock()), true
}

// Status returns the status of every account in registration order
func (g *Registry) Status() *RegistryStatus {
	now := g.clock()
	out := &RegistryStatus{}
	for _, rec := range g.snapshotRecords() {
		st := g.status(rec, now)
		if st.Ready && !st.CoolingDown {
			out.AnyReady = true
		}
		out.Accounts = append(out.Accounts, st)
	}
	return out
}

// ExpiredCooldowns clears cooldowns that ended at or before now and returns
// the ids whose cooldown just ended.
func (g *Registry) ExpiredCooldowns() []string {
	now := g.clock()
	var ids []string
	for _, rec := range g.snapshotRecords() {
		expired := false
		rec.Update(func(s *State) {
			if !s.CooldownUntil.IsZero() && !s.CooldownUntil.After(now) {
				s.CooldownUntil = time.Time{}
				s.CooldownReason = ""
				expired = true
			}
		})
		if expired {
			ids = append(ids, rec.id)
		}
	}
	return ids
}
