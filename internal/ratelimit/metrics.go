package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// AccountMetrics are the limiter counters of one account.
type AccountMetrics struct {
	AccountID    string    `json:"accountId"`
	Sends        int64     `json:"sends"`
	Throttles    int64     `json:"throttles"`
	Errors       int64     `json:"errors"`
	Cooldowns    int64     `json:"cooldowns"`
	Unusable     int64     `json:"unusable"`
	LastThrottle time.Time `json:"lastThrottle,omitempty"`
	LastCooldown time.Time `json:"lastCooldown,omitempty"`
}

// LimiterMetrics is a snapshot of every account's counters
type LimiterMetrics struct {
	Accounts    []AccountMetrics `json:"accounts"`
	CollectedAt time.Time        `json:"collectedAt"`
}

// Metrics collects limiter counters for the current process.
type Metrics struct {
	mu       sync.Mutex
	accounts map[string]*AccountMetrics
}

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{accounts: make(map[string]*AccountMetrics)}
}

func (m *Metrics) get(id string) *AccountMetrics {
	am, ok := m.accounts[id]
	if !ok {
		am = &AccountMetrics{AccountID: id}
		m.accounts[id] = am
	}
	return am
}

func (m *Metrics) recordSend(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(id).Sends++
}

func (m *Metrics) recordThrottle(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	am := m.get(id)
	am.Throttles++
	am.LastThrottle = time.Now()
}

func (m *Metrics) recordError(id string, sev Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	am := m.get(id)
	am.Errors++
	if sev.Risky() {
		am.Cooldowns++
		am.LastCooldown = time.Now()
	}
	if sev.Unusable() {
		am.Unusable++
	}
}

// Account returns the counters of one account
func (m *Metrics) Account(id string) AccountMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if am, ok := m.accounts[id]; ok {
		return *am
	}
	return AccountMetrics{AccountID: id}
}

// Snapshot returns all counters sorted by account id.
func (m *Metrics) Snapshot() *LimiterMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &LimiterMetrics{CollectedAt: time.Now()}
	for _, am := range m.accounts {
		out.Accounts = append(out.Accounts, *am)
	}
	sort.Slice(out.Accounts, func(i, j int) bool {
		return out.Accounts[i].AccountID < out.Accounts[j].AccountID
	})
	return out
}

// Forget drops the counters of a removed account
func (m *Metrics) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}
