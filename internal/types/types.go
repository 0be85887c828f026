// Package types provides common type definitions for the dispatch orchestrator.
package types

import "time"

// EventKind is the kind of a logged messaging event
type EventKind string

const (
	// EventSent is recorded when a recipient's payload was accepted by the transport
	EventSent EventKind = "sent"
	// EventDelivered is recorded on a delivery acknowledgment
	EventDelivered EventKind = "delivered"
	// EventSeen is recorded on a read acknowledgment
	EventSeen EventKind = "seen"
	// EventFailed is recorded when a recipient could not be served
	EventFailed EventKind = "failed"
)

// EventKinds lists every kind in reporting order.
var EventKinds = []EventKind{EventSent, EventDelivered, EventSeen, EventFailed}

// Valid reports whether k is a known event kind
func (k EventKind) Valid() bool {
	switch k {
	case EventSent, EventDelivered, EventSeen, EventFailed:
		return true
	}
	return false
}

// Event is one append-only log record
type Event struct {
	Kind      EventKind `json:"type"`
	At        time.Time `json:"at"`
	Recipient string    `json:"number"`
	AccountID string    `json:"accountId"`
}

// Ack levels reported by the messaging transport
const (
	AckDelivered = 2
	AckSeen      = 3
)

// SendMode selects how a batch is spread over accounts
type SendMode string

const (
	// ModeSingle sends the whole batch from one account
	ModeSingle SendMode = "single"
	// ModeDistribute apportions the batch over all ready accounts
	ModeDistribute SendMode = "all"
)

// Safe-mode bounds and defaults.
const (
	DefaultPerAccountMaxPerMinute = 18
	DefaultWarmupMinutes          = 6
	DefaultExtraDelayFrom         = 1
	DefaultExtraDelayTo           = 3
	MaxPerAccountPerMinute        = 120
	MaxWarmupMinutes              = 60
	MaxDelaySeconds               = 3600
)

// SafeModeConfig is the per-request pacing policy. It is immutable once normalized.
type SafeModeConfig struct {
	Enabled                bool `json:"enabled"`
	PerAccountMaxPerMinute int  `json:"perAccountMaxPerMinute"`
	WarmupMinutes          int  `json:"warmupMinutes"`
	ExtraDelayFrom         int  `json:"extraDelayFrom"`
	ExtraDelayTo           int  `json:"extraDelayTo"`
}

// Normalize clamps every field into its allowed range and guarantees
// ExtraDelayTo >= ExtraDelayFrom. Zero per-minute values take the default.
func (c SafeModeConfig) Normalize() SafeModeConfig {
	out := c
	if out.PerAccountMaxPerMinute == 0 {
		out.PerAccountMaxPerMinute = DefaultPerAccountMaxPerMinute
	}
	out.PerAccountMaxPerMinute = ClampInt(out.PerAccountMaxPerMinute, 1, MaxPerAccountPerMinute)
	out.WarmupMinutes = ClampInt(out.WarmupMinutes, 0, MaxWarmupMinutes)
	out.ExtraDelayFrom = ClampInt(out.ExtraDelayFrom, 0, MaxDelaySeconds)
	out.ExtraDelayTo = ClampInt(out.ExtraDelayTo, 0, MaxDelaySeconds)
	if out.ExtraDelayTo < out.ExtraDelayFrom {
		out.ExtraDelayTo = out.ExtraDelayFrom
	}
	return out
}

// DefaultSafeMode returns the pacing policy applied when a request enables
// safe mode without overriding anything.
func DefaultSafeMode() SafeModeConfig {
	return SafeModeConfig{
		Enabled:                true,
		PerAccountMaxPerMinute: DefaultPerAccountMaxPerMinute,
		WarmupMinutes:          DefaultWarmupMinutes,
		ExtraDelayFrom:         DefaultExtraDelayFrom,
		ExtraDelayTo:           DefaultExtraDelayTo,
	}
}

// ActionKind names one step taken while serving a recipient
type ActionKind string

const (
	ActionInvalidNumber   ActionKind = "invalid_number"
	ActionNoReadyAccounts ActionKind = "no_ready_accounts"
	ActionFailoverSwitch  ActionKind = "failover_switch"
	ActionSafeSwitch      ActionKind = "safe_switch"
	ActionSafeWaitTimeout ActionKind = "safe_wait_timeout"
	ActionSentContact     ActionKind = "sent_contact_card"
	ActionSafeExtraDelay  ActionKind = "safe_extra_delay"
	ActionSentMedia       ActionKind = "sent_media"
	ActionSentText        ActionKind = "sent_text"
	ActionSentOnlyContact ActionKind = "sent_only_contact"
	ActionSendError       ActionKind = "send_error"
)

// Action is one timestamped entry of a recipient's action log
type Action struct {
	At     time.Time  `json:"at"`
	OK     bool       `json:"ok"`
	Kind   ActionKind `json:"action"`
	Detail string     `json:"detail,omitempty"`
}

// Outcome is the immutable result of serving one recipient
type Outcome struct {
	Number      string   `json:"number"`
	Address     string   `json:"chatId,omitempty"`
	AccountUsed string   `json:"accountUsed,omitempty"`
	PickedIndex *int     `json:"pickedIndex,omitempty"`
	Actions     []Action `json:"actions"`
	Success     bool     `json:"success"`
}

// JobStatus is the lifecycle state of a dispatch job
type JobStatus string

const (
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobStopped JobStatus = "stopped"
	JobError   JobStatus = "error"
)

// Terminal reports whether no further progress can be recorded
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobStopped || s == JobError
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code     string                 `json:"code"`
	Category string                 `json:"category,omitempty"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// ClampInt bounds n to [min, max].
func ClampInt(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
