package ratelimit

import (
	"math"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/dispatch-orchestrator/internal/types"
)

// Phase is the limiter state of one account
type Phase string

const (
	PhaseCold     Phase = "cold"
	PhaseWarm     Phase = "warm"
	PhaseFullRate Phase = "full_rate"
	PhaseCooling  Phase = "cooling"
)

// Limiter applies the sliding window, warm-up ramp and cooldown rules to
// account records. It holds no per-account state of its own; everything lives
// in account.Record under the record's lock.
type Limiter struct {
	cfg      *Config
	classify Classifier
	clock    func() time.Time
	metrics  *Metrics
	logger   *logging.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClassifier replaces the default keyword classifier
func WithClassifier(c Classifier) Option {
	return func(l *Limiter) {
		if c != nil {
			l.classify = c
		}
	}
}

// WithClock overrides time.Now
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLimiter creates a limiter. A nil or invalid config falls back to defaults.
func NewLimiter(cfg *Config, opts ...Option) *Limiter {
	if cfg == nil || cfg.Validate() != nil {
		cfg = NewConfig()
	}
	l := &Limiter{
		cfg:      cfg,
		classify: DefaultClassifier(),
		clock:    time.Now,
		metrics:  NewMetrics(),
		logger:   logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithField("component", "limiter")
	return l
}

// Metrics returns the limiter's counters
func (l *Limiter) Metrics() *Metrics { return l.metrics }

// Classify exposes the configured classifier
func (l *Limiter) Classify(msg string) Severity { return l.classify(msg) }

// Allowed returns the send allowance of the current window for state s.
func (l *Limiter) Allowed(s account.State, sm types.SafeModeConfig, now time.Time) int {
	perMin := sm.PerAccountMaxPerMinute
	if perMin < 1 {
		perMin = 1
	}
	factor := 1.0
	if sm.WarmupMinutes > 0 {
		elapsed := now.Sub(s.WarmupStartAt).Minutes()
		t := elapsed / float64(sm.WarmupMinutes)
		if t < 1 {
			factor = l.cfg.RampFloor + (1-l.cfg.RampFloor)*math.Max(0, t)
		}
	}
	allowed := int(math.Floor(float64(perMin) * factor))
	if allowed < 1 {
		allowed = 1
	}
	return allowed
}

func (l *Limiter) rollWindow(s *account.State, now time.Time) {
	if s.WindowStartAt.IsZero() || now.Sub(s.WindowStartAt) >= l.cfg.Window {
		s.WindowStartAt = now
		s.SentInWindow = 0
	}
}

// CanSendNow reports whether rec may send under sm. It is false while the
// account cools down or once the window allowance is used up. An expired
// window is reset as a side effect.
func (l *Limiter) CanSendNow(rec *account.Record, sm types.SafeModeConfig) bool {
	now := l.clock()
	ok := false
	rec.Update(func(s *account.State) {
		if s.CooldownUntil.After(now) {
			return
		}
		l.rollWindow(s, now)
		ok = s.SentInWindow < l.Allowed(*s, sm, now)
	})
	if !ok {
		l.metrics.recordThrottle(rec.ID())
	}
	return ok
}

// NoteSent applies success bookkeeping.
func (l *Limiter) NoteSent(rec *account.Record) {
	now := l.clock()
	rec.Update(func(s *account.State) {
		l.rollWindow(s, now)
		s.SentInWindow++
		s.ConsecutiveErrors = 0
	})
	l.metrics.recordSend(rec.ID())
}

// CooldownFor returns the penalty after the given number of consecutive errors.
func (l *Limiter) CooldownFor(consecutiveErrors int) time.Duration {
	extra := time.Duration(consecutiveErrors) * l.cfg.CooldownStep
	if extra > l.cfg.CooldownMaxExtra {
		extra = l.cfg.CooldownMaxExtra
	}
	return l.cfg.CooldownBase + extra
}

// NoteError applies failure bookkeeping and returns the failure's severity.
// Risky failures start a cooldown and unusable ones mark the account unready.
// A failure carrying both flags gets both.
func (l *Limiter) NoteError(rec *account.Record, msg string) Severity {
	now := l.clock()
	sev := l.classify(msg)

	var until time.Time
	var errs int
	rec.Update(func(s *account.State) {
		s.ConsecutiveErrors++
		errs = s.ConsecutiveErrors
		if sev.Risky() {
			until = now.Add(l.CooldownFor(s.ConsecutiveErrors))
			s.CooldownUntil = until
			s.CooldownReason = msg
		}
		if sev.Unusable() {
			s.Ready = false
		}
	})
	l.metrics.recordError(rec.ID(), sev)

	entry := l.logger.WithFields(map[string]interface{}{
		"accountId":         rec.ID(),
		"consecutiveErrors": errs,
		"severity":          sev.String(),
	})
	switch {
	case sev.Risky():
		entry.WithField("cooldownUntil", until.Format(time.RFC3339)).Warnf("Account cooling down: %s", msg)
	case sev.Unusable():
		entry.Warnf("Account no longer usable: %s", msg)
	default:
		entry.Debugf("Send failed: %s", msg)
	}
	return sev
}

// Phase reports the limiter state of rec under sm.
func (l *Limiter) Phase(rec *account.Record, sm types.SafeModeConfig) Phase {
	now := l.clock()
	s := rec.Snapshot()
	switch {
	case s.CooldownUntil.After(now):
		return PhaseCooling
	case s.WindowStartAt.IsZero():
		return PhaseCold
	case sm.WarmupMinutes > 0 && now.Sub(s.WarmupStartAt) < time.Duration(sm.WarmupMinutes)*time.Minute:
		return PhaseWarm
	default:
		return PhaseFullRate
	}
}
