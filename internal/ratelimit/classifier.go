package ratelimit

import "strings"

// Severity is how a send failure affects the account that produced it.
// Risky and unusable are independent flags; a failure may carry both.
type Severity int

const (
	// SeverityTransient failures are retried elsewhere with no penalty
	SeverityTransient Severity = 0
	// SeverityRisky failures put the account into an escalating cooldown
	SeverityRisky Severity = 1 << 0
	// SeverityUnusable failures mean the account lost its connection
	SeverityUnusable Severity = 1 << 1
)

// Risky reports whether the failure starts a cooldown
func (s Severity) Risky() bool { return s&SeverityRisky != 0 }

// Unusable reports whether the failure marks the account not ready
func (s Severity) Unusable() bool { return s&SeverityUnusable != 0 }

func (s Severity) String() string {
	switch {
	case s.Risky() && s.Unusable():
		return "risky+unusable"
	case s.Risky():
		return "risky"
	case s.Unusable():
		return "unusable"
	default:
		return "transient"
	}
}

// Classifier maps a transport failure text onto a severity.
type Classifier func(msg string) Severity

// Default keyword lists used by KeywordClassifier.
var (
	DefaultRiskyKeywords    = []string{"rate", "too many", "spam", "banned", "temporarily", "blocked", "limit"}
	DefaultUnusableKeywords = []string{"not ready", "disconnected"}
)

// KeywordClassifier builds a case-insensitive substring classifier. Each
// keyword list sets its own flag.
func KeywordClassifier(risky, unusable []string) Classifier {
	r := lowerAll(risky)
	u := lowerAll(unusable)
	return func(msg string) Severity {
		m := strings.ToLower(msg)
		sev := SeverityTransient
		if containsAny(m, r) {
			sev |= SeverityRisky
		}
		if containsAny(m, u) {
			sev |= SeverityUnusable
		}
		return sev
	}
}

// DefaultClassifier is the keyword classifier with the default lists
func DefaultClassifier() Classifier {
	return KeywordClassifier(DefaultRiskyKeywords, DefaultUnusableKeywords)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
