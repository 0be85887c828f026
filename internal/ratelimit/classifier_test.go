package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultClassifier(t *testing.T) {
	classify := DefaultClassifier()

	tests := []struct {
		msg  string
		want Severity
	}{
		{"Rate limit exceeded", SeverityRisky},
		{"Too Many requests", SeverityRisky},
		{"flagged as spam", SeverityRisky},
		{"account banned", SeverityRisky},
		{"temporarily unavailable", SeverityRisky},
		{"number blocked", SeverityRisky},
		{"client not ready", SeverityUnusable},
		{"session DISCONNECTED", SeverityUnusable},
		{"disconnected after rate limit", SeverityRisky | SeverityUnusable},
		{"Session disconnected: too many requests", SeverityRisky | SeverityUnusable},
		{"evaluation failed: timeout", SeverityTransient},
		{"", SeverityTransient},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.msg))
		})
	}
}

func TestKeywordClassifier_Custom(t *testing.T) {
	classify := KeywordClassifier([]string{" Quota "}, []string{"logged out", ""})

	assert.Equal(t, SeverityRisky, classify("QUOTA reached"))
	assert.Equal(t, SeverityUnusable, classify("device logged out"))
	assert.Equal(t, SeverityTransient, classify("rate limited"), "only the configured keywords count")
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "transient", SeverityTransient.String())
	assert.Equal(t, "risky", SeverityRisky.String())
	assert.Equal(t, "unusable", SeverityUnusable.String())
	assert.Equal(t, "risky+unusable", (SeverityRisky | SeverityUnusable).String())
}
