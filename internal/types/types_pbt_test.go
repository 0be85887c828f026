package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSafeModeNormalizeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalized values are within bounds", prop.ForAll(
		func(perMin, warmup, from, to int) bool {
			c := SafeModeConfig{
				Enabled:                true,
				PerAccountMaxPerMinute: perMin,
				WarmupMinutes:          warmup,
				ExtraDelayFrom:         from,
				ExtraDelayTo:           to,
			}.Normalize()

			return c.PerAccountMaxPerMinute >= 1 && c.PerAccountMaxPerMinute <= MaxPerAccountPerMinute &&
				c.WarmupMinutes >= 0 && c.WarmupMinutes <= MaxWarmupMinutes &&
				c.ExtraDelayFrom >= 0 && c.ExtraDelayTo <= MaxDelaySeconds &&
				c.ExtraDelayTo >= c.ExtraDelayFrom
		},
		gen.IntRange(-500, 500),
		gen.IntRange(-100, 100),
		gen.IntRange(-10, 5000),
		gen.IntRange(-10, 5000),
	))

	properties.Property("normalize is idempotent", prop.ForAll(
		func(perMin, warmup, from, to int) bool {
			c := SafeModeConfig{PerAccountMaxPerMinute: perMin, WarmupMinutes: warmup, ExtraDelayFrom: from, ExtraDelayTo: to}.Normalize()
			return c.Normalize() == c
		},
		gen.IntRange(-500, 500),
		gen.IntRange(-100, 100),
		gen.IntRange(-10, 5000),
		gen.IntRange(-10, 5000),
	))

	properties.TestingRun(t)
}

func TestSafeModeNormalizeDefaults(t *testing.T) {
	c := SafeModeConfig{Enabled: true, ExtraDelayFrom: 5, ExtraDelayTo: 2}.Normalize()
	if c.PerAccountMaxPerMinute != DefaultPerAccountMaxPerMinute {
		t.Errorf("PerAccountMaxPerMinute = %d, want %d", c.PerAccountMaxPerMinute, DefaultPerAccountMaxPerMinute)
	}
	if c.ExtraDelayTo != 5 {
		t.Errorf("ExtraDelayTo = %d, want 5", c.ExtraDelayTo)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	for _, s := range []JobStatus{JobDone, JobStopped, JobError} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if JobRunning.Terminal() {
		t.Error("running should not be terminal")
	}
}
