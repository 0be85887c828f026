package account

import (
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T, ids ...string) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	reg := NewRegistry(clock.Now, logging.Nop())
	for _, id := range ids {
		reg.Register(id)
		_, err := reg.Apply(id, LifecycleReady, "")
		require.NoError(t, err)
	}
	return reg, clock
}

func TestRegistry_ListReadyKeepsRegistrationOrder(t *testing.T) {
	reg, clock := newTestRegistry(t, "wa3", "wa1", "wa2")

	assert.Equal(t, []string{"wa3", "wa1", "wa2"}, reg.ListReady())

	rec, _ := reg.Get("wa1")
	rec.Update(func(s *State) { s.CooldownUntil = clock.Now().Add(time.Minute) })
	assert.Equal(t, []string{"wa3", "wa2"}, reg.ListReady())
	assert.True(t, reg.IsCoolingDown("wa1"))

	clock.Advance(time.Minute)
	assert.False(t, reg.IsCoolingDown("wa1"), "cooldown ends exactly at cooldownUntil")
	assert.Equal(t, []string{"wa3", "wa1", "wa2"}, reg.ListReady())
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, "wa1")
	first, _ := reg.Get("wa1")

	assert.Same(t, first, reg.Register("wa1"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_NextRoundRobin(t *testing.T) {
	reg, _ := newTestRegistry(t, "a", "b", "c")

	t.Run("scans forward and wraps", func(t *testing.T) {
		assert.Equal(t, "b", reg.Next("a").ID())
		assert.Equal(t, "c", reg.Next("b").ID())
		assert.Equal(t, "a", reg.Next("c").ID())
	})

	t.Run("unknown start picks first eligible", func(t *testing.T) {
		assert.Equal(t, "a", reg.Next("").ID())
		assert.Equal(t, "a", reg.Next("zzz").ID())
	})

	t.Run("skips unhealthy accounts", func(t *testing.T) {
		b, _ := reg.Get("b")
		b.MarkUnready("socket closed")
		defer b.Update(func(s *State) { s.Ready = true })

		assert.Equal(t, "c", reg.Next("a").ID())
	})

	t.Run("returns the current account when it is the only eligible one", func(t *testing.T) {
		for _, id := range []string{"a", "c"} {
			rec, _ := reg.Get(id)
			rec.MarkUnready("")
		}
		assert.Equal(t, "b", reg.Next("b").ID())

		b, _ := reg.Get("b")
		b.MarkUnready("")
		assert.Nil(t, reg.Next("b"))
	})
}

func TestRegistry_NextNeverRepeatsUnhealthyAccount(t *testing.T) {
	reg, _ := newTestRegistry(t, "a", "b")
	a, _ := reg.Get("a")
	a.MarkUnready("")

	current := "a"
	for i := 0; i < 5; i++ {
		next := reg.Next(current)
		require.NotNil(t, next)
		assert.Equal(t, "b", next.ID())
		current = next.ID()
	}
}

func TestRegistry_Pick(t *testing.T) {
	reg, clock := newTestRegistry(t, "a", "b")

	assert.Equal(t, "b", reg.Pick("b").ID())

	b, _ := reg.Get("b")
	b.Update(func(s *State) { s.CooldownUntil = clock.Now().Add(time.Hour) })
	assert.Equal(t, "a", reg.Pick("b").ID())
	assert.Equal(t, "a", reg.Pick("missing").ID())
}

func TestRegistry_ApplyLifecycle(t *testing.T) {
	reg, clock := newTestRegistry(t, "a")
	rec, _ := reg.Get("a")
	rec.Update(func(s *State) {
		s.CooldownUntil = clock.Now().Add(time.Hour)
		s.CooldownReason = "spam"
	})

	st, err := reg.Apply("a", LifecycleDisconnected, "LOGOUT")
	require.NoError(t, err)
	assert.False(t, st.Ready)
	assert.Contains(t, st.LastDisconnect, "LOGOUT")

	clock.Advance(time.Minute)
	st, err = reg.Apply("a", LifecycleReady, "")
	require.NoError(t, err)
	assert.True(t, st.Ready)
	assert.False(t, st.CoolingDown)
	assert.Equal(t, clock.Now(), rec.Snapshot().WarmupStartAt)

	_, err = reg.Apply("ghost", LifecycleReady, "")
	assert.Error(t, err)
}

func TestRegistry_ResetAndRemove(t *testing.T) {
	reg, clock := newTestRegistry(t, "a", "b")
	rec, _ := reg.Get("a")
	rec.Update(func(s *State) {
		s.SentInWindow = 7
		s.ConsecutiveErrors = 3
	})

	require.NoError(t, reg.Reset("a"))
	s := rec.Snapshot()
	assert.False(t, s.Ready)
	assert.Zero(t, s.SentInWindow)
	assert.Zero(t, s.ConsecutiveErrors)
	assert.Equal(t, clock.Now(), s.WarmupStartAt)

	assert.True(t, reg.Remove("a"))
	assert.False(t, reg.Remove("a"))
	assert.Equal(t, []string{"b"}, reg.IDs())
}

func TestRegistry_StatusAndExpiredCooldowns(t *testing.T) {
	reg, clock := newTestRegistry(t, "a", "b")
	a, _ := reg.Get("a")
	a.Update(func(s *State) {
		s.CooldownUntil = clock.Now().Add(2 * time.Minute)
		s.CooldownReason = "rate"
	})

	status := reg.Status()
	require.Len(t, status.Accounts, 2)
	assert.True(t, status.Accounts[0].CoolingDown)
	assert.NotNil(t, status.Accounts[0].CooldownUntil)
	assert.True(t, status.AnyReady)

	assert.Empty(t, reg.ExpiredCooldowns())
	clock.Advance(3 * time.Minute)
	assert.Equal(t, []string{"a"}, reg.ExpiredCooldowns())
	assert.Empty(t, a.Snapshot().CooldownReason)
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wa1", "wa1"},
		{"  sales team ", "sales_team"},
		{"__x__", "x"},
		{"!!!", "wa"},
		{"", "wa"},
		{"é-ok", "-ok"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeID(tt.in))
		})
	}

	long := SanitizeID("abcdefghijabcdefghijabcdefghijabcdefghijabcdefghijXYZ")
	assert.Len(t, long, 48)
}

func TestNextFreeID(t *testing.T) {
	assert.Equal(t, "wa1", NextFreeID(nil))
	assert.Equal(t, "wa3", NextFreeID([]string{"wa1", "wa2", "sales"}))
	assert.Equal(t, "wa2", NextFreeID([]string{"wa1", "wa3"}))
}
