package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLiteEventLog {
	t.Helper()
	log, err := OpenSQLiteEventLog(context.Background(), filepath.Join(t.TempDir(), "data", "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func seedEvents(t *testing.T, log stats.EventLog, base time.Time) {
	t.Helper()
	evs := []types.Event{
		{Kind: types.EventSent, At: base, Recipient: "1", AccountID: "A"},
		{Kind: types.EventSent, At: base.Add(time.Minute), Recipient: "2", AccountID: "B"},
		{Kind: types.EventDelivered, At: base.Add(2 * time.Minute), Recipient: "1", AccountID: "A"},
		{Kind: types.EventFailed, At: base.Add(3 * time.Minute), Recipient: "3", AccountID: "A"},
		{Kind: types.EventSeen, At: base.Add(4 * time.Minute), Recipient: "1", AccountID: "A"},
	}
	for _, e := range evs {
		require.NoError(t, log.Append(context.Background(), e))
	}
}

func TestOpenSQLiteEventLog_RequiresPath(t *testing.T) {
	_, err := OpenSQLiteEventLog(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSQLiteEventLog_Query(t *testing.T) {
	log := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedEvents(t, log, base)

	all, err := log.Query(ctx, stats.Query{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].At.Before(all[i-1].At))
	}
	assert.Equal(t, types.Event{Kind: types.EventSent, At: base, Recipient: "1", AccountID: "A"}, all[0])

	sent, err := log.Query(ctx, stats.Query{Kinds: []types.EventKind{types.EventSent}})
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	forA, err := log.Query(ctx, stats.Query{AccountID: "A", Kinds: []types.EventKind{types.EventSent, types.EventFailed}})
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	from, to := base.Add(time.Minute), base.Add(3*time.Minute)
	ranged, err := log.Query(ctx, stats.Query{Range: stats.Range{From: &from, To: &to}})
	require.NoError(t, err)
	require.Len(t, ranged, 3)
	assert.Equal(t, "2", ranged[0].Recipient)
}

func TestSQLiteEventLog_QueryLimitKeepsNewest(t *testing.T) {
	log := openTestSQLite(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedEvents(t, log, base)

	got, err := log.Query(context.Background(), stats.Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.EventFailed, got[0].Kind)
	assert.Equal(t, types.EventSeen, got[1].Kind)
}

func TestSQLiteEventLog_Prune(t *testing.T) {
	log := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedEvents(t, log, base)

	n, err := log.Prune(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := log.Query(ctx, stats.Query{})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestSQLiteEventLog_MatchesMemoryLog(t *testing.T) {
	sqlite := openTestSQLite(t)
	mem := stats.NewMemoryLog()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seedEvents(t, sqlite, base)
	seedEvents(t, mem, base)

	q := stats.Query{Kinds: []types.EventKind{types.EventSent, types.EventSeen}, Limit: 2}
	want, err := mem.Query(context.Background(), q)
	require.NoError(t, err)
	got, err := sqlite.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
