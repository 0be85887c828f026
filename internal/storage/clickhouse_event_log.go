package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
)

// ClickHouseEventLog stores events in the ClickHouse events table created by
// migrations/clickhouse. The connection is owned by the caller.
type ClickHouseEventLog struct {
	db *ClickHouseDB
}

// NewClickHouseEventLog creates an event log on an open connection
func NewClickHouseEventLog(db *ClickHouseDB) *ClickHouseEventLog {
	return &ClickHouseEventLog{db: db}
}

// OpenClickHouseEventLog creates an event log after checking that the events
// table has been migrated.
func OpenClickHouseEventLog(ctx context.Context, db *ClickHouseDB) (*ClickHouseEventLog, error) {
	ok, err := db.HasTable(ctx, eventsTable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %s.%s is missing; run the clickhouse migrations", db.Database(), eventsTable)
	}
	return NewClickHouseEventLog(db), nil
}

// Append stores one event
func (l *ClickHouseEventLog) Append(ctx context.Context, e types.Event) error {
	err := l.db.Exec(ctx,
		`INSERT INTO events (kind, at, recipient, account_id) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.At.UTC(), e.Recipient, e.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Query returns matching events in time order. With a limit the newest
// events are kept.
func (l *ClickHouseEventLog) Query(ctx context.Context, q stats.Query) ([]types.Event, error) {
	where, args := eventFilter(q, func(t time.Time) interface{} { return t.UTC() }, "at")

	query := `SELECT kind, at, recipient, account_id FROM events` + where + ` ORDER BY at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := l.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := make([]types.Event, 0)
	for rows.Next() {
		var (
			e    types.Event
			kind string
		)
		if err := rows.Scan(&kind, &e.At, &e.Recipient, &e.AccountID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = types.EventKind(kind)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseEvents(out)
	return out, nil
}

// Prune deletes events older than cutoff. The delete is a mutation, so the
// returned count is taken just before it is issued.
func (l *ClickHouseEventLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n uint64
	if err := l.db.Conn().QueryRow(ctx, `SELECT count() FROM events WHERE at < ?`, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := l.db.Exec(ctx, `ALTER TABLE events DELETE WHERE at < ?`, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return int64(n), nil // #nosec G115 - row count
}

func (l *ClickHouseEventLog) Close() error { return nil }
