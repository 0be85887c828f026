package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
	_ "modernc.org/sqlite"
)

//go:embed sqlite_events.sql
var sqliteEventsSchema string

// SQLiteEventLog is a file-backed stats.EventLog
type SQLiteEventLog struct {
	db *sql.DB
}

// OpenSQLiteEventLog opens (creating if needed) the event database at path
func OpenSQLiteEventLog(ctx context.Context, path string) (*SQLiteEventLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	log := &SQLiteEventLog{db: db}
	if err := log.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return log, nil
}

func (l *SQLiteEventLog) init(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err := l.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite pragma failed: %w", err)
		}
	}
	if _, err := l.db.ExecContext(ctx, sqliteEventsSchema); err != nil {
		return fmt.Errorf("sqlite schema failed: %w", err)
	}
	return nil
}

// Append stores one event
func (l *SQLiteEventLog) Append(ctx context.Context, e types.Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events (kind, at_ms, recipient, account_id) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.At.UnixMilli(), e.Recipient, e.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Query returns matching events in time order. With a limit the newest
// events are kept.
func (l *SQLiteEventLog) Query(ctx context.Context, q stats.Query) ([]types.Event, error) {
	where, args := eventFilter(q, func(t time.Time) interface{} { return t.UnixMilli() }, "at_ms")

	query := `SELECT kind, at_ms, recipient, account_id FROM events` + where + ` ORDER BY at_ms DESC, id DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	out := make([]types.Event, 0)
	for rows.Next() {
		var (
			e    types.Event
			kind string
			atMs int64
		)
		if err := rows.Scan(&kind, &atMs, &e.Recipient, &e.AccountID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = types.EventKind(kind)
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverseEvents(out)
	return out, nil
}

// Prune deletes events older than cutoff
func (l *SQLiteEventLog) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database
func (l *SQLiteEventLog) Close() error {
	return l.db.Close()
}

// eventFilter renders the WHERE clause shared by the SQL event logs
func eventFilter(q stats.Query, timeArg func(time.Time) interface{}, atColumn string) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if len(q.Kinds) > 0 {
		marks := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		conds = append(conds, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if q.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.Range.From != nil {
		conds = append(conds, atColumn+" >= ?")
		args = append(args, timeArg(*q.Range.From))
	}
	if q.Range.To != nil {
		conds = append(conds, atColumn+" <= ?")
		args = append(args, timeArg(*q.Range.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func reverseEvents(evs []types.Event) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
}
