package stats

import (
	"context"
	"time"

	"github.com/dispatch-orchestrator/internal/types"
)

// LogsReport is the raw event listing with per-kind totals
type LogsReport struct {
	Counts  KindCounts                        `json:"counts"`
	Records map[types.EventKind][]types.Event `json:"records"`
}

// TimeseriesReport holds one series per event kind
type TimeseriesReport struct {
	Group  Granularity                 `json:"group"`
	From   *time.Time                  `json:"from"`
	To     *time.Time                  `json:"to"`
	Series map[types.EventKind][]Point `json:"series"`
}

// AccountsReport ranks accounts by the number of events of one kind
type AccountsReport struct {
	Kind types.EventKind `json:"type"`
	From *time.Time      `json:"from"`
	To   *time.Time      `json:"to"`
	Rows []AccountCount  `json:"data"`
}

// Reporter builds reports over an EventLog
type Reporter struct {
	log EventLog
	loc *time.Location
}

// NewReporter creates a reporter that buckets in loc (UTC when nil)
func NewReporter(log EventLog, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{log: log, loc: loc}
}

// Log returns the underlying event log
func (r *Reporter) Log() EventLog { return r.log }

// Logs lists the events within rng, limited to the newest limit per kind when limit > 0.
func (r *Reporter) Logs(ctx context.Context, rng Range, limit int) (*LogsReport, error) {
	evs, err := r.log.Query(ctx, Query{Range: rng})
	if err != nil {
		return nil, err
	}
	split := SplitByKind(evs)
	rep := &LogsReport{Counts: make(KindCounts), Records: split}
	for k, list := range split {
		rep.Counts[k] = len(list)
		if limit > 0 && len(list) > limit {
			split[k] = list[len(list)-limit:]
		}
	}
	return rep, nil
}

// Timeseries buckets every kind by g
func (r *Reporter) Timeseries(ctx context.Context, rng Range, g Granularity) (*TimeseriesReport, error) {
	evs, err := r.log.Query(ctx, Query{Range: rng})
	if err != nil {
		return nil, err
	}
	rep := &TimeseriesReport{Group: g, From: rng.From, To: rng.To, Series: make(map[types.EventKind][]Point)}
	for k, list := range SplitByKind(evs) {
		rep.Series[k] = ByDate(list, rng, g, r.loc)
	}
	return rep, nil
}

// Accounts ranks accounts for one kind. An invalid kind falls back to sent.
func (r *Reporter) Accounts(ctx context.Context, kind types.EventKind, rng Range) (*AccountsReport, error) {
	if !kind.Valid() {
		kind = types.EventSent
	}
	evs, err := r.log.Query(ctx, Query{Kinds: []types.EventKind{kind}, Range: rng})
	if err != nil {
		return nil, err
	}
	return &AccountsReport{Kind: kind, From: rng.From, To: rng.To, Rows: ByAccount(evs, rng)}, nil
}

// Totals counts every kind per account over the whole log
func (r *Reporter) Totals(ctx context.Context) (map[string]KindCounts, error) {
	evs, err := r.log.Query(ctx, Query{})
	if err != nil {
		return nil, err
	}
	return PerAccount(evs), nil
}
