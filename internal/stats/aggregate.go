// Package stats turns the append-only event log into report series.
package stats

import (
	"sort"
	"time"

	"github.com/dispatch-orchestrator/internal/types"
)

// Granularity is the bucket size of a time series
type Granularity string

const (
	GroupDay  Granularity = "day"
	GroupHour Granularity = "hour"
)

// ParseGranularity maps user input onto a granularity; anything but "hour" is a day.
func ParseGranularity(s string) Granularity {
	if s == string(GroupHour) {
		return GroupHour
	}
	return GroupDay
}

// UnknownAccount labels events without an account
const UnknownAccount = "unknown"

// Point is one bucket of a series
type Point struct {
	Key   string `json:"t"`
	Count int    `json:"v"`
}

// AccountCount is one row of a per-account ranking
type AccountCount struct {
	AccountID string `json:"accountId"`
	Count     int    `json:"v"`
}

// Range is an inclusive time range. Nil bounds are open.
type Range struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether t lies within the range, bounds included
func (r Range) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// GroupKey formats t as "YYYY-MM-DD" or "YYYY-MM-DD HH:00" in loc.
func GroupKey(t time.Time, g Granularity, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	if g == GroupHour {
		return t.Format("2006-01-02 15:00")
	}
	return t.Format("2006-01-02")
}

// ByDate buckets events within r and returns the series sorted by key.
func ByDate(evs []types.Event, r Range, g Granularity, loc *time.Location) []Point {
	counts := make(map[string]int)
	for _, e := range evs {
		if !r.Contains(e.At) {
			continue
		}
		counts[GroupKey(e.At, g, loc)]++
	}
	out := make([]Point, 0, len(counts))
	for k, v := range counts {
		out = append(out, Point{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ByAccount counts events within r per account, highest count first.
// Ties are ordered by account id.
func ByAccount(evs []types.Event, r Range) []AccountCount {
	counts := make(map[string]int)
	for _, e := range evs {
		if !r.Contains(e.At) {
			continue
		}
		id := e.AccountID
		if id == "" {
			id = UnknownAccount
		}
		counts[id]++
	}
	out := make([]AccountCount, 0, len(counts))
	for id, v := range counts {
		out = append(out, AccountCount{AccountID: id, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out
}

// KindCounts is a count per event kind
type KindCounts map[types.EventKind]int

// PerAccount counts every kind per account
func PerAccount(evs []types.Event) map[string]KindCounts {
	out := make(map[string]KindCounts)
	for _, e := range evs {
		id := e.AccountID
		if id == "" {
			id = UnknownAccount
		}
		kc, ok := out[id]
		if !ok {
			kc = make(KindCounts)
			out[id] = kc
		}
		kc[e.Kind]++
	}
	return out
}

// SplitByKind groups events by kind, keeping their order
func SplitByKind(evs []types.Event) map[types.EventKind][]types.Event {
	out := make(map[types.EventKind][]types.Event, len(types.EventKinds))
	for _, k := range types.EventKinds {
		out[k] = []types.Event{}
	}
	for _, e := range evs {
		out[e.Kind] = append(out[e.Kind], e)
	}
	return out
}
