// Package quota splits a recipient count into integral per-account quotas.
package quota

import "github.com/dispatch-orchestrator/internal/types"

// Apportion distributes total over ids. Caps, when given and summing above
// zero, are the starting point (each clamped to [0, total]); otherwise the
// split is equal with the remainder going front to back. The result always
// sums to total, holds no negative value and depends only on the input order
// and caps.
func Apportion(total int, ids []string, caps map[string]int) map[string]int {
	out := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return out
	}
	if total < 0 {
		total = 0
	}

	sum := 0
	for _, id := range ids {
		c := types.ClampInt(caps[id], 0, total)
		out[id] = c
		sum += c
	}

	if sum == 0 {
		n := len(ids)
		base, rem := total/n, total%n
		for i, id := range ids {
			out[id] = base
			if i < rem {
				out[id]++
			}
		}
		return out
	}

	reconcile(out, ids, sum, total)
	return out
}

// reconcile adds round-robin from the front while short and removes from
// the back while over. Every backward pass removes at least one unit while
// sum > target >= 0 because some value is then positive, so it stops after
// at most sum-target passes.
func reconcile(counts map[string]int, ids []string, sum, target int) {
	n := len(ids)
	for i := 0; sum < target; i++ {
		counts[ids[i%n]]++
		sum++
	}
	for sum > target {
		for i := n - 1; i >= 0 && sum > target; i-- {
			if counts[ids[i]] > 0 {
				counts[ids[i]]--
				sum--
			}
		}
	}
}

// Rebalance applies an interactive edit: the edited account keeps value
// (clamped to [0, total]) and the rest of the total is redistributed over
// the other accounts starting from their current counts. With no other
// account the edited one takes the whole total.
func Rebalance(total int, ids []string, current map[string]int, edited string, value int) map[string]int {
	if total < 0 {
		total = 0
	}
	others := make([]string, 0, len(ids))
	found := false
	for _, id := range ids {
		if id == edited {
			found = true
			continue
		}
		others = append(others, id)
	}
	if !found {
		return Apportion(total, ids, current)
	}

	out := make(map[string]int, len(ids))
	if len(others) == 0 {
		out[edited] = total
		return out
	}

	value = types.ClampInt(value, 0, total)
	out[edited] = value

	sum := 0
	for _, id := range others {
		c := current[id]
		if c < 0 {
			c = 0
		}
		out[id] = c
		sum += c
	}
	reconcile(out, others, sum, total-value)
	return out
}

// Sum adds every quota
func Sum(q map[string]int) int {
	s := 0
	for _, v := range q {
		s += v
	}
	return s
}

// Batch is one account's contiguous slice of the recipient list.
// Offset is the position of the first item in the full list.
type Batch struct {
	AccountID string
	Offset    int
	Items     []string
}

// Assign walks ids in order and hands each account the next quota[id]
// items. Accounts with a zero quota get no batch.
func Assign(items []string, ids []string, quota map[string]int) []Batch {
	var out []Batch
	pos := 0
	for _, id := range ids {
		n := quota[id]
		if n <= 0 || pos >= len(items) {
			continue
		}
		end := pos + n
		if end > len(items) {
			end = len(items)
		}
		out = append(out, Batch{AccountID: id, Offset: pos, Items: items[pos:end]})
		pos = end
	}
	return out
}
