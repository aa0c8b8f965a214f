package queue

import (
	"bytes"
	"sort"
)

// Less is the single ordering used for selection and position: higher
// priority first, then earlier JoinedAt, then entry ID so ties never depend
// on storage order.
func Less(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Rank sorts entries in place into service order.
func Rank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(&entries[i], &entries[j])
	})
}

// Head returns the first entry in service order, or nil.
func Head(entries []Entry) *Entry {
	var best *Entry
	for i := range entries {
		if best == nil || Less(&entries[i], best) {
			best = &entries[i]
		}
	}
	if best == nil {
		return nil
	}
	e := *best
	return &e
}

// Position counts the entries that rank strictly ahead of target. Only
// waiting entries are considered; target itself is skipped.
func Position(target *Entry, entries []Entry) int {
	ahead := 0
	for i := range entries {
		other := &entries[i]
		if other.ID == target.ID || other.Status != StatusWaiting {
			continue
		}
		if Less(other, target) {
			ahead++
		}
	}
	return ahead
}

// EstimateWait is the linear model: average service minutes times the
// number of waiting patients. It ignores priority and parallel stations.
func EstimateWait(averageMinutes, waiting int) int {
	if waiting <= 0 {
		return 0
	}
	if averageMinutes <= 0 {
		averageMinutes = DefaultServiceMinutes
	}
	return averageMinutes * waiting
}
