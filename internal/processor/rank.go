package processor

import (
	"sort"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// RankFunc maps contributing source names to their best registry order.
type RankFunc func(sources []string) int

// Less is the snapshot ordering: score desc, timestamp desc (missing last),
// best registry order asc, id asc.
func Less(a, b domain.ClassifiedItem, rank RankFunc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if c := compareTime(a, b); c != 0 {
		return c > 0
	}
	if rank != nil {
		ra, rb := rank(a.Sources), rank(b.Sources)
		if ra != rb {
			return ra < rb
		}
	}
	return a.ID < b.ID
}

// SortItems orders items in place with Less.
func SortItems(items []domain.ClassifiedItem, rank RankFunc) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i], items[j], rank)
	})
}

// compareTime returns 1 when a is more recent, -1 when b is, 0 when equal.
// A missing timestamp is older than any present one.
func compareTime(a, b domain.ClassifiedItem) int {
	switch {
	case a.Timestamp == nil && b.Timestamp == nil:
		return 0
	case a.Timestamp == nil:
		return -1
	case b.Timestamp == nil:
		return 1
	case a.Timestamp.After(*b.Timestamp):
		return 1
	case b.Timestamp.After(*a.Timestamp):
		return -1
	}
	return 0
}
