package processor

import (
	"fmt"
	"sort"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// TimestampPolicy picks the merged timestamp of a duplicate group.
type TimestampPolicy string

const (
	// TimestampEarliest keeps the first report.
	TimestampEarliest TimestampPolicy = "earliest"
	// TimestampLatest keeps the most recent report.
	TimestampLatest TimestampPolicy = "latest"
)

func ParseTimestampPolicy(s string) (TimestampPolicy, error) {
	switch TimestampPolicy(s) {
	case "", TimestampEarliest:
		return TimestampEarliest, nil
	case TimestampLatest:
		return TimestampLatest, nil
	}
	return "", fmt.Errorf("unknown timestamp policy %q", s)
}

// Deduplicator collapses items that describe the same story.
//
// Two items are duplicates when their IDs match, or when their title
// similarity reaches Threshold and both timestamps fall within Window of
// each other. The relation is closed transitively, so every connected group
// becomes one item regardless of input order.
type Deduplicator struct {
	Threshold float64
	Window    time.Duration
	Policy    TimestampPolicy
	Rank      RankFunc
}

func NewDeduplicator(threshold float64, window time.Duration, policy TimestampPolicy, rank RankFunc) *Deduplicator {
	return &Deduplicator{Threshold: threshold, Window: window, Policy: policy, Rank: rank}
}

func (d *Deduplicator) duplicate(a, b domain.ClassifiedItem) bool {
	if a.ID == b.ID {
		return true
	}
	if d.Threshold <= 0 || a.Timestamp == nil || b.Timestamp == nil {
		return false
	}
	gap := a.Timestamp.Sub(*b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	if gap > d.Window {
		return false
	}
	return Jaccard(a.Title, b.Title) >= d.Threshold
}

// Dedupe returns one merged item per duplicate group, in snapshot order.
func (d *Deduplicator) Dedupe(items []domain.ClassifiedItem) []domain.ClassifiedItem {
	n := len(items)
	if n == 0 {
		return nil
	}
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if d.duplicate(items[i], items[j]) {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]domain.ClassifiedItem)
	for i := range items {
		r := find(i)
		groups[r] = append(groups[r], items[i])
	}

	out := make([]domain.ClassifiedItem, 0, len(groups))
	for _, g := range groups {
		out = append(out, d.merge(g))
	}
	SortItems(out, d.Rank)
	return out
}

// better is a total order over group members used to pick the representative.
func (d *Deduplicator) better(a, b domain.ClassifiedItem) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if c := compareTime(a, b); c != 0 {
		// earlier report first
		return c < 0
	}
	if d.Rank != nil {
		ra, rb := d.Rank(a.Sources), d.Rank(b.Sources)
		if ra != rb {
			return ra < rb
		}
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	if a.Summary != b.Summary {
		return a.Summary < b.Summary
	}
	return a.Link < b.Link
}

func (d *Deduplicator) merge(group []domain.ClassifiedItem) domain.ClassifiedItem {
	sort.SliceStable(group, func(i, j int) bool { return d.better(group[i], group[j]) })
	merged := group[0]

	var cats, sources []string
	for _, it := range group {
		cats = sortedUnion(cats, it.Categories)
		sources = append(sources, it.Sources...)
		// a state-specific report refines a multi-state one
		if merged.State == domain.StateMulti && it.State != domain.StateMulti && it.State != "" {
			merged.State = it.State
		}
	}
	merged.Categories = cats
	merged.Sources = d.orderSources(sources)
	merged.Timestamp = d.pickTimestamp(group)
	return merged
}

func (d *Deduplicator) orderSources(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if d.Rank != nil {
			ri, rj := d.Rank(out[i:i+1]), d.Rank(out[j:j+1])
			if ri != rj {
				return ri < rj
			}
		}
		return out[i] < out[j]
	})
	return out
}

func (d *Deduplicator) pickTimestamp(group []domain.ClassifiedItem) *time.Time {
	var pick *time.Time
	for _, it := range group {
		if it.Timestamp == nil {
			continue
		}
		switch {
		case pick == nil:
			pick = it.Timestamp
		case d.Policy == TimestampLatest && it.Timestamp.After(*pick):
			pick = it.Timestamp
		case d.Policy != TimestampLatest && it.Timestamp.Before(*pick):
			pick = it.Timestamp
		}
	}
	if pick == nil {
		return nil
	}
	t := *pick
	return &t
}
