package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
)

// ErrNothingToPublish is returned when every source failed and there is no
// previous snapshot to carry forward.
var ErrNothingToPublish = errors.New("all sources failed and no previous snapshot exists")

// Builder assembles the next snapshot from the current run and the previous
// artifact.
type Builder struct {
	// Retention drops items older than now-Retention. Undated items are kept.
	Retention time.Duration
	// MaxItems caps the published list; zero means unbounded.
	MaxItems int
	Dedup    *processor.Deduplicator
	Rank     processor.RankFunc
	RuleSet  string
}

// Build returns the snapshot for this run. health must hold one entry per
// registry source.
func (b *Builder) Build(prev *domain.Snapshot, current []domain.ClassifiedItem, health map[string]domain.SourceHealth, now time.Time) (*domain.Snapshot, error) {
	now = now.UTC()
	snap := &domain.Snapshot{
		Version:      domain.SchemaVersion,
		GeneratedAt:  now,
		RuleSet:      b.RuleSet,
		SourceHealth: health,
	}

	var retained []domain.ClassifiedItem
	if prev != nil {
		retained = b.retain(prev.Items, now)
	}

	if allFailed(health) {
		if prev == nil {
			return nil, ErrNothingToPublish
		}
		// outage: keep what the dashboard already shows, even when all of it
		// has aged past retention
		snap.Items = retained
		if len(retained) == 0 && len(prev.Items) > 0 {
			snap.Items = append([]domain.ClassifiedItem(nil), prev.Items...)
		}
	} else {
		merged := append(b.retain(current, now), retained...)
		items := b.Dedup.Dedupe(merged)
		processor.SortItems(items, b.Rank)
		if b.MaxItems > 0 && len(items) > b.MaxItems {
			items = items[:b.MaxItems]
		}
		snap.Items = items
	}
	if snap.Items == nil {
		snap.Items = []domain.ClassifiedItem{}
	}
	snap.Stats = Summarize(snap)
	return snap, nil
}

func (b *Builder) retain(items []domain.ClassifiedItem, now time.Time) []domain.ClassifiedItem {
	if b.Retention <= 0 {
		return append([]domain.ClassifiedItem(nil), items...)
	}
	cutoff := now.Add(-b.Retention)
	out := make([]domain.ClassifiedItem, 0, len(items))
	for _, it := range items {
		if it.Timestamp != nil && it.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func allFailed(health map[string]domain.SourceHealth) bool {
	if len(health) == 0 {
		return true
	}
	for _, h := range health {
		if h.Status != domain.HealthFailed {
			return false
		}
	}
	return true
}

// Summarize computes the dashboard counters for snap.
func Summarize(snap *domain.Snapshot) *domain.Stats {
	st := &domain.Stats{
		ItemCount:  len(snap.Items),
		ByState:    map[string]int{},
		ByCategory: map[string]int{},
		ByKind:     map[string]int{},
		ByPriority: map[string]int{},
	}
	for _, it := range snap.Items {
		st.ByState[it.State]++
		for _, c := range it.Categories {
			st.ByCategory[c]++
		}
		if it.Kind != "" {
			st.ByKind[it.Kind]++
		}
		if it.Priority != "" {
			st.ByPriority[it.Priority]++
		}
	}
	for _, h := range snap.SourceHealth {
		st.SourcesTotal++
		switch h.Status {
		case domain.HealthFailed:
			st.SourcesFailed++
		case domain.HealthEmpty:
			st.SourcesEmpty++
		}
	}
	st.Summary = fmt.Sprintf("%d of %d sources failed", st.SourcesFailed, st.SourcesTotal)
	return st
}
