package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/niyio-cyber/NECIM-Market/internal/classifier"
	"github.com/niyio-cyber/NECIM-Market/internal/collector"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/extractor"
	"github.com/niyio-cyber/NECIM-Market/internal/snapshot"
	"golang.org/x/sync/errgroup"
)

const (
	DetailTimeout            = "timeout"
	DetailTimeoutBeforeStart = "timeout-before-start"
	DetailNoItems            = "no items"
)

// Store is where the primary snapshot artifact lives.
type Store interface {
	Load() (*domain.Snapshot, error)
	Save(payload []byte) error
}

// Publisher receives every snapshot after it has been saved. Failures are
// logged and never fail the run.
type Publisher interface {
	Publish(ctx context.Context, runID string, snap *domain.Snapshot, payload []byte) error
}

// Pipeline runs one ingestion pass over the registry.
type Pipeline struct {
	Registry   *domain.Registry
	Fetcher    collector.Fetcher
	Extractor  extractor.Extractor
	Classifier *classifier.Classifier
	Builder    *snapshot.Builder
	Store      Store
	Publishers []Publisher

	Concurrency int
	Budget      time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	// OnStage, when set, sees every run-level stage transition.
	OnStage func(Stage)

	stage atomic.Int32
}

// Result describes a finished run.
type Result struct {
	RunID    string
	Snapshot *domain.Snapshot
	Payload  []byte
	Took     time.Duration
}

type sourceResult struct {
	health domain.SourceHealth
	body   []byte
	raws   []domain.RawItem
}

// Stage reports where the current (or last) run is.
func (p *Pipeline) Stage() Stage { return Stage(p.stage.Load()) }

func (p *Pipeline) setStage(s Stage) {
	p.stage.Store(int32(s))
	if p.OnStage != nil {
		p.OnStage(s)
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run fetches, extracts and classifies every source, then publishes one
// snapshot. Per-source failures only show up in the health map; the
// returned error is reserved for runs that could not publish.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	log := p.logger().With("run_id", runID)
	start := time.Now()
	now := p.now()
	defer func() {
		if p.Stage() != StageDone {
			p.setStage(StageIdle)
		}
	}()

	prev, err := p.Store.Load()
	if err != nil {
		// a corrupt artifact is replaced rather than blocking every future run
		log.Warn("previous snapshot unreadable, starting fresh", "err", err)
		prev = nil
	}

	p.setStage(StageFetching)
	sources := p.Registry.Sources()
	log.Info("run started", "sources", p.Registry.Len(), "concurrency", p.Concurrency, "budget", p.Budget)
	results := p.fetchAll(ctx, sources)

	p.setStage(StageExtracting)
	for i, src := range sources {
		if results[i].health.Status == domain.HealthFailed {
			continue
		}
		results[i] = p.extract(results[i].body, src, now, log)
	}

	p.setStage(StageClassifying)
	var current []domain.ClassifiedItem
	health := make(map[string]domain.SourceHealth, len(sources))
	for i, src := range sources {
		res := results[i]
		for _, raw := range res.raws {
			item, ok := p.Classifier.Classify(raw)
			if !ok {
				res.health.Skipped++
				continue
			}
			current = append(current, item)
		}
		health[src.Name] = res.health
	}

	p.setStage(StageDeduplicating)
	snap, err := p.Builder.Build(prev, current, health, now)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	p.setStage(StageWriting)
	payload, err := snap.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := p.Store.Save(payload); err != nil {
		return nil, err
	}
	for _, pub := range p.Publishers {
		if err := pub.Publish(ctx, runID, snap, payload); err != nil {
			log.Warn("publish failed", "publisher", fmt.Sprintf("%T", pub), "err", err)
		}
	}

	p.setStage(StageDone)
	took := time.Since(start)
	log.Info("run complete",
		"items", len(snap.Items),
		"classified", len(current),
		"health", snap.Stats.Summary,
		"took", took,
	)
	return &Result{RunID: runID, Snapshot: snap, Payload: payload, Took: took}, nil
}

// fetchAll fans the sources out over a bounded pool. Each worker writes
// only its own slot, so the outcome never depends on completion order.
func (p *Pipeline) fetchAll(ctx context.Context, sources []domain.Source) []sourceResult {
	results := make([]sourceResult, len(sources))

	budget := p.Budget
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, src := range sources {
		if runCtx.Err() != nil {
			results[i] = failed(DetailTimeoutBeforeStart)
			continue
		}
		g.Go(func() error {
			// the slot may have opened only after the budget ran out
			if runCtx.Err() != nil {
				results[i] = failed(DetailTimeoutBeforeStart)
				return nil
			}
			results[i] = p.fetch(runCtx, src)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) fetch(ctx context.Context, src domain.Source) sourceResult {
	body, err := p.Fetcher.Fetch(ctx, src)
	if err != nil {
		var te *collector.TimeoutError
		if errors.As(err, &te) {
			return failed(DetailTimeout)
		}
		return failed(err.Error())
	}
	return sourceResult{body: body}
}

func (p *Pipeline) extract(body []byte, src domain.Source, now time.Time, log *slog.Logger) sourceResult {
	log = log.With("source", src.Name)
	log.Debug("extracting", "bytes", len(body))
	seq, err := p.Extractor.Extract(body, src, now)
	if err != nil {
		if errors.Is(err, extractor.ErrStructureMissing) {
			log.Warn("structure not found", "err", err)
			return sourceResult{health: domain.SourceHealth{Status: domain.HealthEmpty, Detail: err.Error()}}
		}
		log.Error("extract failed", "err", err)
		return failed(err.Error())
	}

	var raws []domain.RawItem
	for it := range seq {
		raws = append(raws, it)
	}
	if len(raws) == 0 {
		return sourceResult{health: domain.SourceHealth{Status: domain.HealthEmpty, Detail: DetailNoItems}}
	}
	return sourceResult{
		health: domain.SourceHealth{Status: domain.HealthOK, Items: len(raws)},
		raws:   raws,
	}
}

func failed(detail string) sourceResult {
	return sourceResult{health: domain.SourceHealth{Status: domain.HealthFailed, Detail: detail}}
}
