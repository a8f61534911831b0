// Package app assembles the pipeline and its stores from configuration.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/classifier"
	"github.com/niyio-cyber/NECIM-Market/internal/collector"
	"github.com/niyio-cyber/NECIM-Market/internal/config"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/extractor"
	"github.com/niyio-cyber/NECIM-Market/internal/pipeline"
	"github.com/niyio-cyber/NECIM-Market/internal/processor"
	"github.com/niyio-cyber/NECIM-Market/internal/snapshot"
	"github.com/niyio-cyber/NECIM-Market/internal/storage"
)

type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Files    *storage.FileStore
	// History and Cache are nil unless configured.
	History *storage.HistoryStore
	Cache   *storage.SnapshotCache
	Logger  *slog.Logger
}

// Build opens the configured stores and wires a ready-to-run pipeline.
func Build(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Files:  storage.NewFileStore(cfg.Output.Path, cfg.Output.HistoryDir, cfg.Output.HistoryKeep),
		Logger: logger,
	}

	if cfg.Storage.PostgresDSN != "" {
		h, err := storage.NewHistoryStore(cfg.Storage.PostgresDSN, cfg.Storage.HistoryKeep)
		if err != nil {
			return nil, fmt.Errorf("init history store: %w", err)
		}
		a.History = h
	}
	if cfg.Storage.RedisAddr != "" {
		a.Cache = storage.NewSnapshotCache(cfg.Storage.RedisAddr, cfg.Storage.CacheTTL, logger)
	}

	p, err := a.NewPipeline(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = p
	return a, nil
}

// NewPipeline builds a pipeline for cfg on top of the stores already open.
// Used on config reload; storage settings take effect on restart.
func (a *App) NewPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	reg, err := domain.NewRegistry(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("source registry: %w", err)
	}
	cls, err := classifier.New(cfg.Rules, classifier.Options{
		PriorityStates:     cfg.Scoring.PriorityStates,
		PriorityMultiplier: cfg.Scoring.PriorityMultiplier,
		HighScore:          cfg.Scoring.HighScore,
		MediumScore:        cfg.Scoring.MediumScore,
	})
	if err != nil {
		return nil, fmt.Errorf("rule set: %w", err)
	}
	policy, err := processor.ParseTimestampPolicy(cfg.Dedupe.TimestampPolicy)
	if err != nil {
		return nil, err
	}
	fetcher, err := collector.NewHTTPFetcher(collector.Options{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout,
		Retry:         cfg.Fetch.Retry,
		RetryBackoff:  cfg.Fetch.RetryBackoff,
		CourtesyDelay: cfg.Fetch.CourtesyDelay,
		MaxBodySize:   cfg.Fetch.MaxBodyBytes,
		Hosts:         reg.Hosts(),
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	publishers := []pipeline.Publisher{a.Files}
	if a.History != nil {
		publishers = append(publishers, a.History)
	}
	if a.Cache != nil {
		publishers = append(publishers, a.Cache)
	}

	return &pipeline.Pipeline{
		Registry:   reg,
		Fetcher:    fetcher,
		Extractor:  extractor.New(extractor.DefaultRegistry()),
		Classifier: cls,
		Builder: &snapshot.Builder{
			Retention: cfg.Snapshot.Retention,
			MaxItems:  cfg.Snapshot.MaxItems,
			Dedup:     processor.NewDeduplicator(cfg.Dedupe.Threshold, cfg.Dedupe.Window, policy, reg.Rank),
			Rank:      reg.Rank,
			RuleSet:   cls.RuleSet(),
		},
		Store:       a.Files,
		Publishers:  publishers,
		Concurrency: cfg.Pipeline.Concurrency,
		Budget:      cfg.Pipeline.Budget,
		Now:         time.Now,
		Logger:      a.Logger.With("component", "pipeline"),
	}, nil
}

// Reader serves the latest snapshot to the API.
func (a *App) Reader() *storage.Reader {
	return &storage.Reader{Files: a.Files, Cache: a.Cache, Logger: a.Logger}
}

func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.History != nil {
		if db, err := a.History.DB.DB(); err == nil {
			_ = db.Close()
		}
	}
}
