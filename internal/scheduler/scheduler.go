package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/pipeline"
	"github.com/robfig/cron/v3"
)

// ErrBusy is returned when a run is requested while one is in progress.
var ErrBusy = errors.New("a pipeline run is already in progress")

// Runner is one ingestion pass.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Scheduler triggers the pipeline on a cron spec. Runs never overlap; a tick
// that fires during a run is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.RWMutex
	runner Runner

	running atomic.Bool
	// StartupDelay postpones the first run after Start; zero runs at once.
	StartupDelay time.Duration
}

func New(spec string, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()

	s := &Scheduler{
		cron:   c,
		runner: runner,
		logger: logger.With("component", "scheduler"),
	}

	_, err := c.AddFunc(spec, s.tick)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	time.AfterFunc(s.StartupDelay, s.tick)
}

// Stop halts the cron and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// SetRunner swaps the pipeline used by later runs, for config reloads.
func (s *Scheduler) SetRunner(r Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

// RunOnce runs the pipeline now, unless a run is already in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)

	s.mu.RLock()
	r := s.runner
	s.mu.RUnlock()
	return r.Run(ctx)
}

func (s *Scheduler) tick() {
	s.logger.Info("start collect job")
	res, err := s.RunOnce(context.Background())
	if errors.Is(err, ErrBusy) {
		s.logger.Warn("previous run still in progress, skipping tick")
		return
	}
	if err != nil {
		s.logger.Error("collect job failed", "err", err)
		return
	}
	s.logger.Info("collect job done", "run_id", res.RunID, "items", len(res.Snapshot.Items), "took", res.Took)
}
