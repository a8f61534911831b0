package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/niyio-cyber/NECIM-Market/internal/api"
	"github.com/niyio-cyber/NECIM-Market/internal/app"
	"github.com/niyio-cyber/NECIM-Market/internal/config"
	"github.com/niyio-cyber/NECIM-Market/internal/logging"
	"github.com/niyio-cyber/NECIM-Market/internal/scheduler"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logging.New("error", "text").Error("load config failed", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Error("init app failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	s, err := scheduler.New(cfg.Server.CronSpec, a.Pipeline, logger)
	if err != nil {
		logger.Error("init scheduler failed", "err", err, "cron", cfg.Server.CronSpec)
		os.Exit(1)
	}
	// let the first dashboard requests hit the existing snapshot before the
	// initial crawl competes for resources
	s.StartupDelay = 15 * time.Second
	s.Start()
	defer s.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Path != "" {
		go func() {
			err := config.Watch(ctx, cfg.Path, logger, func(next *config.Config) {
				p, err := a.NewPipeline(next)
				if err != nil {
					logger.Error("rebuild pipeline failed, keeping previous", "err", err)
					return
				}
				s.SetRunner(p)
			})
			if err != nil {
				logger.Warn("config watch disabled", "err", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Server.BasicAuthUser != "" && cfg.Server.BasicAuthPass != "" {
		r.Use(api.BasicAuth(cfg.Server.BasicAuthUser, cfg.Server.BasicAuthPass))
	}

	var history api.HistorySource
	if a.History != nil {
		history = a.History
	}
	api.NewServer(a.Reader(), history).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting api server", "addr", srv.Addr, "cron", cfg.Server.CronSpec, "sources", len(cfg.Sources))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exit", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
}
