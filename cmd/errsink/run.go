package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/armorclaw/errsink/internal/metrics"
	"github.com/armorclaw/errsink/internal/server"
	"github.com/armorclaw/errsink/pkg/async"
	"github.com/armorclaw/errsink/pkg/config"
	"github.com/armorclaw/errsink/pkg/logger"
	"github.com/armorclaw/errsink/pkg/report"
	"github.com/armorclaw/errsink/pkg/triage"
)

const gaugeRefreshInterval = time.Minute

// pipeline is the triage sink with everything it escalates and logs to
type pipeline struct {
	toggle   *config.Toggle
	store    *report.Store
	reporter *report.Reporter
	sink     *triage.Sink
	metrics  *metrics.Metrics
}

// buildPipeline wires the crash reporter, logger and toggle into a sink.
// With withStore false nothing is persisted or sent.
func buildPipeline(cfg *config.Config, withStore bool) (*pipeline, error) {
	p := &pipeline{
		toggle:  config.NewToggle(cfg.Reporting.Debug),
		metrics: metrics.New(),
	}

	reporterCfg := report.ReporterConfig{
		Logger:   logger.Global().WithComponent("reporter"),
		Recorder: p.metrics,
		Timeout:  cfg.NotifyTimeout(),
	}

	if withStore {
		store, err := report.OpenStore(report.StoreConfig{
			Path:          cfg.Store.Path,
			RetentionDays: cfg.Store.RetentionDays,
		})
		if err != nil {
			return nil, err
		}
		p.store = store
		reporterCfg.Store = store
		reporterCfg.Sampler = report.NewSampler(report.SamplerConfig{Window: cfg.SampleWindow()})

		if cfg.Notify.WebhookURL != "" {
			sender, err := report.NewWebhookSender(report.WebhookConfig{
				URL:       cfg.Notify.WebhookURL,
				Timeout:   cfg.NotifyTimeout(),
				RateLimit: cfg.Notify.RateLimit,
				Burst:     cfg.Notify.Burst,
				Logger:    logger.Global().WithComponent("webhook").Logger,
			})
			if err != nil {
				store.Close()
				return nil, err
			}
			reporterCfg.Sender = sender
		}
	}

	p.reporter = report.NewReporter(reporterCfg)

	sink, err := triage.NewSink(triage.Options{
		Rules:    cfg.Reporting.Rules(),
		Reporter: p.reporter,
		Logger:   logger.NewTagged(logger.Global().WithComponent("triage")),
		Config:   p.toggle,
		Recorder: p.metrics,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	p.sink = sink
	return p, nil
}

func (p *pipeline) close() {
	p.reporter.Wait()
	if p.store != nil {
		p.store.Close()
	}
}

// runServer starts the errsink service
func runServer(cliCfg cliConfig) {
	cfg := loadConfig(cliCfg)
	setupLogging(cfg.Logging)
	appLog := logger.Global()

	appLog.Info("starting errsink", "version", version, "build_time", buildTime)

	p, err := buildPipeline(cfg, true)
	if err != nil {
		log.Fatalf("Failed to build triage pipeline: %v", err)
	}
	defer p.close()
	defer p.reporter.CatchPanic()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	rt := async.New(async.Options{MaxConcurrency: cfg.Runtime.MaxConcurrency})
	rt.SetErrorHandler(p.sink.Handle)

	if cfg.Store.CleanupSchedule != "" {
		cleanup, err := report.NewCleanupScheduler(p.store, cfg.Store.CleanupSchedule, appLog.WithComponent("cleanup").Logger)
		if err != nil {
			log.Fatalf("Failed to schedule store cleanup: %v", err)
		}
		cleanup.Start()
		defer cleanup.Stop()
		appLog.Info("store cleanup scheduled", "schedule", cfg.Store.CleanupSchedule, "next", cleanup.Next())
	}

	srv, err := server.New(server.Options{
		Addr:        cfg.Server.Listen,
		IngestRate:  cfg.Server.IngestRate,
		IngestBurst: cfg.Server.IngestBurst,
		Ingest:      rt,
		Triager:     p.sink,
		Store:       p.store,
		Resolver:    p.reporter,
		Reporter:    p.reporter,
		Metrics:     p.metrics,
		Logger:      appLog.WithComponent("server"),
	})
	if err != nil {
		log.Fatalf("Failed to create HTTP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.Go(func(ctx context.Context) error {
		return refreshStoreGauges(ctx, p)
	}); err != nil {
		log.Fatalf("Failed to start gauge refresh: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		defer p.reporter.CatchPanic()
		serveErr <- srv.ListenAndServe(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	appLog.Info("errsink is running", "listen", cfg.Server.Listen, "debug_reporting", p.toggle.DebugReportingEnabled())

	serving := true
	for serving {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadToggle(cliCfg, p.toggle, appLog)
				continue
			}
			appLog.Info("shutting down", "signal", sig.String())
			cancel()
			if err := <-serveErr; err != nil {
				appLog.ErrorEvent(context.Background(), "http server shutdown failed", err)
			}
			serving = false
		case err := <-serveErr:
			if err != nil {
				appLog.ErrorEvent(context.Background(), "http server failed", err)
			}
			serving = false
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("runtime shutdown timed out", "error", err)
	}

	appLog.Info("errsink stopped")
}

// reloadToggle rereads the configuration and applies the debug flag
func reloadToggle(cliCfg cliConfig, toggle *config.Toggle, appLog *logger.Logger) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		appLog.ErrorEvent(context.Background(), "config reload failed, keeping current settings", err)
		return
	}
	debug := cfg.Reporting.Debug || cliCfg.debug
	previous := toggle.Set(debug)
	appLog.Info("configuration reloaded", "debug_reporting", debug, "previous", previous)
}

// refreshStoreGauges keeps the stored report gauges current until ctx ends.
// A failed read ends the task, which surfaces as an undeliverable error.
func refreshStoreGauges(ctx context.Context, p *pipeline) error {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()

	for {
		stats, err := p.store.Stats(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.metrics.SetStoreGauges(stats.TotalReports, stats.UnresolvedReports)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
