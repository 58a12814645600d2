// Package control wires configuration into a running engine.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/crawlguard/internal/core/clock"
	"github.com/vietddude/crawlguard/internal/core/config"
	"github.com/vietddude/crawlguard/internal/core/domain"
	"github.com/vietddude/crawlguard/internal/core/worker"
	redisclient "github.com/vietddude/crawlguard/internal/infra/redis"
	"github.com/vietddude/crawlguard/internal/infra/transport"
	"github.com/vietddude/crawlguard/internal/monitor"
	"github.com/vietddude/crawlguard/internal/resilience/fetch"
	"github.com/vietddude/crawlguard/internal/resilience/health"
	"github.com/vietddude/crawlguard/internal/resilience/pacing"
	"github.com/vietddude/crawlguard/internal/resilience/policy"
	"github.com/vietddude/crawlguard/internal/resilience/strategy"
	"github.com/vietddude/crawlguard/internal/resilience/telemetry"
)

// Engine owns every component and the background loops around them.
type Engine struct {
	cfg    *config.AppConfig
	log    *slog.Logger
	exec   *fetch.Executor
	http   *transport.HTTP
	browse *transport.Browser

	redisClient *redisclient.Client
	sweeper     *worker.Sweeper
	reporter    *worker.Reporter
	server      *monitor.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine creates an Engine with all dependencies initialized.
func NewEngine(cfg *config.AppConfig, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	clk := clock.New()

	// 1. Policies and pacing
	registry := policy.New(defaultPolicy(cfg.Policies.Default), cfg.Policies.Sites...)
	scheduler := pacing.New(registry, clk, pacing.WithMaxWait(cfg.Fetch.AdmissionTimeout))

	// 2. Health and strategies
	tracker := health.NewTracker(health.Config{
		Window:                      cfg.Health.Window,
		Retention:                   cfg.Health.Retention,
		HistoryLimit:                cfg.Health.HistoryLimit,
		ConsecutiveFailureThreshold: cfg.Health.ConsecutiveFailureThreshold,
		BotDetectionMinEvents:       cfg.Health.BotDetectionMinEvents,
		BotDetectionRatio:           cfg.Health.BotDetectionRatio,
		PermanentBlockThreshold:     cfg.Health.PermanentBlockThreshold,
	}, clk)

	scfg := strategy.DefaultConfig()
	scfg.Base = cfg.Backoff.Base
	scfg.Clock = clk
	if cfg.Backoff.Jitter != nil {
		scfg.Jitter = *cfg.Backoff.Jitter
	}
	catalog := strategy.NewCatalog(scfg)

	// 3. Transports
	httpTransport := transport.NewHTTP()
	var browser *transport.Browser
	var fallback domain.Transport
	if cfg.Browser.Enabled {
		headless := cfg.Browser.Headless == nil || *cfg.Browser.Headless
		browser = transport.NewBrowser(transport.BrowserConfig{
			ControlURL:  cfg.Browser.ControlURL,
			Bin:         cfg.Browser.Bin,
			Headless:    headless,
			PageTimeout: cfg.Browser.PageTimeout,
		}, logger)
		fallback = browser
		logger.Info("Browser fallback transport enabled", "headless", headless)
	}

	// 4. Telemetry
	observers := []telemetry.Observer{
		telemetry.NewLogObserver(logger),
		telemetry.MetricsObserver{},
	}
	var redisClient *redisclient.Client
	var sinks []worker.SnapshotSink
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis.Config, logger)
		if err != nil {
			logger.Warn("Failed to connect to Redis, telemetry sink disabled", "error", err)
		} else {
			observers = append(observers, redisClient)
			sinks = append(sinks, redisClient)
			logger.Info("Redis telemetry sink enabled", "prefix", cfg.Redis.KeyPrefix)
		}
	}

	// 5. Executor
	opts := []fetch.Option{fetch.WithTimeout(cfg.Fetch.Timeout)}
	if cfg.Fetch.MaxRetries != nil {
		opts = append(opts, fetch.WithMaxRetries(*cfg.Fetch.MaxRetries))
	}
	if cfg.Fetch.BrowserFallback {
		opts = append(opts, fetch.WithFallback())
	}
	exec, err := fetch.New(fetch.Deps{
		Transport:  httpTransport,
		Fallback:   fallback,
		Policies:   registry,
		Pacing:     scheduler,
		Health:     tracker,
		Strategies: catalog,
		Clock:      clk,
		Observer:   telemetry.Multi(observers...),
		Logger:     logger,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init executor: %w", err)
	}

	// 6. Workers and monitor
	return &Engine{
		cfg:         cfg,
		log:         logger,
		exec:        exec,
		http:        httpTransport,
		browse:      browser,
		redisClient: redisClient,
		sweeper:     worker.NewSweeper(cfg.Health.SweepInterval, tracker, scheduler, logger),
		reporter:    worker.NewReporter(cfg.Redis.SnapshotInterval, exec, tracker, logger, sinks...),
		server:      monitor.NewServer(exec, cfg.Server.Port, logger),
	}, nil
}

// defaultPolicy fills the delays of an unconfigured default entry from the
// built-in default policy.
func defaultPolicy(p domain.SitePolicy) domain.SitePolicy {
	if p.MinDelay == 0 && p.MaxDelay == 0 {
		def := policy.Default()
		p.MinDelay, p.MaxDelay = def.MinDelay, def.MaxDelay
	}
	return p
}

// Start launches the background loops. They stop when ctx is done or Stop
// is called.
func (e *Engine) Start(ctx context.Context) error {
	if e.group != nil {
		return errors.New("engine already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	e.cancel = cancel
	e.group = g

	g.Go(func() error {
		e.sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		e.reporter.Start(gctx)
		return nil
	})
	if e.redisClient != nil {
		g.Go(func() error {
			return e.redisClient.Run(gctx)
		})
	}

	e.log.Info("Engine started",
		"sites", len(e.cfg.Policies.Sites),
		"redis", e.redisClient != nil,
		"browser", e.browse != nil,
	)
	return nil
}

// Serve runs the monitor HTTP server until Stop.
func (e *Engine) Serve() error {
	e.log.Info("Monitor server listening", "port", e.cfg.Server.Port)
	if err := e.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}

// Stop shuts the server and loops down and releases transports.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	if err := e.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop monitor: %w", err))
	}

	if e.cancel != nil {
		e.cancel()
		if err := e.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if e.redisClient != nil {
		if dropped := e.redisClient.Dropped(); dropped > 0 {
			e.log.Warn("Telemetry events dropped", "count", dropped)
		}
		if err := e.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if e.browse != nil {
		if err := e.browse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	e.http.CloseIdleConnections()

	e.log.Info("Engine stopped")
	return errors.Join(errs...)
}

// Fetch retrieves a URL through the resilient executor.
func (e *Engine) Fetch(ctx context.Context, url string, opts ...fetch.Option) (*domain.Response, error) {
	return e.exec.Fetch(ctx, url, opts...)
}

// Executor exposes the executor for callers that need its reports.
func (e *Engine) Executor() *fetch.Executor {
	return e.exec
}
