package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/argusstack/argus/internal/actions"
	"github.com/argusstack/argus/internal/api"
	"github.com/argusstack/argus/internal/baseline"
	"github.com/argusstack/argus/internal/cache"
	"github.com/argusstack/argus/internal/config"
	"github.com/argusstack/argus/internal/detector"
	"github.com/argusstack/argus/internal/investigation"
	"github.com/argusstack/argus/internal/knowledge"
	"github.com/argusstack/argus/internal/metrics"
	"github.com/argusstack/argus/internal/reasoning"
	"github.com/argusstack/argus/internal/storage"
	"github.com/argusstack/argus/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting argus-agent", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	window := storage.NewWindowStore(cfg.Storage.Retention)
	archive, err := storage.NewArchiveStore(cfg.Storage.ArchiveDir)
	if err != nil {
		logger.Error("failed to open archive", slog.Any("error", err))
		os.Exit(1)
	}
	defer archive.Close()

	loc, err := time.LoadLocation(cfg.Baseline.Timezone)
	if err != nil {
		logger.Error("invalid baseline timezone", slog.Any("error", err))
		os.Exit(1)
	}
	engine := baseline.NewEngine(archive, utils.Component(logger, "baseline"), loc, cfg.Baseline.Lookback, cfg.Baseline.MinSlotSamples)

	kb, err := knowledge.Open(cfg.Knowledge.Path, utils.Component(logger, "knowledge"), cacheProvider, cfg.Cache.SimilarTTL)
	if err != nil {
		logger.Error("failed to open knowledge base", slog.Any("error", err))
		os.Exit(1)
	}
	defer kb.Close()

	det := detector.New(detector.Config{
		Interval:         cfg.Detector.Interval,
		ShortWindow:      cfg.Detector.ShortWindow,
		AnomalyThreshold: cfg.Detector.AnomalyThreshold,
		Strikes:          cfg.Detector.Strikes,
	}, window, engine, utils.Component(logger, "detector"))

	webhooks := actions.NewWebhookClient(cfg.Actions.NotifyURL, cfg.Actions.RemediationURL, cfg.Actions.Timeout)
	router := actions.NewRouter(actions.Config{
		AutoMergeConfidence: cfg.Actions.AutoMergeConfidence,
		ProposeFloor:        cfg.Investigation.ProposeFloor,
		ShortWindow:         cfg.Detector.ShortWindow,
		VerifySettle:        cfg.Actions.VerifySettle,
		VerifyTimeout:       cfg.Actions.VerifyTimeout,
		RecoveryFactor:      cfg.Actions.RecoveryFactor,
	}, webhooks, webhooks, webhooks, window, engine, utils.Component(logger, "actions"))

	reasoner := reasoning.NewHTTPClient(cfg.Reasoning.BaseURL, cfg.Reasoning.APIKey, cfg.Reasoning.Timeout)
	registry := investigation.NewRegistry()
	var diffs investigation.DiffProvider
	if cfg.Actions.RemediationURL != "" {
		diffs = webhooks
	}
	orchestrator := investigation.New(investigation.Config{
		Workers:      cfg.Investigation.Workers,
		StageTimeout: cfg.Investigation.StageTimeout,
		RetryBackoff: cfg.Investigation.RetryBackoff,
		ProposeFloor: cfg.Investigation.ProposeFloor,
		ShortWindow:  cfg.Detector.ShortWindow,
		TopK:         cfg.Knowledge.TopK,
	}, window, kb, reasoner, router, det, registry, diffs, utils.Component(logger, "investigation"))

	apiLogger := utils.Component(logger, "api")
	handlers := api.NewHandlers(window, archive, registry, det, engine, apiLogger)
	server := api.NewServer(cfg.Server.Address, handlers, apiLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		engine.Run(ctx, cfg.Baseline.RecomputeInterval)
	}()
	go func() {
		defer wg.Done()
		det.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		orchestrator.Run(ctx, det.Incidents())
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	wg.Wait()
	logger.Info("argus-agent stopped")
}
