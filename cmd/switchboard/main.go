package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MikeSquared-Agency/Switchboard/internal/api"
	"github.com/MikeSquared-Agency/Switchboard/internal/config"
	"github.com/MikeSquared-Agency/Switchboard/internal/conflict"
	"github.com/MikeSquared-Agency/Switchboard/internal/eventlog"
	"github.com/MikeSquared-Agency/Switchboard/internal/hermes"
	"github.com/MikeSquared-Agency/Switchboard/internal/metrics"
	"github.com/MikeSquared-Agency/Switchboard/internal/operator"
	"github.com/MikeSquared-Agency/Switchboard/internal/orchestrator"
	"github.com/MikeSquared-Agency/Switchboard/internal/runtime"
	"github.com/MikeSquared-Agency/Switchboard/internal/scoring"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
	"github.com/MikeSquared-Agency/Switchboard/internal/taskgraph"
	"github.com/MikeSquared-Agency/Switchboard/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("SWITCHBOARD_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	var db store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		db = pg
		logger.Info("connected to database")
	} else {
		db = store.NewMemoryStore()
		logger.Warn("no database configured, state is kept in memory")
	}
	defer db.Close()

	// Hermes (optional)
	registry := eventlog.NewRegistry()
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without nats", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			if err := registry.Register(hermes.NewEventSubscriber(hc), cfg.Hermes.Events...); err != nil {
				logger.Error("failed to register hermes subscriber", "error", err)
				os.Exit(1)
			}
			logger.Info("connected to hermes")
		}
	}

	for _, wh := range cfg.Webhooks {
		sub := webhook.New(webhook.Config{
			Name:    wh.Name,
			URL:     wh.URL,
			Secret:  wh.Secret,
			Timeout: time.Duration(wh.TimeoutMs) * time.Millisecond,
		})
		if err := registry.Register(sub, wh.Events...); err != nil {
			logger.Error("failed to register webhook", "name", wh.Name, "error", err)
			os.Exit(1)
		}
	}

	if cfg.Operator.URL != "" {
		n := operator.NewNotifier(cfg.Operator.URL, cfg.Operator.Secret, cfg.OperatorTimeout())
		if err := registry.Register(n, conflict.EventEscalated); err != nil {
			logger.Error("failed to register operator notifier", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("event subscribers registered", "subscribers", registry.IDs())

	m := metrics.New(prometheus.DefaultRegisterer)

	events := eventlog.New(db, registry, eventlog.Options{
		Workers:        cfg.Delivery.Workers,
		BatchSize:      cfg.Delivery.BatchSize,
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout(),
		BackoffBase:    cfg.BackoffBase(),
		BackoffMax:     cfg.BackoffMax(),
	}, logger)
	events.SetObserver(m)

	ledger := conflict.NewLedger(db, events, logger)
	scorer := scoring.NewScorer(scoring.Config{
		Weights: scoring.WeightSet{
			SuccessRate: cfg.Scoring.Weights.SuccessRate,
			CodeQuality: cfg.Scoring.Weights.CodeQuality,
			Efficiency:  cfg.Scoring.Weights.Efficiency,
			SkillGrowth: cfg.Scoring.Weights.SkillGrowth,
		},
		BaselineSeconds:     cfg.Scoring.BaselineSeconds,
		SkillImprovementCap: cfg.Scoring.SkillImprovementCap,
	}, logger)

	// Orchestrator
	orch := orchestrator.New(orchestrator.Deps{
		Store:    db,
		Graphs:   taskgraph.NewGraphs(db, logger),
		Ledger:   ledger,
		Events:   events,
		Scorer:   scorer,
		Runtime:  runtime.NewHTTPClient(cfg.Runtime.URL, cfg.Runtime.Token),
		Hermes:   hermesClient,
		Observer: m,
	}, cfg, logger)
	orch.SetupSubscriptions()
	orch.Start(ctx)
	defer orch.Stop()
	logger.Info("orchestrator started", "tick_interval", cfg.TickInterval(), "sweep_interval", cfg.SweepInterval())

	// API server
	router := api.NewRouter(api.Services{
		Store:        db,
		Orchestrator: orch,
		Ledger:       ledger,
		Events:       events,
		Scorer:       scorer,
	}, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: api.NewMetricsRouter(prometheus.DefaultGatherer),
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
