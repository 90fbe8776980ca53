package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/api"
	"github.com/samijaber1/aegis-rollout/internal/config"
	"github.com/samijaber1/aegis-rollout/internal/controller"
	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/source/prometheus"
	"github.com/samijaber1/aegis-rollout/internal/source/synthetic"
	"github.com/samijaber1/aegis-rollout/internal/storage"
	"github.com/samijaber1/aegis-rollout/internal/storage/filelog"
	"github.com/samijaber1/aegis-rollout/internal/storage/kafka"
	"github.com/samijaber1/aegis-rollout/internal/storage/memory"
	"github.com/samijaber1/aegis-rollout/internal/storage/postgres"
	"github.com/samijaber1/aegis-rollout/internal/storage/sqlite"
	"github.com/samijaber1/aegis-rollout/internal/telemetry"
)

func main() {
	cfg, serve := parseFlags()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting aegis-rollout controller...")
	log.Printf("Config: features-dir=%s store=%s source=%s dry-run=%v", cfg.FeaturesDir, cfg.StoreKind, cfg.SourceKind, cfg.DryRun)

	// Global kill switch: a disabled controller performs no evaluation at
	// all and exits cleanly.
	if !cfg.Enabled {
		log.Printf("Controller disabled, skipping evaluation")
		return
	}

	features := loadFeatures(cfg)
	log.Printf("Loaded %d feature definitions", len(features))

	store, storeCleanup := openStore(cfg)
	defer storeCleanup()

	mirrors, mirrorCleanup := buildMirrors(cfg)
	defer mirrorCleanup()

	source := buildSource(cfg)

	policyCfg, err := cfg.PolicyConfig()
	if err != nil {
		log.Fatalf("Invalid policy configuration: %v", err)
	}

	metrics := telemetry.NewMetrics()

	ctrl, err := controller.New(controller.Options{
		Store:         store,
		Audit:         store,
		Source:        source,
		Mirrors:       mirrors,
		Telemetry:     metrics,
		Policy:        policyCfg,
		DryRun:        cfg.DryRun,
		DefaultWindow: cfg.DefaultWindow,
		CallTimeout:   cfg.CallTimeout,
		MaxConcurrent: int64(cfg.MaxConcurrent),
	})
	if err != nil {
		log.Fatalf("Failed to build controller: %v", err)
	}

	if serve {
		runServe(cfg, ctrl, features, store, mirrors, metrics)
		return
	}
	runOnce(cfg, ctrl, features)
}

// runOnce performs a single tick, the mode an external scheduler invokes.
// Exit 0 means every reachable feature got an outcome recorded; a tick
// where nothing was evaluable exits 1.
func runOnce(cfg config.Config, ctrl *controller.Controller, features []*feature.Feature) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.TickDeadline)
	defer cancel()

	if err := ctrl.EnsureStates(ctx, features); err != nil {
		log.Fatalf("Failed to initialize rollout state: %v", err)
	}

	report := ctrl.Tick(ctx, features)
	if report.Failed() {
		log.Printf("Tick failed: no feature could be evaluated")
		os.Exit(1)
	}
}

// runServe runs the controller on an internal ticker and exposes the
// operator API until the process is signalled to stop.
func runServe(cfg config.Config, ctrl *controller.Controller, features []*feature.Feature, store storage.Store, mirrors []storage.AuditAppender, metrics *telemetry.Metrics) {
	ladder, err := rollout.ParseLadder(cfg.Ladder)
	if err != nil {
		log.Fatalf("Invalid ladder: %v", err)
	}
	operator := controller.NewOperator(store, store, ladder, mirrors...)

	apiServer := api.NewServer(api.Options{
		Addr:     cfg.ListenAddr(),
		Features: features,
		Store:    store,
		Audit:    store,
		Operator: operator,
		Metrics:  metrics,
	})

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	tick := func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.TickDeadline)
		defer cancel()

		if err := ctrl.EnsureStates(ctx, features); err != nil {
			log.Printf("Warning: failed to initialize rollout state: %v", err)
			return
		}
		report := ctrl.Tick(ctx, features)
		apiServer.RecordTick(report)
	}

	log.Printf("Ticking every %s", cfg.TickInterval)
	tick()

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case err := <-serverErrors:
			log.Fatalf("Server error: %v", err)

		case <-ticker.C:
			tick()

		case sig := <-shutdown:
			log.Printf("Received signal: %v", sig)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
			defer cancel()

			log.Println("Shutting down server...")
			if err := apiServer.Shutdown(ctx); err != nil {
				log.Printf("Error shutting down server: %v", err)
			}

			log.Println("Shutdown complete")
			return
		}
	}
}

// loadFeatures validates and loads every feature definition. Validation
// failures are configuration errors and abort startup.
func loadFeatures(cfg config.Config) []*feature.Feature {
	validator, err := feature.NewValidator(cfg.SchemaPath)
	if err != nil {
		log.Fatalf("Failed to initialize feature validator: %v", err)
	}

	if errs := validator.ValidateDirectory(cfg.FeaturesDir); len(errs) > 0 {
		for _, e := range errs {
			if e.Path != "" {
				log.Printf("Invalid feature file %s: %s: %s", filepath.Base(e.File), e.Path, e.Message)
			} else {
				log.Printf("Invalid feature file %s: %s", filepath.Base(e.File), e.Message)
			}
		}
		log.Fatalf("Feature validation failed with %d error(s)", len(errs))
	}

	withFiles, errs := feature.LoadFromDirectory(cfg.FeaturesDir)
	if len(errs) > 0 {
		log.Fatalf("Failed to load features: %s", errs[0].Message)
	}
	if len(withFiles) == 0 {
		log.Fatalf("No feature definitions found in %s", cfg.FeaturesDir)
	}

	features := make([]*feature.Feature, 0, len(withFiles))
	for _, wf := range withFiles {
		features = append(features, wf.Feature)
	}
	return features
}

func openStore(cfg config.Config) (storage.Store, func()) {
	switch cfg.StoreKind {
	case "sqlite":
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to open sqlite store: %v", err)
		}
		log.Printf("Using sqlite store: %s", cfg.SQLitePath)
		return store, func() { store.Close() }

	case "postgres":
		store, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres store: %v", err)
		}
		log.Printf("Using postgres store")
		return store, func() { store.Close() }

	case "memory":
		log.Printf("Using in-memory store (state is lost on exit)")
		return memory.NewStore(), func() {}

	default:
		log.Fatalf("Unknown store kind: %s", cfg.StoreKind)
		return nil, nil
	}
}

func buildMirrors(cfg config.Config) ([]storage.AuditAppender, func()) {
	var mirrors []storage.AuditAppender
	var closers []func()

	if cfg.AuditFilePath != "" {
		sink, err := filelog.NewSink(cfg.AuditFilePath)
		if err != nil {
			log.Fatalf("Failed to open audit file: %v", err)
		}
		log.Printf("Mirroring audit entries to %s", cfg.AuditFilePath)
		mirrors = append(mirrors, sink)
		closers = append(closers, func() { sink.Close() })
	}

	if brokers := cfg.Brokers(); len(brokers) > 0 {
		mirror, err := kafka.NewMirror(kafka.Config{Brokers: brokers, Topic: cfg.KafkaTopic})
		if err != nil {
			log.Fatalf("Failed to build kafka mirror: %v", err)
		}
		log.Printf("Mirroring audit entries to kafka topic %s", cfg.KafkaTopic)
		mirrors = append(mirrors, mirror)
		closers = append(closers, func() {
			if err := mirror.Close(); err != nil {
				log.Printf("Warning: failed to close kafka mirror: %v", err)
			}
		})
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return mirrors, cleanup
}

func buildSource(cfg config.Config) controller.MetricsSource {
	switch cfg.SourceKind {
	case "prometheus":
		log.Printf("Using Prometheus metrics source: %s", cfg.PrometheusURL)
		return prometheus.NewSource(prometheus.DefaultConfig(cfg.PrometheusURL))

	case "synthetic":
		if cfg.MetricsFixture != "" {
			source, err := synthetic.Load(cfg.MetricsFixture)
			if err != nil {
				log.Fatalf("Failed to load metrics fixture: %v", err)
			}
			log.Printf("Using synthetic metrics source with fixture: %s", cfg.MetricsFixture)
			return source
		}
		log.Printf("Using synthetic metrics source (no fixture specified)")
		return synthetic.NewSource()

	default:
		log.Fatalf("Unknown metrics source: %s", cfg.SourceKind)
		return nil
	}
}

func parseFlags() (config.Config, bool) {
	cfg := config.FromEnv()

	serve := flag.Bool("serve", false, "Run continuously with an internal ticker and the operator API")

	flag.StringVar(&cfg.FeaturesDir, "features-dir", cfg.FeaturesDir, "Directory containing feature YAML files")
	flag.StringVar(&cfg.SchemaPath, "schema", cfg.SchemaPath, "Path to the feature JSON schema")

	flag.StringVar(&cfg.Ladder, "ladder", cfg.Ladder, "Rollout ladder as comma-separated percents")
	flag.DurationVar(&cfg.MinDwell, "min-dwell", cfg.MinDwell, "Minimum time at a rung before promotion")
	flag.DurationVar(&cfg.Cooldown, "cooldown", cfg.Cooldown, "Time promotions stay blocked after a rollback")
	flag.Float64Var(&cfg.TrafficEpsilonRPS, "traffic-epsilon", cfg.TrafficEpsilonRPS, "Minimum rps to trust rate-based signals")
	flag.Float64Var(&cfg.ErrorRateCritical, "error-rate-critical", cfg.ErrorRateCritical, "Critical error rate threshold (required)")
	flag.Float64Var(&cfg.LatencyCriticalSeconds, "latency-critical", cfg.LatencyCriticalSeconds, "Critical p95 latency threshold in seconds (required)")

	flag.BoolVar(&cfg.Enabled, "enabled", cfg.Enabled, "Global kill switch; false skips all evaluation")
	flag.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Log and audit recommendations without writing state")
	flag.StringVar(&cfg.DefaultWindow, "default-window", cfg.DefaultWindow, "Metrics window for features that do not set one")
	flag.DurationVar(&cfg.CallTimeout, "call-timeout", cfg.CallTimeout, "Timeout for a single state or metrics call")
	flag.DurationVar(&cfg.TickDeadline, "tick-deadline", cfg.TickDeadline, "Overall deadline for one tick")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "Features evaluated concurrently per tick")

	flag.StringVar(&cfg.StoreKind, "store", cfg.StoreKind, "State store backend (sqlite|postgres|memory)")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "Postgres connection string")

	flag.StringVar(&cfg.AuditFilePath, "audit-file", cfg.AuditFilePath, "JSONL audit mirror path (empty disables)")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Kafka brokers for the audit mirror, comma-separated (empty disables)")
	flag.StringVar(&cfg.KafkaTopic, "kafka-topic", cfg.KafkaTopic, "Kafka topic for the audit mirror")

	flag.StringVar(&cfg.SourceKind, "metrics-source", cfg.SourceKind, "Metrics source (prometheus|synthetic)")
	flag.StringVar(&cfg.PrometheusURL, "prometheus-url", cfg.PrometheusURL, "Prometheus server URL (required for prometheus source)")
	flag.StringVar(&cfg.MetricsFixture, "metrics-fixture", cfg.MetricsFixture, "Fixture file for the synthetic source")

	flag.StringVar(&cfg.Host, "host", cfg.Host, "API server host (serve mode)")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "API server port (serve mode)")
	flag.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "Interval between ticks (serve mode)")

	flag.Parse()

	return cfg, *serve
}
