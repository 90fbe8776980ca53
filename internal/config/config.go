package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/policy"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// Config holds the full controller configuration. It is resolved once at
// startup (defaults, then environment, then flags) and never re-read; the
// decision engine receives an immutable policy.Config derived from it.
type Config struct {
	// Feature definitions
	FeaturesDir string
	SchemaPath  string

	// Rollout policy
	Ladder                 string
	MinDwell               time.Duration
	Cooldown               time.Duration
	TrafficEpsilonRPS      float64
	ErrorRateCritical      float64
	LatencyCriticalSeconds float64

	// Controller behavior
	Enabled       bool
	DryRun        bool
	DefaultWindow string
	CallTimeout   time.Duration
	TickDeadline  time.Duration
	MaxConcurrent int

	// State and audit storage
	StoreKind   string // "sqlite", "postgres" or "memory"
	SQLitePath  string
	PostgresDSN string

	// Audit mirrors (optional; the primary audit log lives in the store)
	AuditFilePath string
	KafkaBrokers  string
	KafkaTopic    string

	// Metrics source settings
	SourceKind     string // "prometheus" or "synthetic"
	PrometheusURL  string
	MetricsFixture string

	// Serve mode settings
	Host                    string
	Port                    int
	TickInterval            time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns default configuration. The two SLO thresholds are
// deliberately unset: a production run must state them explicitly.
func DefaultConfig() Config {
	return Config{
		SchemaPath:              "schemas/feature_v1.json",
		Ladder:                  "0,10,50,100",
		MinDwell:                15 * time.Minute,
		Cooldown:                60 * time.Minute,
		TrafficEpsilonRPS:       0.1,
		Enabled:                 true,
		DefaultWindow:           "10m",
		CallTimeout:             10 * time.Second,
		TickDeadline:            5 * time.Minute,
		MaxConcurrent:           4,
		StoreKind:               "sqlite",
		SQLitePath:              "aegis-rollout.db",
		KafkaTopic:              "rollout-audit",
		SourceKind:              "synthetic",
		Host:                    "0.0.0.0",
		Port:                    8080,
		TickInterval:            10 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// FromEnv overlays AEGIS_* environment variables onto the defaults. Flags
// parsed afterwards win over both.
func FromEnv() Config {
	cfg := DefaultConfig()

	cfg.FeaturesDir = getEnv("AEGIS_FEATURES_DIR", cfg.FeaturesDir)
	cfg.SchemaPath = getEnv("AEGIS_SCHEMA_PATH", cfg.SchemaPath)

	cfg.Ladder = getEnv("AEGIS_LADDER", cfg.Ladder)
	cfg.MinDwell = getDuration("AEGIS_MIN_DWELL", cfg.MinDwell)
	cfg.Cooldown = getDuration("AEGIS_COOLDOWN", cfg.Cooldown)
	cfg.TrafficEpsilonRPS = getFloat("AEGIS_TRAFFIC_EPSILON", cfg.TrafficEpsilonRPS)
	cfg.ErrorRateCritical = getFloat("AEGIS_ERROR_RATE_CRITICAL", cfg.ErrorRateCritical)
	cfg.LatencyCriticalSeconds = getFloat("AEGIS_LATENCY_CRITICAL", cfg.LatencyCriticalSeconds)

	cfg.Enabled = getBool("AEGIS_ENABLED", cfg.Enabled)
	cfg.DryRun = getBool("AEGIS_DRY_RUN", cfg.DryRun)
	cfg.DefaultWindow = getEnv("AEGIS_DEFAULT_WINDOW", cfg.DefaultWindow)
	cfg.CallTimeout = getDuration("AEGIS_CALL_TIMEOUT", cfg.CallTimeout)
	cfg.TickDeadline = getDuration("AEGIS_TICK_DEADLINE", cfg.TickDeadline)
	cfg.MaxConcurrent = getInt("AEGIS_MAX_CONCURRENT", cfg.MaxConcurrent)

	cfg.StoreKind = getEnv("AEGIS_STORE", cfg.StoreKind)
	cfg.SQLitePath = getEnv("AEGIS_SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresDSN = firstNonEmpty(os.Getenv("AEGIS_POSTGRES_DSN"), os.Getenv("DATABASE_URL"), cfg.PostgresDSN)

	cfg.AuditFilePath = getEnv("AEGIS_AUDIT_FILE", cfg.AuditFilePath)
	cfg.KafkaBrokers = getEnv("AEGIS_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = getEnv("AEGIS_KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.SourceKind = getEnv("AEGIS_METRICS_SOURCE", cfg.SourceKind)
	cfg.PrometheusURL = getEnv("AEGIS_PROMETHEUS_URL", cfg.PrometheusURL)
	cfg.MetricsFixture = getEnv("AEGIS_METRICS_FIXTURE", cfg.MetricsFixture)

	cfg.Host = getEnv("AEGIS_HOST", cfg.Host)
	cfg.Port = getInt("AEGIS_PORT", cfg.Port)
	cfg.TickInterval = getDuration("AEGIS_TICK_INTERVAL", cfg.TickInterval)

	return cfg
}

// Validate checks if configuration is valid. Thresholds have no safe
// default, so a missing one is a startup error rather than a guess.
func (c *Config) Validate() error {
	if c.FeaturesDir == "" {
		return fmt.Errorf("features directory is required")
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("schema path is required")
	}

	if _, err := rollout.ParseLadder(c.Ladder); err != nil {
		return fmt.Errorf("invalid ladder %q: %w", c.Ladder, err)
	}
	if c.MinDwell <= 0 {
		return fmt.Errorf("min dwell duration must be positive, got %v", c.MinDwell)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown duration must be positive, got %v", c.Cooldown)
	}
	if c.TrafficEpsilonRPS < 0 {
		return fmt.Errorf("traffic epsilon must not be negative, got %g", c.TrafficEpsilonRPS)
	}
	if c.ErrorRateCritical <= 0 || c.ErrorRateCritical > 1 {
		return fmt.Errorf("error rate critical threshold is required and must be in (0, 1], got %g", c.ErrorRateCritical)
	}
	if c.LatencyCriticalSeconds <= 0 {
		return fmt.Errorf("latency critical threshold is required and must be positive, got %g", c.LatencyCriticalSeconds)
	}

	if _, err := feature.ParseDuration(c.DefaultWindow); err != nil {
		return fmt.Errorf("invalid default window: %w", err)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %v", c.CallTimeout)
	}
	if c.TickDeadline <= 0 {
		return fmt.Errorf("tick deadline must be positive, got %v", c.TickDeadline)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}

	switch c.StoreKind {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path required when store is 'sqlite'")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN required when store is 'postgres'")
		}
	case "memory":
	default:
		return fmt.Errorf("store must be 'sqlite', 'postgres' or 'memory'")
	}

	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		return fmt.Errorf("kafka topic required when kafka brokers are set")
	}

	switch c.SourceKind {
	case "prometheus":
		if c.PrometheusURL == "" {
			return fmt.Errorf("Prometheus URL required when metrics source is 'prometheus'")
		}
	case "synthetic":
	default:
		return fmt.Errorf("metrics source must be 'prometheus' or 'synthetic'")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}

	return nil
}

// PolicyConfig converts the resolved configuration into the immutable
// policy configuration handed to the decision engine.
func (c *Config) PolicyConfig() (policy.Config, error) {
	ladder, err := rollout.ParseLadder(c.Ladder)
	if err != nil {
		return policy.Config{}, fmt.Errorf("invalid ladder %q: %w", c.Ladder, err)
	}
	return policy.Config{
		Ladder:                 ladder,
		MinDwell:               c.MinDwell,
		Cooldown:               c.Cooldown,
		TrafficEpsilonRPS:      c.TrafficEpsilonRPS,
		ErrorRateCritical:      c.ErrorRateCritical,
		LatencyCriticalSeconds: c.LatencyCriticalSeconds,
	}, nil
}

// Brokers splits the comma-separated broker list
func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if b := strings.TrimSpace(part); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ListenAddr returns the host:port the serve mode binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
