package policy

import (
	"fmt"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// Config holds the thresholds and timings the decision engine applies. It is
// assembled once at startup and passed by value into Decide; the engine never
// reads the environment.
type Config struct {
	Ladder rollout.Ladder

	// MinDwell is how long a feature must sit at its current rung before a
	// promotion is considered.
	MinDwell time.Duration

	// Cooldown is how long promotions stay blocked after a rollback,
	// independent of dwell.
	Cooldown time.Duration

	// TrafficEpsilonRPS is the minimum traffic below which rate-based
	// signals are not trusted in either direction.
	TrafficEpsilonRPS float64

	ErrorRateCritical      float64
	LatencyCriticalSeconds float64
}

// DefaultConfig returns the standard rollout timings. The two SLO thresholds
// have no safe default and must be set explicitly before Validate passes.
func DefaultConfig() Config {
	return Config{
		Ladder:            rollout.DefaultLadder(),
		MinDwell:          15 * time.Minute,
		Cooldown:          60 * time.Minute,
		TrafficEpsilonRPS: 0.1,
	}
}

// Validate checks the configuration for production use
func (c Config) Validate() error {
	if err := c.Ladder.Validate(); err != nil {
		return fmt.Errorf("invalid ladder: %w", err)
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
		return fmt.Errorf("error rate critical threshold must be in (0, 1], got %g", c.ErrorRateCritical)
	}
	if c.LatencyCriticalSeconds <= 0 {
		return fmt.Errorf("latency critical threshold must be positive, got %g", c.LatencyCriticalSeconds)
	}
	return nil
}

// WithOverrides returns a copy of the config with a feature's threshold
// overrides applied. The ladder is never overridable per feature.
func (c Config) WithOverrides(t *feature.Thresholds) (Config, error) {
	if t == nil {
		return c, nil
	}

	out := c
	if t.ErrorRateCritical != nil {
		out.ErrorRateCritical = *t.ErrorRateCritical
	}
	if t.LatencyCriticalSeconds != nil {
		out.LatencyCriticalSeconds = *t.LatencyCriticalSeconds
	}
	if t.TrafficEpsilonRPS != nil {
		out.TrafficEpsilonRPS = *t.TrafficEpsilonRPS
	}
	if t.MinDwell != "" {
		d, err := feature.ParseDuration(t.MinDwell)
		if err != nil {
			return c, fmt.Errorf("invalid minDwell override: %w", err)
		}
		out.MinDwell = d
	}
	if t.Cooldown != "" {
		d, err := feature.ParseDuration(t.Cooldown)
		if err != nil {
			return c, fmt.Errorf("invalid cooldown override: %w", err)
		}
		out.Cooldown = d
	}
	return out, nil
}
