package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// Engine turns a feature's current state and metrics into a rollout decision
type Engine struct{}

// NewEngine creates a new policy engine
func NewEngine() *Engine {
	return &Engine{}
}

// Decide applies the rollout rules in precedence order and returns the first
// match. It is deterministic and side-effect free: identical arguments always
// produce identical decisions, and nothing outside the arguments is read.
//
// Precedence: paused, traffic guard, zero-tolerance failures, SLO violation,
// ceiling, cooldown, dwell, promote.
func (e *Engine) Decide(state *rollout.State, metrics *rollout.SLOSnapshot, cfg Config, now time.Time) rollout.Decision {
	if state.Paused {
		return hold(state, "controller paused")
	}

	// A rate computed over near-zero samples is not meaningful in either
	// direction, so low traffic blocks rollbacks as well as promotions.
	if metrics.TrafficRPS < cfg.TrafficEpsilonRPS {
		return hold(state, "insufficient traffic to evaluate SLOs")
	}

	if metrics.OAuthRefreshFailures > 0 {
		if cfg.Ladder.Floor(state.Percent) {
			return hold(state, "already at floor, cannot rollback further")
		}
		return rollout.Decision{
			Action:     rollout.ActionRollback,
			NewPercent: cfg.Ladder.Previous(state.Percent),
			Reason:     fmt.Sprintf("oauth refresh failures detected: %d in window", metrics.OAuthRefreshFailures),
		}
	}

	if reasons := violatedThresholds(metrics, cfg); len(reasons) > 0 {
		if cfg.Ladder.Floor(state.Percent) {
			return hold(state, "already at floor, cannot rollback further")
		}
		return rollout.Decision{
			Action:     rollout.ActionRollback,
			NewPercent: cfg.Ladder.Previous(state.Percent),
			Reason:     strings.Join(reasons, "; "),
		}
	}

	if cfg.Ladder.Ceiling(state.Percent) {
		return hold(state, "fully rolled out")
	}

	if state.LastRollbackTime != nil {
		elapsed := now.Sub(*state.LastRollbackTime)
		if elapsed < cfg.Cooldown {
			remaining := (cfg.Cooldown - elapsed).Round(time.Second)
			return hold(state, fmt.Sprintf("cooldown active, %s left", feature.FormatDuration(remaining)))
		}
	}

	if now.Sub(state.LastChangeTime) < cfg.MinDwell {
		return hold(state, "dwell time not yet elapsed")
	}

	return rollout.Decision{
		Action:     rollout.ActionPromote,
		NewPercent: cfg.Ladder.Next(state.Percent),
		Reason:     "healthy metrics, dwell elapsed",
	}
}

// violatedThresholds returns one reason per breached SLO threshold, empty
// when metrics are healthy.
func violatedThresholds(metrics *rollout.SLOSnapshot, cfg Config) []string {
	var reasons []string
	if metrics.ErrorRate > cfg.ErrorRateCritical {
		reasons = append(reasons, fmt.Sprintf(
			"error rate %.4f exceeds critical threshold %.4f",
			metrics.ErrorRate, cfg.ErrorRateCritical,
		))
	}
	if metrics.P95LatencySeconds > cfg.LatencyCriticalSeconds {
		reasons = append(reasons, fmt.Sprintf(
			"p95 latency %.3fs exceeds critical threshold %.3fs",
			metrics.P95LatencySeconds, cfg.LatencyCriticalSeconds,
		))
	}
	return reasons
}

// hold builds a Hold decision that keeps the feature at its current rung.
func hold(state *rollout.State, reason string) rollout.Decision {
	return rollout.Decision{
		Action:     rollout.ActionHold,
		NewPercent: state.Percent,
		Reason:     reason,
	}
}
