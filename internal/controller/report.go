package controller

import (
	"time"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/telemetry"
)

// FeatureOutcome records what happened to one feature during a tick.
type FeatureOutcome struct {
	Feature    string         `json:"feature"`
	Action     rollout.Action `json:"action,omitempty"`
	OldPercent int            `json:"oldPercent"`
	NewPercent int            `json:"newPercent"`
	Reason     string         `json:"reason,omitempty"`

	// Applied is true when a state write for this decision succeeded.
	Applied bool `json:"applied"`

	// Degraded marks outcomes that completed with a non-fatal defect:
	// unavailable metrics, a write conflict, or an audit gap.
	Degraded bool `json:"degraded"`

	// Err is set when the feature could not be evaluated at all.
	Err error `json:"-"`
}

// TickReport aggregates the per-feature outcomes of one tick.
type TickReport struct {
	ID       string           `json:"id"`
	Start    time.Time        `json:"start"`
	Duration time.Duration    `json:"duration"`
	DryRun   bool             `json:"dryRun"`
	Outcomes []FeatureOutcome `json:"outcomes"`
}

// Applied counts outcomes whose state write succeeded
func (r *TickReport) Applied() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Applied {
			n++
		}
	}
	return n
}

// Errors counts features that could not be evaluated
func (r *TickReport) Errors() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Degraded counts outcomes that completed with a non-fatal defect
func (r *TickReport) Degraded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Degraded {
			n++
		}
	}
	return n
}

// Failed reports whether the tick failed as a whole: features were
// configured but none could be evaluated. Per-feature errors and degraded
// outcomes alone do not fail a tick.
func (r *TickReport) Failed() bool {
	return len(r.Outcomes) > 0 && r.Errors() == len(r.Outcomes)
}

// Outcome returns the telemetry label summarizing the tick
func (r *TickReport) Outcome() string {
	switch {
	case r.Failed():
		return telemetry.OutcomeFailed
	case r.Errors() > 0 || r.Degraded() > 0:
		return telemetry.OutcomeDegraded
	default:
		return telemetry.OutcomeOK
	}
}
