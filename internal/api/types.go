package api

import (
	"time"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// OverrideRequest moves a feature to an explicit ladder rung
type OverrideRequest struct {
	Percent int    `json:"percent"`
	Reason  string `json:"reason,omitempty"`
}

// ActionRequest carries the optional operator-supplied reason for
// pause, resume, enable and disable
type ActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FeatureSummary contains summary information about a configured feature
type FeatureSummary struct {
	Name         string `json:"name"`
	Owner        string `json:"owner,omitempty"`
	Enabled      bool   `json:"enabled"`
	InternalOnly bool   `json:"internalOnly,omitempty"`
	Window       string `json:"window,omitempty"`
}

// FeatureListResponse represents the configured feature set
type FeatureListResponse struct {
	Features []FeatureSummary `json:"features"`
}

// RolloutListResponse represents all known rollout states
type RolloutListResponse struct {
	Rollouts []rollout.State `json:"rollouts"`
}

// AuditResponse represents a page of audit entries, newest first
type AuditResponse struct {
	Entries []rollout.AuditEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// TickOutcomeResponse is a per-feature tick outcome with the evaluation
// error flattened to a string
type TickOutcomeResponse struct {
	Feature    string `json:"feature"`
	Action     string `json:"action,omitempty"`
	OldPercent int    `json:"oldPercent"`
	NewPercent int    `json:"newPercent"`
	Reason     string `json:"reason,omitempty"`
	Applied    bool   `json:"applied"`
	Degraded   bool   `json:"degraded"`
	Error      string `json:"error,omitempty"`
}

// TickReportResponse represents the most recently completed tick
type TickReportResponse struct {
	ID              string                `json:"id"`
	Start           time.Time             `json:"start"`
	CompletedAt     time.Time             `json:"completedAt"`
	DurationSeconds float64               `json:"durationSeconds"`
	DryRun          bool                  `json:"dryRun,omitempty"`
	Outcome         string                `json:"outcome"`
	Applied         int                   `json:"applied"`
	Degraded        int                   `json:"degraded"`
	Errors          int                   `json:"errors"`
	Outcomes        []TickOutcomeResponse `json:"outcomes"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready          bool     `json:"ready"`
	FeaturesLoaded int      `json:"featuresLoaded"`
	Reasons        []string `json:"reasons,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
