package rollout

import "time"

// Action is the kind of move the controller makes on a feature's exposure.
type Action string

const (
	ActionPromote  Action = "promote"
	ActionRollback Action = "rollback"
	ActionHold     Action = "hold"
	// ActionOverride marks a manual percent change made by an operator.
	ActionOverride Action = "override"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	// ActionEnable and ActionDisable record flips of the feature kill switch.
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
	// ActionInit marks the creation of a feature's initial state record.
	ActionInit Action = "init"
)

// Actor identifies the origin of a state change.
type Actor string

const (
	ActorController Actor = "controller"
	ActorManual     Actor = "manual"
)

// State is the persisted rollout state for a single feature. It is owned by
// the state store and modified only through the controller's apply step or a
// manual operator action.
type State struct {
	Feature      string `json:"feature"`
	Enabled      bool   `json:"enabled"`
	InternalOnly bool   `json:"internalOnly"`

	// Percent is always one of the configured ladder rungs.
	Percent int  `json:"percent"`
	Paused  bool `json:"paused"`

	// LastChangeTime records when Percent was last modified, by any writer.
	LastChangeTime time.Time `json:"lastChangeTime"`

	// LastRollbackTime is nil until the first rollback; it is only ever
	// compared against "now" to decide whether the cooldown is active.
	LastRollbackTime *time.Time `json:"lastRollbackTime,omitempty"`

	// Version increments on every write and is the compare-and-set token
	// for concurrent writers.
	Version int64 `json:"version"`
}

// SLOSnapshot holds the telemetry signals for one feature over one rolling
// window, fetched fresh each tick.
type SLOSnapshot struct {
	ErrorRate            float64 `json:"errorRate"`
	P95LatencySeconds    float64 `json:"p95LatencySeconds"`
	OAuthRefreshFailures int     `json:"oauthRefreshFailures"`
	TrafficRPS           float64 `json:"trafficRPS"`

	// Window is the rolling window the snapshot was computed over, e.g. "10m".
	Window string `json:"window"`
}

// Decision is the policy engine's verdict for one feature. Only its effects
// are persisted, never the decision itself.
type Decision struct {
	Action     Action `json:"action"`
	NewPercent int    `json:"newPercent"`

	// Reason is always present and always specific.
	Reason string `json:"reason"`
}

// AuditEntry is one record in the append-only audit trail. Entries are
// written for every applied state change and for every dry-run
// recommendation; they are never edited or deleted.
type AuditEntry struct {
	ID         string    `json:"id"`
	Feature    string    `json:"feature"`
	OldPercent int       `json:"oldPercent"`
	NewPercent int       `json:"newPercent"`
	Action     Action    `json:"action"`
	Reason     string    `json:"reason"`
	Actor      Actor     `json:"actor"`
	DryRun     bool      `json:"dryRun,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
