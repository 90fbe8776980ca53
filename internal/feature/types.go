package feature

// Feature represents a parsed feature rollout definition
type Feature struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata contains feature metadata
type Metadata struct {
	Name        string `yaml:"name"`
	Owner       string `yaml:"owner,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Spec is the desired-rollout section of a feature definition
type Spec struct {
	// Enabled seeds the feature's master kill switch when its state record
	// is first created. The policy engine does not consult it.
	Enabled      bool `yaml:"enabled"`
	InternalOnly bool `yaml:"internalOnly,omitempty"`

	// Window overrides the controller's rolling metrics window, e.g. "10m".
	Window string `yaml:"window,omitempty"`

	Metrics    Queries     `yaml:"metrics"`
	Thresholds *Thresholds `yaml:"thresholds,omitempty"`
}

// Queries holds the four query templates behind a feature's SLOSnapshot.
// {{feature}} and {{window}} placeholders are substituted before execution.
type Queries struct {
	ErrorRateQuery            string `yaml:"errorRateQuery"`
	P95LatencyQuery           string `yaml:"p95LatencyQuery"`
	OAuthRefreshFailuresQuery string `yaml:"oauthRefreshFailuresQuery"`
	TrafficRPSQuery           string `yaml:"trafficRPSQuery"`
}

// Thresholds are optional per-feature overrides of the controller-wide
// policy thresholds. A nil field means "use the controller default".
type Thresholds struct {
	ErrorRateCritical      *float64 `yaml:"errorRateCritical,omitempty"`
	LatencyCriticalSeconds *float64 `yaml:"latencyCriticalSeconds,omitempty"`
	TrafficEpsilonRPS      *float64 `yaml:"trafficEpsilonRPS,omitempty"`
	MinDwell               string   `yaml:"minDwell,omitempty"`
	Cooldown               string   `yaml:"cooldown,omitempty"`
}

// FeatureWithFile pairs a feature definition with its source file path
type FeatureWithFile struct {
	Feature *Feature
	File    string
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
