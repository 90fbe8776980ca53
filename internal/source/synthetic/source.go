package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// Fixture is one rehearsal scenario: snapshot values per feature.
type Fixture struct {
	Features map[string]FeatureMetrics `json:"features"`
}

// FeatureMetrics holds the fixture values for a single feature
type FeatureMetrics struct {
	ErrorRate            float64 `json:"errorRate"`
	P95LatencySeconds    float64 `json:"p95LatencySeconds"`
	OAuthRefreshFailures int     `json:"oauthRefreshFailures"`
	TrafficRPS           float64 `json:"trafficRps"`

	// Unavailable simulates a metrics backend outage for this feature.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Source serves SLO snapshots from a JSON fixture instead of a live
// metrics backend. Paired with dry-run it lets operators rehearse
// policy behavior against canned scenarios.
type Source struct {
	features map[string]FeatureMetrics
}

// NewSource creates an empty synthetic source
func NewSource() *Source {
	return &Source{
		features: make(map[string]FeatureMetrics),
	}
}

// Load reads a fixture file and returns a source backed by it
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(fixture.Features) == 0 {
		return nil, fmt.Errorf("fixture %s contains no features", path)
	}

	source := NewSource()
	for name, metrics := range fixture.Features {
		source.features[name] = metrics
	}
	return source, nil
}

// Set registers fixture values for a feature (useful for testing)
func (s *Source) Set(featureName string, metrics FeatureMetrics) {
	s.features[featureName] = metrics
}

// Snapshot returns the fixture values for the feature. The query templates
// are ignored; the fixture is the backend.
func (s *Source) Snapshot(_ context.Context, featureName string, _ feature.Queries, window string) (*rollout.SLOSnapshot, error) {
	metrics, ok := s.features[featureName]
	if !ok {
		return nil, fmt.Errorf("no fixture for feature %s", featureName)
	}
	if metrics.Unavailable {
		return nil, fmt.Errorf("fixture marks metrics unavailable for feature %s", featureName)
	}

	return &rollout.SLOSnapshot{
		ErrorRate:            metrics.ErrorRate,
		P95LatencySeconds:    metrics.P95LatencySeconds,
		OAuthRefreshFailures: metrics.OAuthRefreshFailures,
		TrafficRPS:           metrics.TrafficRPS,
		Window:               window,
	}, nil
}
