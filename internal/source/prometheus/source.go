package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// Config holds Prometheus source configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
	}
}

// Source fetches SLO snapshots from a Prometheus query API
type Source struct {
	config Config
	client *http.Client
	sem    *semaphore.Weighted
}

// NewSource creates a new Prometheus source
func NewSource(config Config) *Source {
	return &Source{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		sem: semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// Snapshot fetches the four SLO series for a feature over the rolling window.
// Any sub-query failure makes the whole snapshot unavailable: the caller must
// never act on partial evidence.
func (s *Source) Snapshot(ctx context.Context, featureName string, queries feature.Queries, window string) (*rollout.SLOSnapshot, error) {
	errorRate, err := s.queryScalar(ctx, expandQuery(queries.ErrorRateQuery, featureName, window))
	if err != nil {
		return nil, fmt.Errorf("error rate query: %w", err)
	}

	p95Latency, err := s.queryScalar(ctx, expandQuery(queries.P95LatencyQuery, featureName, window))
	if err != nil {
		return nil, fmt.Errorf("p95 latency query: %w", err)
	}

	oauthFailures, err := s.queryScalar(ctx, expandQuery(queries.OAuthRefreshFailuresQuery, featureName, window))
	if err != nil {
		return nil, fmt.Errorf("oauth refresh failures query: %w", err)
	}

	trafficRPS, err := s.queryScalar(ctx, expandQuery(queries.TrafficRPSQuery, featureName, window))
	if err != nil {
		return nil, fmt.Errorf("traffic rps query: %w", err)
	}

	return &rollout.SLOSnapshot{
		ErrorRate:         errorRate,
		P95LatencySeconds: p95Latency,
		// increase() extrapolates, so counter deltas come back fractional.
		OAuthRefreshFailures: int(math.Round(oauthFailures)),
		TrafficRPS:           trafficRPS,
		Window:               window,
	}, nil
}

// queryScalar executes an instant query and returns its single sample value
func (s *Source) queryScalar(ctx context.Context, query string) (float64, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer s.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= s.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(s.config.RetryDelay):
			}
		}

		result, err := s.executeQuery(ctx, query)
		if err == nil {
			return extractScalarValue(result)
		}

		lastErr = err
	}

	return 0, fmt.Errorf("query failed after %d attempts: %w", s.config.RetryCount+1, lastErr)
}

// executeQuery performs a single Prometheus query
func (s *Source) executeQuery(ctx context.Context, query string) (*QueryResponse, error) {
	queryURL := fmt.Sprintf("%s/api/v1/query", strings.TrimSuffix(s.config.URL, "/"))

	params := url.Values{}
	params.Add("query", query)

	req, err := http.NewRequestWithContext(ctx, "GET", queryURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var result QueryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus error: %s", result.Error)
	}

	return &result, nil
}

// expandQuery substitutes the {{feature}} and {{window}} template placeholders
func expandQuery(query string, featureName string, window string) string {
	expanded := strings.ReplaceAll(query, "{{feature}}", featureName)
	return strings.ReplaceAll(expanded, "{{window}}", window)
}

// extractScalarValue extracts the single sample value from a query response.
// An empty vector is an error: no data is not zero.
func extractScalarValue(resp *QueryResponse) (float64, error) {
	if resp == nil || len(resp.Data.Result) == 0 {
		return 0, fmt.Errorf("query returned no data")
	}
	if len(resp.Data.Result) > 1 {
		return 0, fmt.Errorf("query returned %d series, want 1", len(resp.Data.Result))
	}

	return resp.Data.Result[0].Value.Value()
}
