package prometheus_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/policy"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/source/prometheus"
)

func TestSource_PolicyIntegration(t *testing.T) {
	// Fake Prometheus returning healthy series for every sub-query.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")

		var value string
		switch {
		case strings.HasPrefix(query, "error_ratio"):
			value = "0.002"
		case strings.HasPrefix(query, "p95_seconds"):
			value = "0.120"
		case strings.HasPrefix(query, "oauth_failures"):
			value = "0"
		case strings.HasPrefix(query, "traffic_rps"):
			value = "52.4"
		default:
			value = "0"
		}

		resp := prometheus.QueryResponse{
			Status: "success",
			Data: prometheus.QueryData{
				ResultType: "vector",
				Result: []prometheus.VectorResult{
					{
						Metric: map[string]string{},
						Value:  prometheus.SamplePair{float64(time.Now().Unix()), value},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	source := prometheus.NewSource(prometheus.DefaultConfig(server.URL))

	queries := feature.Queries{
		ErrorRateQuery:            `error_ratio{feature="{{feature}}"}[{{window}}]`,
		P95LatencyQuery:           `p95_seconds{feature="{{feature}}"}[{{window}}]`,
		OAuthRefreshFailuresQuery: `oauth_failures{feature="{{feature}}"}[{{window}}]`,
		TrafficRPSQuery:           `traffic_rps{feature="{{feature}}"}[{{window}}]`,
	}

	snapshot, err := source.Snapshot(context.Background(), "checkout-v2", queries, "10m")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	cfg := policy.DefaultConfig()
	cfg.ErrorRateCritical = 0.05
	cfg.LatencyCriticalSeconds = 1.0

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	state := &rollout.State{
		Feature:        "checkout-v2",
		Enabled:        true,
		Percent:        10,
		LastChangeTime: now.Add(-20 * time.Minute),
		Version:        3,
	}

	decision := policy.NewEngine().Decide(state, snapshot, cfg, now)
	if decision.Action != rollout.ActionPromote {
		t.Fatalf("expected promote for healthy metrics, got %s (%s)", decision.Action, decision.Reason)
	}
	if decision.NewPercent != 50 {
		t.Errorf("expected promotion to 50, got %d", decision.NewPercent)
	}
	if decision.Reason != "healthy metrics, dwell elapsed" {
		t.Errorf("unexpected reason: %s", decision.Reason)
	}
}

func TestSource_UnavailableBackendPropagatesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Prometheus unavailable"))
	}))
	defer server.Close()

	config := prometheus.DefaultConfig(server.URL)
	config.RetryCount = 0
	source := prometheus.NewSource(config)

	queries := feature.Queries{
		ErrorRateQuery:            "error_ratio",
		P95LatencyQuery:           "p95_seconds",
		OAuthRefreshFailuresQuery: "oauth_failures",
		TrafficRPSQuery:           "traffic_rps",
	}

	_, err := source.Snapshot(context.Background(), "checkout-v2", queries, "10m")
	if err == nil {
		t.Error("expected error when Prometheus is unavailable, got nil")
	}
}
