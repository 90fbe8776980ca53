package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/controller"
	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
	"github.com/samijaber1/aegis-rollout/internal/storage/memory"
	"github.com/samijaber1/aegis-rollout/internal/telemetry"
)

var testTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func testFeatures() []*feature.Feature {
	return []*feature.Feature{
		{
			Metadata: feature.Metadata{Name: "checkout-v2", Owner: "payments"},
			Spec:     feature.Spec{Enabled: true, Window: "10m"},
		},
		{
			Metadata: feature.Metadata{Name: "search-ranker", Owner: "discovery"},
			Spec:     feature.Spec{Enabled: true, InternalOnly: true, Window: "5m"},
		},
	}
}

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	for _, name := range []string{"checkout-v2", "search-ranker"} {
		created, err := store.EnsureState(context.Background(), rollout.State{
			Feature:        name,
			Enabled:        true,
			Percent:        10,
			LastChangeTime: testTime,
		})
		if err != nil || !created {
			t.Fatalf("seed state for %s: created=%v err=%v", name, created, err)
		}
	}

	operator := controller.NewOperator(store, store, rollout.DefaultLadder())
	operator.Now = func() time.Time { return testTime }

	server := NewServer(Options{
		Addr:     ":0",
		Features: testFeatures(),
		Store:    store,
		Audit:    store,
		Operator: operator,
		Metrics:  telemetry.NewMetrics(),
	})
	return server, store
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status=ok, got %s", resp.Status)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/readyz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp ReadyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true with features loaded")
	}
	if resp.FeaturesLoaded != 2 {
		t.Errorf("expected 2 features loaded, got %d", resp.FeaturesLoaded)
	}

	// Before the first tick the reasons mention it without gating readiness.
	found := false
	for _, reason := range resp.Reasons {
		if reason == "no tick completed yet" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected tick reason, got %v", resp.Reasons)
	}

	server.RecordTick(&controller.TickReport{Start: testTime})
	w = doRequest(t, server, "GET", "/readyz", nil)
	resp = ReadyResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, reason := range resp.Reasons {
		if reason == "no tick completed yet" {
			t.Error("tick reason must clear after RecordTick")
		}
	}
}

func TestReadyEndpointWithoutFeatures(t *testing.T) {
	store := memory.NewStore()
	operator := controller.NewOperator(store, store, rollout.DefaultLadder())
	server := NewServer(Options{Addr: ":0", Store: store, Audit: store, Operator: operator})

	w := doRequest(t, server, "GET", "/readyz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var resp ReadyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Ready {
		t.Error("expected ready=false without features")
	}
}

func TestFeatureListEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/v1/features", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp FeatureListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(resp.Features))
	}
	if resp.Features[0].Name != "checkout-v2" || resp.Features[0].Owner != "payments" {
		t.Errorf("unexpected first feature: %+v", resp.Features[0])
	}
	if !resp.Features[1].InternalOnly {
		t.Error("expected internalOnly carried through")
	}
}

func TestRolloutListEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/v1/rollouts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp RolloutListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Rollouts) != 2 {
		t.Fatalf("expected 2 rollout states, got %d", len(resp.Rollouts))
	}
	// ListStates orders by feature name.
	if resp.Rollouts[0].Feature != "checkout-v2" || resp.Rollouts[1].Feature != "search-ranker" {
		t.Errorf("unexpected order: %s, %s", resp.Rollouts[0].Feature, resp.Rollouts[1].Feature)
	}
}

func TestRolloutGetEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/v1/rollouts/checkout-v2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var state rollout.State
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Feature != "checkout-v2" || state.Percent != 10 {
		t.Errorf("unexpected state: %+v", state)
	}

	w = doRequest(t, server, "GET", "/v1/rollouts/ghost", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown feature, got %d", w.Code)
	}
}

func TestOverrideEndpoint(t *testing.T) {
	server, store := setupTestServer(t)

	w := doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/override", OverrideRequest{
		Percent: 50,
		Reason:  "load test sign-off",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var state rollout.State
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Percent != 50 {
		t.Errorf("expected percent 50, got %d", state.Percent)
	}

	entries, err := store.Query(context.Background(), storage.AuditFilter{Feature: "checkout-v2"})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != rollout.ActionOverride {
		t.Fatalf("expected 1 override audit entry, got %+v", entries)
	}
	if entries[0].Reason != "load test sign-off" {
		t.Errorf("unexpected reason: %s", entries[0].Reason)
	}
}

func TestOverrideEndpointRejectsNonRung(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/override", OverrideRequest{Percent: 37})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.Contains(resp.Error, "not a ladder rung") {
		t.Errorf("unexpected error: %s", resp.Error)
	}
}

func TestPauseAndResumeEndpoints(t *testing.T) {
	server, store := setupTestServer(t)

	w := doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/pause", ActionRequest{Reason: "incident INC-4821"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var state rollout.State
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !state.Paused {
		t.Error("expected paused state")
	}

	// Empty body works for actions without a reason.
	w = doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	current, err := store.GetState(context.Background(), "checkout-v2")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if current.Paused {
		t.Error("expected resumed state")
	}
}

func TestPauseUnknownFeature(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/v1/rollouts/ghost/pause", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestDisableAndEnableEndpoints(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var state rollout.State
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if state.Enabled {
		t.Error("expected disabled state")
	}

	w = doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/enable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	state = rollout.State{}
	if err := json.NewDecoder(w.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !state.Enabled {
		t.Error("expected enabled state")
	}
}

func TestAuditEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	// Produce a few entries through the operator path.
	doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/override", OverrideRequest{Percent: 50})
	doRequest(t, server, "POST", "/v1/rollouts/checkout-v2/pause", nil)
	doRequest(t, server, "POST", "/v1/rollouts/search-ranker/override", OverrideRequest{Percent: 50})

	w := doRequest(t, server, "GET", "/v1/audit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp AuditResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 3 {
		t.Fatalf("expected 3 entries, got %d", resp.Total)
	}

	w = doRequest(t, server, "GET", "/v1/audit?feature=checkout-v2", nil)
	resp = AuditResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 entries for checkout-v2, got %d", resp.Total)
	}

	w = doRequest(t, server, "GET", "/v1/audit?action=pause", nil)
	resp = AuditResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 || resp.Entries[0].Action != rollout.ActionPause {
		t.Errorf("unexpected pause filter result: %+v", resp.Entries)
	}

	w = doRequest(t, server, "GET", "/v1/audit?limit=1", nil)
	resp = AuditResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected limit respected, got %d entries", resp.Total)
	}
}

func TestLastTickEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)

	w := doRequest(t, server, "GET", "/v1/ticks/last", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 before first tick, got %d", w.Code)
	}

	server.RecordTick(&controller.TickReport{
		ID:       "run-1",
		Start:    testTime,
		Duration: 1500 * time.Millisecond,
		Outcomes: []controller.FeatureOutcome{
			{
				Feature:    "checkout-v2",
				Action:     rollout.ActionPromote,
				OldPercent: 10,
				NewPercent: 50,
				Reason:     "healthy metrics, dwell elapsed",
				Applied:    true,
			},
			{
				Feature:    "search-ranker",
				OldPercent: 10,
				NewPercent: 10,
				Err:        errors.New("read state: connection refused"),
			},
		},
	})

	w = doRequest(t, server, "GET", "/v1/ticks/last", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp TickReportResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "run-1" {
		t.Errorf("unexpected run id: %s", resp.ID)
	}
	if !resp.Start.Equal(testTime) {
		t.Errorf("unexpected start time: %s", resp.Start)
	}
	if resp.DurationSeconds != 1.5 {
		t.Errorf("expected duration 1.5s, got %v", resp.DurationSeconds)
	}
	if resp.Outcome != telemetry.OutcomeDegraded {
		t.Errorf("expected degraded outcome, got %s", resp.Outcome)
	}
	if resp.Applied != 1 || resp.Errors != 1 {
		t.Errorf("unexpected counts: applied=%d errors=%d", resp.Applied, resp.Errors)
	}
	if len(resp.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(resp.Outcomes))
	}
	if resp.Outcomes[0].Action != string(rollout.ActionPromote) || resp.Outcomes[0].NewPercent != 50 {
		t.Errorf("unexpected first outcome: %+v", resp.Outcomes[0])
	}
	if resp.Outcomes[1].Error != "read state: connection refused" {
		t.Errorf("expected error flattened to string, got %q", resp.Outcomes[1].Error)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)
	server.metrics.SetPercent("checkout-v2", 10)

	w := doRequest(t, server, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "aegis_rollout_percent") {
		t.Error("expected rollout percent gauge in exposition")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/healthz"},
		{"POST", "/v1/rollouts"},
		{"GET", "/v1/rollouts/checkout-v2/override"},
		{"DELETE", "/v1/audit"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := doRequest(t, server, tt.method, tt.path, nil)
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status 405, got %d", w.Code)
			}
		})
	}
}
