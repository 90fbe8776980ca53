package synthetic

import (
	"context"
	"strings"
	"testing"

	"github.com/samijaber1/aegis-rollout/internal/feature"
)

func TestSource_Snapshot(t *testing.T) {
	source := NewSource()
	source.Set("checkout-v2", FeatureMetrics{
		ErrorRate:            0.002,
		P95LatencySeconds:    0.31,
		OAuthRefreshFailures: 1,
		TrafficRPS:           142.7,
	})

	snapshot, err := source.Snapshot(context.Background(), "checkout-v2", feature.Queries{}, "10m")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	if snapshot.ErrorRate != 0.002 {
		t.Errorf("expected error rate 0.002, got %f", snapshot.ErrorRate)
	}
	if snapshot.P95LatencySeconds != 0.31 {
		t.Errorf("expected p95 0.31, got %f", snapshot.P95LatencySeconds)
	}
	if snapshot.OAuthRefreshFailures != 1 {
		t.Errorf("expected 1 oauth failure, got %d", snapshot.OAuthRefreshFailures)
	}
	if snapshot.TrafficRPS != 142.7 {
		t.Errorf("expected traffic 142.7, got %f", snapshot.TrafficRPS)
	}
	if snapshot.Window != "10m" {
		t.Errorf("expected window 10m, got %s", snapshot.Window)
	}
}

func TestSource_UnknownFeature(t *testing.T) {
	source := NewSource()

	_, err := source.Snapshot(context.Background(), "unknown", feature.Queries{}, "10m")
	if err == nil {
		t.Fatal("expected error for unknown feature")
	}
	if !strings.Contains(err.Error(), "no fixture") {
		t.Errorf("expected 'no fixture' error, got: %v", err)
	}
}

func TestSource_UnavailableFeature(t *testing.T) {
	source := NewSource()
	source.Set("checkout-v2", FeatureMetrics{Unavailable: true})

	_, err := source.Snapshot(context.Background(), "checkout-v2", feature.Queries{}, "10m")
	if err == nil {
		t.Fatal("expected error for unavailable feature")
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("expected 'unavailable' error, got: %v", err)
	}
}

func TestLoad(t *testing.T) {
	source, err := Load("../../../fixtures/metrics/healthy.json")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	snapshot, err := source.Snapshot(context.Background(), "checkout-v2", feature.Queries{}, "10m")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snapshot.ErrorRate != 0.002 {
		t.Errorf("expected error rate 0.002, got %f", snapshot.ErrorRate)
	}
	if snapshot.TrafficRPS != 142.7 {
		t.Errorf("expected traffic 142.7, got %f", snapshot.TrafficRPS)
	}
}

func TestLoad_OutageFixture(t *testing.T) {
	source, err := Load("../../../fixtures/metrics/backend-outage.json")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if _, err := source.Snapshot(context.Background(), "checkout-v2", feature.Queries{}, "10m"); err == nil {
		t.Error("expected outage fixture to make checkout-v2 unavailable")
	}

	if _, err := source.Snapshot(context.Background(), "search-ranker", feature.Queries{}, "10m"); err != nil {
		t.Errorf("expected search-ranker to stay available, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.json"); err == nil {
		t.Error("expected error for missing fixture file")
	}
}
