package feature

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestValidator_ValidateDirectory_ValidFiles(t *testing.T) {
	validator := mustNewValidator(t)

	errors := validator.ValidateDirectory("../../fixtures/features/valid")

	if len(errors) != 0 {
		t.Errorf("expected no errors, got %d:", len(errors))
		for _, err := range errors {
			t.Logf("  %v", err)
		}
	}
}

func TestValidator_ValidateDirectory_InvalidFiles(t *testing.T) {
	validator := mustNewValidator(t)

	errors := validator.ValidateDirectory("../../fixtures/features/invalid")

	if len(errors) == 0 {
		t.Fatal("expected validation errors, got none")
	}

	t.Logf("Got %d total errors", len(errors))
	for _, err := range errors {
		t.Logf("Error: %s: %s: %s", filepath.Base(err.File), err.Path, err.Message)
	}

	errorsByFile := make(map[string][]ValidationError)
	for _, err := range errors {
		base := filepath.Base(err.File)
		errorsByFile[base] = append(errorsByFile[base], err)
	}

	// missing-fields.yaml leaves three of the four queries empty
	if errs, ok := errorsByFile["missing-fields.yaml"]; ok {
		hasQueryError := false
		for _, err := range errs {
			if strings.Contains(err.Path, "p95LatencyQuery") || strings.Contains(err.Message, "p95LatencyQuery") {
				hasQueryError = true
				break
			}
		}
		if !hasQueryError {
			t.Errorf("expected error about missing p95LatencyQuery, got: %v", errs)
		}
	} else {
		t.Error("expected errors for missing-fields.yaml")
	}

	// bad-duration.yaml has an unparseable window and minDwell
	if errs, ok := errorsByFile["bad-duration.yaml"]; ok {
		windowErr, dwellErr := false, false
		for _, err := range errs {
			if err.Path == "spec.window" {
				windowErr = true
			}
			if err.Path == "spec.thresholds.minDwell" {
				dwellErr = true
			}
		}
		if !windowErr || !dwellErr {
			t.Errorf("expected errors for spec.window and spec.thresholds.minDwell, got: %v", errs)
		}
	} else {
		t.Error("expected errors for bad-duration.yaml")
	}

	// bad-threshold.yaml has out-of-range overrides
	if errs, ok := errorsByFile["bad-threshold.yaml"]; ok {
		rateErr, latencyErr := false, false
		for _, err := range errs {
			if err.Path == "spec.thresholds.errorRateCritical" {
				rateErr = true
			}
			if err.Path == "spec.thresholds.latencyCriticalSeconds" {
				latencyErr = true
			}
		}
		if !rateErr || !latencyErr {
			t.Errorf("expected errors for both threshold overrides, got: %v", errs)
		}
	} else {
		t.Error("expected errors for bad-threshold.yaml")
	}

	// dup-name-a.yaml and dup-name-b.yaml share metadata.name
	hasDuplicateError := false
	for _, errs := range errorsByFile {
		for _, err := range errs {
			if strings.Contains(err.Message, "duplicate") && strings.Contains(err.Message, "dup-feature") {
				hasDuplicateError = true
			}
		}
	}
	if !hasDuplicateError {
		t.Error("expected error about duplicate feature names")
	}
}

func TestValidator_ValidateDirectory_MixedFiles(t *testing.T) {
	validator := mustNewValidator(t)

	errors := validator.ValidateDirectory("../../fixtures/features")

	if len(errors) == 0 {
		t.Fatal("expected validation errors from invalid files, got none")
	}

	for _, err := range errors {
		if strings.Contains(err.File, string(filepath.Separator)+"valid"+string(filepath.Separator)) {
			t.Errorf("unexpected error from valid file: %v", err)
		}
	}
}

func TestLoadFromDirectory(t *testing.T) {
	featureFiles, errors := LoadFromDirectory("../../fixtures/features/valid")

	if len(errors) != 0 {
		t.Errorf("expected no load errors, got %d:", len(errors))
		for _, err := range errors {
			t.Logf("  %v", err)
		}
	}

	if len(featureFiles) == 0 {
		t.Fatal("expected to load features, got none")
	}

	byName := make(map[string]*Feature)
	for _, ff := range featureFiles {
		if ff.File == "" {
			t.Error("expected file path to be set")
		}
		f := ff.Feature
		if f.APIVersion != "aegis.dev/v1" {
			t.Errorf("expected apiVersion = aegis.dev/v1, got %s", f.APIVersion)
		}
		if f.Kind != "FeatureRollout" {
			t.Errorf("expected kind = FeatureRollout, got %s", f.Kind)
		}
		if f.Metadata.Name == "" {
			t.Error("expected metadata.name to be set")
		}
		byName[f.Metadata.Name] = f
	}

	checkout, ok := byName["checkout-v2"]
	if !ok {
		t.Fatal("expected checkout-v2 to be loaded")
	}
	if !checkout.Spec.Enabled {
		t.Error("expected checkout-v2 to be enabled")
	}
	if checkout.Spec.Window != "10m" {
		t.Errorf("expected window = 10m, got %s", checkout.Spec.Window)
	}
	if checkout.Spec.Thresholds == nil || checkout.Spec.Thresholds.ErrorRateCritical == nil {
		t.Fatal("expected errorRateCritical override")
	}
	if *checkout.Spec.Thresholds.ErrorRateCritical != 0.02 {
		t.Errorf("expected errorRateCritical = 0.02, got %g", *checkout.Spec.Thresholds.ErrorRateCritical)
	}

	ranker, ok := byName["search-ranker"]
	if !ok {
		t.Fatal("expected search-ranker to be loaded")
	}
	if !ranker.Spec.InternalOnly {
		t.Error("expected search-ranker to be internalOnly")
	}
	if ranker.Spec.Thresholds != nil {
		t.Error("expected search-ranker to have no threshold overrides")
	}
}

func TestValidateDurations(t *testing.T) {
	tests := []struct {
		name        string
		window      string
		minDwell    string
		cooldown    string
		expectError bool
	}{
		{
			name:        "all valid",
			window:      "10m",
			minDwell:    "15m",
			cooldown:    "1h",
			expectError: false,
		},
		{
			name:        "empty durations fall back to defaults",
			expectError: false,
		},
		{
			name:        "bad window",
			window:      "ten minutes",
			expectError: true,
		},
		{
			name:        "bad cooldown",
			cooldown:    "1hr",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Feature{
				Spec: Spec{
					Window: tt.window,
					Thresholds: &Thresholds{
						MinDwell: tt.minDwell,
						Cooldown: tt.cooldown,
					},
				},
			}

			errors := validateDurations("test.yaml", f)

			hasError := len(errors) > 0
			if hasError != tt.expectError {
				t.Errorf("expected error=%v, got error=%v (errors: %v)", tt.expectError, hasError, errors)
			}
		})
	}
}

func TestValidateThresholds(t *testing.T) {
	f64 := func(v float64) *float64 { return &v }

	tests := []struct {
		name        string
		thresholds  *Thresholds
		expectError bool
	}{
		{
			name:        "nil thresholds",
			thresholds:  nil,
			expectError: false,
		},
		{
			name: "valid overrides",
			thresholds: &Thresholds{
				ErrorRateCritical:      f64(0.05),
				LatencyCriticalSeconds: f64(2),
				TrafficEpsilonRPS:      f64(0),
			},
			expectError: false,
		},
		{
			name: "error rate above one",
			thresholds: &Thresholds{
				ErrorRateCritical: f64(1.5),
			},
			expectError: true,
		},
		{
			name: "error rate zero",
			thresholds: &Thresholds{
				ErrorRateCritical: f64(0),
			},
			expectError: true,
		},
		{
			name: "negative latency",
			thresholds: &Thresholds{
				LatencyCriticalSeconds: f64(-1),
			},
			expectError: true,
		},
		{
			name: "negative traffic epsilon",
			thresholds: &Thresholds{
				TrafficEpsilonRPS: f64(-0.1),
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Feature{Spec: Spec{Thresholds: tt.thresholds}}

			errors := validateThresholds("test.yaml", f)

			hasError := len(errors) > 0
			if hasError != tt.expectError {
				t.Errorf("expected error=%v, got error=%v (errors: %v)", tt.expectError, hasError, errors)
			}
		})
	}
}

func mustNewValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := NewValidator("../../schemas/feature_v1.json")
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator
}
