package feature

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Validator handles feature definition validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a new validator with the given schema file
func NewValidator(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all feature files in a directory
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	featureFiles, loadErrors := LoadFromDirectory(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(featureFiles) == 0 {
		return allErrors
	}

	for _, ff := range featureFiles {
		schemaErrors := v.validateSchema(ff.File, ff.Feature)
		allErrors = append(allErrors, schemaErrors...)
	}

	extraErrors := validateExtraRules(featureFiles)
	allErrors = append(allErrors, extraErrors...)

	return allErrors
}

// validateSchema validates a single feature definition against the JSON schema
func (v *Validator) validateSchema(file string, f *Feature) []ValidationError {
	var errors []ValidationError

	// Round-trip through YAML to get plain map types the schema library accepts
	yamlBytes, err := yaml.Marshal(f)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to marshal feature: %v", err),
		})
		return errors
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(yamlBytes, &jsonData); err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	if err := v.schema.Validate(jsonData); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(file, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateExtraRules applies additional validation rules beyond JSON schema
func validateExtraRules(featureFiles []FeatureWithFile) []ValidationError {
	var errors []ValidationError

	nameSeen := make(map[string]string)
	for _, ff := range featureFiles {
		name := ff.Feature.Metadata.Name
		if prevFile, exists := nameSeen[name]; exists {
			errors = append(errors, ValidationError{
				File:    ff.File,
				Path:    "metadata.name",
				Message: fmt.Sprintf("duplicate name %q (also in %s)", name, filepath.Base(prevFile)),
			})
		} else {
			nameSeen[name] = ff.File
		}

		errors = append(errors, validateDurations(ff.File, ff.Feature)...)
		errors = append(errors, validateThresholds(ff.File, ff.Feature)...)
	}

	return errors
}

// validateDurations checks that every duration-shaped field parses
func validateDurations(file string, f *Feature) []ValidationError {
	var errors []ValidationError

	if f.Spec.Window != "" {
		if _, err := ParseDuration(f.Spec.Window); err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Path:    "spec.window",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		}
	}

	if t := f.Spec.Thresholds; t != nil {
		if t.MinDwell != "" {
			if _, err := ParseDuration(t.MinDwell); err != nil {
				errors = append(errors, ValidationError{
					File:    file,
					Path:    "spec.thresholds.minDwell",
					Message: fmt.Sprintf("invalid duration: %v", err),
				})
			}
		}
		if t.Cooldown != "" {
			if _, err := ParseDuration(t.Cooldown); err != nil {
				errors = append(errors, ValidationError{
					File:    file,
					Path:    "spec.thresholds.cooldown",
					Message: fmt.Sprintf("invalid duration: %v", err),
				})
			}
		}
	}

	return errors
}

// validateThresholds checks that numeric overrides are in range
func validateThresholds(file string, f *Feature) []ValidationError {
	var errors []ValidationError

	t := f.Spec.Thresholds
	if t == nil {
		return nil
	}

	if t.ErrorRateCritical != nil && (*t.ErrorRateCritical <= 0 || *t.ErrorRateCritical > 1) {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    "spec.thresholds.errorRateCritical",
			Message: fmt.Sprintf("must be in (0, 1], got %g", *t.ErrorRateCritical),
		})
	}
	if t.LatencyCriticalSeconds != nil && *t.LatencyCriticalSeconds <= 0 {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    "spec.thresholds.latencyCriticalSeconds",
			Message: fmt.Sprintf("must be positive, got %g", *t.LatencyCriticalSeconds),
		})
	}
	if t.TrafficEpsilonRPS != nil && *t.TrafficEpsilonRPS < 0 {
		errors = append(errors, ValidationError{
			File:    file,
			Path:    "spec.thresholds.trafficEpsilonRPS",
			Message: fmt.Sprintf("must not be negative, got %g", *t.TrafficEpsilonRPS),
		})
	}

	return errors
}
