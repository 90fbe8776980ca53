package prometheus

import (
	"fmt"
	"math"
	"strconv"
)

// QueryResponse represents a Prometheus query API response
type QueryResponse struct {
	Status string    `json:"status"`
	Data   QueryData `json:"data"`
	Error  string    `json:"error,omitempty"`
}

// QueryData contains the query result data
type QueryData struct {
	ResultType string         `json:"resultType"`
	Result     []VectorResult `json:"result"`
}

// VectorResult represents a single result from an instant vector query
type VectorResult struct {
	Metric map[string]string `json:"metric"`
	Value  SamplePair        `json:"value"`
}

// SamplePair is [timestamp, value]
type SamplePair [2]interface{}

// Value returns the sample value. Prometheus encodes values as strings;
// anything else, and anything non-finite, is rejected.
func (sp SamplePair) Value() (float64, error) {
	if len(sp) < 2 {
		return 0, fmt.Errorf("malformed sample pair")
	}

	str, ok := sp[1].(string)
	if !ok {
		return 0, fmt.Errorf("sample value is not a string: %v", sp[1])
	}

	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sample value %q: %w", str, err)
	}
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0, fmt.Errorf("sample value %q is not finite", str)
	}

	return val, nil
}
