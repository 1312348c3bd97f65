package artifacts

import (
	"encoding/json"
	"fmt"
)

// StandardScaler centers and scales each feature: (x - mean) / scale.
// A zero scale leaves the centered value unscaled.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// DecodeScaler parses a scaler artifact.
func DecodeScaler(data []byte) (*StandardScaler, error) {
	var s StandardScaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(s.Mean) == 0 {
		return nil, fmt.Errorf("decode scaler: mean is empty")
	}
	if len(s.Mean) != len(s.Scale) {
		return nil, fmt.Errorf("decode scaler: %d means but %d scales", len(s.Mean), len(s.Scale))
	}
	return &s, nil
}

// Dim returns the number of features the scaler was fit on.
func (s *StandardScaler) Dim() int {
	return len(s.Mean)
}

// Transform returns a new, scaled vector. x is not modified.
func (s *StandardScaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: got %d features, want %d", len(x), len(s.Mean))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (v - s.Mean[i]) / scale
	}
	return out, nil
}

// DecodeFeatureNames parses a feature list artifact: a JSON array of names.
func DecodeFeatureNames(data []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode feature names: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("decode feature names: list is empty")
	}
	return names, nil
}
