package features

import "fmt"

// FeatureSchemaMismatchError reports that the trained feature list cannot be
// produced from the current buffer, or disagrees with the scaler or model.
// It always stops the run; features are never dropped or reordered to fit.
type FeatureSchemaMismatchError struct {
	Feature string
	Reason  string
}

func (e *FeatureSchemaMismatchError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("feature schema mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("feature schema mismatch: %q: %s", e.Feature, e.Reason)
}
