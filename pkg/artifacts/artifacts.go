// Package artifacts resolves and loads the trained artifact set of a line:
// the regression model, its feature scaler and the ordered feature names.
//
// The three artifacts of one training run share a version identifier and are
// always resolved together. Resolve is called once at the start of a forecast
// run; nothing re-resolves mid-run, so a run never mixes artifacts from two
// training runs even if a new one lands while it is stepping.
//
// Repository is the seam between the forecast driver and artifact storage.
// FSRepository reads a models directory, MemoryRepository serves tests and
// embedded use, and Cache keeps recently loaded sets in an LRU.
package artifacts

import (
	"context"
	"fmt"
	"slices"
)

// Artifact kinds, also the file name prefixes used by FSRepository.
const (
	KindScaler   = "scaler"
	KindFeatures = "features"
	KindModel    = "model"
)

// Kinds lists every artifact kind a set requires.
var Kinds = []string{KindScaler, KindFeatures, KindModel}

// Model maps a scaled feature vector to a scalar prediction.
type Model interface {
	Predict(ctx context.Context, x []float64) (float64, error)
	Name() string
}

// Scaler is the deterministic transform fit during training.
type Scaler interface {
	Transform(x []float64) ([]float64, error)
}

// Set is one immutable, versioned artifact set. It is safe to share between
// concurrent runs.
type Set struct {
	Line         string
	Version      string
	Model        Model
	Scaler       Scaler
	FeatureNames []string
}

// Names returns a copy of the feature names.
func (s *Set) Names() []string {
	return slices.Clone(s.FeatureNames)
}

// Repository finds and loads artifact sets.
type Repository interface {
	// Latest returns the newest version for which every kind exists.
	Latest(ctx context.Context, line string) (string, error)
	// Load returns the artifact set of a version.
	Load(ctx context.Context, line, version string) (*Set, error)
}

// Resolve selects the newest complete version and loads it.
func Resolve(ctx context.Context, repo Repository, line string) (*Set, error) {
	version, err := repo.Latest(ctx, line)
	if err != nil {
		return nil, err
	}
	set, err := repo.Load(ctx, line, version)
	if err != nil {
		return nil, fmt.Errorf("load artifacts %s@%s: %w", line, version, err)
	}
	return set, nil
}

// ArtifactNotFoundError reports that a required artifact does not exist.
type ArtifactNotFoundError struct {
	Line    string
	Kind    string
	Version string
}

func (e *ArtifactNotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("artifacts: no %s artifact for line %q", e.Kind, e.Line)
	}
	return fmt.Sprintf("artifacts: no %s artifact for line %q version %q", e.Kind, e.Line, e.Version)
}
