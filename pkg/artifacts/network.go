package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Layer is a fully connected layer. Weights are indexed [input][output].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// DenseNetwork is a feed-forward regression network exported from training.
// Build it with DecodeModel; it is read-only afterwards and safe for
// concurrent use.
type DenseNetwork struct {
	Layers []Layer `json:"layers"`

	// weights[i] is Layers[i].Weights as an in×out matrix.
	weights []*mat.Dense
	biases  []*mat.VecDense
}

type modelHeader struct {
	Type string `json:"type"`
}

// DecodeModel parses a model artifact. "dense" (the default) is evaluated in
// process; "remote" delegates each prediction to an HTTP endpoint.
// names is the feature list of the same version, sent along to remote models.
func DecodeModel(data []byte, names []string, client *http.Client) (Model, error) {
	var h modelHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}

	switch h.Type {
	case "", "dense":
		var n DenseNetwork
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("decode model: %w", err)
		}
		if err := n.validate(); err != nil {
			return nil, fmt.Errorf("decode model: %w", err)
		}
		n.build()
		return &n, nil

	case "remote":
		var spec RemoteSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("decode model: %w", err)
		}
		return NewRemoteModel(spec, names, client)

	default:
		return nil, fmt.Errorf("decode model: unknown type %q", h.Type)
	}
}

func (n *DenseNetwork) validate() error {
	if len(n.Layers) == 0 {
		return fmt.Errorf("network has no layers")
	}

	in := len(n.Layers[0].Weights)
	for i, l := range n.Layers {
		if len(l.Weights) != in {
			return fmt.Errorf("layer %d: %d weight rows, want %d", i, len(l.Weights), in)
		}
		if in == 0 {
			return fmt.Errorf("layer %d: no inputs", i)
		}
		out := len(l.Bias)
		for j, row := range l.Weights {
			if len(row) != out {
				return fmt.Errorf("layer %d: weight row %d has %d columns, want %d", i, j, len(row), out)
			}
		}
		if _, err := activation(l.Activation); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		in = out
	}
	if in != 1 {
		return fmt.Errorf("network has %d outputs, want 1", in)
	}
	return nil
}

// build converts the validated layers into matrices.
func (n *DenseNetwork) build() {
	n.weights = make([]*mat.Dense, len(n.Layers))
	n.biases = make([]*mat.VecDense, len(n.Layers))
	for i, l := range n.Layers {
		rows, cols := len(l.Weights), len(l.Bias)
		data := make([]float64, 0, rows*cols)
		for _, row := range l.Weights {
			data = append(data, row...)
		}
		n.weights[i] = mat.NewDense(rows, cols, data)
		n.biases[i] = mat.NewVecDense(cols, l.Bias)
	}
}

// Name returns the model identifier.
func (n *DenseNetwork) Name() string {
	return "dense"
}

// Dim returns the input width.
func (n *DenseNetwork) Dim() int {
	return len(n.Layers[0].Weights)
}

// Predict runs a forward pass: act = f(Wᵀ·act + b) per layer.
func (n *DenseNetwork) Predict(ctx context.Context, x []float64) (float64, error) {
	if len(x) != n.Dim() {
		return 0, fmt.Errorf("dense: got %d inputs, want %d", len(x), n.Dim())
	}

	act := mat.NewVecDense(len(x), slices.Clone(x))
	for i, l := range n.Layers {
		f, _ := activation(l.Activation)
		next := mat.NewVecDense(len(l.Bias), nil)
		next.MulVec(n.weights[i].T(), act)
		next.AddVec(next, n.biases[i])
		for j := 0; j < next.Len(); j++ {
			next.SetVec(j, f(next.AtVec(j)))
		}
		act = next
	}
	return act.AtVec(0), nil
}

func activation(name string) (func(float64) float64, error) {
	switch name {
	case "", "linear":
		return func(v float64) float64 { return v }, nil
	case "relu":
		return func(v float64) float64 { return math.Max(0, v) }, nil
	case "tanh":
		return math.Tanh, nil
	case "sigmoid":
		return func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}
