package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// RemoteSpec is the body of a "remote" model artifact.
type RemoteSpec struct {
	Endpoint string `json:"endpoint"`
	// ValuePath is a gjson path to the prediction in the response body.
	// Defaults to "prediction".
	ValuePath string `json:"value_path"`
	// Timeout bounds each call, e.g. "5s". Unset leaves only the client's
	// own timeout.
	Timeout string `json:"timeout"`
}

// RemoteModel delegates predictions to an external inference service, which
// lets a line use any model runtime that can answer the HTTP contract:
//
//	POST {endpoint}
//	{"features": {"hour": 0.12, ...}, "vector": [0.12, ...]}
//
//	200 OK
//	{"prediction": 118.4}
type RemoteModel struct {
	endpoint  string
	valuePath string
	timeout   time.Duration
	names     []string
	client    *http.Client
}

type remoteRequest struct {
	Features map[string]float64 `json:"features"`
	Vector   []float64          `json:"vector"`
}

// NewRemoteModel creates a RemoteModel. A nil client gets a default one.
// The artifact's timeout bounds every call, whichever client is used.
func NewRemoteModel(spec RemoteSpec, names []string, client *http.Client) (*RemoteModel, error) {
	if spec.Endpoint == "" {
		return nil, fmt.Errorf("remote model: endpoint is required")
	}
	if spec.ValuePath == "" {
		spec.ValuePath = "prediction"
	}

	var timeout time.Duration
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("remote model: timeout: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("remote model: timeout must be > 0, got %v", d)
		}
		timeout = d
	}

	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}

	return &RemoteModel{
		endpoint:  spec.Endpoint,
		valuePath: spec.ValuePath,
		timeout:   timeout,
		names:     names,
		client:    client,
	}, nil
}

// Name returns the model identifier.
func (m *RemoteModel) Name() string {
	return "remote"
}

// Predict posts the scaled vector and extracts the prediction.
func (m *RemoteModel) Predict(ctx context.Context, x []float64) (float64, error) {
	if len(m.names) > 0 && len(x) != len(m.names) {
		return 0, fmt.Errorf("remote: got %d inputs, want %d", len(x), len(m.names))
	}

	req := remoteRequest{Vector: x}
	if len(m.names) > 0 {
		req.Features = make(map[string]float64, len(x))
		for i, name := range m.names {
			req.Features[name] = x[i]
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("remote: marshal request: %w", err)
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("remote: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("remote: http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("remote: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(respBody) > 1024 {
			respBody = respBody[:1024]
		}
		return 0, fmt.Errorf("remote: http %d: %s", resp.StatusCode, string(respBody))
	}

	if !gjson.ValidBytes(respBody) {
		return 0, fmt.Errorf("remote: response is not valid JSON")
	}
	value := gjson.GetBytes(respBody, m.valuePath)
	if !value.Exists() {
		return 0, fmt.Errorf("remote: %q not found in response", m.valuePath)
	}
	if value.Type != gjson.Number {
		return 0, fmt.Errorf("remote: %q is %s, want number", m.valuePath, value.Type)
	}

	return value.Float(), nil
}
