package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	linecasttls "github.com/HatiCode/linecast/pkg/tls"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, errors.New("no forecast"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "no forecast" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestHealthHandlerWithCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandlerWithCheck(func() error { return nil })(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("healthy: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	HealthHandlerWithCheck(func() error { return errors.New("down") })(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	h := BasicAuth("linecast", "admin", "secret")(okHandler())

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		want       int
	}{
		{name: "valid", user: "admin", pass: "secret", setAuth: true, want: http.StatusOK},
		{name: "wrong password", user: "admin", pass: "nope", setAuth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "secret", setAuth: true, want: http.StatusUnauthorized},
		{name: "missing", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/forecast", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestBasicAuth_Disabled(t *testing.T) {
	rec := httptest.NewRecorder()
	BasicAuth("linecast", "", "")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestBasicAuthFunc_Reload(t *testing.T) {
	user, pass := "", ""
	h := BasicAuthFunc("linecast", func() (string, string) { return user, pass })(okHandler())

	serve := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/forecast", nil)
		req.SetBasicAuth("ops", "s3cret")
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := serve(); code != http.StatusOK {
		t.Errorf("auth disabled: status = %d", code)
	}
	user, pass = "admin", "secret"
	if code := serve(); code != http.StatusUnauthorized {
		t.Errorf("old credentials: status = %d", code)
	}
	user, pass = "ops", "s3cret"
	if code := serve(); code != http.StatusOK {
		t.Errorf("new credentials: status = %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(okHandler())

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast", nil))
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}

	rec := httptest.NewRecorder()
	RateLimit(0, 0)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("disabled limiter status = %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()
	RecoveryMiddleware(nil)(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v", order)
	}
}

func TestNewClient_Plain(t *testing.T) {
	client, err := NewClient(linecasttls.Config{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if client.Transport.(*http.Transport).TLSClientConfig != nil {
		t.Error("plain client should not carry a TLS config")
	}

	if _, err := NewClient(linecasttls.Config{Enabled: true}, 0); err == nil {
		t.Error("expected error for enabled TLS without a CA")
	}
}
