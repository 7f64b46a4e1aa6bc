package decider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"upright/internal/config"
	"upright/internal/logging"
	"upright/internal/services"
)

func noSleep(retry *retryPolicy) {
	retry.sleeper = func(time.Duration) {}
}

func TestOllamaDecide(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "rotator" || req.Stream || len(req.Images) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		raw, _ := base64.StdEncoding.DecodeString(req.Images[0])
		if string(raw) != "pixels" {
			t.Errorf("unexpected image payload %q", raw)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: `{"rotation":"270"}`})
	}))
	defer server.Close()

	o := NewOllama(OllamaConfig{BaseURL: server.URL + "/", Model: "rotator", Prompt: "p"}, logging.NewNop())
	noSleep(&o.retry)

	got, err := o.Decide(context.Background(), Image{Name: "a.jpg", Data: []byte("pixels")})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if got != Angle270 {
		t.Fatalf("expected 270, got %d", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry after 503, got %d calls", calls.Load())
	}
}

func TestOllamaDecideRejectsClientErrorsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	o := NewOllama(OllamaConfig{BaseURL: server.URL, Model: "missing"}, logging.NewNop())
	noSleep(&o.retry)
	if _, err := o.Decide(context.Background(), Image{Data: []byte("x")}); !errors.Is(err, services.ErrDecision) {
		t.Fatalf("expected decision failure, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected no retries for 404, got %d calls", calls.Load())
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"rotator:latest","model":"rotator:latest"}]}`))
	}))
	defer server.Close()

	if err := NewOllama(OllamaConfig{BaseURL: server.URL, Model: "rotator"}, nil).HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	err := NewOllama(OllamaConfig{BaseURL: server.URL, Model: "other"}, nil).HealthCheck(context.Background())
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected missing model error, got %v", err)
	}
}

func TestHTTPDecide(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req httpDecideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		raw, _ := base64.StdEncoding.DecodeString(req.Image)
		rotation := 0
		if string(raw) == "sideways" {
			rotation = 90
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"rotation": rotation})
	}))
	defer server.Close()

	h := NewHTTP(HTTPConfig{URL: server.URL, APIKey: "secret"}, logging.NewNop())
	got, err := h.Decide(context.Background(), Image{Data: []byte("sideways")})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if got != Angle90 {
		t.Fatalf("expected 90, got %d", got)
	}
	if err := h.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy endpoint, got %v", err)
	}
}

func TestHTTPDecideInvalidShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rotation":"sideways"}`))
	}))
	defer server.Close()

	_, err := NewHTTP(HTTPConfig{URL: server.URL}, nil).Decide(context.Background(), Image{Data: []byte("x")})
	if !errors.Is(err, services.ErrDecision) {
		t.Fatalf("expected decision failure, got %v", err)
	}
}

func TestHTTPHealthCheckUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	if err := NewHTTP(HTTPConfig{URL: url, Timeout: time.Second}, nil).HealthCheck(context.Background()); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	p := retryPolicy{attempts: 5, baseDelay: time.Second, maxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestTransportAttemptsBoundCallsPerDecision(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	for _, attempts := range []int{1, 2, 4} {
		calls.Store(0)
		d := NewHTTP(HTTPConfig{URL: server.URL, Attempts: attempts}, logging.NewNop())
		noSleep(&d.retry)
		if _, err := d.Decide(context.Background(), Image{Data: []byte("x")}); !errors.Is(err, services.ErrDecision) {
			t.Fatalf("attempts=%d: expected decision failure, got %v", attempts, err)
		}
		if got := calls.Load(); got != int32(attempts) {
			t.Fatalf("attempts=%d: expected %d calls, got %d", attempts, attempts, got)
		}
	}
}

func TestNewPassesTransportAttempts(t *testing.T) {
	cfg := config.Default().Decider
	cfg.Kind = config.DeciderOllama
	cfg.TransportAttempts = 1
	d, err := New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o, ok := d.(*Ollama)
	if !ok {
		t.Fatalf("expected *Ollama, got %T", d)
	}
	if o.retry.attempts != 1 {
		t.Fatalf("expected 1 transport attempt, got %d", o.retry.attempts)
	}
}
