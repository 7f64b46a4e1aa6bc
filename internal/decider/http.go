package decider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"upright/internal/logging"
	"upright/internal/services"
)

// HTTPConfig configures the generic HTTP decider.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration

	// Attempts bounds transport-level retries inside one decision.
	Attempts int
}

// HTTP posts {"image": "<base64>"} and expects {"rotation": <int>}.
type HTTP struct {
	cfg        HTTPConfig
	httpClient *http.Client
	retry      retryPolicy
	logger     *slog.Logger
}

// NewHTTP constructs a generic HTTP decider.
func NewHTTP(cfg HTTPConfig, logger *slog.Logger) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	return &HTTP{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      defaultRetryPolicy().withAttempts(cfg.Attempts),
		logger:     logging.NewComponentLogger(logger, "decider.http"),
	}
}

type httpDecideRequest struct {
	Image string `json:"image"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`
}

// Decide posts the image and parses the rotation field.
func (h *HTTP) Decide(ctx context.Context, img Image) (Angle, error) {
	encoded, err := json.Marshal(httpDecideRequest{
		Image: base64.StdEncoding.EncodeToString(img.Data),
		Name:  img.Name,
		Model: h.cfg.Model,
	})
	if err != nil {
		return 0, decisionError("http", "encode request", err)
	}

	var body []byte
	err = h.retry.do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(encoded))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		h.authorize(req)
		body, err = doRequest(h.httpClient, req)
		return err
	})
	if err != nil {
		return 0, decisionError("http", "request", err)
	}

	angle, err := parseRotation(string(body))
	if err != nil {
		return 0, decisionError("http", "parse response", err)
	}
	return angle, nil
}

// HealthCheck issues a GET against the endpoint; any non-5xx answer proves
// the service is reachable.
func (h *HTTP) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "decider", "health", "invalid decider.base_url", err)
	}
	h.authorize(req)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "decider", "health", "endpoint unreachable", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return services.Wrap(services.ErrExternalTool, "decider", "health", fmt.Sprintf("endpoint returned http %d", resp.StatusCode), nil)
	}
	return nil
}

func (h *HTTP) authorize(req *http.Request) {
	if key := strings.TrimSpace(h.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}
