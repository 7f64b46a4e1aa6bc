package decider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"upright/internal/logging"
	"upright/internal/services"
)

// OllamaConfig configures the Ollama API decider.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Prompt  string
	Timeout time.Duration

	// Attempts bounds transport-level retries inside one decision.
	Attempts int
}

// Ollama asks a local Ollama server through /api/generate.
type Ollama struct {
	cfg        OllamaConfig
	httpClient *http.Client
	retry      retryPolicy
	logger     *slog.Logger
}

// NewOllama constructs an Ollama decider.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Ollama{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      defaultRetryPolicy().withAttempts(cfg.Attempts),
		logger:     logging.NewComponentLogger(logger, "decider.ollama"),
	}
}

type ollamaGenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images"`
	Format  json.RawMessage `json:"format"`
	Stream  bool            `json:"stream"`
	Options map[string]any  `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Decide sends one generate request and parses the structured answer.
func (o *Ollama) Decide(ctx context.Context, img Image) (Angle, error) {
	payload := ollamaGenerateRequest{
		Model:   o.cfg.Model,
		Prompt:  o.cfg.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(img.Data)},
		Format:  json.RawMessage(rotationSchema),
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, decisionError("ollama", "encode request", err)
	}

	var answer ollamaGenerateResponse
	err = o.retry.do(ctx, func() error {
		body, err := o.send(ctx, http.MethodPost, "/api/generate", encoded)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &answer); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, decisionError("ollama", "generate", err)
	}
	if msg := strings.TrimSpace(answer.Error); msg != "" {
		return 0, decisionError("ollama", "generate", fmt.Errorf("api error: %s", msg))
	}

	angle, err := parseRotation(answer.Response)
	if err != nil {
		return 0, decisionError("ollama", "parse response", err)
	}
	o.logger.Debug("ollama decision", logging.String("image", img.Name), logging.Int(logging.FieldAngle, int(angle)))
	return angle, nil
}

// HealthCheck verifies the server answers and has the configured model.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	body, err := o.send(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "decider", "health", "ollama unreachable at "+o.cfg.BaseURL, err)
	}
	var tags ollamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return services.Wrap(services.ErrExternalTool, "decider", "health", "decode /api/tags", err)
	}
	want := o.cfg.Model
	for _, m := range tags.Models {
		for _, name := range []string{m.Name, m.Model} {
			if name == want || strings.TrimSuffix(name, ":latest") == want {
				return nil
			}
		}
	}
	return services.Wrap(services.ErrExternalTool, "decider", "health", fmt.Sprintf("model %q not installed", want), nil)
}

func (o *Ollama) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	endpoint, err := url.JoinPath(o.cfg.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return doRequest(o.httpClient, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error (timeout=%s): %w", client.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       snippet(string(body)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
