package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

const (
	defaultEndpoint = "https://api.perplexity.ai"
	defaultTimeout  = 120 * time.Second

	// maxErrorBody bounds how much of a failed response is kept in the error
	maxErrorBody = 2048
)

// PerplexityConfig configures the native HTTP client.
type PerplexityConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// PerplexityClient calls POST {endpoint}/chat/completions.
type PerplexityClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPerplexityClient creates a client. The API key is required.
func NewPerplexityClient(cfg PerplexityConfig, logger *zap.Logger) (*PerplexityClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("perplexity api key not set (config provider.api_key or %s)", APIKeyEnv), nil)
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &PerplexityClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Name implements CompletionClient.
func (c *PerplexityClient) Name() string {
	return "perplexity"
}

// Complete implements CompletionClient. A JSON object body is returned as a
// *Completion; any other JSON value is returned as decoded.
func (c *PerplexityClient) Complete(ctx context.Context, payload processing.Payload) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewTransportError(c.Name(), fmt.Errorf("encode payload: %w", err))
	}

	url := c.endpoint + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewTransportError(c.Name(), fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("sending completion request",
		zap.String("url", url),
		zap.String("model", payload.Model),
		zap.Int("messages", len(payload.Messages)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, errors.NewTransportError(c.Name(), &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, errors.NewTransportError(c.Name(), fmt.Errorf("decode response: %w", err))
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded, nil
	}
	return NewCompletion(obj), nil
}

// StatusError is returned (wrapped in a TransportFailure) for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Completion is a decoded chat-completion response.
type Completion struct {
	ID    string
	Model string
	raw   map[string]any
}

// NewCompletion wraps a decoded response object.
func NewCompletion(raw map[string]any) *Completion {
	c := &Completion{raw: raw}
	c.ID, _ = raw["id"].(string)
	c.Model, _ = raw["model"].(string)
	return c
}

// Dump returns the response as a plain mapping. A nil Completion dumps to
// an empty mapping.
func (c *Completion) Dump() map[string]any {
	if c == nil || c.raw == nil {
		return map[string]any{}
	}
	return c.raw
}
