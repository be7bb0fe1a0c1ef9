// Package provider implements the completion clients the job can call.
//
// Two backends are available:
//   - perplexity: the native Perplexity chat-completions HTTP API
//   - gollm: any provider supported by github.com/teilomillet/gollm
//
// Both satisfy CompletionClient. The value returned by Complete is left
// loosely typed on purpose: it is either a *Completion (which implements
// Dump), a plain mapping, or whatever the backend decoded, and the
// extractor decides whether it can be read.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// APIKeyEnv is read when the configuration carries no Perplexity API key.
const APIKeyEnv = "PERPLEXITY_API_KEY"

// CompletionClient sends one chat-completion request.
type CompletionClient interface {
	// Complete sends the payload and returns the provider's completion.
	// Every failure is reported as an errors.TransportFailure.
	Complete(ctx context.Context, payload processing.Payload) (any, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// New builds the client selected by cfg.Type.
func New(cfg config.ProviderConfig, logger *zap.Logger) (CompletionClient, error) {
	switch cfg.Type {
	case config.ProviderPerplexity, "":
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
		}
		return NewPerplexityClient(PerplexityConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   apiKey,
			Timeout:  cfg.Timeout,
		}, logger)

	case config.ProviderGollm:
		if cfg.Gollm == nil {
			return nil, errors.NewConfigError("gollm provider selected without a gollm section", nil)
		}
		llm, err := gollm.NewLLM(
			gollm.SetProvider(cfg.Gollm.Provider),
			gollm.SetModel(cfg.Gollm.Model),
			gollm.SetAPIKey(cfg.Gollm.APIKey),
		)
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("failed to initialize gollm provider %s", cfg.Gollm.Provider), err)
		}
		return NewGollmClient(llm, logger), nil

	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown provider type %q", cfg.Type), nil)
	}
}
