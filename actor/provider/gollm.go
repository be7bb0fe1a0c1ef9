package provider

import (
	"context"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// GollmClient sends the payload through a gollm.LLM. gollm returns only the
// generated text, so the completion is a mapping carrying the model and a
// single choice; citations and usage are absent. The model is fixed when the
// LLM is built, so the payload model is not sent.
type GollmClient struct {
	llm    gollm.LLM
	logger *zap.Logger
}

// NewGollmClient wraps an initialized gollm.LLM.
func NewGollmClient(llm gollm.LLM, logger *zap.Logger) *GollmClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GollmClient{llm: llm, logger: logger}
}

// Name implements CompletionClient.
func (c *GollmClient) Name() string {
	return "gollm:" + c.llm.GetProvider()
}

// Complete implements CompletionClient.
func (c *GollmClient) Complete(ctx context.Context, payload processing.Payload) (any, error) {
	c.llm.SetOption("temperature", payload.Temperature)
	c.llm.SetOption("top_p", payload.TopP)
	if payload.MaxTokens != nil {
		c.llm.SetOption("max_tokens", *payload.MaxTokens)
	}

	prompt := &gollm.Prompt{Messages: make([]gollm.PromptMessage, 0, len(payload.Messages))}
	for _, m := range payload.Messages {
		prompt.Messages = append(prompt.Messages, gollm.PromptMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	if payload.Model != "" && payload.Model != c.llm.GetModel() {
		c.logger.Warn("payload model ignored, gollm uses its configured model",
			zap.String("payload_model", payload.Model),
			zap.String("model", c.llm.GetModel()),
		)
	}

	c.logger.Debug("sending completion through gollm",
		zap.String("provider", c.llm.GetProvider()),
		zap.String("model", c.llm.GetModel()),
		zap.Int("messages", len(prompt.Messages)),
	)

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, errors.NewTransportError(c.Name(), err)
	}

	return map[string]any{
		"model": c.llm.GetModel(),
		"choices": []any{
			map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":    string(processing.RoleAssistant),
					"content": text,
				},
			},
		},
	}, nil
}
