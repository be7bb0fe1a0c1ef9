// Package validation holds the checks run on a built request before it is
// sent: currently a tiktoken-based estimate of the prompt size against the
// configured context window.
package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/errors"
)

// FallbackEncoding is used for models tiktoken does not know, which
// includes every Perplexity model.
const FallbackEncoding = "cl100k_base"

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// TokenCounter estimates message sizes.
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter returns a counter for model, falling back to
// FallbackEncoding when the model has no registered encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(FallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
		}
	}
	return &TokenCounter{encoding: &tiktokenWrapper{encoding}}, nil
}

// NewTokenCounterWithTokenizer builds a counter over an existing tokenizer.
func NewTokenCounterWithTokenizer(tok Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: tok}
}

// CountTokens counts the tokens in a single message's content.
func (tc *TokenCounter) CountTokens(msg processing.Message) int {
	return tc.encoding.CountTokens(msg.Content)
}

// CountPayloadTokens counts the tokens across every message of the payload.
func (tc *TokenCounter) CountPayloadTokens(p processing.Payload) int {
	total := 0
	for _, msg := range p.Messages {
		total += tc.CountTokens(msg)
	}
	return total
}

// ValidateTokens checks that the estimated prompt plus the requested
// completion budget fits in maxContextTokens. It returns the estimate so
// callers can record it even when the check passes.
func (tc *TokenCounter) ValidateTokens(p processing.Payload, maxContextTokens int) (int, error) {
	if maxContextTokens <= 0 {
		return 0, errors.NewConfigError("invalid max_context_tokens: must be greater than 0", nil)
	}

	prompt := tc.CountPayloadTokens(p)
	total := prompt
	if p.MaxTokens != nil && *p.MaxTokens > 0 {
		total += *p.MaxTokens
	}

	if total > maxContextTokens {
		return prompt, errors.NewInvalidInputError(
			fmt.Sprintf("total tokens (%d) exceeds max context length (%d)", total, maxContextTokens),
			map[string]interface{}{
				"prompt_tokens":      prompt,
				"total_tokens":       total,
				"max_context_tokens": maxContextTokens,
			},
		)
	}
	return prompt, nil
}
