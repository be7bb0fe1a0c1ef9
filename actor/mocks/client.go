package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/plexity/actor/processing"
)

// MockClient is a scripted completion client.
type MockClient struct {
	CompleteFunc func(context.Context, processing.Payload) (any, error)
	ClientName   string

	mu       sync.Mutex
	payloads []processing.Payload
}

// NewMockClient returns a client answering every call with completion.
func NewMockClient(completion any) *MockClient {
	return &MockClient{
		CompleteFunc: func(context.Context, processing.Payload) (any, error) {
			return completion, nil
		},
	}
}

func (c *MockClient) Complete(ctx context.Context, payload processing.Payload) (any, error) {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	c.mu.Unlock()

	if c.CompleteFunc == nil {
		return map[string]any{}, nil
	}
	return c.CompleteFunc(ctx, payload)
}

func (c *MockClient) Name() string {
	if c.ClientName == "" {
		return "mock"
	}
	return c.ClientName
}

// Payloads returns every payload sent so far.
func (c *MockClient) Payloads() []processing.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]processing.Payload(nil), c.payloads...)
}

// Calls is the number of Complete calls.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}
