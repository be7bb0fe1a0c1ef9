package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/mocks"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/actor/provider"
	"github.com/teilomillet/plexity/actor/validation"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu     sync.Mutex
	phases []Phase
	last   error
}

func (r *recorder) Observe(runID string, phase Phase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
	r.last = err
}

type fixture struct {
	client  *mocks.MockClient
	dataset *mocks.MemoryDataset
	kv      *mocks.MemoryKeyValueStore
	metrics *metrics.Metrics
	phases  *recorder
	runner  *Runner
}

func newFixture(t *testing.T, completion any, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		client:  mocks.NewMockClient(completion),
		dataset: &mocks.MemoryDataset{},
		kv:      &mocks.MemoryKeyValueStore{},
		metrics: metrics.NewMetrics(),
		phases:  &recorder{},
	}
	o := Options{
		Client:    f.client,
		Dataset:   f.dataset,
		KeyValue:  f.kv,
		Metrics:   f.metrics,
		Observers: []Observer{f.phases},
		Logger:    zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	r, err := New(o)
	require.NoError(t, err)
	f.runner = r
	return f
}

func completionWith(content string) map[string]any {
	return map[string]any{
		"id":        "cmpl-1",
		"model":     "sonar",
		"choices":   []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		"citations": []any{"https://example.com"},
		"usage":     map[string]any{"prompt_tokens": 3.0, "completion_tokens": 4.0, "total_tokens": 7.0},
	}
}

func TestRunPushesRecord(t *testing.T) {
	f := newFixture(t, completionWith("X is..."))

	item, err := f.runner.Run(context.Background(), processing.RawInput{
		"prompt":       "Explain X",
		"systemPrompt": "Be terse",
	})
	require.NoError(t, err)

	require.Len(t, f.dataset.Items(), 1)
	assert.Same(t, item, f.dataset.Items()[0])
	assert.Equal(t, "X is...", item.Response)
	assert.Equal(t, "sonar", item.Model)
	require.NotNil(t, item.Prompt)
	assert.Equal(t, "Explain X", *item.Prompt)
	assert.Len(t, item.Messages, 2)

	payloads := f.client.Payloads()
	require.Len(t, payloads, 1)
	assert.Equal(t, processing.DefaultModel, payloads[0].Model)
	assert.Equal(t, item.Messages, payloads[0].Messages)

	assert.Equal(t, 0, f.kv.Len(), "returnRaw unset must not touch the key-value store")

	assert.Equal(t, []Phase{PhaseBuilding, PhaseCompleting, PhaseExtracting, PhaseStoring, PhaseSucceeded}, f.phases.phases)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 7.0, testutil.ToFloat64(f.metrics.UsageTokens.WithLabelValues("total_tokens")))
}

func TestRunStoresRawCompletion(t *testing.T) {
	raw := completionWith("answer")
	f := newFixture(t, provider.NewCompletion(raw))

	_, err := f.runner.Run(context.Background(), processing.RawInput{"prompt": "q", "returnRaw": true})
	require.NoError(t, err)

	stored, ok := f.kv.Value(RawCompletionKey)
	require.True(t, ok)
	assert.Equal(t, raw, stored)
	assert.Len(t, f.dataset.Items(), 1)
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name     string
		input    processing.RawInput
		client   func(context.Context, processing.Payload) (any, error)
		wantType errors.ErrorType
		wantCall bool
	}{
		{
			name:     "invalid input never calls the provider",
			input:    processing.RawInput{},
			wantType: errors.InvalidInput,
		},
		{
			name:  "transport failure",
			input: processing.RawInput{"prompt": "q", "returnRaw": true},
			client: func(context.Context, processing.Payload) (any, error) {
				return nil, errors.NewTransportError("mock", fmt.Errorf("connection reset"))
			},
			wantType: errors.TransportFailure,
			wantCall: true,
		},
		{
			name:  "untyped client error is wrapped as transport failure",
			input: processing.RawInput{"prompt": "q"},
			client: func(context.Context, processing.Payload) (any, error) {
				return nil, fmt.Errorf("boom")
			},
			wantType: errors.TransportFailure,
			wantCall: true,
		},
		{
			name:  "unexpected response shape",
			input: processing.RawInput{"prompt": "q", "returnRaw": true},
			client: func(context.Context, processing.Payload) (any, error) {
				return "plain text", nil
			},
			wantType: errors.UnexpectedResponseShape,
			wantCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.client.CompleteFunc = tt.client

			item, err := f.runner.Run(context.Background(), tt.input)
			assert.Nil(t, item)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.TypeOf(err))

			assert.Empty(t, f.dataset.Items(), "nothing is pushed when a run fails")
			assert.Equal(t, 0, f.kv.Len())
			assert.Equal(t, tt.wantCall, f.client.Calls() > 0)

			assert.Equal(t, PhaseFailed, f.phases.phases[len(f.phases.phases)-1])
			assert.Equal(t, err, f.phases.last)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ErrorsTotal.WithLabelValues(string(tt.wantType))))
		})
	}
}

func TestRunTransportCauseIsReachable(t *testing.T) {
	f := newFixture(t, nil)
	f.client.CompleteFunc = func(ctx context.Context, _ processing.Payload) (any, error) {
		<-ctx.Done()
		return nil, errors.NewTransportError("mock", ctx.Err())
	}
	f.runner.opts.Timeout = 20 * time.Millisecond

	_, err := f.runner.Run(context.Background(), processing.RawInput{"prompt": "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransportFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunStorageFailures(t *testing.T) {
	t.Run("dataset failure skips the raw completion", func(t *testing.T) {
		f := newFixture(t, completionWith("a"))
		f.dataset.Err = fmt.Errorf("disk full")

		_, err := f.runner.Run(context.Background(), processing.RawInput{"prompt": "q", "returnRaw": true})
		require.Error(t, err)
		assert.Equal(t, errors.StorageError, errors.TypeOf(err))
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, 0, f.kv.Len())
	})

	t.Run("key-value failure after the push", func(t *testing.T) {
		f := newFixture(t, completionWith("a"))
		f.kv.Err = errors.NewStorageError("redis", "set value", fmt.Errorf("READONLY"))

		_, err := f.runner.Run(context.Background(), processing.RawInput{"prompt": "q", "returnRaw": true})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrStorage))
		assert.Len(t, f.dataset.Items(), 1)
	})
}

func TestRunTokenPreflight(t *testing.T) {
	words := validation.NewTokenCounterWithTokenizer(&wordTokenizer{})

	t.Run("over the limit fails before the call", func(t *testing.T) {
		f := newFixture(t, completionWith("a"), func(o *Options) {
			o.TokenCounter = words
			o.MaxContextTokens = 5
		})

		_, err := f.runner.Run(context.Background(), processing.RawInput{
			"prompt":    "one two three",
			"maxTokens": 3,
		})
		require.Error(t, err)
		assert.Equal(t, errors.InvalidInput, errors.TypeOf(err))
		assert.Equal(t, 0, f.client.Calls())
		assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.PromptTokensEstimated))
	})

	t.Run("within the limit proceeds", func(t *testing.T) {
		f := newFixture(t, completionWith("a"), func(o *Options) {
			o.TokenCounter = words
			o.MaxContextTokens = 100
		})

		_, err := f.runner.Run(context.Background(), processing.RawInput{"prompt": "one two three"})
		require.NoError(t, err)
		assert.Contains(t, f.phases.phases, PhasePreflight)
		assert.Equal(t, 1, f.client.Calls())
	})
}

func TestRunLogsRunID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := newFixture(t, completionWith("a"), func(o *Options) {
		o.Logger = zap.New(core)
	})

	_, err := f.runner.RunWithID(context.Background(), "run-42", processing.RawInput{"prompt": "q"})
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("run_id", "run-42")).All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "run started", entries[0].Message)
	assert.Equal(t, "run finished", entries[len(entries)-1].Message)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Equal(t, errors.ConfigError, errors.TypeOf(err))

	_, err = New(Options{Client: mocks.NewMockClient(nil)})
	require.Error(t, err)
}

type wordTokenizer struct{}

func (wordTokenizer) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func (wordTokenizer) Decode([]int) string { return "" }

func (w wordTokenizer) CountTokens(text string) int { return len(w.Encode(text, nil, nil)) }
