package processing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/plexity/errors"
)

// dumpable stands in for a typed client response that renders itself as a mapping.
type dumpable struct {
	mapping map[string]any
}

func (d dumpable) Dump() map[string]any {
	return d.mapping
}

func TestExtractResponseShapes(t *testing.T) {
	tests := []struct {
		name       string
		completion any
		want       any
	}{
		{
			name: "message-wrapped content",
			completion: map[string]any{
				"model":     "m",
				"choices":   []any{map[string]any{"message": map[string]any{"role": "assistant", "content": "X"}}},
				"citations": []any{"https://example.com"},
				"usage":     map[string]any{"total_tokens": 12.0},
			},
			want: "X",
		},
		{
			name:       "bare text under message",
			completion: map[string]any{"choices": []any{map[string]any{"message": "plain"}}},
			want:       "plain",
		},
		{
			name:       "choice is the text",
			completion: map[string]any{"choices": []any{"direct"}},
			want:       "direct",
		},
		{
			name:       "null choice",
			completion: map[string]any{"choices": []any{nil}},
			want:       nil,
		},
		{
			name:       "empty choices",
			completion: map[string]any{"choices": []any{}},
			want:       nil,
		},
		{
			name:       "choices is not a list",
			completion: map[string]any{"choices": "oops"},
			want:       nil,
		},
		{
			name:       "choice without message",
			completion: map[string]any{"choices": []any{map[string]any{"index": 0.0}}},
			want:       nil,
		},
		{
			name:       "only the first choice counts",
			completion: map[string]any{"choices": []any{"first", "second"}},
			want:       "first",
		},
		{
			name: "structured value is dumped",
			completion: dumpable{mapping: map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": "dumped"}}},
			}},
			want: "dumped",
		},
		{
			name: "dump with typed choices list",
			completion: dumpable{mapping: map[string]any{
				"choices": []map[string]any{{"message": map[string]any{"content": "X"}}},
			}},
			want: "X",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := Extract(tt.completion, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, item.Response)
		})
	}
}

func TestExtractEchoesRequest(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "Be terse"},
		{Role: RoleUser, Content: "Explain X"},
	}
	prompt := "Explain X"
	completion := map[string]any{
		"id":        "abc",
		"model":     "sonar",
		"choices":   []any{map[string]any{"message": map[string]any{"content": "X is..."}}},
		"citations": []any{"https://a.example", "https://b.example"},
		"usage":     map[string]any{"prompt_tokens": 5.0, "completion_tokens": 7.0},
	}

	item, err := Extract(completion, messages, &prompt)
	require.NoError(t, err)

	assert.Equal(t, &prompt, item.Prompt)
	assert.Equal(t, messages, item.Messages)
	assert.Equal(t, "sonar", item.Model)
	assert.Equal(t, "X is...", item.Response)
	assert.Equal(t, completion["citations"], item.Citations)
	assert.Equal(t, completion["usage"], item.Usage)
}

func TestExtractKeepsNullsInRecord(t *testing.T) {
	item, err := Extract(map[string]any{}, []Message{{Role: RoleUser, Content: "hi"}}, nil)
	require.NoError(t, err)

	body, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"prompt": null,
		"messages": [{"role": "user", "content": "hi"}],
		"model": null,
		"response": null,
		"citations": null,
		"usage": null
	}`, string(body))
}

func TestExtractUnexpectedShape(t *testing.T) {
	for _, completion := range []any{nil, "text", 42, []any{"a"}, map[string]string{"model": "m"}} {
		item, err := Extract(completion, nil, nil)
		assert.Nil(t, item)
		require.Error(t, err, "completion %#v", completion)
		assert.True(t, errors.Is(err, errors.ErrUnexpectedResponseShape))
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, shapeStructured, classify(dumpable{}))
	assert.Equal(t, shapeMapping, classify(map[string]any{}))
	assert.Equal(t, shapeNeither, classify(struct{}{}))
	assert.Equal(t, shapeNeither, classify(nil))
}
