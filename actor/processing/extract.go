package processing

import (
	"fmt"

	"github.com/teilomillet/plexity/errors"
)

// Dumper is implemented by completion values that can render themselves
// as a plain mapping.
type Dumper interface {
	Dump() map[string]any
}

// completionShape is the result of classifying a completion value.
type completionShape int

const (
	shapeNeither completionShape = iota
	shapeStructured
	shapeMapping
)

func classify(completion any) completionShape {
	switch completion.(type) {
	case Dumper:
		return shapeStructured
	case map[string]any:
		return shapeMapping
	default:
		return shapeNeither
	}
}

// ToMapping returns the completion as a plain mapping: the dump of a
// structured value, a mapping as is, and UnexpectedResponseShape otherwise.
func ToMapping(completion any) (map[string]any, error) {
	switch classify(completion) {
	case shapeStructured:
		return completion.(Dumper).Dump(), nil
	case shapeMapping:
		return completion.(map[string]any), nil
	default:
		return nil, errors.NewUnexpectedResponseError(fmt.Sprintf("%T", completion))
	}
}

// Extract builds the dataset record for a completion. It tolerates every
// choice shape the provider has shipped:
//
//	{"choices": [{"message": {"content": "text"}}]}
//	{"choices": [{"message": "text"}]}
//	{"choices": ["text"]} or {"choices": [null]}
//
// and only fails when the completion is not a mapping at all.
func Extract(completion any, messages []Message, primaryPrompt *string) (*DatasetItem, error) {
	mapping, err := ToMapping(completion)
	if err != nil {
		return nil, err
	}

	return &DatasetItem{
		Prompt:    primaryPrompt,
		Messages:  messages,
		Model:     mapping["model"],
		Response:  responseText(primaryChoice(mapping)),
		Citations: mapping["citations"],
		Usage:     mapping["usage"],
	}, nil
}

// primaryChoice is the first element of a non-empty "choices" list, or nil.
func primaryChoice(mapping map[string]any) any {
	choices, ok := asList(mapping["choices"])
	if !ok || len(choices) == 0 {
		return nil
	}
	return choices[0]
}

func responseText(choice any) any {
	obj, ok := choice.(map[string]any)
	if !ok {
		return choice
	}

	block := obj["message"]
	if msg, ok := block.(map[string]any); ok {
		return msg["content"]
	}
	return block
}
