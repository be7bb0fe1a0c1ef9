package processing

import (
	"fmt"
	"strings"

	"github.com/teilomillet/plexity/errors"
)

// inputShape is one of the two accepted input shapes, resolved once by
// resolveShape so the exclusivity rule lives in a single place.
type inputShape interface {
	normalize() ([]Message, *string, error)
}

// explicitMessages is the shape carrying a "messages" list.
type explicitMessages struct {
	raw    any
	system string
}

// simplePrompt is the shape carrying a single "prompt".
type simplePrompt struct {
	raw    any
	system string
}

// resolveShape picks the explicit-messages shape whenever "messages" is set,
// and falls back to the simple-prompt shape otherwise.
func resolveShape(in RawInput) (inputShape, error) {
	system, err := optionalString(in, FieldSystemPrompt)
	if err != nil {
		return nil, err
	}
	if raw := in[FieldMessages]; truthy(raw) {
		return explicitMessages{raw: raw, system: system}, nil
	}
	return simplePrompt{raw: in[FieldPrompt], system: system}, nil
}

// Normalize turns the input into an ordered message sequence and the
// primary prompt: the first user message, or nil when there is none.
func Normalize(in RawInput) ([]Message, *string, error) {
	shape, err := resolveShape(in)
	if err != nil {
		return nil, nil, err
	}
	return shape.normalize()
}

func (s explicitMessages) normalize() ([]Message, *string, error) {
	entries, ok := asList(s.raw)
	if !ok {
		return nil, nil, errors.NewInvalidInputError("messages must be a list of objects", map[string]interface{}{
			"field": FieldMessages,
			"type":  fmt.Sprintf("%T", s.raw),
		})
	}

	messages := make([]Message, 0, len(entries)+1)
	for i, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, nil, errors.NewInvalidInputError(
				fmt.Sprintf("message at position %d must be an object with role and content", i),
				map[string]interface{}{"position": i},
			)
		}

		role := Role(strings.ToLower(strings.TrimSpace(stringify(obj["role"]))))
		if !validRoles[role] {
			return nil, nil, errors.NewInvalidInputError(
				fmt.Sprintf("invalid role at position %d: %q; accepted values: %v", i, role, ValidRoles()),
				map[string]interface{}{
					"position": i,
					"role":     string(role),
					"accepted": ValidRoles(),
				},
			)
		}

		content, ok := obj["content"].(string)
		if !ok || strings.TrimSpace(content) == "" {
			return nil, nil, errors.NewInvalidInputError(
				fmt.Sprintf("message at position %d must have textual content", i),
				map[string]interface{}{"position": i},
			)
		}

		messages = append(messages, Message{Role: role, Content: content})
	}

	// The system prompt is prepended even if the list already has a system
	// entry; nothing is deduplicated.
	if s.system != "" {
		messages = append([]Message{{Role: RoleSystem, Content: s.system}}, messages...)
	}

	return messages, firstUserContent(messages), nil
}

func (s simplePrompt) normalize() ([]Message, *string, error) {
	prompt, ok := s.raw.(string)
	if !ok || strings.TrimSpace(prompt) == "" {
		return nil, nil, errors.NewInvalidInputError("provide at least a prompt or a messages list", map[string]interface{}{
			"fields": []string{FieldPrompt, FieldMessages},
		})
	}

	messages := make([]Message, 0, 2)
	if s.system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: s.system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	return messages, &prompt, nil
}

// asList accepts the list types a decoded or hand-built input can carry.
// Strings are not lists here even though they are sequences of bytes.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func firstUserContent(messages []Message) *string {
	for _, m := range messages {
		if m.Role == RoleUser {
			content := m.Content
			return &content
		}
	}
	return nil
}
