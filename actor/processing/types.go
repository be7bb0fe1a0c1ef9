// Package processing turns a loosely-typed job input into a validated
// chat-completion request, and a provider completion back into a flat
// dataset record.
//
// The three stages are pure functions over their inputs:
//
//	Normalize  input -> ordered messages + primary prompt
//	Build      input -> Request (payload, messages, primary prompt)
//	Extract    completion -> DatasetItem
//
// Every validation failure is an errors.InvalidInput raised before any
// network call; a completion that cannot be read as a mapping is an
// errors.UnexpectedResponseShape.
package processing

import "sort"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

var validRoles = map[Role]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
	RoleTool:      true,
}

// ValidRoles returns the accepted roles in sorted order.
func ValidRoles() []string {
	roles := make([]string, 0, len(validRoles))
	for r := range validRoles {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)
	return roles
}

// Message is a single chat turn. Order within a sequence is significant;
// a system message, when present, comes first.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant tool"`
	Content string `json:"content" validate:"required"`
}

// RawInput is the job input as decoded from JSON. Two mutually exclusive
// shapes are accepted:
//   - explicit messages: "messages" (list of {role, content}) plus optional "systemPrompt"
//   - simple prompt: "prompt" plus optional "systemPrompt"
//
// Optional fields: model, temperature, topP, maxTokens, searchMode, returnRaw.
type RawInput map[string]any

// Input field names.
const (
	FieldPrompt       = "prompt"
	FieldSystemPrompt = "systemPrompt"
	FieldMessages     = "messages"
	FieldModel        = "model"
	FieldTemperature  = "temperature"
	FieldTopP         = "topP"
	FieldMaxTokens    = "maxTokens"
	FieldSearchMode   = "searchMode"
	FieldReturnRaw    = "returnRaw"
)

// Payload is the chat-completion request body. MaxTokens is omitted when
// the input did not set it; no field is ever sent as null.
type Payload struct {
	Model       string    `json:"model" validate:"required"`
	Messages    []Message `json:"messages" validate:"required,min=1,dive"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	SearchMode  string    `json:"search_mode" validate:"required"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Request is everything the rest of the run needs from the input.
type Request struct {
	Payload Payload

	// Messages is the normalized sequence, echoed into the dataset record
	Messages []Message

	// PrimaryPrompt is the first user message, nil when there is none
	PrimaryPrompt *string

	// ReturnRaw asks for the full completion to be stored as well
	ReturnRaw bool
}

// DatasetItem is the record pushed to the dataset, one per run. Unlike the
// payload, absent values are kept and serialized as null.
type DatasetItem struct {
	Prompt    *string   `json:"prompt"`
	Messages  []Message `json:"messages"`
	Model     any       `json:"model"`
	Response  any       `json:"response"`
	Citations any       `json:"citations"`
	Usage     any       `json:"usage"`
}
