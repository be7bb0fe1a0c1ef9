package processing

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/teilomillet/plexity/errors"
)

// Defaults applied when the input leaves a field unset.
const (
	DefaultModel       = "llama-3.1-sonar-small-128k-online"
	DefaultTemperature = 0.2
	DefaultTopP        = 0.95
	DefaultSearchMode  = "auto"
)

var validate = validator.New()

// Build normalizes the input and assembles the request payload, applying
// defaults and coercing the loosely-typed numeric fields.
func Build(in RawInput) (*Request, error) {
	messages, primary, err := Normalize(in)
	if err != nil {
		return nil, err
	}

	model, err := optionalString(in, FieldModel)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}

	temperature, err := floatOrDefault(in, FieldTemperature, DefaultTemperature)
	if err != nil {
		return nil, err
	}

	topP, err := floatOrDefault(in, FieldTopP, DefaultTopP)
	if err != nil {
		return nil, err
	}

	searchMode, err := optionalString(in, FieldSearchMode)
	if err != nil {
		return nil, err
	}
	if searchMode == "" {
		searchMode = DefaultSearchMode
	}

	maxTokens, err := optionalInt(in, FieldMaxTokens)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		TopP:        topP,
		SearchMode:  searchMode,
		MaxTokens:   maxTokens,
	}
	if err := validate.Struct(payload); err != nil {
		return nil, errors.NewError(errors.InvalidInput, "request payload failed validation", map[string]interface{}{
			"violations": violations(err),
		}, err)
	}

	return &Request{
		Payload:       payload,
		Messages:      messages,
		PrimaryPrompt: primary,
		ReturnRaw:     truthy(in[FieldReturnRaw]),
	}, nil
}

func violations(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return out
}
