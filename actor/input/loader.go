// Package input locates and decodes the job input, and watches the input
// file for changes in watch mode.
package input

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
)

// Source describes where an input was read from.
type Source string

const (
	SourceEnv   Source = "env"
	SourceFile  Source = "file"
	SourceEmpty Source = "empty"
)

// Loader reads the input from, in order of precedence, the environment
// variable Env, the file at Path, or nothing at all (an empty input).
type Loader struct {
	Path string
	Env  string
}

// NewLoader returns the loader described by cfg.
func NewLoader(cfg *config.Config) *Loader {
	return &Loader{
		Path: cfg.InputPath(),
		Env:  cfg.Actor.InputEnv,
	}
}

// Load reads and decodes the input. A missing file is not an error: the
// run then sees an empty input and fails validation with a clear message.
func (l *Loader) Load() (processing.RawInput, Source, error) {
	if l.Env != "" {
		if raw := strings.TrimSpace(os.Getenv(l.Env)); raw != "" {
			in, err := Decode(strings.NewReader(raw))
			if err != nil {
				return nil, SourceEnv, err
			}
			return in, SourceEnv, nil
		}
	}

	if l.Path == "" {
		return processing.RawInput{}, SourceEmpty, nil
	}

	data, err := os.ReadFile(l.Path)
	if os.IsNotExist(err) {
		return processing.RawInput{}, SourceEmpty, nil
	}
	if err != nil {
		return nil, SourceFile, errors.NewStorageError("local", fmt.Sprintf("read input %s", l.Path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return processing.RawInput{}, SourceFile, nil
	}

	in, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, SourceFile, err
	}
	return in, SourceFile, nil
}

// Decode reads exactly one JSON object. Numbers are kept as json.Number so
// integer fields survive without float rounding.
func Decode(r io.Reader) (processing.RawInput, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.NewError(errors.InvalidInput, "input is not valid JSON", nil, err)
	}
	if dec.More() {
		return nil, errors.NewInvalidInputError("input must hold a single JSON object", nil)
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewInvalidInputError("input must be a JSON object", map[string]interface{}{
			"type": fmt.Sprintf("%T", v),
		})
	}
	return processing.RawInput(obj), nil
}
