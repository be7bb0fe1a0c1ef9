// Package errors provides the error taxonomy for the plexity job.
// Every failure that aborts a run is reported as an *ActorError carrying
// a Type, so the job host can log it, count it in metrics and map it to
// an exit status without string matching.
//
// The package also owns the process-wide zap logger used by code that has
// no logger injected (DefaultLogger), following the same pattern the rest
// of the codebase uses for structured logging.
//
// Basic usage:
//
//	err := errors.NewInvalidInputError("messages must be a list of objects", map[string]interface{}{
//	    "field": "messages",
//	})
//
//	if errors.Is(err, errors.ErrInvalidInput) {
//	    // validation failure, raised before any network call
//	}
package errors

import (
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultLogger is the zap logger used when no logger is injected.
// It starts as a production logger and is replaced by SetLogger once the
// job host has built its configured logger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger replaces DefaultLogger. A nil logger is ignored.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType categorizes run failures.
type ErrorType string

const (
	// InvalidInput covers a malformed or missing prompt/messages, an invalid
	// role, empty content or an unparsable numeric field. It is raised
	// before any network call.
	InvalidInput ErrorType = "invalid_input"

	// UnexpectedResponseShape means the provider returned a value that is
	// neither structured-dump capable nor a mapping.
	UnexpectedResponseShape ErrorType = "unexpected_response_shape"

	// TransportFailure wraps any error raised by the completion client:
	// network, authentication or provider-side.
	TransportFailure ErrorType = "transport_failure"

	// ConfigError represents configuration loading or validation failures
	ConfigError ErrorType = "config_error"

	// StorageError represents dataset or key-value store failures
	StorageError ErrorType = "storage_error"

	// NotFound is returned by the status server for unknown routes
	NotFound ErrorType = "not_found"

	// InternalError represents unexpected failures
	InternalError ErrorType = "internal_error"
)

// Sentinels for errors.Is matching by type.
var (
	ErrInvalidInput            = &ActorError{Type: InvalidInput}
	ErrUnexpectedResponseShape = &ActorError{Type: UnexpectedResponseShape}
	ErrTransportFailure        = &ActorError{Type: TransportFailure}
	ErrConfig                  = &ActorError{Type: ConfigError}
	ErrStorage                 = &ActorError{Type: StorageError}
)

// ActorError is the error type returned by every stage of a run. It is
// JSON-serializable so the status server can report the last failure,
// while the wrapped cause stays available to errors.Is and errors.As.
type ActorError struct {
	// Type categorizes the error
	Type ErrorType `json:"type"`

	// Message is a human-readable description
	Message string `json:"message"`

	// Details contains additional context, e.g. the offending field or position
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface.
func (e *ActorError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ActorError) Unwrap() error {
	return e.err
}

// Is matches on Type only, so the package sentinels work with errors.Is.
func (e *ActorError) Is(target error) bool {
	t, ok := target.(*ActorError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// TypeOf returns the ErrorType of the first *ActorError in err's chain,
// or InternalError when there is none.
func TypeOf(err error) ErrorType {
	var actorErr *ActorError
	if stderrors.As(err, &actorErr) {
		return actorErr.Type
	}
	return InternalError
}

// Is is errors.Is, re-exported so callers importing this package do not
// need the standard library package under another name.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
