package errors

// NewError creates an ActorError with full control over its fields.
// For most cases, use one of the specialized constructors below.
//
// Example:
//
//	err := NewError(StorageError, "push dataset item", nil, dbErr)
func NewError(errType ErrorType, message string, details map[string]interface{}, err error) *ActorError {
	return &ActorError{
		Type:    errType,
		Message: message,
		Details: details,
		err:     err,
	}
}

// NewInvalidInputError reports a problem with the job input. Use it for:
//   - a missing prompt and messages list
//   - a messages value that is not a list of objects
//   - an unknown role or empty content at some position
//   - a numeric field that cannot be parsed
//
// Example:
//
//	err := NewInvalidInputError("invalid role at position 2", map[string]interface{}{
//	    "position": 2,
//	    "role":     "bot",
//	})
func NewInvalidInputError(message string, details map[string]interface{}) *ActorError {
	return &ActorError{
		Type:    InvalidInput,
		Message: message,
		Details: details,
	}
}

// NewUnexpectedResponseError reports a completion value the extractor cannot
// turn into a mapping. goType names the Go type that was received.
func NewUnexpectedResponseError(goType string) *ActorError {
	return &ActorError{
		Type:    UnexpectedResponseShape,
		Message: "unexpected response from the completion client",
		Details: map[string]interface{}{
			"go_type": goType,
		},
	}
}

// NewTransportError wraps an error raised while calling the provider. The
// cause is kept intact so context.Canceled, context.DeadlineExceeded and
// net errors stay matchable.
func NewTransportError(provider string, err error) *ActorError {
	return &ActorError{
		Type:    TransportFailure,
		Message: "completion request failed",
		Details: map[string]interface{}{
			"provider": provider,
		},
		err: err,
	}
}

// NewConfigError reports a configuration loading or validation failure.
func NewConfigError(message string, err error) *ActorError {
	return &ActorError{
		Type:    ConfigError,
		Message: message,
		err:     err,
	}
}

// NewStorageError reports a dataset or key-value store failure. backend
// names the configured store type, e.g. "sqlite" or "redis".
func NewStorageError(backend, message string, err error) *ActorError {
	return &ActorError{
		Type:    StorageError,
		Message: message,
		Details: map[string]interface{}{
			"backend": backend,
		},
		err: err,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *ActorError {
	return &ActorError{
		Type:    InternalError,
		Message: "an internal error occurred",
		err:     err,
	}
}
