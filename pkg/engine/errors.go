package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/source"
)

// ErrorClass classifies an error by how the engine reacts to it.
type ErrorClass string

const (
	// ErrorClassConfiguration marks a broken registry: duplicate names,
	// dependency cycles, resolvers confined on their own output. Fatal, and
	// reported before any resolution runs.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassUnavailable marks data that could not be obtained. The
	// affected facts stay absent and the pass carries on.
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassTimeout is an unavailable error caused by a deadline.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassInternal marks a resolver bug such as a panic or an invalid
	// write-set.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError is a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resolver is the resolver involved, if any.
	Resolver string `json:"resolver,omitempty"`

	// Operation is what the engine was doing (register, resolve, merge).
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resolver != "" {
		msg += fmt.Sprintf(" (resolver=%s", e.Resolver)
		if e.Operation != "" {
			msg += ", operation=" + e.Operation
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigurationError creates a fatal registry error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewUnavailableError creates a data-unavailable error.
func NewUnavailableError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassUnavailable, Message: message, Err: err, Code: ErrCodeDataUnavailable}
}

// NewTimeoutError creates a deadline error.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Message: message, Err: err, Code: ErrCodeTimeout}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Message: message, Err: err}
}

// WithResolver adds the resolver name.
func (e *EngineError) WithResolver(name string) *EngineError {
	e.Resolver = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration reports whether err is a fatal registry error.
func IsConfiguration(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsUnavailable reports whether err means "data unavailable". Timeouts and
// probe errors from the source package count as unavailable.
func IsUnavailable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnavailable || e.Class == ErrorClassTimeout
	}
	return errors.Is(err, source.ErrUnavailable)
}

// Error codes.
const (
	ErrCodeDuplicateResolver = "DUPLICATE_RESOLVER"
	ErrCodeDependencyCycle   = "DEPENDENCY_CYCLE"
	ErrCodeSelfConfinement   = "SELF_CONFINEMENT"
	ErrCodeInvalidResolver   = "INVALID_RESOLVER"
	ErrCodeInvalidPath       = "INVALID_PATH"
	ErrCodeDataUnavailable   = "DATA_UNAVAILABLE"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeResolverFailed    = "RESOLVER_FAILED"
)
