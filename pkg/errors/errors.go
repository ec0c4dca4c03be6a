// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for the analytics engine.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies engine errors for monitoring and dispatch responses.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeStoreUnavailable indicates the metrics store could not be reached.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// CodeInvalidQuery indicates a malformed store query. Callers use fixed
	// query templates, so this is a programming-error class at runtime.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// CodeInvalidParameters indicates caller-supplied parameters failed
	// schema validation.
	CodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// CodeTimeout indicates a store query exceeded its deadline or was
	// cancelled.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates an unknown operation name at the dispatch
	// boundary. Per-service "no data" is a normal result value, not an
	// error; see the analytics packages.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// EngineError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EngineError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured dispatch responses.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Cause   string                 `json:"cause,omitempty"`
		Context map[string]interface{} `json:"context,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
		Context: e.Context,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new EngineError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns the error as EngineError if it is one, or wraps it otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return CodeInternal
}
