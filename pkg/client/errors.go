package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRequestBlocked is returned when the operating-time tracker refuses a request.
	ErrRequestBlocked = errors.New("request blocked: operating time budget critical")
)

// TransportError is a failure to obtain a usable response from Bitrix24:
// network errors, timeouts, non-2xx statuses and API error bodies.
type TransportError struct {
	Method     string
	StatusCode int
	ErrorClass ErrorClass
	// Code and Description come from a Bitrix24 error body, when present.
	Code        string
	Description string
	Err         error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("bitrix %s %s error", e.Method, e.ErrorClass)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
		if e.Description != "" {
			msg += ": " + e.Description
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// SchemaError reports a response that decoded but lacks an expected field.
type SchemaError struct {
	Method string
	Field  string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitrix %s: unexpected response shape at %q: %v", e.Method, e.Field, e.Err)
	}
	return fmt.Sprintf("bitrix %s: response missing %q", e.Method, e.Field)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ValidationError reports a field whose value has the wrong type,
// such as a non-numeric total.
type ValidationError struct {
	Method string
	Field  string
	Value  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bitrix %s: invalid value for %q: %s", e.Method, e.Field, e.Value)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx and API errors will fail the same way again
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		// QUERY_LIMIT_EXCEEDED is surfaced, not waited out
		return false
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}
