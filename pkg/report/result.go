// Package report assembles the CRM metrics report from the pagination and
// aggregation engines.
//
// Each top-level aggregate is computed independently and carried as a
// Result, so one failed aggregate leaves the others intact.
package report

import (
	"context"
	"errors"

	"github.com/Sternrassler/crm-report/pkg/client"
)

// Result holds either a computed value or the error that prevented it.
type Result[T any] struct {
	Value T
	Err   error
}

// OK wraps a successfully computed value.
func OK[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

// Fail wraps the error of an aggregate that could not be computed.
func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Ok reports whether the value is usable.
func (r Result[T]) Ok() bool {
	return r.Err == nil
}

// ErrorKind classifies an aggregate failure for output.
type ErrorKind string

const (
	KindTransport  ErrorKind = "transport"
	KindSchema     ErrorKind = "schema"
	KindValidation ErrorKind = "validation"
	KindCancelled  ErrorKind = "cancelled"
	KindUnknown    ErrorKind = "unknown"
)

// Kind maps err onto an ErrorKind. Typed client errors take precedence
// over context errors found deeper in the chain.
func Kind(err error) ErrorKind {
	var (
		transportErr  *client.TransportError
		schemaErr     *client.SchemaError
		validationErr *client.ValidationError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &schemaErr):
		return KindSchema
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.Is(err, client.ErrContextCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}
