// Package apperror defines the gateway's typed error taxonomy and the
// central mapping from those types to HTTP status codes and the
// {code, message, details, trace_id} response body every handler
// returns. Grounded on the teacher gateway handler's HandleGRPCError
// pattern (one place that turns an internal error into a wire-shape
// response), generalized from a gRPC-status switch into a typed error
// hierarchy since this gateway's collaborators return domain/PSP errors,
// not gRPC statuses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier returned to callers.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeIdempotencyReuse  Code = "IDEMPOTENCY_KEY_REUSE"
	CodeIdempotencyInFlight Code = "IDEMPOTENCY_IN_FLIGHT"
	CodeFraudDeclined     Code = "FRAUD_DECLINED"
	CodePSPDeclined       Code = "PSP_DECLINED"
	CodePSPUnavailable    Code = "PSP_UNAVAILABLE"
	CodeInvalidTransition Code = "INVALID_STATE_TRANSITION"
	CodeRefundExceeds     Code = "REFUND_EXCEEDS_BALANCE"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Error is the gateway's typed error. TraceID is filled in by the
// handler layer from request context, not by the code that raises Error,
// so the same Error value can be constructed deep in the pipeline
// without threading a trace ID through every call.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	TraceID string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithTraceID returns a copy of e with TraceID set, used by the handler
// layer right before serializing the response body.
func (e *Error) WithTraceID(traceID string) *Error {
	clone := *e
	clone.TraceID = traceID
	return &clone
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that records cause for %w-style unwrapping and
// logging, without leaking cause's text into the caller-facing Message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HTTPStatus maps a Code to the HTTP status handlers should return.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeIdempotencyReuse, CodeInvalidTransition, CodeRefundExceeds:
		return http.StatusConflict
	case CodeIdempotencyInFlight:
		return http.StatusConflict
	case CodeFraudDeclined, CodePSPDeclined:
		return http.StatusUnprocessableEntity
	case CodePSPUnavailable:
		return http.StatusServiceUnavailable
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Response is the wire shape every handler error serializes to.
type Response struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// ToResponse converts err into the handler-facing status code and body.
// Unrecognized errors map to a generic internal error so internals never
// leak into a client-facing message.
func ToResponse(err error, traceID string) (int, Response) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code.HTTPStatus(), Response{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
			TraceID: traceID,
		}
	}

	return http.StatusInternalServerError, Response{
		Code:    CodeInternal,
		Message: "an internal error occurred",
		TraceID: traceID,
	}
}
