package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. They carry only a code and match every error
// with that code.
var (
	// ErrCircuitOpen matches any rejection by an open or saturated breaker.
	ErrCircuitOpen = &Error{Code: CodeUnavailableCircuitOpen}

	// ErrContextNotFound matches lookups of cleaned-up execution contexts.
	ErrContextNotFound = &Error{Code: CodeNotFoundContext}

	// ErrCapabilityUnavailable matches calls into a disabled capability.
	ErrCapabilityUnavailable = &Error{Code: CodeUnavailableCapability}
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
//
//	if err := rdb.HSet(ctx, key, fields).Err(); err != nil {
//	    return sserr.Wrap(err, sserr.CodeInternalDatabase, "store: save snapshot")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a formatted message. It returns nil when err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a VAL_001 error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a VAL_001 error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Required creates a VAL_002 error naming the empty argument.
func Required(field string) *Error {
	return Newf(CodeValidationRequired, "%s is required", field).
		WithDetail("field", field)
}

// NotFound creates an NF_001 error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf creates an NF_001 error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// ContextNotFound reports an execution context that is unknown or has
// been cleaned up.
func ContextNotFound(contextID string) *Error {
	return Newf(CodeNotFoundContext, "execution context %q not found", contextID).
		WithDetail("context_id", contextID)
}

// ServiceNotFound reports a service with no registered breaker.
func ServiceNotFound(service string) *Error {
	return Newf(CodeNotFoundService, "service %q is not registered", service).
		WithDetail("service", service)
}

// Unauthorized creates an AUTH_001 error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// Forbidden creates an AUTHZ_002 error.
func Forbidden(message string) *Error {
	return New(CodeAuthorizationDenied, message)
}

// Conflict creates a CONF_001 error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// AlreadyExistsf creates a CONF_002 error with a formatted message.
func AlreadyExistsf(format string, args ...any) *Error {
	return Newf(CodeConflictAlreadyExists, format, args...)
}

// Internal creates an INT_001 error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates an INT_001 error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable creates an UNAVAIL_001 error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// CircuitOpen reports that the breaker for service rejected a call.
// retryAfter is the time left before the breaker will admit a probe; it is
// zero when the rejection came from a saturated half-open breaker.
func CircuitOpen(service, state string, retryAfter time.Duration) *Error {
	return Newf(CodeUnavailableCircuitOpen, "circuit breaker for %q is %s", service, state).
		WithDetails(map[string]any{
			"service":     service,
			"state":       state,
			"retry_after": retryAfter.String(),
		})
}

// CapabilityUnavailable reports a capability disabled by a failed
// dependency.
func CapabilityUnavailable(capability, dependency string) *Error {
	return Newf(CodeUnavailableCapability,
		"capability %q unavailable, dependency %q down", capability, dependency).
		WithDetails(map[string]any{
			"capability": capability,
			"dependency": dependency,
		})
}

// Timeout creates a TIMEOUT_001 error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// FromError returns err as an *Error, wrapping foreign errors as INT_001.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
