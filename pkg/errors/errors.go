// Package errors defines the structured error type shared by every package
// in the isolation runtime.
//
// Each error carries a machine-readable [Code] of the form CATEGORY_NNN, a
// message safe to show to callers, an optional cause and optional details.
// The category determines the HTTP status returned by the WebSocket bridge
// and whether the failure is worth retrying.
//
// # Taxonomy
//
//   - VAL: invalid arguments such as an empty user id or agent name
//   - AUTH / AUTHZ: session token and role failures
//   - NF: cleaned-up contexts, released agents, unknown services
//   - CONF: duplicate registrations and run id collisions
//   - UNAVAIL: open circuits and disabled capabilities
//   - TIMEOUT: callers cancelled before a guarded call was admitted
//   - INT: storage and configuration failures
//
// Errors returned by functions guarded with a circuit breaker are never
// wrapped; they reach the caller unchanged.
//
// # Usage
//
//	if sserr.IsCircuitOpen(err) {
//	    // fail fast, do not retry inline
//	}
//
//	if e, ok := sserr.AsError(err); ok {
//	    logger.Warn("operation failed", "code", e.Code, "message", e.Message)
//	}
package errors
