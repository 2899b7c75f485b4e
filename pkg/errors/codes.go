package errors

// Code is a stable, machine-readable error identifier (CATEGORY_NNN).
type Code string

// Categories and the HTTP status they map to:
//
//	VAL_xxx     400 Bad Request
//	AUTH_xxx    401 Unauthorized
//	AUTHZ_xxx   403 Forbidden
//	NF_xxx      404 Not Found
//	CONF_xxx    409 Conflict
//	INT_xxx     500 Internal Server Error
//	UNAVAIL_xxx 503 Service Unavailable
//	TIMEOUT_xxx 504 Gateway Timeout
const (
	// CodeValidation is a general invalid-argument failure.
	CodeValidation Code = "VAL_001"
	// CodeValidationRequired means a required argument was empty.
	CodeValidationRequired Code = "VAL_002"
	// CodeValidationRange means a numeric argument is out of range.
	CodeValidationRange Code = "VAL_004"

	// CodeAuthentication is a general authentication failure.
	CodeAuthentication Code = "AUTH_001"
	// CodeAuthenticationExpired means the session token has expired.
	CodeAuthenticationExpired Code = "AUTH_002"
	// CodeAuthenticationInvalid means the session token is malformed or unsigned.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthorization is a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"
	// CodeAuthorizationDenied means the role does not allow the operation.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeNotFound is a general not-found failure.
	CodeNotFound Code = "NF_001"
	// CodeNotFoundContext means the execution context was never issued or
	// has already been cleaned up.
	CodeNotFoundContext Code = "NF_004"
	// CodeNotFoundService means the service has no registered breaker.
	CodeNotFoundService Code = "NF_005"

	// CodeConflict is a general conflict.
	CodeConflict Code = "CONF_001"
	// CodeConflictAlreadyExists means the resource is already registered.
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal is a general internal failure.
	CodeInternal Code = "INT_001"
	// CodeInternalDatabase means a storage backend operation failed.
	CodeInternalDatabase Code = "INT_002"
	// CodeInternalConfiguration means configuration could not be loaded.
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable is a general unavailability.
	CodeUnavailable Code = "UNAVAIL_001"
	// CodeUnavailableDependency means a dependency could not be reached.
	CodeUnavailableDependency Code = "UNAVAIL_002"
	// CodeUnavailableCircuitOpen means a breaker rejected the call without
	// running it.
	CodeUnavailableCircuitOpen Code = "UNAVAIL_004"
	// CodeUnavailableCapability means the capability is disabled because a
	// dependency is down.
	CodeUnavailableCapability Code = "UNAVAIL_005"

	// CodeTimeout is a general timeout.
	CodeTimeout Code = "TIMEOUT_001"
	// CodeTimeoutDatabase means a storage backend operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"
	// CodeTimeoutDependency means the caller gave up before a dependency
	// call was admitted.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("VAL", "NF", ...).
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
