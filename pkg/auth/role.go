// Package auth authenticates WebSocket sessions and gates agent operations
// by role.
//
// A session token is an HS256 JWT whose subject is the user id and whose
// "role" claim is one of [RoleReadOnly], [RoleStandard] or [RoleAdmin].
// [SessionValidator] turns a token into an [Identity]; [HTTPMiddleware]
// puts that identity into the request context; [Authorize] checks a role
// against the explicit allow-list of [Operation] values for that role.
//
// Roles are a closed set. An unknown role is allowed nothing.
package auth

import (
	"slices"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleReadOnly Role = "read_only"
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
)

// Operation is an action an agent instance may be asked to perform.
type Operation string

const (
	OperationAgentRead      Operation = "agent.read"
	OperationAgentExecute   Operation = "agent.execute"
	OperationAgentConfigure Operation = "agent.configure"
	OperationSystemAdmin    Operation = "system.admin"
)

var roleOperations = map[Role][]Operation{
	RoleReadOnly: {OperationAgentRead},
	RoleStandard: {OperationAgentRead, OperationAgentExecute},
	RoleAdmin: {
		OperationAgentRead,
		OperationAgentExecute,
		OperationAgentConfigure,
		OperationSystemAdmin,
	},
}

// String returns the role name.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleOperations[r]
	return ok
}

// Operations returns a copy of the role's allow-list.
func (r Role) Operations() []Operation {
	return slices.Clone(roleOperations[r])
}

// Allows reports whether op is on the role's allow-list.
func (r Role) Allows(op Operation) bool {
	return slices.Contains(roleOperations[r], op)
}

// ParseRole validates a role name. An empty name yields [RoleStandard].
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleStandard, nil
	}
	r := Role(s)
	if !r.Valid() {
		return "", sserr.Validationf("auth: unknown role %q", s)
	}
	return r, nil
}

// Authorize returns an AUTHZ_002 error when role does not allow op.
func Authorize(role Role, op Operation) error {
	if role.Allows(op) {
		return nil
	}
	return sserr.Newf(sserr.CodeAuthorizationDenied,
		"auth: role %q may not perform %q", role, op).
		WithDetails(map[string]any{"role": string(role), "operation": string(op)})
}
