// Package models defines the data shared between the isolation layer, the
// event router and the WebSocket bridge.
//
// An [ExecutionContext] is the per-user, per-session scope that owns agent
// instances and metadata. Its identifiers are fixed at creation; only the
// [Metadata] it owns is mutable. Contexts are created by the isolation
// registry, never shared across user IDs, and invalid after cleanup.
//
// An [Event] is the envelope delivered to WebSocket subscribers. Its RunID
// is the routing key: an event reaches only the subscribers of that run.
package models

import (
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// ExecutionContext is the isolation scope for one user's run. ID is the
// registry key and the first half of every agent's composite key.
type ExecutionContext struct {
	// ID is a UUID assigned by the registry at creation.
	ID string `json:"id"`

	// UserID owns the context. Never empty.
	UserID string `json:"user_id"`

	// SessionID groups contexts created for the same connection.
	SessionID string `json:"session_id"`

	// RunID is the event routing key. Unique among live contexts.
	RunID string `json:"run_id"`

	// ThreadID identifies the conversation thread.
	ThreadID string `json:"thread_id"`

	// Role is the owning user's role and gates agent operations.
	Role auth.Role `json:"role"`

	// Metadata is owned by this context alone. It is never nil for
	// registry-issued contexts.
	Metadata *Metadata `json:"metadata"`

	// CreatedAt is the UTC creation time.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the identifiers a live context must carry.
func (c *ExecutionContext) Validate() error {
	switch {
	case c == nil:
		return sserr.Required("execution context")
	case c.ID == "":
		return sserr.Required("context id")
	case c.UserID == "":
		return sserr.Required("user_id")
	case c.RunID == "":
		return sserr.Required("run_id")
	}
	return nil
}

// Clone returns a deep copy. Metadata is copied, so writes to the clone do
// not reach the original.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Metadata = c.Metadata.Clone()
	return &cp
}

// Age returns the time elapsed since creation.
func (c *ExecutionContext) Age() time.Duration {
	if c.CreatedAt.IsZero() {
		return 0
	}
	return time.Since(c.CreatedAt)
}
