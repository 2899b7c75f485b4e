package models

import (
	"maps"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// EventType names what happened inside a run.
type EventType string

const (
	EventAgentStarted       EventType = "agent_started"
	EventAgentThinking      EventType = "agent_thinking"
	EventToolExecuting      EventType = "tool_executing"
	EventToolCompleted      EventType = "tool_completed"
	EventAgentCompleted     EventType = "agent_completed"
	EventAgentError         EventType = "agent_error"
	EventCapabilityDegraded EventType = "capability_degraded"
	EventCapabilityRestored EventType = "capability_restored"
)

// String returns the event type as a string.
func (t EventType) String() string {
	return string(t)
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventAgentStarted, EventAgentThinking, EventToolExecuting,
		EventToolCompleted, EventAgentCompleted, EventAgentError,
		EventCapabilityDegraded, EventCapabilityRestored:
		return true
	default:
		return false
	}
}

// Event is the envelope written to WebSocket subscribers.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event stamped with the current UTC time. data is
// copied.
func NewEvent(runID string, eventType EventType, data map[string]any) (Event, error) {
	ev := Event{
		RunID:     runID,
		Type:      eventType,
		Data:      maps.Clone(data),
		Timestamp: time.Now().UTC(),
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	return ev, ev.Validate()
}

// Validate requires a run id and a known event type.
func (e Event) Validate() error {
	if e.RunID == "" {
		return sserr.Required("run_id")
	}
	if !e.Type.Valid() {
		return sserr.Validationf("models: unknown event type %q", e.Type)
	}
	return nil
}
