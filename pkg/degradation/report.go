package degradation

import (
	"context"
	"time"
)

// Kind distinguishes failure reports from recovery reports.
type Kind string

const (
	KindDegradation Kind = "degradation"
	KindRestoration Kind = "restoration"
)

// Action is what happened to one capability.
type Action string

const (
	ActionFallbackActivated Action = "fallback_activated"
	ActionDegraded          Action = "degraded"
	ActionDisabled          Action = "disabled"
	ActionRestored          Action = "restored"
	ActionPartiallyRestored Action = "partially_restored"
	ActionUnchanged         Action = "unchanged"
)

// Change records one capability's state before and after a health event.
type Change struct {
	Capability string   `json:"capability"`
	Priority   Priority `json:"priority"`
	Action     Action   `json:"action"`
	Before     Status   `json:"before"`
	After      Status   `json:"after"`

	// Fallbacks lists the stand-in services active after the event.
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Report is returned by HandleServiceFailure and HandleServiceRecovery.
// Partial availability is a success case, so degradation is reported, not
// raised.
type Report struct {
	Kind    Kind      `json:"kind"`
	Service string    `json:"service"`
	At      time.Time `json:"at"`

	// Transitioned is false when the service was already in the reported
	// health state; Changes are then all unchanged.
	Transitioned bool     `json:"transitioned"`
	Changes      []Change `json:"changes"`
}

// DegradationReport is the result of a service failure.
type DegradationReport = Report

// RestorationReport is the result of a service recovery.
type RestorationReport = Report

// Change returns the entry for capability.
func (r Report) Change(capability string) (Change, bool) {
	for _, c := range r.Changes {
		if c.Capability == capability {
			return c, true
		}
	}
	return Change{}, false
}

// Actions counts the entries per action.
func (r Report) Actions() map[Action]int {
	out := make(map[Action]int)
	for _, c := range r.Changes {
		out[c.Action]++
	}
	return out
}

// Sink receives every report with Transitioned set. Sinks run on the
// caller's goroutine after the coordinator lock is released and must not
// block.
type Sink func(ctx context.Context, r Report)

// Recommendation is an advisory item from a cascade risk check.
type Recommendation struct {
	Capability string   `json:"capability,omitempty"`
	Priority   Priority `json:"priority"`
	Message    string   `json:"message"`
}

// CascadeRisk summarizes system-wide health. Nothing in it is acted on by
// the coordinator.
type CascadeRisk struct {
	HighRisk             bool             `json:"high_risk"`
	OpenServices         []string         `json:"open_services"`
	TotalServices        int              `json:"total_services"`
	FailureRatio         float64          `json:"failure_ratio"`
	CriticalAvailability float64          `json:"critical_availability"`
	Recommendations      []Recommendation `json:"recommendations,omitempty"`
}

func classify(kind Kind, before, after Status) Action {
	if before.equal(after) {
		return ActionUnchanged
	}
	if kind == KindRestoration {
		if after.Full() {
			return ActionRestored
		}
		return ActionPartiallyRestored
	}
	switch {
	case !after.Enabled:
		return ActionDisabled
	case after.PerformanceLevel < 1.0:
		return ActionDegraded
	default:
		return ActionFallbackActivated
	}
}
