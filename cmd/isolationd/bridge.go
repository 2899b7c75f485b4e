package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/events"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/isolation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

// availability keeps agent instances in step with the capability they are
// named after. It applies the coordinator's current status when an
// instance is built, again once it is published, and on every report.
// mu orders those writes so the last one applied is the newest status.
type availability struct {
	coord    *degradation.Coordinator
	registry *isolation.Registry
	router   *events.Router
	logger   *slog.Logger

	mu sync.Mutex
}

func newAvailability(coord *degradation.Coordinator, router *events.Router, logger *slog.Logger) *availability {
	return &availability{coord: coord, router: router, logger: logger}
}

// apply copies the capability status onto a. Agents not named after a
// capability are left alone. The caller holds av.mu.
func (av *availability) apply(a *isolation.AgentInstance) (degradation.Status, bool, error) {
	st, ok := av.coord.Status(a.Name())
	if !ok {
		return st, false, nil
	}
	return st, true, a.SetAvailability(st.Enabled, st.PerformanceLevel, st.DownDependency())
}

// OnAgentCreate is an isolation.AgentHook. It runs before the instance is
// published, so a new agent never starts out enabled for a disabled
// capability.
func (av *availability) OnAgentCreate(_ context.Context, a *isolation.AgentInstance) error {
	av.mu.Lock()
	defer av.mu.Unlock()
	_, _, err := av.apply(a)
	return err
}

// Sync reapplies the current status to a published instance. It covers a
// report that arrived between OnAgentCreate and publication.
func (av *availability) Sync(a *isolation.AgentInstance) error {
	av.mu.Lock()
	defer av.mu.Unlock()
	_, _, err := av.apply(a)
	return err
}

// Sink applies every changed capability to its live instances and tells
// each affected run over its event stream.
func (av *availability) Sink() degradation.Sink {
	return func(ctx context.Context, r degradation.Report) {
		av.mu.Lock()
		defer av.mu.Unlock()

		for _, ch := range r.Changes {
			if ch.Action == degradation.ActionUnchanged {
				continue
			}
			eventType := models.EventCapabilityDegraded
			if r.Kind == degradation.KindRestoration {
				eventType = models.EventCapabilityRestored
			}

			av.registry.ForEachAgent(ch.Capability, func(a *isolation.AgentInstance) {
				st, _, err := av.apply(a)
				if err != nil {
					av.logger.Warn("failed to apply capability availability",
						"capability", ch.Capability, "context_id", a.ContextID(), "error", err)
					return
				}
				if a.RunID() == "" {
					return
				}
				ev, err := models.NewEvent(a.RunID(), eventType, capabilityEventData(r, ch, st))
				if err != nil {
					return
				}
				if _, err := av.router.Route(ctx, a.RunID(), ev); err != nil {
					av.logger.Debug("capability event not routed", "run_id", a.RunID(), "error", err)
				}
			})
		}
	}
}

func capabilityEventData(r degradation.Report, ch degradation.Change, st degradation.Status) map[string]any {
	data := map[string]any{
		"capability":        ch.Capability,
		"service":           r.Service,
		"action":            string(ch.Action),
		"enabled":           st.Enabled,
		"performance_level": st.PerformanceLevel,
	}
	if dep := st.DownDependency(); dep != "" {
		data["dependency"] = dep
	}
	if len(ch.Fallbacks) > 0 {
		data["fallbacks"] = ch.Fallbacks
	}
	return data
}
