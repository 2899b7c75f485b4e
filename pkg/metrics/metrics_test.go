package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tu "github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/events"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/isolation"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/models"
)

func TestMetrics_Registry(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	reg := isolation.NewRegistry(isolation.WithObserver(m), isolation.WithLogger(tu.DiscardLogger()))
	ctx := context.Background()

	ec, err := reg.CreateContext(ctx, fixtures.UserID, "", fixtures.RunID)
	require.NoError(t, err)
	_, err = reg.GetOrCreateAgent(ctx, ec, "planner")
	require.NoError(t, err)
	_, err = reg.GetOrCreateAgent(ctx, ec, "planner")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentsActive.WithLabelValues("planner")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentsCreated.WithLabelValues("planner")))

	require.NoError(t, reg.CleanupContext(ctx, ec))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ContextsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AgentsActive.WithLabelValues("planner")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextsCreated))
}

func TestMetrics_Router(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	router := events.NewRouter(events.WithObserver(m), events.WithLogger(tu.DiscardLogger()))

	sub, err := router.Subscribe(fixtures.RunID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventSubscribers))

	ev, err := models.NewEvent(fixtures.RunID, models.EventAgentThinking, nil)
	require.NoError(t, err)
	_, err = router.Route(context.Background(), fixtures.RunID, ev)
	require.NoError(t, err)
	_, err = router.Route(context.Background(), fixtures.RunID, ev)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRouted.WithLabelValues("agent_thinking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("agent_thinking")))

	sub.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventSubscribers))
}

func chatCoordinator(t *testing.T) *degradation.Coordinator {
	t.Helper()
	path := tu.TempFile(t, "topology.yaml", fixtures.ChatTopologyYAML)
	topo, err := degradation.LoadTopology(path, "METRICS_TEST")
	require.NoError(t, err)
	c, err := topo.Build(degradation.WithLogger(tu.DiscardLogger()))
	require.NoError(t, err)
	return c
}

func TestMetrics_Coordinator(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	c := chatCoordinator(t)
	m.Attach(c)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("llm", "closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityLevel.WithLabelValues("ai_chat")))

	c.HandleServiceFailure(context.Background(), fixtures.ServiceLLM)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("llm", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("llm", "closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("llm", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reports.WithLabelValues("degradation", "llm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityActions.WithLabelValues("ai_chat", "fallback_activated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityEnabled.WithLabelValues("ai_chat")))

	c.HandleServiceFailure(context.Background(), fixtures.ServiceDB)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CapabilityEnabled.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapabilityActions.WithLabelValues("search", "disabled")))

	expected := `
# HELP isolation_degradation_reports_total Degradation and restoration reports by kind and service.
# TYPE isolation_degradation_reports_total counter
isolation_degradation_reports_total{kind="degradation",service="db"} 1
isolation_degradation_reports_total{kind="degradation",service="llm"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.Reports, strings.NewReader(expected)))
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
