package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
)

func chatCoordinator(t *testing.T) *degradation.Coordinator {
	t.Helper()
	path := testutil.TempFile(t, "topology.yaml", fixtures.ChatTopologyYAML)
	topo, err := degradation.LoadTopology(path, "STORE_TEST")
	require.NoError(t, err)
	c, err := topo.Build(degradation.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	return c
}

func runRecorder(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestRecorder_PersistsCoordinatorActivity(t *testing.T) {
	t.Parallel()
	mem := NewMemory(0)
	rec := NewRecorder(mem, WithRecorderLogger(testutil.DiscardLogger()))
	c := chatCoordinator(t)
	rec.Attach(c)
	runRecorder(t, rec)
	ctx := context.Background()

	c.HandleServiceFailure(ctx, fixtures.ServiceDB)
	require.Eventually(t, func() bool { return rec.Written() == 2 }, 2*time.Second, 5*time.Millisecond)

	reports, err := mem.RecentReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, degradation.KindDegradation, reports[0].Kind)
	assert.Equal(t, fixtures.ServiceDB, reports[0].Service)

	snaps, err := mem.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, breaker.StateOpen, snaps[0].State)

	c.HandleServiceRecovery(ctx, fixtures.ServiceDB)
	require.Eventually(t, func() bool { return rec.Written() == 4 }, 2*time.Second, 5*time.Millisecond)

	reports, err = mem.RecentReports(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, degradation.KindRestoration, reports[0].Kind)
	snaps, err = mem.Snapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, breaker.StateClosed, snaps[0].State)
	assert.Zero(t, rec.Dropped())
}

func TestRecorder_RepeatedFailureWritesOnce(t *testing.T) {
	t.Parallel()
	mem := NewMemory(0)
	rec := NewRecorder(mem, WithRecorderLogger(testutil.DiscardLogger()))
	c := chatCoordinator(t)
	rec.Attach(c)
	runRecorder(t, rec)

	c.HandleServiceFailure(context.Background(), fixtures.ServiceLLM)
	c.HandleServiceFailure(context.Background(), fixtures.ServiceLLM)
	require.Eventually(t, func() bool { return rec.Written() == 2 }, 2*time.Second, 5*time.Millisecond)

	reports, err := mem.RecentReports(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestRecorder_DropsOnFullQueueAndFlushes(t *testing.T) {
	t.Parallel()
	mem := NewMemory(0)
	rec := NewRecorder(mem, WithQueueSize(1), WithRecorderLogger(testutil.DiscardLogger()))
	sink := rec.Sink()

	sink(context.Background(), report("a", degradation.KindDegradation, t0))
	sink(context.Background(), report("b", degradation.KindDegradation, t0))
	assert.Equal(t, uint64(1), rec.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))

	assert.Equal(t, uint64(1), rec.Written())
	got, err := mem.RecentReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Service)
}

type failingStore struct{ Memory }

func (failingStore) SaveReport(context.Context, degradation.Report) error {
	return errors.New("disk full")
}

func TestRecorder_FailedWriteIsNotCounted(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(&failingStore{}, WithRecorderLogger(testutil.DiscardLogger()))
	rec.Sink()(context.Background(), report("a", degradation.KindDegradation, t0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, rec.Run(ctx))
	assert.Zero(t, rec.Written())
}
