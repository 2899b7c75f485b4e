package store

import (
	"context"
	"slices"
	"sync"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Memory is an in-process Store capped at a fixed number of reports.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]breaker.Snapshot
	reports   []degradation.Report // oldest first
	max       int
}

var _ Store = (*Memory)(nil)

// NewMemory returns a store keeping at most max reports. max <= 0 selects
// DefaultMaxReports.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultMaxReports
	}
	return &Memory{snapshots: make(map[string]breaker.Snapshot), max: max}
}

func (m *Memory) SaveSnapshot(_ context.Context, s breaker.Snapshot) error {
	if s.Service == "" {
		return sserr.Required("snapshot service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.Service] = s
	return nil
}

func (m *Memory) Snapshots(context.Context) ([]breaker.Snapshot, error) {
	m.mu.RLock()
	out := make([]breaker.Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sortSnapshots(out)
	return out, nil
}

func (m *Memory) SaveReport(_ context.Context, r degradation.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	if over := len(m.reports) - m.max; over > 0 {
		m.reports = slices.Delete(m.reports, 0, over)
	}
	return nil
}

func (m *Memory) RecentReports(_ context.Context, limit int) ([]degradation.Report, error) {
	if limit <= 0 {
		return nil, sserr.Newf(sserr.CodeValidationRange, "store: limit must be positive, got %d", limit)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := min(limit, len(m.reports))
	out := make([]degradation.Report, 0, n)
	for i := len(m.reports) - 1; i >= len(m.reports)-n; i-- {
		out = append(out, m.reports[i])
	}
	return out, nil
}
