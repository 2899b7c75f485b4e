// Package store persists breaker snapshots and degradation reports so an
// operator can see what the coordinator decided after the fact.
//
// Four backends implement [Store]: [Memory] for tests and single-process
// runs, [Redis] for the latest state shared across replicas, [Postgres]
// for queryable history and [Archive] for long-term JSON documents in
// object storage. [Recorder] connects a store to a coordinator.
package store

import (
	"context"
	"sort"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
)

// DefaultMaxReports bounds the report list kept by Memory and Redis.
const DefaultMaxReports = 200

// Store keeps the latest snapshot per service and a newest-first report
// history. Implementations are safe for concurrent use.
type Store interface {
	SaveSnapshot(ctx context.Context, s breaker.Snapshot) error
	Snapshots(ctx context.Context) ([]breaker.Snapshot, error)
	SaveReport(ctx context.Context, r degradation.Report) error
	// RecentReports returns at most limit reports, newest first.
	RecentReports(ctx context.Context, limit int) ([]degradation.Report, error)
}

func sortSnapshots(s []breaker.Snapshot) {
	sort.Slice(s, func(i, j int) bool { return s[i].Service < s[j].Service })
}
