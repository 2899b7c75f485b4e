package store

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const (
	snapshotPrefix = "snapshots/"
	reportPrefix   = "reports/"
)

// Archive writes each report as its own JSON object. Keys sort by report
// time, so listing a prefix yields history in order.
type Archive struct {
	client *minio.Client
}

var _ Store = (*Archive)(nil)

// NewArchive wraps client. Call client.EnsureBucket before first use.
func NewArchive(client *minio.Client) *Archive {
	return &Archive{client: client}
}

// ReportKey is the object key for r:
// reports/2006/01/02/<unix nanos, zero padded>-<kind>-<service>.json.
func ReportKey(r degradation.Report) string {
	at := r.At.UTC()
	return fmt.Sprintf("%s%s/%020d-%s-%s.json", reportPrefix, at.Format("2006/01/02"), at.UnixNano(), r.Kind, r.Service)
}

func (a *Archive) SaveSnapshot(ctx context.Context, s breaker.Snapshot) error {
	if s.Service == "" {
		return sserr.Required("snapshot service")
	}
	return a.client.PutJSON(ctx, snapshotPrefix+s.Service+".json", s)
}

func (a *Archive) Snapshots(ctx context.Context) ([]breaker.Snapshot, error) {
	keys, err := a.client.Keys(ctx, snapshotPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]breaker.Snapshot, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var s breaker.Snapshot
		if err := a.client.GetJSON(ctx, key, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortSnapshots(out)
	return out, nil
}

func (a *Archive) SaveReport(ctx context.Context, r degradation.Report) error {
	return a.client.PutJSON(ctx, ReportKey(r), r)
}

func (a *Archive) RecentReports(ctx context.Context, limit int) ([]degradation.Report, error) {
	if limit <= 0 {
		return nil, sserr.Newf(sserr.CodeValidationRange, "store: limit must be positive, got %d", limit)
	}
	keys, err := a.client.Keys(ctx, reportPrefix)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(keys, func(x, y string) int { return strings.Compare(path.Base(y), path.Base(x)) })
	keys = keys[:min(limit, len(keys))]

	out := make([]degradation.Report, 0, len(keys))
	for _, key := range keys {
		var r degradation.Report
		if err := a.client.GetJSON(ctx, key, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
