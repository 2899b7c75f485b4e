package store

import (
	"context"
	"encoding/json"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Redis keeps snapshots in one hash keyed by service and reports in a
// capped list, newest at the head.
type Redis struct {
	client *redis.Client
	max    int64
}

var _ Store = (*Redis)(nil)

// NewRedis wraps client. max <= 0 selects DefaultMaxReports.
func NewRedis(client *redis.Client, max int) *Redis {
	if max <= 0 {
		max = DefaultMaxReports
	}
	return &Redis{client: client, max: int64(max)}
}

func (s *Redis) snapshotKey() string { return s.client.Key("breakers") }
func (s *Redis) reportKey() string   { return s.client.Key("reports") }

func (s *Redis) SaveSnapshot(ctx context.Context, snap breaker.Snapshot) error {
	if snap.Service == "" {
		return sserr.Required("snapshot service")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode snapshot")
	}
	return s.client.HSet(ctx, s.snapshotKey(), snap.Service, string(body))
}

func (s *Redis) Snapshots(ctx context.Context) ([]breaker.Snapshot, error) {
	raw, err := s.client.HGetAll(ctx, s.snapshotKey())
	if err != nil {
		return nil, err
	}
	out := make([]breaker.Snapshot, 0, len(raw))
	for service, body := range raw {
		var snap breaker.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternal, "store: corrupt snapshot for %q", service)
		}
		out = append(out, snap)
	}
	sortSnapshots(out)
	return out, nil
}

func (s *Redis) SaveReport(ctx context.Context, r degradation.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode report")
	}
	return s.client.PushCapped(ctx, s.reportKey(), string(body), s.max)
}

func (s *Redis) RecentReports(ctx context.Context, limit int) ([]degradation.Report, error) {
	if limit <= 0 {
		return nil, sserr.Newf(sserr.CodeValidationRange, "store: limit must be positive, got %d", limit)
	}
	raw, err := s.client.LRange(ctx, s.reportKey(), 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	return decodeReports(raw)
}

func decodeReports(raw []string) ([]degradation.Report, error) {
	out := make([]degradation.Report, 0, len(raw))
	for _, body := range raw {
		var r degradation.Report
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternal, "store: corrupt report")
		}
		out = append(out, r)
	}
	return out, nil
}
