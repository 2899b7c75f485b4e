package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Schema creates the tables Postgres writes to. Migrate runs it.
const Schema = `
CREATE TABLE IF NOT EXISTS breaker_snapshots (
	service    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS degradation_reports (
	id           BIGSERIAL PRIMARY KEY,
	kind         TEXT NOT NULL,
	service      TEXT NOT NULL,
	at           TIMESTAMPTZ NOT NULL,
	transitioned BOOLEAN NOT NULL,
	report       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS degradation_reports_at_idx ON degradation_reports (at DESC, id DESC);
`

const (
	upsertSnapshotSQL = `INSERT INTO breaker_snapshots (service, state, snapshot, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (service) DO UPDATE SET state = EXCLUDED.state, snapshot = EXCLUDED.snapshot, updated_at = now()`
	selectSnapshotsSQL = `SELECT snapshot FROM breaker_snapshots ORDER BY service`
	insertReportSQL    = `INSERT INTO degradation_reports (kind, service, at, transitioned, report) VALUES ($1, $2, $3, $4, $5)`
	selectReportsSQL   = `SELECT report FROM degradation_reports ORDER BY at DESC, id DESC LIMIT $1`
	countReportsSQL    = `SELECT count(*) FROM degradation_reports WHERE service = $1`
)

// Postgres appends every report to an indexed history table and upserts
// one snapshot row per service.
type Postgres struct {
	db *postgres.Client
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps db. Call Migrate once before first use.
func NewPostgres(db *postgres.Client) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables and index when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

func (s *Postgres) SaveSnapshot(ctx context.Context, snap breaker.Snapshot) error {
	if snap.Service == "" {
		return sserr.Required("snapshot service")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode snapshot")
	}
	_, err = s.db.Exec(ctx, upsertSnapshotSQL, snap.Service, string(snap.State), string(body))
	return err
}

func (s *Postgres) Snapshots(ctx context.Context) ([]breaker.Snapshot, error) {
	rows, err := s.db.Query(ctx, selectSnapshotsSQL)
	if err != nil {
		return nil, err
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: failed to read snapshots")
	}
	out := make([]breaker.Snapshot, 0, len(bodies))
	for _, body := range bodies {
		var snap breaker.Snapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternal, "store: corrupt snapshot")
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Postgres) SaveReport(ctx context.Context, r degradation.Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "store: failed to encode report")
	}
	_, err = s.db.Exec(ctx, insertReportSQL, string(r.Kind), r.Service, r.At, r.Transitioned, string(body))
	return err
}

func (s *Postgres) RecentReports(ctx context.Context, limit int) ([]degradation.Report, error) {
	if limit <= 0 {
		return nil, sserr.Newf(sserr.CodeValidationRange, "store: limit must be positive, got %d", limit)
	}
	rows, err := s.db.Query(ctx, selectReportsSQL, limit)
	if err != nil {
		return nil, err
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: failed to read reports")
	}
	return decodeReports(bodies)
}

// ReportCount returns how many reports name service.
func (s *Postgres) ReportCount(ctx context.Context, service string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, countReportsSQL, service).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: failed to count reports")
	}
	return n, nil
}
