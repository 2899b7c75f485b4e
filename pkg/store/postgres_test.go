package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(postgres.NewFromPool(mock, postgres.DefaultConfig())), mock
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestPostgres_Migrate(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta(Schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveSnapshot(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	snap := breaker.Snapshot{Service: "llm", State: breaker.StateOpen, FailureCount: 5}
	mock.ExpectExec(regexp.QuoteMeta(upsertSnapshotSQL)).
		WithArgs("llm", "open", mustJSON(t, snap)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveSnapshot(context.Background(), snap))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Snapshots(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	rows := pgxmock.NewRows([]string{"snapshot"}).
		AddRow(mustJSON(t, breaker.Snapshot{Service: "db", State: breaker.StateClosed})).
		AddRow(mustJSON(t, breaker.Snapshot{Service: "llm", State: breaker.StateOpen}))
	mock.ExpectQuery(regexp.QuoteMeta(selectSnapshotsSQL)).WillReturnRows(rows)

	got, err := s.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, breaker.StateOpen, got[1].State)
}

func TestPostgres_SaveReport(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	r := report("db", degradation.KindDegradation, t0)
	mock.ExpectExec(regexp.QuoteMeta(insertReportSQL)).
		WithArgs("degradation", "db", t0, true, mustJSON(t, r)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(insertReportSQL)).
		WithArgs("degradation", "db", t0, true, pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, s.SaveReport(context.Background(), r))
	testutil.AssertErrorCode(t, s.SaveReport(context.Background(), r), sserr.CodeInternalDatabase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RecentReports(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	rows := pgxmock.NewRows([]string{"report"}).
		AddRow(mustJSON(t, report("b", degradation.KindRestoration, t0))).
		AddRow(mustJSON(t, report("a", degradation.KindDegradation, t0)))
	mock.ExpectQuery(regexp.QuoteMeta(selectReportsSQL)).WithArgs(2).WillReturnRows(rows)

	got, err := s.RecentReports(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Service)
	assert.Equal(t, degradation.KindRestoration, got[0].Kind)

	_, err = s.RecentReports(context.Background(), -1)
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRange)
}

func TestPostgres_ReportCount(t *testing.T) {
	t.Parallel()
	s, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta(countReportsSQL)).WithArgs("db").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := s.ReportCount(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
