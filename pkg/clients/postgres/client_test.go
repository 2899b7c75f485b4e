package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

func newMockClient(t *testing.T, opts ...pgxmock.Option) (*Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(opts...)
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewFromPool(mock, DefaultConfig()), mock
}

// ===========================================================================
// Config
// ===========================================================================

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{URI: "postgresql://u:p@db:5432/iso"}.Validate())

	mutate := func(fn func(*Config)) Config {
		c := DefaultConfig()
		fn(&c)
		return c
	}
	tests := []struct {
		name string
		cfg  Config
		code sserr.Code
	}{
		{"bad scheme", Config{URI: "mysql://db"}, sserr.CodeValidation},
		{"no host", mutate(func(c *Config) { c.Host = "" }), sserr.CodeValidationRequired},
		{"no database", mutate(func(c *Config) { c.Database = "" }), sserr.CodeValidationRequired},
		{"port", mutate(func(c *Config) { c.Port = 70000 }), sserr.CodeValidationRange},
		{"max conns", mutate(func(c *Config) { c.MaxConns = 0 }), sserr.CodeValidationRange},
		{"ssl mode", mutate(func(c *Config) { c.SSLMode = "sometimes" }), sserr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertErrorCode(t, tt.cfg.Validate(), tt.code)
		})
	}
}

func TestConfig_ConnectionString(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Host = "db"
	cfg.Password = "p@ss/word"

	assert.Equal(t,
		"postgres://isolation:p%40ss%2Fword@db:5432/isolation?connect_timeout=10&sslmode=require",
		cfg.ConnectionString())
	assert.Equal(t, "isolation", cfg.databaseName())
	assert.Equal(t, "hist", Config{URI: "postgres://u@h/hist"}.databaseName())
}

// ===========================================================================
// Operations
// ===========================================================================

func TestClient_Exec(t *testing.T) {
	t.Parallel()
	c, mock := newMockClient(t)
	mock.ExpectExec("DELETE FROM degradation_reports").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	tag, err := c.Exec(context.Background(), "DELETE FROM degradation_reports")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tag.RowsAffected())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClient_ExecErrors(t *testing.T) {
	t.Parallel()
	c, mock := newMockClient(t)
	mock.ExpectExec("UPDATE").WillReturnError(errors.New("relation does not exist"))
	mock.ExpectExec("UPDATE").WillReturnError(context.DeadlineExceeded)

	_, err := c.Exec(context.Background(), "UPDATE x SET y = 1")
	testutil.AssertErrorCode(t, err, sserr.CodeInternalDatabase)
	_, err = c.Exec(context.Background(), "UPDATE x SET y = 1")
	testutil.AssertErrorCode(t, err, sserr.CodeTimeoutDatabase)
}

func TestClient_Query(t *testing.T) {
	t.Parallel()
	c, mock := newMockClient(t)
	mock.ExpectQuery("SELECT service").
		WillReturnRows(pgxmock.NewRows([]string{"service"}).AddRow("llm").AddRow("db"))

	rows, err := c.Query(context.Background(), "SELECT service FROM breaker_snapshots")
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	assert.Equal(t, []string{"llm", "db"}, got)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	c, mock := newMockClient(t, pgxmock.MonitorPingsOption(true))
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("refused"))

	assert.NoError(t, c.Health(context.Background()))
	testutil.AssertErrorCode(t, c.Health(context.Background()), sserr.CodeUnavailableDependency)
}
