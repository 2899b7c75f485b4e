package redis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-isolation/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	return m.Called(ctx, key, value, expiration).Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	return m.Called(ctx, key).Get(0).(*redis.StringCmd)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return m.Called(ctx, keys).Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return m.Called(ctx, key, values).Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	return m.Called(ctx, key).Get(0).(*redis.MapStringStringCmd)
}

func (m *mockCmdable) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return m.Called(ctx, key, values).Get(0).(*redis.IntCmd)
}

func (m *mockCmdable) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	return m.Called(ctx, key, start, stop).Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	return m.Called(ctx, key, start, stop).Get(0).(*redis.StringSliceCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	return m.Called(ctx).Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	return m.Called().Error(0)
}

func statusCmd(err error) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(context.Background())
	if err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func stringCmd(val string, err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	cmd.SetVal(val)
	cmd.SetErr(err)
	return cmd
}

func intCmd(val int64, err error) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	cmd.SetVal(val)
	cmd.SetErr(err)
	return cmd
}

var ctxArg = mock.Anything

// ===========================================================================
// Config
// ===========================================================================

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{URI: "rediss://:pw@cache:6380/2"}.Validate())

	tests := []struct {
		name string
		cfg  Config
		code sserr.Code
	}{
		{"bad scheme", Config{URI: "http://cache"}, sserr.CodeValidation},
		{"bad addr", Config{Addr: "cache", PoolSize: 1}, sserr.CodeValidation},
		{"db range", Config{Addr: "cache:6379", DB: 16, PoolSize: 1}, sserr.CodeValidationRange},
		{"pool size", Config{Addr: "cache:6379"}, sserr.CodeValidationRange},
		{"dial timeout", Config{Addr: "cache:6379", PoolSize: 1, DialTimeout: -time.Second}, sserr.CodeValidationRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertErrorCode(t, tt.cfg.Validate(), tt.code)
		})
	}
}

func TestConfig_PasswordRedacted(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Password = "hunter2"
	testutil.AssertJSONContains(t, cfg, `"addr"`)
	assert.NotContains(t, cfg.Password.String(), "hunter2")
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GET k", truncateStatement("GET k"))
	long := strings.Repeat("é", 150)
	got := truncateStatement(long)
	assert.Equal(t, maxStatementLen+3, len([]rune(got)))
}

// ===========================================================================
// Commands
// ===========================================================================

func TestClient_Key(t *testing.T) {
	t.Parallel()
	c := NewFromClient(&mockCmdable{}, Config{KeyPrefix: "iso"})
	assert.Equal(t, "iso:breaker:llm", c.Key("breaker", "llm"))
	assert.Equal(t, "reports", NewFromClient(&mockCmdable{}, Config{}).Key("reports"))
}

func TestClient_Get(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Get", ctxArg, "present").Return(stringCmd("v", nil))
	m.On("Get", ctxArg, "absent").Return(stringCmd("", redis.Nil))
	m.On("Get", ctxArg, "slow").Return(stringCmd("", context.DeadlineExceeded))
	c := NewFromClient(m, Config{})

	v, err := c.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = c.Get(context.Background(), "absent")
	testutil.AssertErrorCode(t, err, sserr.CodeNotFound)
	assert.ErrorIs(t, err, Nil)

	_, err = c.Get(context.Background(), "slow")
	testutil.AssertErrorCode(t, err, sserr.CodeTimeoutDatabase)
	m.AssertExpectations(t)
}

func TestClient_PushCapped(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("LPush", ctxArg, "reports", []any{"r1"}).Return(intCmd(1, nil))
	m.On("LTrim", ctxArg, "reports", int64(0), int64(99)).Return(statusCmd(nil))
	c := NewFromClient(m, Config{})

	require.NoError(t, c.PushCapped(context.Background(), "reports", "r1", 100))
	m.AssertExpectations(t)
}

func TestClient_PushCapped_PushFails(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("LPush", ctxArg, "reports", []any{"r1"}).Return(intCmd(0, errors.New("READONLY")))
	c := NewFromClient(m, Config{})

	err := c.PushCapped(context.Background(), "reports", "r1", 100)
	testutil.AssertErrorCode(t, err, sserr.CodeInternalDatabase)
	m.AssertNotCalled(t, "LTrim", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(statusCmd(nil)).Once()
	m.On("Ping", ctxArg).Return(statusCmd(errors.New("connection refused"))).Once()
	c := NewFromClient(m, Config{})

	assert.NoError(t, c.Health(context.Background()))
	testutil.AssertErrorCode(t, c.Health(context.Background()), sserr.CodeUnavailableDependency)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil)
	require.NoError(t, NewFromClient(m, Config{}).Close())
	m.AssertExpectations(t)
}
