// Package testutil holds helpers shared by the runtime's tests.
//
// Helpers take [testing.TB] and call t.Helper(). Require* helpers stop the
// test; Assert* helpers record a failure and continue.
package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// RequireErrorCode stops the test unless err is an *sserr.Error with code.
//
//	_, err := reg.GetOrCreateAgent(ctx, cleaned, "triage")
//	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundContext)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// AssertErrorCode is RequireErrorCode without stopping the test.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "error code mismatch (message: %s)", e.Message)
}

// TempFile writes content to name inside t.TempDir() with mode 0600 and
// returns the path.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write %s", path)
	return path
}

// AssertJSONContains marshals v and checks the output contains expected.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.Contains(t, string(data), expected)
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
