package logging

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("boom")
}

func TestNewLogger_ProductionEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, false)
	logger.Info("hello", "bus_id", "B1")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"bus_id":"B1"`)
}

func TestNewLogger_VerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, false, false).Debug("quiet")
	assert.Empty(t, buf.String())

	newLogger(&buf, false, true).Debug("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false, false)

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestLogError_IncludesError(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, false)

	LogError(logger, "write failed", errors.New("disk full"), slog.String("bus_id", "B7"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "B7")
}

func TestLogHTTPRequest_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, false)

	LogHTTPRequest(logger, "GET", "/api/locations", 404, 1.5)
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	LogHTTPRequest(logger, "POST", "/api/drivers/positions", 500, 2)
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestSafeCloseWithLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true, false)
	c := &failingCloser{}

	SafeCloseWithLogging(c, logger, "socket")

	assert.True(t, c.closed)
	assert.Contains(t, buf.String(), "socket")
	SafeCloseWithLogging(nil, logger, "nothing")
}

func TestSafeRollbackWithLogging_IgnoresCommittedTx(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	var buf bytes.Buffer
	SafeRollbackWithLogging(tx, newLogger(&buf, true, false), "noop")
	assert.Empty(t, buf.String())
}
