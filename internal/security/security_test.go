package security

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assadsharif/fte/internal/audit"
	"github.com/assadsharif/fte/internal/ratelimit"
)

func newGate(t *testing.T) (*Gate, *audit.Log) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")
	limiter := ratelimit.New(filepath.Join(dir, "ratelimit.json"))
	log := audit.Open(logPath)
	return New(limiter, log, 3, time.Minute), log
}

func TestCallSuccessAudited(t *testing.T) {
	g, log := newGate(t)
	result, err := Call(g, "srv1", "deploy", CallOptions{Approved: true}, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	recs, err := log.QueryRecent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "success", recs[0].Extra["result"])
}

func TestCallRateLimitedAudited(t *testing.T) {
	g, log := newGate(t)
	for i := 0; i < 20; i++ {
		_, _ = Call(g, "srv1", "deploy", CallOptions{}, func() (string, error) { return "ok", nil })
	}
	_, err := Call(g, "srv1", "deploy", CallOptions{}, func() (string, error) { return "ok", nil })
	require.Error(t, err)

	recs, err := log.QueryRecent(1)
	require.NoError(t, err)
	assert.Equal(t, "rate_limit_exceeded", recs[0].Extra["result"])
}

func TestCallCircuitOpenAudited(t *testing.T) {
	g, log := newGate(t)
	for i := 0; i < 3; i++ {
		_, _ = Call(g, "srv2", "email", CallOptions{}, func() (string, error) { return "", errors.New("boom") })
	}
	_, err := Call(g, "srv2", "email", CallOptions{}, func() (string, error) { return "ok", nil })
	require.Error(t, err)

	recs, err := log.QueryRecent(1)
	require.NoError(t, err)
	assert.Equal(t, "circuit_open", recs[0].Extra["result"])
}
