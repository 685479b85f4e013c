package tests

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerhale/engram/internal/session"
)

func newTrackerAt(t *testing.T) (*session.Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	tr, err := session.NewTracker(path)
	require.NoError(t, err)
	return tr, path
}

func TestTrackerBeginIncrementsOrdinal(t *testing.T) {
	tr, _ := newTrackerAt(t)
	assert.Equal(t, 0, tr.Current())

	n, err := tr.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.Current())

	n, err = tr.Begin()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTrackerCountersAccumulate(t *testing.T) {
	tr, _ := newTrackerAt(t)
	_, err := tr.Begin()
	require.NoError(t, err)

	require.NoError(t, tr.RecordToolResult(true, 120))
	require.NoError(t, tr.RecordToolResult(false, 80))
	require.NoError(t, tr.RecordToolResult(false, 0))
	require.NoError(t, tr.MarkCompacted())

	c := tr.Counters()
	assert.Equal(t, 1, c.ToolSuccesses)
	assert.Equal(t, 2, c.ToolFailures)
	assert.Equal(t, 200, c.SessionTokens)
	assert.True(t, c.Compacted)
}

func TestTrackerBeginClearsCounters(t *testing.T) {
	tr, _ := newTrackerAt(t)
	_, err := tr.Begin()
	require.NoError(t, err)
	require.NoError(t, tr.RecordToolResult(false, 50))
	require.NoError(t, tr.MarkCompacted())

	_, err = tr.Begin()
	require.NoError(t, err)
	c := tr.Counters()
	assert.Zero(t, c.ToolFailures)
	assert.Zero(t, c.SessionTokens)
	assert.False(t, c.Compacted)
}

func TestTrackerResetKeepsOrdinal(t *testing.T) {
	tr, _ := newTrackerAt(t)
	_, err := tr.Begin()
	require.NoError(t, err)
	require.NoError(t, tr.RecordToolResult(false, 50))

	require.NoError(t, tr.Reset())
	assert.Equal(t, 1, tr.Current())
	assert.Zero(t, tr.Counters().ToolFailures)
}

func TestTrackerPersistsAcrossReopen(t *testing.T) {
	tr, path := newTrackerAt(t)
	_, err := tr.Begin()
	require.NoError(t, err)
	_, err = tr.Begin()
	require.NoError(t, err)
	require.NoError(t, tr.RecordToolResult(false, 75))

	reopened, err := session.NewTracker(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Current())
	c := reopened.Counters()
	assert.Equal(t, 1, c.ToolFailures)
	assert.Equal(t, 75, c.SessionTokens)

	n, err := reopened.Begin()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
