package tests

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/internal/store"
)

func newSQLiteStoreAt(t *testing.T, session int) *store.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.db")
	st, err := store.NewSQLiteStore(path, priority.NewDefaultCalculator(), store.StaticSession(session), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteCreateGetRoundTrip(t *testing.T) {
	st := newSQLiteStoreAt(t, 2)
	ctx := context.Background()

	id, err := st.Create(ctx, "WAL checkpoints", twoSectionContent, []string{"sqlite"}, 0.4)
	require.NoError(t, err)

	mem, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "WAL checkpoints", mem.Topic)
	assert.Equal(t, []string{"sqlite"}, mem.Tags)
	assert.Equal(t, 2, mem.CreatedSession)
	assert.Equal(t, "Import cycles break builds.", mem.Summary)

	stats, err := st.AccessStats(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.AccessCount)
	assert.Equal(t, 2, stats.LastSession)
}

func TestSQLitePeekHasNoSideEffects(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "quiet read", "body", nil, 0.5)
	require.NoError(t, err)

	_, err = st.Peek(ctx, id)
	require.NoError(t, err)

	stats, err := st.AccessStats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AccessCount)
}

func TestSQLiteUpdatePreservesSummary(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "original", twoSectionContent, nil, 0.5)
	require.NoError(t, err)

	body := "rewritten"
	require.NoError(t, st.Update(ctx, id, store.UpdateRequest{Body: &body}))

	mem, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rewritten", mem.Body)
	assert.Equal(t, "Import cycles break builds.", mem.Summary)
}

func TestSQLiteDeleteRemovesAllRows(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "doomed", "body", []string{"alpha", "beta"}, 0.5)
	require.NoError(t, err)

	archived, err := st.Delete(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, archived)

	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	for _, tag := range []string{"alpha", "beta"} {
		res, err := st.List(ctx, store.ListFilter{Tag: tag})
		require.NoError(t, err)
		assert.Empty(t, res.Records, "tag %q", tag)
	}

	snap, err := st.ReadArchive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "doomed", snap.Topic)
}

func TestSQLiteArchiveWriteOnce(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "frozen", twoSectionContent, nil, 0.5)
	require.NoError(t, err)
	original, err := st.Peek(ctx, id)
	require.NoError(t, err)

	wrote, err := st.Archive(ctx, id)
	require.NoError(t, err)
	assert.True(t, wrote)

	body := "mutated"
	require.NoError(t, st.Update(ctx, id, store.UpdateRequest{Body: &body}))
	wrote, err = st.Archive(ctx, id)
	require.NoError(t, err)
	assert.False(t, wrote)

	snap, err := st.ReadArchive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Content(), snap.Content())
}

func TestSQLiteListAndSearch(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := st.Create(ctx, fmt.Sprintf("memory %d", i), "shared body text", nil, float64(i)/10.0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	page, err := st.List(ctx, store.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.True(t, page.HasMore)
	require.Len(t, page.Records, 2)
	assert.Equal(t, ids[3], page.Records[0].ID)

	hits, err := st.Search(ctx, "shared body", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 4)

	hits, err = st.Search(ctx, "memory 2", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[2], hits[0].ID)
}

func TestSQLiteStatusAndRefresh(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "decaying", "body", nil, 0.8)
	require.NoError(t, err)
	hintID, err := st.Create(ctx, "hinted", "body", nil, 0.5)
	require.NoError(t, err)
	phase := models.PhaseHint
	require.NoError(t, st.Update(ctx, hintID, store.UpdateRequest{Phase: &phase}))

	status, err := st.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 1, status.ByPhase[models.PhaseFull])
	assert.Equal(t, 1, status.ByPhase[models.PhaseHint])

	n, err := st.RefreshPriorities(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := st.AccessStats(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.37, stats.Priority, 0.005)
}

func TestSQLiteRemoveContentAndRestore(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "terminal", twoSectionContent, []string{"go"}, 0.6)
	require.NoError(t, err)
	original, err := st.Peek(ctx, id)
	require.NoError(t, err)

	wrote, err := st.Archive(ctx, id)
	require.NoError(t, err)
	require.True(t, wrote)

	phase := models.PhaseRemoved
	require.NoError(t, st.Update(ctx, id, store.UpdateRequest{Phase: &phase}))
	require.NoError(t, st.RemoveContent(ctx, id))

	_, err = st.Peek(ctx, id)
	assert.Error(t, err)
	entry, err := st.CatalogEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRemoved, entry.Phase)

	require.NoError(t, st.Restore(ctx, id))
	mem, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFull, mem.Phase)
	assert.Equal(t, original.Body, mem.Body)
}
