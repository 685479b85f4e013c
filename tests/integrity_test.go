package tests

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/store"
)

// corruptStats injects a stats entry for an id that exists nowhere else,
// the way a bad git merge of stats.json would.
func corruptStats(t *testing.T, basePath, id string) {
	t.Helper()
	path := filepath.Join(basePath, "stats.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	memories, ok := doc["memories"].(map[string]any)
	require.True(t, ok)
	memories[id] = map[string]any{
		"access_count": 2,
		"accessed_at":  "2026-01-01T00:00:00Z",
		"last_session": 1,
		"priority":     0.5,
	}

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestFileStoreCheckFindsEveryIssueKind(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	base := st.BasePath()

	keepID, err := st.Create(ctx, "healthy", "body", nil, 0.5)
	require.NoError(t, err)
	missingID, err := st.Create(ctx, "loses content", "body", []string{"go"}, 0.5)
	require.NoError(t, err)
	archOnlyID, err := st.Create(ctx, "archive outlives", "body", nil, 0.5)
	require.NoError(t, err)

	// Orphaned archive: archive it, then delete without re-archiving.
	wrote, err := st.Archive(ctx, archOnlyID)
	require.NoError(t, err)
	require.True(t, wrote)
	_, err = st.Delete(ctx, archOnlyID, false)
	require.NoError(t, err)

	// Orphaned content: a stray record file with no catalog entry.
	recordBytes, err := os.ReadFile(filepath.Join(base, "memories", keepID+".md"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "memories", "stray.md"), recordBytes, 0o644))

	// Missing content: the catalog keeps pointing at a deleted file.
	require.NoError(t, os.Remove(filepath.Join(base, "memories", missingID+".md")))

	// Orphaned stats: an entry for an id gone everywhere.
	corruptStats(t, base, "ghost")
	st.Invalidate()

	report, err := st.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"stray"}, report.IDs(models.IssueOrphanedContent))
	assert.Equal(t, []string{missingID}, report.IDs(models.IssueMissingContent))
	assert.Equal(t, []string{"ghost"}, report.IDs(models.IssueOrphanedStats))
	assert.Equal(t, []string{archOnlyID}, report.IDs(models.IssueOrphanedArchive))
}

func TestFileStoreFixConvergesInOnePass(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	base := st.BasePath()

	keepID, err := st.Create(ctx, "healthy", "body", nil, 0.5)
	require.NoError(t, err)
	missingID, err := st.Create(ctx, "loses content", "body", []string{"go"}, 0.5)
	require.NoError(t, err)

	recordBytes, err := os.ReadFile(filepath.Join(base, "memories", keepID+".md"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "memories", "stray.md"), recordBytes, 0o644))
	require.NoError(t, os.Remove(filepath.Join(base, "memories", missingID+".md")))
	corruptStats(t, base, "ghost")
	st.Invalidate()

	summary, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ArchivedContent)
	assert.Equal(t, 1, summary.RemovedContent)
	assert.Equal(t, 1, summary.RemovedIndex)
	// ghost plus the stats entry stranded by dropping missingID's catalog row.
	assert.Equal(t, 2, summary.RemovedStats)

	// The orphaned content was archived before removal.
	snap, err := st.ReadArchive(ctx, "stray")
	require.NoError(t, err)
	assert.Equal(t, "healthy", snap.Topic)

	// Only informational archive orphans remain.
	report, err := st.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.IDs(models.IssueOrphanedContent))
	assert.Empty(t, report.IDs(models.IssueMissingContent))
	assert.Empty(t, report.IDs(models.IssueOrphanedStats))

	// A second pass has nothing to do.
	again, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total())

	// The healthy record was never touched.
	_, err = st.Peek(ctx, keepID)
	assert.NoError(t, err)
}

func TestFileStoreFixCleansOrphanedArchivesOnRequest(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "short lived", "body", nil, 0.5)
	require.NoError(t, err)
	_, err = st.Archive(ctx, id)
	require.NoError(t, err)
	_, err = st.Delete(ctx, id, false)
	require.NoError(t, err)

	// Orphaned archives alone leave the collection healthy.
	report, err := st.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Equal(t, []string{id}, report.IDs(models.IssueOrphanedArchive))

	// Default fix leaves them alone.
	summary, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RemovedArchives)

	summary, err = st.Fix(ctx, store.FixOptions{CleanOrphanedArchives: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemovedArchives)

	ids, err := st.ListArchives(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteCheckAndFix(t *testing.T) {
	st := newSQLiteStoreAt(t, 1)
	ctx := context.Background()

	keepID, err := st.Create(ctx, "healthy", "body", nil, 0.5)
	require.NoError(t, err)
	missingID, err := st.Create(ctx, "loses content", "body", []string{"go"}, 0.5)
	require.NoError(t, err)
	archOnlyID, err := st.Create(ctx, "archive outlives", "body", nil, 0.5)
	require.NoError(t, err)

	_, err = st.Archive(ctx, archOnlyID)
	require.NoError(t, err)
	_, err = st.Delete(ctx, archOnlyID, false)
	require.NoError(t, err)

	// Content dropped while the catalog row stays at a live phase.
	require.NoError(t, st.RemoveContent(ctx, missingID))

	report, err := st.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{missingID}, report.IDs(models.IssueMissingContent))
	assert.Equal(t, []string{archOnlyID}, report.IDs(models.IssueOrphanedArchive))

	summary, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemovedIndex)
	assert.Equal(t, 1, summary.RemovedStats)

	report, err = st.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	again, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Total())

	_, err = st.Peek(ctx, keepID)
	assert.NoError(t, err)
}

func TestPhaseThreeIsNotAMissingContentIssue(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()

	id, err := st.Create(ctx, "fully evicted", "body", nil, 0.5)
	require.NoError(t, err)
	_, err = st.Archive(ctx, id)
	require.NoError(t, err)

	phase := models.PhaseRemoved
	require.NoError(t, st.Update(ctx, id, store.UpdateRequest{Phase: &phase}))
	require.NoError(t, st.RemoveContent(ctx, id))

	report, err := st.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Issues)
}

// corruptIndex adds a catalog entry for an id with no record file, the way
// a bad git merge of index.json would.
func corruptIndex(t *testing.T, basePath, id string) {
	t.Helper()
	path := filepath.Join(basePath, "index.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	memories, ok := doc["memories"].(map[string]any)
	require.True(t, ok)
	memories[id] = map[string]any{
		"topic":      "merged in from another branch",
		"tags":       []string{},
		"phase":      0,
		"difficulty": 0.5,
		"created_at": "2026-01-01T00:00:00Z",
	}

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

func TestFileStoreCheckSeesOutOfBandEdits(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	base := st.BasePath()

	liveID, err := st.Create(ctx, "stays intact", "body", nil, 0.5)
	require.NoError(t, err)

	// Prime the in-process catalog and stats caches.
	report, err := st.Check(ctx)
	require.NoError(t, err)
	require.True(t, report.Healthy)

	// Edit the persisted files behind the store's back, as a manual edit or
	// git merge in a long-running process would. No Invalidate call: Check
	// must reconcile what is on disk, not the cached view.
	corruptIndex(t, base, "mem_deadbeef")
	corruptStats(t, base, "mem_0badf00d")

	report, err = st.Check(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.Equal(t, []string{"mem_deadbeef"}, report.IDs(models.IssueMissingContent))
	assert.Equal(t, []string{"mem_0badf00d"}, report.IDs(models.IssueOrphanedStats))

	summary, err := st.Fix(ctx, store.FixOptions{ArchiveOrphans: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RemovedIndex)
	assert.Equal(t, 1, summary.RemovedStats)

	report, err = st.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy)

	// The record that was never touched survives the repair.
	mem, err := st.Get(ctx, liveID)
	require.NoError(t, err)
	assert.Equal(t, "stays intact", mem.Topic)
}
