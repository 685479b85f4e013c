package tests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkerhale/engram/internal/eviction"
	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/store"
)

func newEngineOn(t *testing.T, st store.Store, cfg eviction.Config) *eviction.Engine {
	t.Helper()
	return eviction.NewEngine(st, cfg, testLogger())
}

func TestRunBelowThresholdIsANoOp(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 95; i++ {
		id, err := st.Create(ctx, fmt.Sprintf("memory %d", i), "body", nil, float64(i)/150.0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	engine := newEngineOn(t, st, eviction.Config{Threshold: 100, BatchSize: 10})
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95, report.Live)
	assert.False(t, report.Triggered)
	assert.Empty(t, report.Advanced)

	// Nothing moved.
	for _, id := range ids[:5] {
		entry, err := st.CatalogEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseFull, entry.Phase)
	}
}

func TestRunAdvancesLowestPriorityBatch(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()

	// Distinct difficulties make priority ordering unambiguous: the ten
	// lowest-difficulty memories are the eviction batch.
	var ids []string
	for i := 0; i < 105; i++ {
		id, err := st.Create(ctx, fmt.Sprintf("memory %d", i), "body", nil, float64(i)/150.0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	engine := newEngineOn(t, st, eviction.Config{Threshold: 100, BatchSize: 10})
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 105, report.Live)
	assert.True(t, report.Triggered)
	assert.Empty(t, report.Skipped)
	assert.ElementsMatch(t, ids[:10], report.Advanced)

	for _, id := range ids[:10] {
		entry, err := st.CatalogEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseHint, entry.Phase)

		// Leaving phase 0 archived the full record.
		_, err = st.ReadArchive(ctx, id)
		assert.NoError(t, err)
	}
	for _, id := range ids[10:15] {
		entry, err := st.CatalogEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.PhaseFull, entry.Phase)
	}
}

func TestAdvancePhasePipeline(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	engine := newEngineOn(t, st, eviction.DefaultConfig())

	id, err := st.Create(ctx, "pipeline", twoSectionContent, nil, 0.5)
	require.NoError(t, err)
	original, err := st.Peek(ctx, id)
	require.NoError(t, err)

	// 0 -> 1: archived, body reduced, summary untouched.
	phase, err := engine.AdvancePhase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseHint, phase)

	hinted, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Summary, hinted.Summary)
	assert.Contains(t, hinted.Body, "archived")
	assert.NotContains(t, hinted.Body, original.Body)

	archived, err := engine.ArchivedContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Content(), archived)

	// 1 -> 2: a single line derived from the summary.
	phase, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseAbstract, phase)

	abstracted, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Summary, abstracted.Summary)
	assert.Equal(t, "Import cycles break builds.", abstracted.Body)
	assert.NotContains(t, abstracted.Body, "\n")

	// 2 -> 3: content gone, catalog entry survives.
	phase, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRemoved, phase)

	_, err = st.Peek(ctx, id)
	assert.Error(t, err)
	entry, err := st.CatalogEntry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRemoved, entry.Phase)

	// 3 -> 3: terminal, no error, nothing changes.
	phase, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseRemoved, phase)

	// The archive still holds the pre-reduction record.
	archived, err = engine.ArchivedContent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Content(), archived)
}

func TestHintFallsBackToLeadingBody(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	engine := newEngineOn(t, st, eviction.Config{HintMaxChars: 50, AbstractMaxChars: 20})

	long := strings.Repeat("all work and no play makes a dull assistant ", 10)
	id, err := st.Create(ctx, "no summary", long, nil, 0.5)
	require.NoError(t, err)

	_, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)

	mem, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(mem.Body, long[:50]+"..."))
	assert.Contains(t, mem.Body, "archived")

	_, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)

	mem, err = st.Peek(ctx, id)
	require.NoError(t, err)
	firstLine := strings.SplitN(mem.Body, "\n", 2)[0]
	assert.LessOrEqual(t, len(firstLine), 20+len("..."))
}

func TestEngineRestoreAfterRemoval(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	engine := newEngineOn(t, st, eviction.DefaultConfig())

	id, err := st.Create(ctx, "comes back", twoSectionContent, []string{"go"}, 0.7)
	require.NoError(t, err)
	original, err := st.Peek(ctx, id)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = engine.AdvancePhase(ctx, id)
		require.NoError(t, err)
	}
	_, err = st.Peek(ctx, id)
	require.Error(t, err)

	require.NoError(t, engine.Restore(ctx, id))

	mem, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFull, mem.Phase)
	assert.Equal(t, original.Body, mem.Body)
	assert.Equal(t, original.Summary, mem.Summary)
}

// flakyStore fails catalog lookups for one id so Run has something to skip.
type flakyStore struct {
	store.Store
	failID string
}

func (f *flakyStore) CatalogEntry(ctx context.Context, id string) (*models.IndexEntry, error) {
	if id == f.failID {
		return nil, errors.New("injected failure")
	}
	return f.Store.CatalogEntry(ctx, id)
}

func TestRunSkipsFailingIDsAndContinues(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := st.Create(ctx, fmt.Sprintf("memory %d", i), "body", nil, float64(i)/10.0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	engine := newEngineOn(t, &flakyStore{Store: st, failID: ids[1]}, eviction.Config{Threshold: 2, BatchSize: 3})
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Triggered)
	assert.Equal(t, []string{ids[1]}, report.Skipped)
	assert.ElementsMatch(t, []string{ids[0], ids[2]}, report.Advanced)
}

func TestReductionKeepsMultibyteRunes(t *testing.T) {
	st := newFileStoreAt(t, 1)
	ctx := context.Background()
	engine := newEngineOn(t, st, eviction.Config{HintMaxChars: 50, AbstractMaxChars: 20})

	body := strings.Repeat("通信速度の測定結果を記録する。", 10)
	id, err := st.Create(ctx, "multibyte body", body, nil, 0.5)
	require.NoError(t, err)

	_, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)

	mem, err := st.Peek(ctx, id)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(mem.Body))
	assert.True(t, strings.HasPrefix(mem.Body, string([]rune(body)[:50])+"..."))

	_, err = engine.AdvancePhase(ctx, id)
	require.NoError(t, err)

	mem, err = st.Peek(ctx, id)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(mem.Body))
	firstLine := strings.SplitN(mem.Body, "\n", 2)[0]
	assert.LessOrEqual(t, len([]rune(firstLine)), 20+len("..."))
}
