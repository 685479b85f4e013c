package tests

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parkerhale/engram/internal/models"
)

func TestPhaseLifecycle(t *testing.T) {
	assert.Equal(t, models.PhaseHint, models.PhaseFull.Next())
	assert.Equal(t, models.PhaseAbstract, models.PhaseHint.Next())
	assert.Equal(t, models.PhaseRemoved, models.PhaseAbstract.Next())

	// Removed is terminal.
	assert.Equal(t, models.PhaseRemoved, models.PhaseRemoved.Next())
	assert.True(t, models.PhaseRemoved.Terminal())
	assert.False(t, models.PhaseAbstract.Terminal())

	assert.True(t, models.PhaseFull.IsValid())
	assert.False(t, models.Phase(4).IsValid())
	assert.False(t, models.Phase(-1).IsValid())

	assert.Equal(t, "full", models.PhaseFull.String())
	assert.Equal(t, "removed", models.PhaseRemoved.String())
	assert.Equal(t, "unknown", models.Phase(9).String())
}

func TestSplitSections(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantSummary string
		wantBody    string
	}{
		{
			name:        "both sections",
			content:     "## Summary\nThe gist.\n\n## Content\nThe details.\n",
			wantSummary: "The gist.",
			wantBody:    "The details.",
		},
		{
			name:        "no summary header",
			content:     "just a blob of text",
			wantSummary: "",
			wantBody:    "just a blob of text",
		},
		{
			name:        "summary only",
			content:     "## Summary\nOnly the gist.",
			wantSummary: "Only the gist.",
			wantBody:    "",
		},
		{
			name:        "empty",
			content:     "",
			wantSummary: "",
			wantBody:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, body := models.SplitSections(tt.content)
			assert.Equal(t, tt.wantSummary, summary)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestJoinSectionsRoundTrip(t *testing.T) {
	joined := models.JoinSections("The gist.", "The details.")
	summary, body := models.SplitSections(joined)
	assert.Equal(t, "The gist.", summary)
	assert.Equal(t, "The details.", body)

	// Empty sections are omitted entirely.
	assert.Equal(t, "", models.JoinSections("", ""))
	assert.NotContains(t, models.JoinSections("", "body only"), "## Summary")
	assert.NotContains(t, models.JoinSections("summary only", ""), "## Content")
}

func TestNormalizeTags(t *testing.T) {
	assert.Nil(t, models.NormalizeTags(nil))
	assert.Equal(t,
		[]string{"go", "sqlite"},
		models.NormalizeTags([]string{" go ", "sqlite", "go", "", "  "}),
	)
}

func TestMemoryHasTag(t *testing.T) {
	m := models.Memory{Tags: []string{"go", "testing"}}
	assert.True(t, m.HasTag("go"))
	assert.False(t, m.HasTag("Go")) // matching is exact
	assert.False(t, m.HasTag("rust"))
}

func TestIntegrityReportIDs(t *testing.T) {
	r := models.IntegrityReport{Issues: []models.IntegrityIssue{
		{Kind: models.IssueOrphanedContent, ID: "a"},
		{Kind: models.IssueMissingContent, ID: "b"},
		{Kind: models.IssueOrphanedContent, ID: "c"},
	}}
	assert.Equal(t, []string{"a", "c"}, r.IDs(models.IssueOrphanedContent))
	assert.Nil(t, r.IDs(models.IssueOrphanedArchive))
}

func TestFixSummaryTotal(t *testing.T) {
	s := models.FixSummary{ArchivedContent: 1, RemovedContent: 2, RemovedStats: 3}
	assert.Equal(t, 6, s.Total())
	assert.Equal(t, 0, (&models.FixSummary{}).Total())
}
