package tests

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/parkerhale/engram/internal/tags"
)

func TestExtractTechKeywords(t *testing.T) {
	got := tags.Extract("Postgres connection pooling", "Tuning postgres for the api layer")
	assert.Equal(t, []string{"api", "postgres"}, got)
}

func TestExtractFileExtensions(t *testing.T) {
	got := tags.Extract("Fixed import cycle", "Moved helpers out of models.py and utils.js")
	assert.Contains(t, got, "py")
	assert.Contains(t, got, "js")

	// Unknown extensions are not tags.
	got = tags.Extract("notes", "see readme.txt and diagram.svg")
	assert.NotContains(t, got, "txt")
	assert.NotContains(t, got, "svg")
}

func TestExtractCaseInsensitive(t *testing.T) {
	got := tags.Extract("Docker networking", "Redis container DNS inside DOCKER compose")
	assert.Contains(t, got, "docker")
	assert.Contains(t, got, "redis")
}

func TestExtractCapAndOrder(t *testing.T) {
	got := tags.Extract(
		"python javascript typescript rust react vue",
		"angular node django flask fastapi",
	)
	assert.Len(t, got, tags.MaxTags)
	assert.True(t, sort.StringsAreSorted(got))
}

func TestExtractNothingTechnical(t *testing.T) {
	got := tags.Extract("random thoughts", "nothing technical here")
	assert.Empty(t, got)
}
