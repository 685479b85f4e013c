package models

import (
	"strings"
	"time"
)

// Phase is the eviction-lifecycle stage of a memory.
type Phase int

const (
	PhaseFull     Phase = 0
	PhaseHint     Phase = 1
	PhaseAbstract Phase = 2
	PhaseRemoved  Phase = 3
)

// IsValid returns true if the phase is a recognized lifecycle stage.
func (p Phase) IsValid() bool {
	return p >= PhaseFull && p <= PhaseRemoved
}

// Terminal returns true if the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p >= PhaseRemoved
}

// Next returns the phase one step further along the lifecycle.
// PhaseRemoved is terminal and returns itself.
func (p Phase) Next() Phase {
	if p.Terminal() {
		return PhaseRemoved
	}
	return p + 1
}

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseFull:
		return "full"
	case PhaseHint:
		return "hint"
	case PhaseAbstract:
		return "abstract"
	case PhaseRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Memory is the durable unit of stored knowledge.
//
// Content is split into two named sections: Summary is human-authored and
// never rewritten by any system operation, including eviction. Body shrinks
// as the eviction phase advances.
type Memory struct {
	ID             string    `json:"id"`
	Topic          string    `json:"topic"`
	Tags           []string  `json:"tags"`
	Phase          Phase     `json:"phase"`
	Difficulty     float64   `json:"difficulty"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedSession int       `json:"created_session"`
	Summary        string    `json:"summary"`
	Body           string    `json:"body"`
}

// Content renders the two-section body as a single markdown document.
func (m *Memory) Content() string {
	return JoinSections(m.Summary, m.Body)
}

// HasTag reports whether the memory carries the given tag. Tags are
// case-preserving, so matching is exact.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SplitSections splits a markdown document into its "## Summary" and
// "## Content" sections. A document without a Summary header is treated as
// all body.
func SplitSections(content string) (summary, body string) {
	const (
		summaryHeader = "## Summary"
		contentHeader = "## Content"
	)

	idx := strings.Index(content, summaryHeader)
	if idx < 0 {
		return "", strings.TrimSpace(content)
	}

	rest := content[idx+len(summaryHeader):]
	if ci := strings.Index(rest, contentHeader); ci >= 0 {
		return strings.TrimSpace(rest[:ci]), strings.TrimSpace(rest[ci+len(contentHeader):])
	}
	return strings.TrimSpace(rest), ""
}

// JoinSections renders summary and body back into the canonical two-section
// markdown form. Empty sections are omitted.
func JoinSections(summary, body string) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("## Summary\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if body != "" {
		if summary != "" {
			b.WriteString("\n")
		}
		b.WriteString("## Content\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

// AccessStats holds the volatile, rebuildable access statistics for a memory.
// Stats are best-effort and never the source of truth for a memory's existence.
type AccessStats struct {
	AccessCount int       `json:"access_count"`
	AccessedAt  time.Time `json:"accessed_at"`
	LastSession int       `json:"last_session"`
	Priority    float64   `json:"priority"`
}

// IndexEntry is the lightweight catalog projection of a memory, used for
// filtering without loading full content.
type IndexEntry struct {
	Topic      string    `json:"topic"`
	Tags       []string  `json:"tags"`
	Phase      Phase     `json:"phase"`
	Difficulty float64   `json:"difficulty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListEntry is a row returned by List and Search: catalog data plus the
// cached access statistics used for ranking.
type ListEntry struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Tags        []string  `json:"tags"`
	Phase       Phase     `json:"phase"`
	Difficulty  float64   `json:"difficulty"`
	Priority    float64   `json:"priority"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
	AccessedAt  time.Time `json:"accessed_at,omitempty"`
	Summary     string    `json:"summary,omitempty"`
}

// CollectionStatus summarizes the live collection.
type CollectionStatus struct {
	Total    int           `json:"total"`
	ByPhase  map[Phase]int `json:"by_phase"`
	Archives int           `json:"archives"`
}

// IssueKind classifies an integrity finding.
type IssueKind string

const (
	IssueOrphanedContent IssueKind = "orphaned_content" // content with no catalog entry
	IssueMissingContent  IssueKind = "missing_content"  // catalog entry with no content (phase < 3)
	IssueOrphanedStats   IssueKind = "orphaned_stats"   // stats entry with no catalog entry
	IssueOrphanedArchive IssueKind = "orphaned_archive" // archive for an id gone everywhere (informational)
)

// IntegrityIssue is a single finding from an integrity check.
type IntegrityIssue struct {
	Kind IssueKind `json:"kind"`
	ID   string    `json:"id"`
}

// IntegrityReport enumerates the findings of a Check run. Orphaned archives
// are informational and do not affect Healthy.
type IntegrityReport struct {
	Issues  []IntegrityIssue `json:"issues"`
	Healthy bool             `json:"healthy"`

	Indexed  int `json:"indexed"`
	Content  int `json:"content"`
	Stats    int `json:"stats"`
	Archives int `json:"archives"`
}

// IDs returns the affected ids for a given issue kind.
func (r *IntegrityReport) IDs(kind IssueKind) []string {
	var ids []string
	for _, is := range r.Issues {
		if is.Kind == kind {
			ids = append(ids, is.ID)
		}
	}
	return ids
}

// FixSummary reports the counts of each repair action taken by Fix.
type FixSummary struct {
	ArchivedContent int `json:"archived_content"`
	RemovedContent  int `json:"removed_content"`
	RemovedIndex    int `json:"removed_index_entries"`
	RemovedStats    int `json:"removed_stats_entries"`
	RemovedArchives int `json:"removed_orphaned_archives"`
}

// Total returns the total number of repair actions taken.
func (s *FixSummary) Total() int {
	return s.ArchivedContent + s.RemovedContent + s.RemovedIndex + s.RemovedStats + s.RemovedArchives
}

// NormalizeTags trims, deduplicates, and drops empty tags while preserving
// case and first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
