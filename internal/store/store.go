// Package store persists memory records, their catalog index, and their
// volatile access statistics. Two backends implement the same contract: a
// directory of markdown files with JSON sidecars (git-friendly, the default)
// and a SQLite database.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/parkerhale/engram/internal/models"
)

// ErrNotFound is returned by any id-based operation referencing an unknown id.
var ErrNotFound = errors.New("memory not found")

// ValidationError reports a missing or malformed required field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SessionSource reports the current session ordinal. The session layer owns
// the counter; stores only read it when stamping records and access stats.
type SessionSource interface {
	Current() int
}

// StaticSession is a fixed session ordinal, for callers that do not track
// sessions (tests, one-shot CLI invocations).
type StaticSession int

// Current returns the fixed ordinal.
func (s StaticSession) Current() int { return int(s) }

// UpdateRequest is a typed partial-update descriptor. Nil members are left
// unchanged. The Summary section, id, created_at, and created_session are
// not updatable by design.
type UpdateRequest struct {
	Topic      *string
	Body       *string
	Tags       []string // nil = unchanged; empty slice clears
	Phase      *models.Phase
	Difficulty *float64
}

// Empty returns true when the request would change nothing.
func (r UpdateRequest) Empty() bool {
	return r.Topic == nil && r.Body == nil && r.Tags == nil && r.Phase == nil && r.Difficulty == nil
}

// ListFilter selects and pages the catalog. Filters are ANDed. Keyword
// matches case-insensitively against the topic.
type ListFilter struct {
	Phase   *models.Phase
	Tag     string
	Keyword string
	Limit   int
	Offset  int
}

// ListResult is a page of catalog entries ordered by cached priority
// descending, ties broken by created_at descending.
type ListResult struct {
	Records []models.ListEntry `json:"records"`
	Total   int                `json:"total"`
	HasMore bool               `json:"has_more"`
}

// FixOptions controls the repair actions taken by Fix.
type FixOptions struct {
	// ArchiveOrphans snapshots orphaned content to the archive before
	// removing it.
	ArchiveOrphans bool
	// CleanOrphanedArchives also deletes archives whose id no longer exists
	// anywhere. Off by default: archives legitimately outlive their source.
	CleanOrphanedArchives bool
}

// Store is the persistence contract for memory records.
//
// Every content, catalog, or stats write is individually atomic; a failure
// partway through a multi-structure operation is expected to be repaired by
// Check/Fix rather than prevented by transactions (file backend). Cross-id
// operations need no external serialization.
type Store interface {
	// Create validates the topic, generates a fresh id, and persists the
	// record at phase 0 together with its catalog entry and empty stats.
	Create(ctx context.Context, topic, content string, tags []string, difficulty float64) (string, error)

	// Get returns the record and records the access: it increments the
	// access count and stamps the access time and session in the stats.
	Get(ctx context.Context, id string) (*models.Memory, error)

	// Peek returns the record without touching access statistics.
	Peek(ctx context.Context, id string) (*models.Memory, error)

	// Update applies a partial update to the mutable fields and re-syncs
	// the tag index when tags changed.
	Update(ctx context.Context, id string, req UpdateRequest) error

	// Delete removes the record, its catalog entry, tag-index entries, and
	// stats. With archive set it snapshots the record first (no-op when an
	// archive already exists). Returns whether an archive write happened.
	Delete(ctx context.Context, id string, archive bool) (bool, error)

	// CatalogEntry returns the catalog projection for id without loading
	// content or touching stats. It works for phase-3 records, whose live
	// content no longer exists.
	CatalogEntry(ctx context.Context, id string) (*models.IndexEntry, error)

	// RemoveContent deletes the live content for id while keeping the
	// catalog entry and stats. Used on the final phase transition.
	RemoveContent(ctx context.Context, id string) error

	// Restore rebuilds the live record from its archive at phase 0,
	// recreating the catalog entry, tag-index entries, and stats if lost.
	Restore(ctx context.Context, id string) error

	// List returns a filtered, paged view of the catalog.
	List(ctx context.Context, filter ListFilter) (*ListResult, error)

	// Search matches query case-insensitively against topic, tags, and
	// content, ranked by cached priority.
	Search(ctx context.Context, query string, limit int) ([]models.ListEntry, error)

	// Status summarizes the live collection.
	Status(ctx context.Context) (*models.CollectionStatus, error)

	// AccessStats returns the stats entry for id, or nil when none exists.
	AccessStats(ctx context.Context, id string) (*models.AccessStats, error)

	// RefreshPriorities recomputes the cached priority of every live record
	// for the given session ordinal. Returns the number updated.
	RefreshPriorities(ctx context.Context, currentSession int) (int, error)

	// Archive snapshots the current record content write-once. Returns true
	// if a new archive was written, false if one already existed.
	Archive(ctx context.Context, id string) (bool, error)

	// ReadArchive returns the frozen snapshot for id.
	ReadArchive(ctx context.Context, id string) (*models.Memory, error)

	// ListArchives returns the ids of all archived memories.
	ListArchives(ctx context.Context) ([]string, error)

	// RemoveArchive deletes the archive for id, if present.
	RemoveArchive(ctx context.Context, id string) error

	// Check scans the persisted structures for inconsistencies without
	// mutating anything.
	Check(ctx context.Context) (*models.IntegrityReport, error)

	// Fix repairs the issues Check finds. Running Fix twice in a row must
	// report zero actions the second time.
	Fix(ctx context.Context, opts FixOptions) (*models.FixSummary, error)

	// Close releases backend resources.
	Close() error
}
