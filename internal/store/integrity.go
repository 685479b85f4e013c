package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parkerhale/engram/internal/models"
)

// Check reconciles the catalog, stats, and content files without mutating
// anything. External edits (manual file changes, git merges) can desync the
// three structures; Check enumerates every mismatch.
func (s *FileStore) Check(_ context.Context) (*models.IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reconcile what is on disk now, not what this process last loaded.
	// In long-running servers external edits land between calls.
	s.index = nil
	s.stats = nil

	index, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	stats, err := s.loadStatsLocked()
	if err != nil {
		return nil, err
	}

	contentIDs, err := scanIDs(s.memoriesPath)
	if err != nil {
		return nil, err
	}
	archiveIDs, err := scanIDs(s.archivesPath)
	if err != nil {
		return nil, err
	}

	report := &models.IntegrityReport{
		Healthy:  true,
		Indexed:  len(index.Memories),
		Content:  len(contentIDs),
		Stats:    len(stats.Memories),
		Archives: len(archiveIDs),
	}

	// Content present with no catalog entry, or surviving past the removed
	// phase (a crash between the phase write and the content delete).
	for _, id := range sortedKeys(contentIDs) {
		meta, ok := index.Memories[id]
		if !ok || meta.Phase.Terminal() {
			addIssue(report, models.IssueOrphanedContent, id)
			report.Healthy = false
		}
	}

	// Catalog entry with no content. Phase 3 records are expected to have
	// no live content and are not flagged.
	for id, meta := range index.Memories {
		if meta.Phase.Terminal() {
			continue
		}
		if _, ok := contentIDs[id]; !ok {
			addIssue(report, models.IssueMissingContent, id)
			report.Healthy = false
		}
	}

	// Stats entry with no catalog entry.
	for id := range stats.Memories {
		if _, ok := index.Memories[id]; !ok {
			addIssue(report, models.IssueOrphanedStats, id)
			report.Healthy = false
		}
	}

	// Archives whose id exists nowhere else. Informational only.
	for _, id := range sortedKeys(archiveIDs) {
		_, inIndex := index.Memories[id]
		_, inContent := contentIDs[id]
		if !inIndex && !inContent {
			addIssue(report, models.IssueOrphanedArchive, id)
		}
	}

	sortIssues(report)
	return report, nil
}

// Fix repairs the issues Check finds and returns counts of each action.
// Safe to run repeatedly: a second Fix right after a Fix changes nothing.
func (s *FileStore) Fix(ctx context.Context, opts FixOptions) (*models.FixSummary, error) {
	report, err := s.Check(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.FixSummary{}

	// Orphaned content: optionally archive, then remove the file.
	for _, id := range report.IDs(models.IssueOrphanedContent) {
		if opts.ArchiveOrphans {
			archived, archiveErr := s.Archive(ctx, id)
			if archiveErr != nil {
				s.logger.Warn("integrity: archiving orphaned content", "id", id, "error", archiveErr)
			} else if archived {
				summary.ArchivedContent++
			}
		}
		if removeErr := os.Remove(s.memoryPath(id)); removeErr == nil {
			summary.RemovedContent++
		} else if !os.IsNotExist(removeErr) {
			s.logger.Warn("integrity: removing orphaned content", "id", id, "error", removeErr)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Catalog entries with no content: drop the entry and its tag-index rows.
	index, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	stats, err := s.loadStatsLocked()
	if err != nil {
		return nil, err
	}

	indexDirty := false
	statsDirty := false
	for _, id := range report.IDs(models.IssueMissingContent) {
		if meta, ok := index.Memories[id]; ok {
			removeTagsLocked(index, id, meta.Tags)
			delete(index.Memories, id)
			summary.RemovedIndex++
			indexDirty = true
		}
		// Dropping the catalog entry strands the stats entry; remove it in
		// the same pass so a second Fix has nothing left to do.
		if _, ok := stats.Memories[id]; ok {
			delete(stats.Memories, id)
			summary.RemovedStats++
			statsDirty = true
		}
	}
	if indexDirty {
		if err := s.writeIndexLocked(index); err != nil {
			return nil, err
		}
	}

	// Stats entries with no catalog entry.
	for _, id := range report.IDs(models.IssueOrphanedStats) {
		if _, ok := stats.Memories[id]; ok {
			delete(stats.Memories, id)
			summary.RemovedStats++
			statsDirty = true
		}
	}
	if statsDirty {
		if err := s.writeStatsLocked(stats); err != nil {
			return nil, err
		}
	}

	// Orphaned archives, only on request.
	if opts.CleanOrphanedArchives {
		for _, id := range report.IDs(models.IssueOrphanedArchive) {
			if removeErr := os.Remove(s.archivePath(id)); removeErr == nil {
				summary.RemovedArchives++
			} else if !os.IsNotExist(removeErr) {
				s.logger.Warn("integrity: removing orphaned archive", "id", id, "error", removeErr)
			}
		}
	}

	return summary, nil
}

func addIssue(r *models.IntegrityReport, kind models.IssueKind, id string) {
	r.Issues = append(r.Issues, models.IntegrityIssue{Kind: kind, ID: id})
}

// sortIssues orders findings by kind then id so reports are deterministic.
func sortIssues(r *models.IntegrityReport) {
	sort.Slice(r.Issues, func(i, j int) bool {
		if r.Issues[i].Kind != r.Issues[j].Kind {
			return r.Issues[i].Kind < r.Issues[j].Kind
		}
		return r.Issues[i].ID < r.Issues[j].ID
	})
}

// scanIDs returns the set of memory ids with a .md file in dir.
func scanIDs(dir string) (map[string]struct{}, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("filestore: scanning %s: %w", dir, err)
	}
	ids := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		ids[strings.TrimSuffix(filepath.Base(m), ".md")] = struct{}{}
	}
	return ids, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
