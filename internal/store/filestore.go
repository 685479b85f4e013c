package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/pkg/atomicfile"
)

const (
	indexFileName = "index.json"
	statsFileName = "stats.json"
	memoriesDir   = "memories"
	archivesDir   = "archives"

	fileMode = 0o644
	dirMode  = 0o755
)

// indexFile is the on-disk stable catalog: one entry per live memory plus
// the inverted tag index.
type indexFile struct {
	Version  int                          `json:"version"`
	Memories map[string]models.IndexEntry `json:"memories"`
	Tags     map[string][]string          `json:"tags"`
}

// statsFile is the on-disk volatile layer. It can be deleted and rebuilt
// from the catalog and content without losing durable information.
type statsFile struct {
	Version  int                           `json:"version"`
	Memories map[string]models.AccessStats `json:"memories"`
}

// FileStore persists memories as markdown files with YAML frontmatter,
// alongside a JSON catalog and JSON access statistics. The layout is
// human-readable and diffs cleanly under version control:
//
//	<base>/index.json      stable catalog + tag index
//	<base>/stats.json      volatile access statistics
//	<base>/memories/<id>.md
//	<base>/archives/<id>.md
//
// Individual file writes are atomic (temp + rename). A mutex serializes
// catalog and stats mutation; cross-structure consistency after a partial
// failure is restored by Check/Fix.
type FileStore struct {
	basePath     string
	memoriesPath string
	archivesPath string
	indexPath    string
	statsPath    string

	calc     *priority.Calculator
	sessions SessionSource
	logger   *slog.Logger

	mu    sync.Mutex
	index *indexFile
	stats *statsFile
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or initializes) a file-backed store rooted at basePath.
func NewFileStore(basePath string, calc *priority.Calculator, sessions SessionSource, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		basePath:     basePath,
		memoriesPath: filepath.Join(basePath, memoriesDir),
		archivesPath: filepath.Join(basePath, archivesDir),
		indexPath:    filepath.Join(basePath, indexFileName),
		statsPath:    filepath.Join(basePath, statsFileName),
		calc:         calc,
		sessions:     sessions,
		logger:       logger,
	}

	for _, dir := range []string{s.memoriesPath, s.archivesPath} {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("filestore: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

// BasePath returns the store's root directory.
func (s *FileStore) BasePath() string { return s.basePath }

// Close releases nothing for the file backend but satisfies the Store contract.
func (s *FileStore) Close() error { return nil }

// --- CRUD ---

// Create writes the record file, the catalog entry, and an empty stats entry.
func (s *FileStore) Create(_ context.Context, topic, content string, tags []string, difficulty float64) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", &ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	id := generateID()
	now := time.Now().UTC()
	session := s.sessions.Current()
	summary, body := models.SplitSections(content)

	mem := &models.Memory{
		ID:             id,
		Topic:          topic,
		Tags:           models.NormalizeTags(tags),
		Phase:          models.PhaseFull,
		Difficulty:     clampDifficulty(difficulty),
		CreatedAt:      now,
		CreatedSession: session,
		Summary:        summary,
		Body:           body,
	}

	if err := s.writeMemoryFile(s.memoryPath(id), mem); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return "", err
	}
	index.Memories[id] = models.IndexEntry{
		Topic:      mem.Topic,
		Tags:       mem.Tags,
		Phase:      mem.Phase,
		Difficulty: mem.Difficulty,
		CreatedAt:  now,
	}
	addTagsLocked(index, id, mem.Tags)
	if err := s.writeIndexLocked(index); err != nil {
		return "", err
	}

	stats, err := s.loadStatsLocked()
	if err != nil {
		return "", err
	}
	entry := models.AccessStats{
		AccessCount: 0,
		AccessedAt:  now,
		LastSession: session,
	}
	entry.Priority = s.calc.Score(mem.Difficulty, session, &entry, session)
	stats.Memories[id] = entry
	if err := s.writeStatsLocked(stats); err != nil {
		return "", err
	}

	return id, nil
}

// Get reads the record and records the access in the stats. A failed stats
// write is logged, not returned: stats are best-effort and rebuildable, and
// a read must not appear to fail after the record was already loaded.
func (s *FileStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	mem, err := s.Peek(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.loadStatsLocked()
	if err != nil {
		s.logger.Warn("filestore: loading stats for access update", "id", id, "error", err)
		return mem, nil
	}

	session := s.sessions.Current()
	entry := stats.Memories[id]
	entry.AccessCount++
	entry.AccessedAt = time.Now().UTC()
	entry.LastSession = session
	entry.Priority = s.calc.Score(mem.Difficulty, mem.CreatedSession, &entry, session)
	stats.Memories[id] = entry

	if err := s.writeStatsLocked(stats); err != nil {
		s.logger.Warn("filestore: writing access stats", "id", id, "error", err)
	}
	return mem, nil
}

// Peek reads the record without touching access statistics.
func (s *FileStore) Peek(_ context.Context, id string) (*models.Memory, error) {
	return s.readMemoryFile(s.memoryPath(id), id)
}

// Update applies a partial update. Summary, id, created_at, and
// created_session are preserved unconditionally.
func (s *FileStore) Update(ctx context.Context, id string, req UpdateRequest) error {
	mem, err := s.Peek(ctx, id)
	if err != nil {
		return err
	}

	if req.Topic != nil {
		if strings.TrimSpace(*req.Topic) == "" {
			return &ValidationError{Field: "topic", Reason: "must not be empty"}
		}
		mem.Topic = *req.Topic
	}
	if req.Body != nil {
		mem.Body = *req.Body
	}
	tagsChanged := false
	if req.Tags != nil {
		mem.Tags = models.NormalizeTags(req.Tags)
		tagsChanged = true
	}
	if req.Phase != nil {
		if !req.Phase.IsValid() {
			return &ValidationError{Field: "phase", Reason: fmt.Sprintf("%d is not a valid phase", int(*req.Phase))}
		}
		mem.Phase = *req.Phase
	}
	if req.Difficulty != nil {
		mem.Difficulty = clampDifficulty(*req.Difficulty)
	}

	if err := s.writeMemoryFile(s.memoryPath(id), mem); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	entry, ok := index.Memories[id]
	if !ok {
		// Content exists but the catalog lost the entry; resync from record.
		entry = models.IndexEntry{CreatedAt: mem.CreatedAt}
	}
	oldTags := entry.Tags
	entry.Topic = mem.Topic
	entry.Tags = mem.Tags
	entry.Phase = mem.Phase
	entry.Difficulty = mem.Difficulty
	index.Memories[id] = entry
	if tagsChanged {
		removeTagsLocked(index, id, oldTags)
		addTagsLocked(index, id, mem.Tags)
	}
	return s.writeIndexLocked(index)
}

// Delete removes the record and all its derived entries, optionally
// archiving the content first.
func (s *FileStore) Delete(ctx context.Context, id string, archive bool) (bool, error) {
	if _, err := s.CatalogEntry(ctx, id); err != nil {
		// A record file without a catalog entry is an integrity issue, but
		// still deletable.
		if _, statErr := os.Stat(s.memoryPath(id)); statErr != nil {
			return false, ErrNotFound
		}
	}

	archived := false
	if archive {
		var err error
		archived, err = s.Archive(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	if err := os.Remove(s.memoryPath(id)); err != nil && !os.IsNotExist(err) {
		return archived, fmt.Errorf("filestore: removing %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return archived, err
	}
	if entry, ok := index.Memories[id]; ok {
		removeTagsLocked(index, id, entry.Tags)
		delete(index.Memories, id)
		if err := s.writeIndexLocked(index); err != nil {
			return archived, err
		}
	}

	stats, err := s.loadStatsLocked()
	if err != nil {
		return archived, err
	}
	if _, ok := stats.Memories[id]; ok {
		delete(stats.Memories, id)
		if err := s.writeStatsLocked(stats); err != nil {
			return archived, err
		}
	}
	return archived, nil
}

// CatalogEntry returns the catalog projection for id. It succeeds for
// phase-3 records whose content file is gone.
func (s *FileStore) CatalogEntry(_ context.Context, id string) (*models.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	entry, ok := index.Memories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// RemoveContent deletes the record file but keeps the catalog entry and
// stats. The catalog's phase marks the record as content-free.
func (s *FileStore) RemoveContent(_ context.Context, id string) error {
	err := os.Remove(s.memoryPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: removing content for %s: %w", id, err)
	}
	return nil
}

// Restore rebuilds the live record from its archive at phase 0. The catalog
// entry and tag index are resynced from the archived snapshot; a lost stats
// entry is recreated.
func (s *FileStore) Restore(ctx context.Context, id string) error {
	mem, err := s.ReadArchive(ctx, id)
	if err != nil {
		return err
	}
	mem.Phase = models.PhaseFull

	if err := s.writeMemoryFile(s.memoryPath(id), mem); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return err
	}
	if old, ok := index.Memories[id]; ok {
		removeTagsLocked(index, id, old.Tags)
	}
	index.Memories[id] = models.IndexEntry{
		Topic:      mem.Topic,
		Tags:       mem.Tags,
		Phase:      models.PhaseFull,
		Difficulty: mem.Difficulty,
		CreatedAt:  mem.CreatedAt,
	}
	addTagsLocked(index, id, mem.Tags)
	if err := s.writeIndexLocked(index); err != nil {
		return err
	}

	stats, err := s.loadStatsLocked()
	if err != nil {
		return err
	}
	session := s.sessions.Current()
	entry, ok := stats.Memories[id]
	if !ok {
		entry = models.AccessStats{AccessedAt: time.Now().UTC(), LastSession: session}
	}
	entry.Priority = s.calc.Score(mem.Difficulty, mem.CreatedSession, &entry, session)
	stats.Memories[id] = entry
	return s.writeStatsLocked(stats)
}

// --- queries ---

// List returns a filtered, paged view of the catalog ordered by cached
// priority descending, most recent first on ties.
func (s *FileStore) List(_ context.Context, filter ListFilter) (*ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	stats, err := s.loadStatsLocked()
	if err != nil {
		return nil, err
	}

	session := s.sessions.Current()
	keyword := strings.ToLower(filter.Keyword)

	entries := make([]models.ListEntry, 0, len(index.Memories))
	for id, meta := range index.Memories {
		if filter.Phase != nil && meta.Phase != *filter.Phase {
			continue
		}
		if filter.Tag != "" && !containsTag(meta.Tags, filter.Tag) {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(meta.Topic), keyword) {
			continue
		}
		entries = append(entries, s.listEntryLocked(id, meta, stats, session))
	}

	sortByPriority(entries)

	total := len(entries)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	page := entries
	if offset >= total {
		page = nil
	} else if offset+limit < total {
		page = entries[offset : offset+limit]
	} else {
		page = entries[offset:]
	}

	return &ListResult{
		Records: page,
		Total:   total,
		HasMore: total > offset+limit,
	}, nil
}

// Search matches the query case-insensitively against topic, tags, and
// content, ranked by cached priority. Content matching loads the record
// file only when the cheap catalog fields did not already match.
func (s *FileStore) Search(_ context.Context, query string, limit int) ([]models.ListEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return nil, err
	}
	stats, err := s.loadStatsLocked()
	if err != nil {
		return nil, err
	}

	session := s.sessions.Current()
	var results []models.ListEntry

	for id, meta := range index.Memories {
		match := strings.Contains(strings.ToLower(meta.Topic), q)
		if !match {
			for _, tag := range meta.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					match = true
					break
				}
			}
		}

		var mem *models.Memory
		if !match {
			mem, err = s.readMemoryFile(s.memoryPath(id), id)
			if err != nil {
				continue // missing content surfaces via Check, not Search
			}
			match = strings.Contains(strings.ToLower(mem.Content()), q)
		}
		if !match {
			continue
		}

		entry := s.listEntryLocked(id, meta, stats, session)
		if mem == nil {
			mem, _ = s.readMemoryFile(s.memoryPath(id), id)
		}
		if mem != nil {
			entry.Summary = snippet(mem)
		}
		results = append(results, entry)
	}

	sortByPriority(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Status summarizes the live collection and archive count.
func (s *FileStore) Status(ctx context.Context) (*models.CollectionStatus, error) {
	s.mu.Lock()
	index, err := s.loadIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	status := &models.CollectionStatus{
		Total:   len(index.Memories),
		ByPhase: map[models.Phase]int{},
	}
	for _, meta := range index.Memories {
		status.ByPhase[meta.Phase]++
	}

	archives, err := s.ListArchives(ctx)
	if err != nil {
		return nil, err
	}
	status.Archives = len(archives)
	return status, nil
}

// AccessStats returns the stats entry for id, or nil when none exists.
func (s *FileStore) AccessStats(_ context.Context, id string) (*models.AccessStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.loadStatsLocked()
	if err != nil {
		return nil, err
	}
	entry, ok := stats.Memories[id]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// RefreshPriorities recomputes every cached priority for the given session.
func (s *FileStore) RefreshPriorities(_ context.Context, currentSession int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndexLocked()
	if err != nil {
		return 0, err
	}
	stats, err := s.loadStatsLocked()
	if err != nil {
		return 0, err
	}

	updated := 0
	for id, meta := range index.Memories {
		entry, ok := stats.Memories[id]
		if ok {
			entry.Priority = s.calc.Score(meta.Difficulty, entry.LastSession, &entry, currentSession)
		} else {
			// Stats lost or never written: rebuild the entry, falling back
			// to the record's creation session for recency.
			created := 0
			if mem, readErr := s.readMemoryFile(s.memoryPath(id), id); readErr == nil {
				created = mem.CreatedSession
			}
			entry = models.AccessStats{LastSession: created, AccessedAt: meta.CreatedAt}
			entry.Priority = s.calc.Score(meta.Difficulty, created, nil, currentSession)
		}
		stats.Memories[id] = entry
		updated++
	}

	if err := s.writeStatsLocked(stats); err != nil {
		return 0, err
	}
	return updated, nil
}

// --- archives ---

// Archive snapshots the record write-once. A second call for the same id is
// a no-op returning false.
func (s *FileStore) Archive(ctx context.Context, id string) (bool, error) {
	path := s.archivePath(id)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("filestore: stat archive %s: %w", id, err)
	}

	mem, err := s.Peek(ctx, id)
	if err != nil {
		return false, err
	}
	if err := s.writeMemoryFile(path, mem); err != nil {
		return false, err
	}
	return true, nil
}

// ReadArchive returns the frozen snapshot for id.
func (s *FileStore) ReadArchive(_ context.Context, id string) (*models.Memory, error) {
	return s.readMemoryFile(s.archivePath(id), id)
}

// ListArchives returns the ids of all archived memories.
func (s *FileStore) ListArchives(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.archivesPath, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("filestore: scanning archives: %w", err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".md"))
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveArchive deletes the archive for id, if present.
func (s *FileStore) RemoveArchive(_ context.Context, id string) error {
	err := os.Remove(s.archivePath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("filestore: removing archive %s: %w", id, err)
	}
	return nil
}

// --- internal helpers ---

func (s *FileStore) memoryPath(id string) string {
	return filepath.Join(s.memoriesPath, id+".md")
}

func (s *FileStore) archivePath(id string) string {
	return filepath.Join(s.archivesPath, id+".md")
}

func (s *FileStore) listEntryLocked(id string, meta models.IndexEntry, stats *statsFile, session int) models.ListEntry {
	entry := models.ListEntry{
		ID:         id,
		Topic:      meta.Topic,
		Tags:       meta.Tags,
		Phase:      meta.Phase,
		Difficulty: meta.Difficulty,
		CreatedAt:  meta.CreatedAt,
	}
	if st, ok := stats.Memories[id]; ok {
		entry.Priority = st.Priority
		entry.AccessCount = st.AccessCount
		entry.AccessedAt = st.AccessedAt
	} else {
		entry.Priority = s.calc.Score(meta.Difficulty, session, nil, session)
	}
	return entry
}

func (s *FileStore) readMemoryFile(path, id string) (*models.Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("filestore: reading %s: %w", id, err)
	}
	mem, err := decodeMemory(data)
	if err != nil {
		return nil, fmt.Errorf("filestore: parsing %s: %w", id, err)
	}
	return mem, nil
}

func (s *FileStore) writeMemoryFile(path string, m *models.Memory) error {
	data, err := encodeMemory(m)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	if err := atomicfile.WriteFile(path, data, fileMode); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	return nil
}

func (s *FileStore) loadIndexLocked() (*indexFile, error) {
	if s.index != nil {
		return s.index, nil
	}
	idx := &indexFile{Version: 1, Memories: map[string]models.IndexEntry{}, Tags: map[string][]string{}}
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("filestore: reading index: %w", err)
		}
	} else if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("filestore: parsing index: %w", err)
	}
	if idx.Memories == nil {
		idx.Memories = map[string]models.IndexEntry{}
	}
	if idx.Tags == nil {
		idx.Tags = map[string][]string{}
	}
	s.index = idx
	return idx, nil
}

func (s *FileStore) writeIndexLocked(idx *indexFile) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encoding index: %w", err)
	}
	if err := atomicfile.WriteFile(s.indexPath, append(data, '\n'), fileMode); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	s.index = idx
	return nil
}

func (s *FileStore) loadStatsLocked() (*statsFile, error) {
	if s.stats != nil {
		return s.stats, nil
	}
	st := &statsFile{Version: 1, Memories: map[string]models.AccessStats{}}
	data, err := os.ReadFile(s.statsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("filestore: reading stats: %w", err)
		}
	} else if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("filestore: parsing stats: %w", err)
	}
	if st.Memories == nil {
		st.Memories = map[string]models.AccessStats{}
	}
	s.stats = st
	return st, nil
}

func (s *FileStore) writeStatsLocked(st *statsFile) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encoding stats: %w", err)
	}
	if err := atomicfile.WriteFile(s.statsPath, append(data, '\n'), fileMode); err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	s.stats = st
	return nil
}

// Invalidate drops the in-memory catalog and stats caches so the next read
// reloads from disk. Call after files were edited out-of-band (manual edits,
// git merges).
func (s *FileStore) Invalidate() {
	s.mu.Lock()
	s.index = nil
	s.stats = nil
	s.mu.Unlock()
}

// --- tag index ---

func addTagsLocked(idx *indexFile, id string, tags []string) {
	for _, tag := range tags {
		ids := idx.Tags[tag]
		if !containsString(ids, id) {
			idx.Tags[tag] = append(ids, id)
		}
	}
}

func removeTagsLocked(idx *indexFile, id string, tags []string) {
	for _, tag := range tags {
		ids := idx.Tags[tag]
		out := ids[:0]
		for _, v := range ids {
			if v != id {
				out = append(out, v)
			}
		}
		if len(out) == 0 {
			delete(idx.Tags, tag)
		} else {
			idx.Tags[tag] = out
		}
	}
}

// --- shared helpers ---

// generateID produces a fresh "mem_<8-hex>" identifier. Hashing a UUID keeps
// ids short enough for filenames while remaining collision-resistant at the
// collection sizes this store targets.
func generateID() string {
	sum := sha256.Sum256([]byte(uuid.New().String() + time.Now().UTC().Format(time.RFC3339Nano)))
	return "mem_" + hex.EncodeToString(sum[:])[:8]
}

func clampDifficulty(d float64) float64 {
	if d < 0.0 {
		return 0.0
	}
	if d > 1.0 {
		return 1.0
	}
	return d
}

func containsTag(tags []string, tag string) bool {
	return containsString(tags, tag)
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// sortByPriority orders entries by priority descending, breaking ties by
// created_at descending so recent records win at equal priority.
func sortByPriority(entries []models.ListEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// snippet returns a short preview of a record's content for search results.
func snippet(m *models.Memory) string {
	if m.Summary != "" {
		return truncateText(m.Summary, 200)
	}
	return truncateText(m.Body, 200)
}

func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	// Rune slicing so a multibyte character is never split.
	return string(runes[:max]) + "..."
}
