package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/priority"
)

// SQLiteStore is the embedded-database backend. The schema deliberately
// mirrors the file layout's three-way separation — stable catalog, volatile
// access stats, and record content live in independent tables with no
// foreign keys between them, so the stats table can be dropped and rebuilt
// without touching durable data, and Check/Fix stay meaningful.
type SQLiteStore struct {
	db       *sql.DB
	calc     *priority.Calculator
	sessions SessionSource
	logger   *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
// Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string, calc *priority.Calculator, sessions SessionSource, logger *slog.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
			return nil, fmt.Errorf("sqlite: creating db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, calc: calc, sessions: sessions, logger: logger}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog (
			id          TEXT PRIMARY KEY,
			topic       TEXT NOT NULL,
			tags        TEXT NOT NULL DEFAULT '[]',
			phase       INTEGER NOT NULL DEFAULT 0,
			difficulty  REAL NOT NULL DEFAULT 0.5,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_tags (
			tag TEXT NOT NULL,
			id  TEXT NOT NULL,
			PRIMARY KEY (tag, id)
		)`,
		`CREATE TABLE IF NOT EXISTS content (
			id              TEXT PRIMARY KEY,
			summary         TEXT NOT NULL DEFAULT '',
			body            TEXT NOT NULL DEFAULT '',
			created_session INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS access_stats (
			id           TEXT PRIMARY KEY,
			access_count INTEGER NOT NULL DEFAULT 0,
			accessed_at  INTEGER NOT NULL DEFAULT 0,
			last_session INTEGER NOT NULL DEFAULT 0,
			priority     REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS archives (
			id              TEXT PRIMARY KEY,
			topic           TEXT NOT NULL,
			tags            TEXT NOT NULL DEFAULT '[]',
			phase           INTEGER NOT NULL DEFAULT 0,
			difficulty      REAL NOT NULL DEFAULT 0.5,
			created_at      INTEGER NOT NULL,
			created_session INTEGER NOT NULL DEFAULT 0,
			summary         TEXT NOT NULL DEFAULT '',
			body            TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_phase ON catalog(phase)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- CRUD ---

func (s *SQLiteStore) Create(ctx context.Context, topic, content string, tags []string, difficulty float64) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", &ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	id := generateID()
	now := time.Now().UTC()
	session := s.sessions.Current()
	summary, body := models.SplitSections(content)
	normTags := models.NormalizeTags(tags)

	tagsJSON, err := json.Marshal(normTags)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO content (id, summary, body, created_session) VALUES (?, ?, ?, ?)`,
		id, summary, body, session); err != nil {
		return "", fmt.Errorf("sqlite: inserting content: %w", err)
	}

	diff := clampDifficulty(difficulty)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog (id, topic, tags, phase, difficulty, created_at) VALUES (?, ?, ?, 0, ?, ?)`,
		id, topic, string(tagsJSON), diff, now.UnixMilli()); err != nil {
		return "", fmt.Errorf("sqlite: inserting catalog row: %w", err)
	}
	if err := s.syncTags(ctx, id, nil, normTags); err != nil {
		return "", err
	}

	initial := models.AccessStats{AccessedAt: now, LastSession: session}
	initial.Priority = s.calc.Score(diff, session, &initial, session)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO access_stats (id, access_count, accessed_at, last_session, priority) VALUES (?, 0, ?, ?, ?)`,
		id, now.UnixMilli(), session, initial.Priority); err != nil {
		return "", fmt.Errorf("sqlite: inserting stats row: %w", err)
	}

	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Memory, error) {
	mem, err := s.Peek(ctx, id)
	if err != nil {
		return nil, err
	}

	session := s.sessions.Current()
	now := time.Now().UTC()

	st, err := s.AccessStats(ctx, id)
	if err != nil {
		s.logger.Warn("sqlite: loading stats for access update", "id", id, "error", err)
		return mem, nil
	}
	if st == nil {
		st = &models.AccessStats{}
	}
	st.AccessCount++
	st.AccessedAt = now
	st.LastSession = session
	st.Priority = s.calc.Score(mem.Difficulty, mem.CreatedSession, st, session)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO access_stats (id, access_count, accessed_at, last_session, priority)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_count = excluded.access_count,
		   accessed_at  = excluded.accessed_at,
		   last_session = excluded.last_session,
		   priority     = excluded.priority`,
		id, st.AccessCount, now.UnixMilli(), session, st.Priority); err != nil {
		s.logger.Warn("sqlite: writing access stats", "id", id, "error", err)
	}
	return mem, nil
}

func (s *SQLiteStore) Peek(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT c.topic, c.tags, c.phase, c.difficulty, c.created_at, m.summary, m.body, m.created_session
		 FROM catalog c JOIN content m ON m.id = c.id
		 WHERE c.id = ?`, id)

	var (
		topic, tagsJSON, summary, body string
		phase, createdSession          int
		difficulty                     float64
		createdAt                      int64
	)
	err := row.Scan(&topic, &tagsJSON, &phase, &difficulty, &createdAt, &summary, &body, &createdSession)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading %s: %w", id, err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("sqlite: decoding tags for %s: %w", id, err)
	}

	return &models.Memory{
		ID:             id,
		Topic:          topic,
		Tags:           tags,
		Phase:          models.Phase(phase),
		Difficulty:     difficulty,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
		CreatedSession: createdSession,
		Summary:        summary,
		Body:           body,
	}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, req UpdateRequest) error {
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
	oldTags := mem.Tags
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

	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE catalog SET topic = ?, tags = ?, phase = ?, difficulty = ? WHERE id = ?`,
		mem.Topic, string(tagsJSON), int(mem.Phase), mem.Difficulty, id); err != nil {
		return fmt.Errorf("sqlite: updating catalog row: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE content SET body = ? WHERE id = ?`, mem.Body, id); err != nil {
		return fmt.Errorf("sqlite: updating content: %w", err)
	}
	if tagsChanged {
		if err := s.syncTags(ctx, id, oldTags, mem.Tags); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string, archive bool) (bool, error) {
	if _, err := s.CatalogEntry(ctx, id); err != nil {
		return false, err
	}

	archived := false
	if archive {
		var err error
		archived, err = s.Archive(ctx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return false, err
		}
	}

	for _, stmt := range []string{
		`DELETE FROM content WHERE id = ?`,
		`DELETE FROM catalog WHERE id = ?`,
		`DELETE FROM memory_tags WHERE id = ?`,
		`DELETE FROM access_stats WHERE id = ?`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
			return archived, fmt.Errorf("sqlite: deleting %s: %w", id, err)
		}
	}
	return archived, nil
}

// CatalogEntry returns the catalog row for id without joining content.
func (s *SQLiteStore) CatalogEntry(ctx context.Context, id string) (*models.IndexEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT topic, tags, phase, difficulty, created_at FROM catalog WHERE id = ?`, id)

	var (
		topic, tagsJSON string
		phase           int
		difficulty      float64
		createdAt       int64
	)
	err := row.Scan(&topic, &tagsJSON, &phase, &difficulty, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading catalog row for %s: %w", id, err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("sqlite: decoding tags for %s: %w", id, err)
	}
	return &models.IndexEntry{
		Topic:      topic,
		Tags:       tags,
		Phase:      models.Phase(phase),
		Difficulty: difficulty,
		CreatedAt:  time.UnixMilli(createdAt).UTC(),
	}, nil
}

// RemoveContent deletes the content row but keeps catalog and stats.
func (s *SQLiteStore) RemoveContent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: removing content for %s: %w", id, err)
	}
	return nil
}

// Restore rebuilds the live record from its archive at phase 0.
func (s *SQLiteStore) Restore(ctx context.Context, id string) error {
	mem, err := s.ReadArchive(ctx, id)
	if err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO content (id, summary, body, created_session) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET summary = excluded.summary, body = excluded.body`,
		id, mem.Summary, mem.Body, mem.CreatedSession); err != nil {
		return fmt.Errorf("sqlite: restoring content for %s: %w", id, err)
	}

	var oldTags []string
	if entry, catErr := s.CatalogEntry(ctx, id); catErr == nil {
		oldTags = entry.Tags
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog (id, topic, tags, phase, difficulty, created_at) VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   topic = excluded.topic, tags = excluded.tags,
		   phase = 0, difficulty = excluded.difficulty`,
		id, mem.Topic, string(tagsJSON), mem.Difficulty, mem.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("sqlite: restoring catalog row for %s: %w", id, err)
	}
	if err := s.syncTags(ctx, id, oldTags, mem.Tags); err != nil {
		return err
	}

	session := s.sessions.Current()
	st, err := s.AccessStats(ctx, id)
	if err != nil {
		return err
	}
	if st == nil {
		st = &models.AccessStats{AccessedAt: time.Now().UTC(), LastSession: session}
	}
	st.Priority = s.calc.Score(mem.Difficulty, mem.CreatedSession, st, session)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO access_stats (id, access_count, accessed_at, last_session, priority)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET priority = excluded.priority`,
		id, st.AccessCount, st.AccessedAt.UnixMilli(), st.LastSession, st.Priority); err != nil {
		return fmt.Errorf("sqlite: restoring stats for %s: %w", id, err)
	}
	return nil
}

// --- queries ---

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	var (
		where []string
		args  []any
	)
	if filter.Phase != nil {
		where = append(where, "c.phase = ?")
		args = append(args, int(*filter.Phase))
	}
	if filter.Tag != "" {
		where = append(where, "c.id IN (SELECT id FROM memory_tags WHERE tag = ?)")
		args = append(args, filter.Tag)
	}
	if filter.Keyword != "" {
		where = append(where, "LOWER(c.topic) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.Keyword)+"%")
	}

	query := `SELECT c.id, c.topic, c.tags, c.phase, c.difficulty, c.created_at,
	                 COALESCE(a.access_count, 0), COALESCE(a.accessed_at, 0), COALESCE(a.priority, 0)
	          FROM catalog c LEFT JOIN access_stats a ON a.id = c.id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(a.priority, 0) DESC, c.created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing: %w", err)
	}
	defer rows.Close()

	var entries []models.ListEntry
	for rows.Next() {
		entry, scanErr := scanListEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: listing: %w", err)
	}

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

	return &ListResult{Records: page, Total: total, HasMore: total > offset+limit}, nil
}

func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]models.ListEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	like := "%" + strings.ToLower(query) + "%"

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.topic, c.tags, c.phase, c.difficulty, c.created_at,
		        COALESCE(a.access_count, 0), COALESCE(a.accessed_at, 0), COALESCE(a.priority, 0),
		        m.summary, m.body
		 FROM catalog c
		 JOIN content m ON m.id = c.id
		 LEFT JOIN access_stats a ON a.id = c.id
		 WHERE LOWER(c.topic) LIKE ?
		    OR LOWER(c.tags) LIKE ?
		    OR LOWER(m.summary) LIKE ?
		    OR LOWER(m.body) LIKE ?
		 ORDER BY COALESCE(a.priority, 0) DESC, c.created_at DESC
		 LIMIT ?`,
		like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching: %w", err)
	}
	defer rows.Close()

	var results []models.ListEntry
	for rows.Next() {
		var (
			entry                          models.ListEntry
			tagsJSON, summaryText, body    string
			createdAt, accessedAt          int64
			phase                          int
		)
		if err := rows.Scan(&entry.ID, &entry.Topic, &tagsJSON, &phase, &entry.Difficulty,
			&createdAt, &entry.AccessCount, &accessedAt, &entry.Priority, &summaryText, &body); err != nil {
			return nil, fmt.Errorf("sqlite: scanning search row: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("sqlite: decoding tags: %w", err)
		}
		entry.Phase = models.Phase(phase)
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		if accessedAt > 0 {
			entry.AccessedAt = time.UnixMilli(accessedAt).UTC()
		}
		entry.Summary = snippet(&models.Memory{Summary: summaryText, Body: body})
		results = append(results, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: searching: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) Status(ctx context.Context) (*models.CollectionStatus, error) {
	status := &models.CollectionStatus{ByPhase: map[models.Phase]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM catalog GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var phase, count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, fmt.Errorf("sqlite: status: %w", err)
		}
		status.ByPhase[models.Phase(phase)] = count
		status.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: status: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archives`).Scan(&status.Archives); err != nil {
		return nil, fmt.Errorf("sqlite: counting archives: %w", err)
	}
	return status, nil
}

func (s *SQLiteStore) AccessStats(ctx context.Context, id string) (*models.AccessStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_count, accessed_at, last_session, priority FROM access_stats WHERE id = ?`, id)

	var st models.AccessStats
	var accessedAt int64
	err := row.Scan(&st.AccessCount, &accessedAt, &st.LastSession, &st.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading stats for %s: %w", id, err)
	}
	if accessedAt > 0 {
		st.AccessedAt = time.UnixMilli(accessedAt).UTC()
	}
	return &st, nil
}

func (s *SQLiteStore) RefreshPriorities(ctx context.Context, currentSession int) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.difficulty, m.created_session,
		        a.access_count, a.accessed_at, a.last_session
		 FROM catalog c
		 JOIN content m ON m.id = c.id
		 LEFT JOIN access_stats a ON a.id = c.id`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: refreshing priorities: %w", err)
	}
	defer rows.Close()

	type row struct {
		id       string
		priority float64
		stats    models.AccessStats
	}
	var updates []row
	for rows.Next() {
		var (
			id                       string
			difficulty               float64
			createdSession           int
			accessCount, lastSession sql.NullInt64
			accessedAt               sql.NullInt64
		)
		if err := rows.Scan(&id, &difficulty, &createdSession, &accessCount, &accessedAt, &lastSession); err != nil {
			return 0, fmt.Errorf("sqlite: scanning priority row: %w", err)
		}

		var st models.AccessStats
		var stPtr *models.AccessStats
		if lastSession.Valid {
			st = models.AccessStats{
				AccessCount: int(accessCount.Int64),
				LastSession: int(lastSession.Int64),
			}
			if accessedAt.Valid && accessedAt.Int64 > 0 {
				st.AccessedAt = time.UnixMilli(accessedAt.Int64).UTC()
			}
			stPtr = &st
		} else {
			st = models.AccessStats{LastSession: createdSession}
		}
		st.Priority = s.calc.Score(difficulty, createdSession, stPtr, currentSession)
		updates = append(updates, row{id: id, priority: st.Priority, stats: st})
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sqlite: refreshing priorities: %w", err)
	}

	for _, u := range updates {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO access_stats (id, access_count, accessed_at, last_session, priority)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET priority = excluded.priority`,
			u.id, u.stats.AccessCount, u.stats.AccessedAt.UnixMilli(), u.stats.LastSession, u.priority); err != nil {
			return 0, fmt.Errorf("sqlite: writing priority for %s: %w", u.id, err)
		}
	}
	return len(updates), nil
}

// --- archives ---

func (s *SQLiteStore) Archive(ctx context.Context, id string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM archives WHERE id = ?`, id).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("sqlite: checking archive %s: %w", id, err)
	}

	mem, err := s.Peek(ctx, id)
	if err != nil {
		return false, err
	}

	tagsJSON, err := json.Marshal(mem.Tags)
	if err != nil {
		return false, fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	// INSERT OR IGNORE enforces write-once at the schema level.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archives (id, topic, tags, phase, difficulty, created_at, created_session, summary, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, mem.Topic, string(tagsJSON), int(mem.Phase), mem.Difficulty,
		mem.CreatedAt.UnixMilli(), mem.CreatedSession, mem.Summary, mem.Body)
	if err != nil {
		return false, fmt.Errorf("sqlite: archiving %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: archiving %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ReadArchive(ctx context.Context, id string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT topic, tags, phase, difficulty, created_at, created_session, summary, body
		 FROM archives WHERE id = ?`, id)

	var (
		topic, tagsJSON, summary, body string
		phase, createdSession          int
		difficulty                     float64
		createdAt                      int64
	)
	err := row.Scan(&topic, &tagsJSON, &phase, &difficulty, &createdAt, &createdSession, &summary, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading archive %s: %w", id, err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("sqlite: decoding archived tags: %w", err)
	}

	return &models.Memory{
		ID:             id,
		Topic:          topic,
		Tags:           tags,
		Phase:          models.Phase(phase),
		Difficulty:     difficulty,
		CreatedAt:      time.UnixMilli(createdAt).UTC(),
		CreatedSession: createdSession,
		Summary:        summary,
		Body:           body,
	}, nil
}

func (s *SQLiteStore) ListArchives(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM archives ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing archives: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: listing archives: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) RemoveArchive(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM archives WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: removing archive %s: %w", id, err)
	}
	return nil
}

// --- integrity ---

// Check reconciles the independent tables the same way the file backend
// reconciles its files.
func (s *SQLiteStore) Check(ctx context.Context) (*models.IntegrityReport, error) {
	report := &models.IntegrityReport{Healthy: true}

	counts := map[string]*int{
		`SELECT COUNT(*) FROM catalog`:      &report.Indexed,
		`SELECT COUNT(*) FROM content`:      &report.Content,
		`SELECT COUNT(*) FROM access_stats`: &report.Stats,
		`SELECT COUNT(*) FROM archives`:     &report.Archives,
	}
	for q, dst := range counts {
		if err := s.db.QueryRowContext(ctx, q).Scan(dst); err != nil {
			return nil, fmt.Errorf("sqlite: integrity counts: %w", err)
		}
	}

	findings := []struct {
		kind  models.IssueKind
		fatal bool
		query string
	}{
		// Content with no catalog row, or content surviving past the
		// removed phase (a crash between the phase write and the content
		// delete).
		{models.IssueOrphanedContent, true,
			`SELECT m.id FROM content m LEFT JOIN catalog c ON c.id = m.id WHERE c.id IS NULL OR c.phase >= 3 ORDER BY m.id`},
		{models.IssueMissingContent, true,
			`SELECT c.id FROM catalog c LEFT JOIN content m ON m.id = c.id WHERE m.id IS NULL AND c.phase < 3 ORDER BY c.id`},
		{models.IssueOrphanedStats, true,
			`SELECT a.id FROM access_stats a LEFT JOIN catalog c ON c.id = a.id WHERE c.id IS NULL ORDER BY a.id`},
		{models.IssueOrphanedArchive, false,
			`SELECT ar.id FROM archives ar
			 LEFT JOIN catalog c ON c.id = ar.id
			 LEFT JOIN content m ON m.id = ar.id
			 WHERE c.id IS NULL AND m.id IS NULL ORDER BY ar.id`},
	}
	for _, f := range findings {
		ids, err := s.queryIDs(ctx, f.query)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			addIssue(report, f.kind, id)
			if f.fatal {
				report.Healthy = false
			}
		}
	}
	return report, nil
}

func (s *SQLiteStore) Fix(ctx context.Context, opts FixOptions) (*models.FixSummary, error) {
	report, err := s.Check(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.FixSummary{}

	for _, id := range report.IDs(models.IssueOrphanedContent) {
		if opts.ArchiveOrphans {
			archived, archiveErr := s.archiveOrphanedContent(ctx, id)
			if archiveErr != nil {
				s.logger.Warn("integrity: archiving orphaned content", "id", id, "error", archiveErr)
			} else if archived {
				summary.ArchivedContent++
			}
		}
		res, delErr := s.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id)
		if delErr != nil {
			s.logger.Warn("integrity: removing orphaned content", "id", id, "error", delErr)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.RemovedContent++
		}
	}

	for _, id := range report.IDs(models.IssueMissingContent) {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_tags WHERE id = ?`, id); err != nil {
			s.logger.Warn("integrity: removing tag rows", "id", id, "error", err)
		}
		res, delErr := s.db.ExecContext(ctx, `DELETE FROM catalog WHERE id = ?`, id)
		if delErr != nil {
			s.logger.Warn("integrity: removing catalog row", "id", id, "error", delErr)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.RemovedIndex++
		}
		// Dropping the catalog row strands the stats row; remove it in the
		// same pass so a second Fix has nothing left to do.
		res, delErr = s.db.ExecContext(ctx, `DELETE FROM access_stats WHERE id = ?`, id)
		if delErr != nil {
			s.logger.Warn("integrity: removing stats row", "id", id, "error", delErr)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.RemovedStats++
		}
	}

	for _, id := range report.IDs(models.IssueOrphanedStats) {
		res, delErr := s.db.ExecContext(ctx, `DELETE FROM access_stats WHERE id = ?`, id)
		if delErr != nil {
			s.logger.Warn("integrity: removing stats row", "id", id, "error", delErr)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			summary.RemovedStats++
		}
	}

	if opts.CleanOrphanedArchives {
		for _, id := range report.IDs(models.IssueOrphanedArchive) {
			res, delErr := s.db.ExecContext(ctx, `DELETE FROM archives WHERE id = ?`, id)
			if delErr != nil {
				s.logger.Warn("integrity: removing orphaned archive", "id", id, "error", delErr)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				summary.RemovedArchives++
			}
		}
	}

	return summary, nil
}

// archiveOrphanedContent snapshots a content row that lost its catalog entry.
// The catalog metadata is gone, so the archive keeps what survives.
func (s *SQLiteStore) archiveOrphanedContent(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT summary, body, created_session FROM content WHERE id = ?`, id)
	var summary, body string
	var createdSession int
	if err := row.Scan(&summary, &body, &createdSession); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO archives (id, topic, tags, phase, difficulty, created_at, created_session, summary, body)
		 VALUES (?, '', '[]', 0, 0.5, ?, ?, ?, ?)`,
		id, time.Now().UTC().UnixMilli(), createdSession, summary, body)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- helpers ---

func (s *SQLiteStore) syncTags(ctx context.Context, id string, oldTags, newTags []string) error {
	for _, tag := range oldTags {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM memory_tags WHERE tag = ? AND id = ?`, tag, id); err != nil {
			return fmt.Errorf("sqlite: removing tag row: %w", err)
		}
	}
	for _, tag := range newTags {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags (tag, id) VALUES (?, ?)`, tag, id); err != nil {
			return fmt.Errorf("sqlite: inserting tag row: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: integrity scan: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: integrity scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanListEntry(rows *sql.Rows) (models.ListEntry, error) {
	var (
		entry                 models.ListEntry
		tagsJSON              string
		phase                 int
		createdAt, accessedAt int64
	)
	if err := rows.Scan(&entry.ID, &entry.Topic, &tagsJSON, &phase, &entry.Difficulty,
		&createdAt, &entry.AccessCount, &accessedAt, &entry.Priority); err != nil {
		return entry, fmt.Errorf("sqlite: scanning list row: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
		return entry, fmt.Errorf("sqlite: decoding tags: %w", err)
	}
	entry.Phase = models.Phase(phase)
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	if accessedAt > 0 {
		entry.AccessedAt = time.UnixMilli(accessedAt).UTC()
	}
	return entry, nil
}
