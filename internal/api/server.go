package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parkerhale/engram/internal/eviction"
	"github.com/parkerhale/engram/internal/metrics"
	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/store"
	"github.com/parkerhale/engram/pkg/tokenizer"
)

// Server is an HTTP API server that exposes memory operations.
type Server struct {
	store     store.Store
	engine    *eviction.Engine
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(st store.Store, engine *eviction.Engine, logger *slog.Logger, authToken string) *Server {
	return &Server{
		store:     st,
		engine:    engine,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check — no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Memory CRUD and recall endpoints — wrapped with auth middleware.
	mux.HandleFunc("POST /v1/memories", s.auth(s.handleCreateMemory))
	mux.HandleFunc("GET /v1/memories", s.auth(s.handleListMemories))
	mux.HandleFunc("GET /v1/memories/{id}", s.auth(s.handleGetMemory))
	mux.HandleFunc("PATCH /v1/memories/{id}", s.auth(s.handleUpdateMemory))
	mux.HandleFunc("DELETE /v1/memories/{id}", s.auth(s.handleDeleteMemory))
	mux.HandleFunc("POST /v1/recall", s.auth(s.handleRecall))
	mux.HandleFunc("GET /v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("GET /v1/integrity", s.auth(s.handleCheck))
	mux.HandleFunc("POST /v1/integrity/fix", s.auth(s.handleFix))
	mux.HandleFunc("POST /v1/eviction/run", s.auth(s.handleEvictionRun))
	mux.HandleFunc("POST /v1/memories/{id}/restore", s.auth(s.handleRestore))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRequest is the body accepted by POST /v1/memories.
type createRequest struct {
	Topic      string   `json:"topic"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Difficulty *float64 `json:"difficulty"`
}

// createResponse is returned by POST /v1/memories.
type createResponse struct {
	ID     string `json:"id"`
	Stored bool   `json:"stored"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Topic) == "" {
		s.writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	difficulty := 0.5
	if req.Difficulty != nil {
		difficulty = *req.Difficulty
	}

	id, err := s.store.Create(r.Context(), req.Topic, req.Content, req.Tags, difficulty)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("failed to store memory", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store memory")
		return
	}

	metrics.Inc(metrics.StoreTotal)
	s.writeJSON(w, http.StatusCreated, createResponse{ID: id, Stored: true})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Tag:     q.Get("tag"),
		Keyword: q.Get("keyword"),
	}
	if v := q.Get("phase"); v != "" {
		n, err := strconv.Atoi(v)
		phase := models.Phase(n)
		if err != nil || !phase.IsValid() {
			s.writeError(w, http.StatusBadRequest, "invalid phase")
			return
		}
		filter.Phase = &phase
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	result, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list memories", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	mem, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		s.logger.Error("failed to get memory", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get memory")
		return
	}

	metrics.Inc(metrics.AccessTotal)
	s.writeJSON(w, http.StatusOK, mem)
}

// updateRequest is the body accepted by PATCH /v1/memories/{id}. Absent
// fields are left unchanged.
type updateRequest struct {
	Topic      *string       `json:"topic"`
	Body       *string       `json:"body"`
	Tags       []string      `json:"tags"`
	Phase      *models.Phase `json:"phase"`
	Difficulty *float64      `json:"difficulty"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := store.UpdateRequest{
		Topic:      req.Topic,
		Body:       req.Body,
		Tags:       req.Tags,
		Phase:      req.Phase,
		Difficulty: req.Difficulty,
	}
	if update.Empty() {
		s.writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	if err := s.store.Update(r.Context(), id, update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("failed to update memory", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to update memory")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	archive := r.URL.Query().Get("archive") != "false"
	archived, err := s.store.Delete(r.Context(), id, archive)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		s.logger.Error("failed to delete memory", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}

	metrics.Inc(metrics.ForgetTotal)
	s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true, "archived": archived})
}

// recallRequest is the body accepted by POST /v1/recall.
type recallRequest struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit"`
	Budget int    `json:"budget"`
}

// recallResponse is returned by POST /v1/recall.
type recallResponse struct {
	Context     string `json:"context"`
	MemoryCount int    `json:"memory_count"`
	TokensUsed  int    `json:"tokens_used"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	var req recallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	if req.Budget <= 0 {
		req.Budget = 2000
	}

	results, err := s.store.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.logger.Error("failed to search memories", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to search memories")
		return
	}

	var contents []string
	for _, entry := range results {
		mem, getErr := s.store.Get(r.Context(), entry.ID)
		if getErr != nil {
			contents = append(contents, entry.Summary)
			continue
		}
		contents = append(contents, mem.Content())
	}

	formattedCtx, count := tokenizer.FormatWithBudget(contents, req.Budget)
	metrics.Inc(metrics.RecallTotal)

	s.writeJSON(w, http.StatusOK, recallResponse{
		Context:     formattedCtx,
		MemoryCount: count,
		TokensUsed:  tokenizer.EstimateTokens(formattedCtx),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to get status", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Check(r.Context())
	if err != nil {
		s.logger.Error("integrity check failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "integrity check failed")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// fixRequest is the body accepted by POST /v1/integrity/fix.
type fixRequest struct {
	ArchiveOrphans        *bool `json:"archive_orphans"`
	CleanOrphanedArchives bool  `json:"clean_orphaned_archives"`
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req fixRequest
	// An empty body means defaults.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := store.FixOptions{
		ArchiveOrphans:        true,
		CleanOrphanedArchives: req.CleanOrphanedArchives,
	}
	if req.ArchiveOrphans != nil {
		opts.ArchiveOrphans = *req.ArchiveOrphans
	}

	summary, err := s.store.Fix(r.Context(), opts)
	if err != nil {
		s.logger.Error("integrity fix failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "integrity fix failed")
		return
	}

	metrics.IntegrityFixes.Add(int64(summary.Total()))
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEvictionRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Run(r.Context())
	if err != nil {
		s.logger.Error("eviction run failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "eviction run failed")
		return
	}

	metrics.Inc(metrics.EvictionRuns)
	metrics.PhasesAdvanced.Add(int64(len(report.Advanced)))
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := s.engine.Restore(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no archive for memory")
			return
		}
		s.logger.Error("restore failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "restore failed")
		return
	}

	metrics.Inc(metrics.RestoresTotal)
	s.writeJSON(w, http.StatusOK, map[string]bool{"restored": true})
}

// --- helpers ---

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
