// Package mcp implements the Model Context Protocol server for engram.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/parkerhale/engram/internal/hooks"
	"github.com/parkerhale/engram/internal/metrics"
	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/internal/session"
	"github.com/parkerhale/engram/internal/store"
	"github.com/parkerhale/engram/internal/tags"
	"github.com/parkerhale/engram/pkg/tokenizer"
)

const (
	// defaultRecallBudget is the default token budget for recall responses.
	defaultRecallBudget = 2000

	// defaultRecallLimit is the default number of results for recall.
	defaultRecallLimit = 5

	// defaultListLimit is the default page size for list_memories.
	defaultListLimit = 20
)

// Options tunes server behavior.
type Options struct {
	// AutoTags extracts tags from topic and content when the caller passes
	// none.
	AutoTags bool
}

// Server wraps an MCPServer with engram dependencies.
type Server struct {
	mcp     *mcpserver.MCPServer
	st      store.Store
	tracker *session.Tracker
	calc    *priority.Calculator
	opts    Options
	logger  *slog.Logger
}

// NewServer creates a new MCP server. If st is nil, tool calls return an
// error response instead of panicking.
func NewServer(st store.Store, tracker *session.Tracker, calc *priority.Calculator, opts Options, logger *slog.Logger) *Server {
	s := &Server{
		st:      st,
		tracker: tracker,
		calc:    calc,
		opts:    opts,
		logger:  logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"engram",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildStoreMemoryTool(), s.handleStoreMemory)
	mcpSrv.AddTool(buildRecallTool(), s.handleRecall)
	mcpSrv.AddTool(buildListMemoriesTool(), s.handleListMemories)
	mcpSrv.AddTool(buildGetMemoryTool(), s.handleGetMemory)
	mcpSrv.AddTool(buildForgetTool(), s.handleForget)
	mcpSrv.AddTool(buildStatusTool(), s.handleStatus)
	mcpSrv.AddTool(buildCheckTool(), s.handleCheck)
	mcpSrv.AddTool(buildFixTool(), s.handleFix)
	mcpSrv.AddTool(buildResetSessionTool(), s.handleResetSession)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleStoreMemory is the exported handler for the "store_memory" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleStoreMemory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStoreMemory(ctx, req)
}

// HandleRecall is the exported handler for the "recall" tool.
func (s *Server) HandleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRecall(ctx, req)
}

// HandleListMemories is the exported handler for the "list_memories" tool.
func (s *Server) HandleListMemories(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleListMemories(ctx, req)
}

// HandleGetMemory is the exported handler for the "get_memory" tool.
func (s *Server) HandleGetMemory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleGetMemory(ctx, req)
}

// HandleForget is the exported handler for the "forget" tool.
func (s *Server) HandleForget(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleForget(ctx, req)
}

// HandleStatus is the exported handler for the "ltm_status" tool.
func (s *Server) HandleStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStatus(ctx, req)
}

// HandleCheck is the exported handler for the "ltm_check" tool.
func (s *Server) HandleCheck(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCheck(ctx, req)
}

// HandleFix is the exported handler for the "ltm_fix" tool.
func (s *Server) HandleFix(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleFix(ctx, req)
}

// HandleResetSession is the exported handler for the "reset_session" tool.
func (s *Server) HandleResetSession(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleResetSession(ctx, req)
}

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildStoreMemoryTool() mcpgo.Tool {
	return mcpgo.NewTool("store_memory",
		mcpgo.WithDescription("Store a new memory for future recall. Use this to save important learnings, debugging solutions, or project-specific knowledge."),
		mcpgo.WithString("topic",
			mcpgo.Required(),
			mcpgo.Description("Short title for the memory"),
		),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("The full memory content, markdown. An optional '## Summary' section is preserved verbatim through eviction."),
		),
		mcpgo.WithArray("tags",
			mcpgo.Description("Tags for filtering. Auto-extracted from the text when omitted."),
		),
		mcpgo.WithNumber("difficulty",
			mcpgo.Description("Task difficulty 0.0-1.0. Defaults to the current session's estimate."),
		),
	)
}

func buildRecallTool() mcpgo.Tool {
	return mcpgo.NewTool("recall",
		mcpgo.WithDescription("Retrieve relevant memories by keyword, ranked by priority, formatted within a token budget."),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("The query to recall memories for"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of memories (default: 5)"),
		),
		mcpgo.WithNumber("budget",
			mcpgo.Description("Token budget for returned context (default: 2000)"),
		),
	)
}

func buildListMemoriesTool() mcpgo.Tool {
	return mcpgo.NewTool("list_memories",
		mcpgo.WithDescription("List memories ordered by priority, optionally filtered by phase, tag, or topic keyword."),
		mcpgo.WithNumber("phase",
			mcpgo.Description("Filter by lifecycle phase: 0=full, 1=hint, 2=abstract, 3=removed"),
		),
		mcpgo.WithString("tag",
			mcpgo.Description("Filter by exact tag"),
		),
		mcpgo.WithString("keyword",
			mcpgo.Description("Case-insensitive topic substring filter"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Page size (default: 20)"),
		),
		mcpgo.WithNumber("offset",
			mcpgo.Description("Page offset (default: 0)"),
		),
	)
}

func buildGetMemoryTool() mcpgo.Tool {
	return mcpgo.NewTool("get_memory",
		mcpgo.WithDescription("Get a memory's full content by ID. Counts as an access."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The memory ID"),
		),
	)
}

func buildForgetTool() mcpgo.Tool {
	return mcpgo.NewTool("forget",
		mcpgo.WithDescription("Delete a memory by ID. Archives the content first unless told otherwise."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The ID of the memory to delete"),
		),
		mcpgo.WithBoolean("archive",
			mcpgo.Description("Snapshot the memory to the archive before deleting (default: true)"),
		),
	)
}

func buildStatusTool() mcpgo.Tool {
	return mcpgo.NewTool("ltm_status",
		mcpgo.WithDescription("Get collection statistics: total memories, breakdown by phase, archive count, session info."),
	)
}

func buildCheckTool() mcpgo.Tool {
	return mcpgo.NewTool("ltm_check",
		mcpgo.WithDescription("Scan storage for inconsistencies between the catalog, content, stats, and archives. Read-only."),
	)
}

func buildFixTool() mcpgo.Tool {
	return mcpgo.NewTool("ltm_fix",
		mcpgo.WithDescription("Repair inconsistencies found by ltm_check. Safe to run repeatedly."),
		mcpgo.WithBoolean("archive_orphans",
			mcpgo.Description("Archive orphaned content before removing it (default: true)"),
		),
		mcpgo.WithBoolean("clean_orphaned_archives",
			mcpgo.Description("Also delete archives with no live or historical reference (default: false)"),
		),
	)
}

func buildResetSessionTool() mcpgo.Tool {
	return mcpgo.NewTool("reset_session",
		mcpgo.WithDescription("Clear the current session's counters without changing the session number."),
	)
}

// --- tool handlers ---

// handleStoreMemory validates input, fills defaulted tags and difficulty,
// and creates the record.
func (s *Server) handleStoreMemory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	topic := req.GetString("topic", "")
	if strings.TrimSpace(topic) == "" {
		return mcpgo.NewToolResultError("topic is required and must not be empty"), nil
	}
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("content is required and must not be empty"), nil
	}

	memTags := req.GetStringSlice("tags", nil)
	autoTagged := false
	if len(memTags) == 0 && s.opts.AutoTags {
		memTags = tags.Extract(topic, content)
		autoTagged = len(memTags) > 0
	}

	difficulty := req.GetFloat("difficulty", -1)
	if difficulty < 0 {
		difficulty = s.sessionDifficulty()
	}
	if difficulty > 1.0 {
		return mcpgo.NewToolResultError("difficulty must be between 0.0 and 1.0"), nil
	}

	id, err := s.st.Create(ctx, topic, content, memTags, difficulty)
	if err != nil {
		return mcpgo.NewToolResultErrorf("store failed: %s", err.Error()), nil
	}

	metrics.Inc(metrics.StoreTotal)
	s.logger.Info("mcp: stored memory", "id", id, "topic", topic, "auto_tagged", autoTagged)

	result := map[string]any{
		"id":          id,
		"stored":      true,
		"tags":        memTags,
		"difficulty":  difficulty,
		"auto_tagged": autoTagged,
	}
	return toolResultJSON(result)
}

// handleRecall searches, records accesses for returned memories, and formats
// results within the token budget.
func (s *Server) handleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcpgo.NewToolResultError("query is required and must not be empty"), nil
	}
	limit := req.GetInt("limit", defaultRecallLimit)
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	budget := req.GetInt("budget", defaultRecallBudget)
	if budget <= 0 {
		budget = defaultRecallBudget
	}

	results, err := s.st.Search(ctx, query, limit)
	if err != nil {
		return mcpgo.NewToolResultErrorf("search failed: %s", err.Error()), nil
	}

	var contents []string
	for _, entry := range results {
		mem, getErr := s.st.Get(ctx, entry.ID)
		if getErr != nil {
			// Phase-3 matches have no live content; surface the catalog row.
			contents = append(contents, fmt.Sprintf("## %s\n\n%s", entry.Topic, entry.Summary))
			continue
		}
		metrics.Inc(metrics.AccessTotal)
		contents = append(contents, fmt.Sprintf("## %s\n\n%s", mem.Topic, mem.Content()))
	}

	output, count := tokenizer.FormatWithBudget(contents, budget)
	metrics.Inc(metrics.RecallTotal)

	result := map[string]any{
		"context":      output,
		"memory_count": count,
		"matched":      len(results),
	}
	return toolResultJSON(result)
}

// handleListMemories returns a filtered, paged catalog view.
func (s *Server) handleListMemories(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	filter := store.ListFilter{
		Tag:     req.GetString("tag", ""),
		Keyword: req.GetString("keyword", ""),
		Limit:   req.GetInt("limit", defaultListLimit),
		Offset:  req.GetInt("offset", 0),
	}
	if p := req.GetInt("phase", -1); p >= 0 {
		phase := models.Phase(p)
		if !phase.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid phase %d: must be 0-3", p), nil
		}
		filter.Phase = &phase
	}

	result, err := s.st.List(ctx, filter)
	if err != nil {
		return mcpgo.NewToolResultErrorf("list failed: %s", err.Error()), nil
	}
	return toolResultJSON(result)
}

// handleGetMemory returns one memory's full content, recording the access.
func (s *Server) handleGetMemory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}

	mem, err := s.st.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcpgo.NewToolResultErrorf("memory %s not found", id), nil
		}
		return mcpgo.NewToolResultErrorf("get failed: %s", err.Error()), nil
	}
	metrics.Inc(metrics.AccessTotal)

	result := map[string]any{
		"id":              mem.ID,
		"topic":           mem.Topic,
		"tags":            mem.Tags,
		"phase":           mem.Phase.String(),
		"difficulty":      mem.Difficulty,
		"created_at":      mem.CreatedAt,
		"created_session": mem.CreatedSession,
		"content":         mem.Content(),
	}
	return toolResultJSON(result)
}

// handleForget deletes a memory by ID, archiving first by default.
func (s *Server) handleForget(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	id := req.GetString("id", "")
	if strings.TrimSpace(id) == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	archive := req.GetBool("archive", true)

	archived, err := s.st.Delete(ctx, id, archive)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcpgo.NewToolResultErrorf("memory %s not found", id), nil
		}
		return mcpgo.NewToolResultErrorf("delete failed: %s", err.Error()), nil
	}

	metrics.Inc(metrics.ForgetTotal)
	s.logger.Info("mcp: forgot memory", "id", id, "archived", archived)

	result := map[string]any{
		"deleted":  true,
		"archived": archived,
	}
	return toolResultJSON(result)
}

// handleStatus returns collection statistics plus session info.
func (s *Server) handleStatus(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	status, err := s.st.Status(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("status failed: %s", err.Error()), nil
	}

	result := map[string]any{
		"total":    status.Total,
		"by_phase": phaseBreakdown(status),
		"archives": status.Archives,
	}
	if s.tracker != nil {
		result["session"] = s.tracker.Current()
		result["session_counters"] = s.tracker.Counters()
	}
	return toolResultJSON(result)
}

// handleCheck runs the read-only integrity scan.
func (s *Server) handleCheck(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	report, err := s.st.Check(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("check failed: %s", err.Error()), nil
	}
	metrics.IntegrityIssues.Add(int64(len(report.Issues)))
	return toolResultJSON(report)
}

// handleFix repairs inconsistencies found by check.
func (s *Server) handleFix(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}

	opts := store.FixOptions{
		ArchiveOrphans:        req.GetBool("archive_orphans", true),
		CleanOrphanedArchives: req.GetBool("clean_orphaned_archives", false),
	}

	summary, err := s.st.Fix(ctx, opts)
	if err != nil {
		return mcpgo.NewToolResultErrorf("fix failed: %s", err.Error()), nil
	}

	metrics.IntegrityFixes.Add(int64(summary.Total()))
	s.logger.Info("mcp: integrity fix applied", "actions", summary.Total())
	return toolResultJSON(summary)
}

// handleResetSession clears the per-session counters.
func (s *Server) handleResetSession(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.tracker == nil {
		return mcpgo.NewToolResultError("session tracking is unavailable"), nil
	}
	if err := s.tracker.Reset(); err != nil {
		return mcpgo.NewToolResultErrorf("reset failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: session counters reset", "session", s.tracker.Current())
	return toolResultJSON(map[string]any{"reset": true, "session": s.tracker.Current()})
}

// --- helpers ---

// sessionDifficulty freezes the current session's difficulty estimate, or
// falls back to a neutral 0.5 with no session tracking.
func (s *Server) sessionDifficulty() float64 {
	if s.tracker == nil || s.calc == nil {
		return 0.5
	}
	counters := s.tracker.Counters()
	if counters.ToolFailures == 0 && counters.ToolSuccesses == 0 && !counters.Compacted {
		return 0.5
	}
	return s.calc.Difficulty(hooks.Signals(counters))
}

// phaseBreakdown renders the by-phase counts with readable keys.
func phaseBreakdown(status *models.CollectionStatus) map[string]int {
	out := make(map[string]int, len(status.ByPhase))
	for phase, count := range status.ByPhase {
		out[phase.String()] = count
	}
	return out
}
