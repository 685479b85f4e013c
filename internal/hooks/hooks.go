// Package hooks implements the assistant lifecycle callbacks: session
// start and end, tool results, and context compaction. Each hook is a
// small handler wired from the store, session tracker, and eviction
// engine, following a common Input/Output/Execute shape.
package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parkerhale/engram/internal/eviction"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/internal/session"
	"github.com/parkerhale/engram/internal/store"
	"github.com/parkerhale/engram/pkg/tokenizer"
)

const (
	defaultMemoriesToLoad = 5
	defaultTokenBudget    = 2000
)

// SessionStartHook begins a new session and surfaces the highest-priority
// memories for injection into the assistant's context.
type SessionStartHook struct {
	store   store.Store
	tracker *session.Tracker
	logger  *slog.Logger
}

// SessionStartInput tunes how much memory context the hook returns.
type SessionStartInput struct {
	MemoriesToLoad int `json:"memories_to_load"`
	TokenBudget    int `json:"token_budget"`
}

// SessionStartOutput is the context block handed back to the assistant.
type SessionStartOutput struct {
	Session     int    `json:"session"`
	MemoryCount int    `json:"memory_count"`
	TokensUsed  int    `json:"tokens_used"`
	Context     string `json:"context"`
}

// NewSessionStartHook creates a session-start hook handler.
func NewSessionStartHook(st store.Store, tracker *session.Tracker, logger *slog.Logger) *SessionStartHook {
	return &SessionStartHook{store: st, tracker: tracker, logger: logger}
}

// Execute bumps the session ordinal and formats the top memories within the
// token budget.
func (h *SessionStartHook) Execute(ctx context.Context, input SessionStartInput) (*SessionStartOutput, error) {
	if input.MemoriesToLoad <= 0 {
		input.MemoriesToLoad = defaultMemoriesToLoad
	}
	if input.TokenBudget <= 0 {
		input.TokenBudget = defaultTokenBudget
	}

	ordinal, err := h.tracker.Begin()
	if err != nil {
		return nil, fmt.Errorf("session-start: %w", err)
	}

	result, err := h.store.List(ctx, store.ListFilter{Limit: input.MemoriesToLoad})
	if err != nil {
		return nil, fmt.Errorf("session-start: listing memories: %w", err)
	}

	var contents []string
	for _, entry := range result.Records {
		mem, peekErr := h.store.Peek(ctx, entry.ID)
		if peekErr != nil {
			continue // phase-3 entries have no live content
		}
		contents = append(contents, fmt.Sprintf("## %s\n\n%s", mem.Topic, mem.Content()))
	}

	formatted, count := tokenizer.FormatWithBudget(contents, input.TokenBudget)
	output := &SessionStartOutput{
		Session:     ordinal,
		MemoryCount: count,
		TokensUsed:  tokenizer.EstimateTokens(formatted),
		Context:     formatted,
	}

	h.logger.Info("session started", "session", ordinal, "memories_loaded", count, "tokens_used", output.TokensUsed)
	return output, nil
}

// ToolResultHook accumulates tool outcome counters for difficulty
// estimation.
type ToolResultHook struct {
	tracker     *session.Tracker
	countTokens bool
	logger      *slog.Logger
}

// ToolResultInput describes one tool invocation's outcome.
type ToolResultInput struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// NewToolResultHook creates a tool-result hook handler. With countTokens
// set, the estimated token size of each tool output is accumulated into
// the session counters.
func NewToolResultHook(tracker *session.Tracker, countTokens bool, logger *slog.Logger) *ToolResultHook {
	return &ToolResultHook{tracker: tracker, countTokens: countTokens, logger: logger}
}

// Execute records the tool result.
func (h *ToolResultHook) Execute(_ context.Context, input ToolResultInput) error {
	tokens := 0
	if h.countTokens && input.Output != "" {
		tokens = tokenizer.EstimateTokens(input.Output)
	}
	if err := h.tracker.RecordToolResult(input.Success, tokens); err != nil {
		return fmt.Errorf("tool-result: %w", err)
	}
	return nil
}

// PreCompactHook flags that the session's context got compacted, a strong
// signal the originating task was heavy.
type PreCompactHook struct {
	tracker *session.Tracker
	logger  *slog.Logger
}

// NewPreCompactHook creates a pre-compact hook handler.
func NewPreCompactHook(tracker *session.Tracker, logger *slog.Logger) *PreCompactHook {
	return &PreCompactHook{tracker: tracker, logger: logger}
}

// Execute marks the compaction.
func (h *PreCompactHook) Execute(_ context.Context) error {
	if err := h.tracker.MarkCompacted(); err != nil {
		return fmt.Errorf("pre-compact: %w", err)
	}
	h.logger.Info("context compaction recorded")
	return nil
}

// SessionEndHook closes out a session: freezes the session's difficulty
// estimate, refreshes cached priorities, runs one eviction pass, and resets
// the per-session counters.
type SessionEndHook struct {
	store   store.Store
	tracker *session.Tracker
	calc    *priority.Calculator
	engine  *eviction.Engine
	logger  *slog.Logger
}

// SessionEndOutput summarizes the end-of-session maintenance.
type SessionEndOutput struct {
	Session             int              `json:"session"`
	Difficulty          float64          `json:"difficulty"`
	PrioritiesRefreshed int              `json:"priorities_refreshed"`
	Eviction            *eviction.Report `json:"eviction"`
}

// NewSessionEndHook creates a session-end hook handler.
func NewSessionEndHook(st store.Store, tracker *session.Tracker, calc *priority.Calculator, engine *eviction.Engine, logger *slog.Logger) *SessionEndHook {
	return &SessionEndHook{store: st, tracker: tracker, calc: calc, engine: engine, logger: logger}
}

// Execute runs the end-of-session maintenance pass.
func (h *SessionEndHook) Execute(ctx context.Context) (*SessionEndOutput, error) {
	ordinal := h.tracker.Current()
	counters := h.tracker.Counters()

	output := &SessionEndOutput{
		Session:    ordinal,
		Difficulty: h.calc.Difficulty(Signals(counters)),
	}

	refreshed, err := h.store.RefreshPriorities(ctx, ordinal)
	if err != nil {
		return nil, fmt.Errorf("session-end: refreshing priorities: %w", err)
	}
	output.PrioritiesRefreshed = refreshed

	report, err := h.engine.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("session-end: %w", err)
	}
	output.Eviction = report

	if err := h.tracker.Reset(); err != nil {
		return nil, fmt.Errorf("session-end: %w", err)
	}

	h.logger.Info("session ended",
		"session", ordinal,
		"difficulty", output.Difficulty,
		"priorities_refreshed", refreshed,
		"evicted", len(report.Advanced),
	)
	return output, nil
}

// Signals converts session counters into difficulty inputs.
func Signals(c session.Counters) priority.SessionSignals {
	return priority.SessionSignals{
		ToolFailures:  c.ToolFailures,
		ToolSuccesses: c.ToolSuccesses,
		Compacted:     c.Compacted,
		SessionTokens: c.SessionTokens,
	}
}
