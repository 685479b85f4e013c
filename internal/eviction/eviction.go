// Package eviction drains low-priority memories through a one-way
// compression pipeline: Full content, then a hint, then a one-line
// abstract, then removal. The full content is archived exactly once
// before the first lossy step, so nothing is ever truly lost.
package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/parkerhale/engram/internal/models"
	"github.com/parkerhale/engram/internal/store"
)

// Config tunes a single eviction run.
type Config struct {
	// Threshold is the live-memory count above which eviction activates.
	Threshold int `mapstructure:"threshold"`
	// BatchSize is the number of memories advanced per run.
	BatchSize int `mapstructure:"batch_size"`
	// HintMaxChars caps the fallback hint when a record has no summary.
	HintMaxChars int `mapstructure:"hint_max_chars"`
	// AbstractMaxChars caps the single-line abstract.
	AbstractMaxChars int `mapstructure:"abstract_max_chars"`
}

// DefaultConfig returns the standard eviction tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:        100,
		BatchSize:        10,
		HintMaxChars:     200,
		AbstractMaxChars: 100,
	}
}

// Report summarizes the results of an eviction run.
type Report struct {
	Live      int      `json:"live"`
	Threshold int      `json:"threshold"`
	Triggered bool     `json:"triggered"`
	Advanced  []string `json:"advanced"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Engine advances memories through the phase pipeline.
type Engine struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an eviction engine. Zero or negative config members
// fall back to defaults.
func NewEngine(st store.Store, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.HintMaxChars <= 0 {
		cfg.HintMaxChars = def.HintMaxChars
	}
	if cfg.AbstractMaxChars <= 0 {
		cfg.AbstractMaxChars = def.AbstractMaxChars
	}
	return &Engine{store: st, cfg: cfg, logger: logger}
}

const reductionMarker = "\n\n*[reduced: full content archived]*"

// Run performs one bounded eviction pass. Eviction is lazy: nothing happens
// until the live count exceeds the threshold, and at most BatchSize memories
// advance one phase each. Gradual multi-session drainage is the intended
// pacing. Per-id failures are logged and skipped.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	status, err := e.store.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("eviction: reading status: %w", err)
	}

	live := status.Total - status.ByPhase[models.PhaseRemoved]
	report := &Report{Live: live, Threshold: e.cfg.Threshold}
	if live <= e.cfg.Threshold {
		return report, nil
	}
	report.Triggered = true

	result, err := e.store.List(ctx, store.ListFilter{Limit: status.Total})
	if err != nil {
		return nil, fmt.Errorf("eviction: listing memories: %w", err)
	}

	candidates := make([]models.ListEntry, 0, len(result.Records))
	for _, entry := range result.Records {
		if entry.Phase != models.PhaseRemoved {
			candidates = append(candidates, entry)
		}
	}

	// Stalest first: ascending priority, then oldest created_at. Older
	// low-value memories are evicted before newer ones at equal priority.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if len(candidates) > e.cfg.BatchSize {
		candidates = candidates[:e.cfg.BatchSize]
	}

	for _, entry := range candidates {
		phase, err := e.AdvancePhase(ctx, entry.ID)
		if err != nil {
			e.logger.Warn("eviction: advancing phase", "id", entry.ID, "error", err)
			report.Skipped = append(report.Skipped, entry.ID)
			continue
		}
		e.logger.Info("eviction: advanced", "id", entry.ID, "phase", phase.String())
		report.Advanced = append(report.Advanced, entry.ID)
	}
	return report, nil
}

// AdvancePhase moves one memory a single step along the pipeline and
// returns the resulting phase. Already-removed memories are a no-op, never
// an error. The full record is archived before the first lossy reduction;
// the archive write is idempotent, so a retried transition cannot clobber
// an earlier snapshot.
func (e *Engine) AdvancePhase(ctx context.Context, id string) (models.Phase, error) {
	entry, err := e.store.CatalogEntry(ctx, id)
	if err != nil {
		return 0, err
	}
	if entry.Phase.Terminal() {
		return entry.Phase, nil
	}
	next := entry.Phase.Next()

	if entry.Phase == models.PhaseFull {
		if _, err := e.store.Archive(ctx, id); err != nil {
			return entry.Phase, fmt.Errorf("eviction: archiving %s: %w", id, err)
		}
	}

	switch next {
	case models.PhaseHint, models.PhaseAbstract:
		mem, err := e.store.Peek(ctx, id)
		if err != nil {
			return entry.Phase, err
		}
		body := e.reduceToHint(mem)
		if next == models.PhaseAbstract {
			body = e.reduceToAbstract(mem)
		}
		req := store.UpdateRequest{Body: &body, Phase: &next}
		if err := e.store.Update(ctx, id, req); err != nil {
			return entry.Phase, err
		}
	case models.PhaseRemoved:
		// Phase first, then content: a crash between the two leaves a
		// phase-3 entry with stray content, which Fix cleans up.
		req := store.UpdateRequest{Phase: &next}
		if err := e.store.Update(ctx, id, req); err != nil {
			return entry.Phase, err
		}
		if err := e.store.RemoveContent(ctx, id); err != nil {
			return next, err
		}
	}
	return next, nil
}

// Restore brings an evicted memory back to phase 0 from its archive.
func (e *Engine) Restore(ctx context.Context, id string) error {
	if err := e.store.Restore(ctx, id); err != nil {
		return fmt.Errorf("eviction: restoring %s: %w", id, err)
	}
	e.logger.Info("eviction: restored from archive", "id", id)
	return nil
}

// ArchivedContent returns the full archived content for id.
func (e *Engine) ArchivedContent(ctx context.Context, id string) (string, error) {
	mem, err := e.store.ReadArchive(ctx, id)
	if err != nil {
		return "", err
	}
	return mem.Content(), nil
}

// reduceToHint keeps the summary section when one exists, otherwise the
// leading HintMaxChars of the body, plus a marker noting the reduction.
func (e *Engine) reduceToHint(mem *models.Memory) string {
	if strings.TrimSpace(mem.Summary) != "" {
		// The summary section survives intact as its own section; the body
		// shrinks to just the marker.
		return strings.TrimSpace(reductionMarker)
	}
	hint := capRunes(strings.TrimSpace(mem.Body), e.cfg.HintMaxChars)
	return hint + reductionMarker
}

// reduceToAbstract keeps the first non-heading, non-empty line, capped at
// AbstractMaxChars.
func (e *Engine) reduceToAbstract(mem *models.Memory) string {
	source := mem.Summary
	if strings.TrimSpace(source) == "" {
		source = mem.Body
	}
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return capRunes(line, e.cfg.AbstractMaxChars)
	}
	return ""
}

// capRunes truncates s to at most max runes, appending an ellipsis when it
// cuts. Slicing by rune keeps multibyte characters intact.
func capRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
