// Package priority scores memories for retrieval ranking and eviction
// ordering. All functions are pure: no I/O, no clock reads — the current
// session ordinal is always passed in explicitly.
package priority

import (
	"fmt"

	"github.com/parkerhale/engram/internal/models"
)

// Weights controls the relative importance of each priority factor.
// The three weights must sum to 1.0 so the combined score stays in [0,1].
type Weights struct {
	Difficulty float64 `json:"difficulty" mapstructure:"difficulty"`
	Recency    float64 `json:"recency" mapstructure:"recency"`
	Frequency  float64 `json:"frequency" mapstructure:"frequency"`
}

// DefaultWeights returns the standard weight distribution.
func DefaultWeights() Weights {
	return Weights{
		Difficulty: 0.4,
		Recency:    0.3,
		Frequency:  0.3,
	}
}

// Validate checks that the weights form a convex combination.
func (w Weights) Validate() error {
	sum := w.Difficulty + w.Recency + w.Frequency
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("priority weights must sum to 1.0, got %.3f", sum)
	}
	if w.Difficulty < 0 || w.Recency < 0 || w.Frequency < 0 {
		return fmt.Errorf("priority weights must be non-negative")
	}
	return nil
}

// Normalization caps.
const (
	// FrequencyCap is the access count that earns a full frequency score.
	FrequencyCap = 10

	// ToolCountCap is the tool invocation count that earns a full
	// tool-activity score in the difficulty formula.
	ToolCountCap = 50

	// DefaultTokenCap is the session token count that earns a full
	// token-usage score in the extended difficulty formula.
	DefaultTokenCap = 100000
)

// Calculator computes priority and difficulty scores.
type Calculator struct {
	weights      Weights
	frequencyCap int
	tokenCap     int
}

// NewCalculator creates a calculator with the given weights. Zero or
// negative caps fall back to the defaults.
func NewCalculator(weights Weights, frequencyCap, tokenCap int) *Calculator {
	if frequencyCap <= 0 {
		frequencyCap = FrequencyCap
	}
	if tokenCap <= 0 {
		tokenCap = DefaultTokenCap
	}
	return &Calculator{weights: weights, frequencyCap: frequencyCap, tokenCap: tokenCap}
}

// NewDefaultCalculator creates a calculator with DefaultWeights.
func NewDefaultCalculator() *Calculator {
	return NewCalculator(DefaultWeights(), FrequencyCap, DefaultTokenCap)
}

// Weights returns the calculator's weight configuration.
func (c *Calculator) Weights() Weights { return c.weights }

// Score computes the priority of a memory given its access statistics and
// the current session ordinal. stats may be nil for a memory that has never
// been read; recency then falls back to the creation session.
func (c *Calculator) Score(difficulty float64, createdSession int, stats *models.AccessStats, currentSession int) float64 {
	recency := c.Recency(stats, createdSession, currentSession)
	frequency := c.Frequency(stats)

	p := clamp01(difficulty)*c.weights.Difficulty +
		recency*c.weights.Recency +
		frequency*c.weights.Frequency
	return clamp01(p)
}

// Recency decays harmonically with sessions elapsed since last access:
// 1/(1+elapsed). It equals 1.0 at zero elapsed sessions and never reaches 0.
func (c *Calculator) Recency(stats *models.AccessStats, createdSession, currentSession int) float64 {
	last := createdSession
	if stats != nil {
		last = stats.LastSession
	}
	elapsed := currentSession - last
	if elapsed < 0 {
		elapsed = 0
	}
	return 1.0 / (1.0 + float64(elapsed))
}

// Frequency saturates at the frequency cap: min(1, count/cap).
func (c *Calculator) Frequency(stats *models.AccessStats) float64 {
	if stats == nil || stats.AccessCount <= 0 {
		return 0.0
	}
	f := float64(stats.AccessCount) / float64(c.frequencyCap)
	return clamp01(f)
}

// SessionSignals aggregates the per-session task signals that feed the
// difficulty estimate for memories created during that session.
type SessionSignals struct {
	ToolFailures  int  `json:"tool_failures"`
	ToolSuccesses int  `json:"tool_successes"`
	Compacted     bool `json:"compacted"`
	SessionTokens int  `json:"session_tokens"`
}

// Difficulty derives a frozen difficulty estimate from session signals.
//
// With token counting active (SessionTokens > 0):
//
//	failure_rate*0.25 + tool_norm*0.15 + token_norm*0.35 + compaction*0.25
//
// Without:
//
//	failure_rate*0.5 + tool_norm*0.3 + compaction*0.2
func (c *Calculator) Difficulty(sig SessionSignals) float64 {
	total := sig.ToolFailures + sig.ToolSuccesses

	var failureRate, toolNorm float64
	if total > 0 {
		failureRate = clamp01(float64(sig.ToolFailures) / float64(total))
		toolNorm = clamp01(float64(total) / float64(ToolCountCap))
	}

	compaction := 0.0
	if sig.Compacted {
		compaction = 1.0
	}

	var d float64
	if sig.SessionTokens > 0 {
		tokenNorm := clamp01(float64(sig.SessionTokens) / float64(c.tokenCap))
		d = failureRate*0.25 + toolNorm*0.15 + tokenNorm*0.35 + compaction*0.25
	} else {
		d = failureRate*0.5 + toolNorm*0.3 + compaction*0.2
	}
	return clamp01(d)
}

func clamp01(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 1.0 {
		return 1.0
	}
	return v
}
