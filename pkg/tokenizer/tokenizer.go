// Package tokenizer provides offline token estimation for budget-limited
// context formatting and session difficulty scoring. No API calls, no model
// downloads — a character-based heuristic keeps the estimate deterministic.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the character-based approximation used when no real
// tokenizer is available. Matches typical English prose density.
const charsPerToken = 3.5

// EstimateTokens returns a rough token count for text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(float64(len(text)) / charsPerToken)
}

// Normalize maps a raw token count onto [0,1] against a cap.
func Normalize(tokenCount, cap int) float64 {
	if tokenCount <= 0 || cap <= 0 {
		return 0.0
	}
	n := float64(tokenCount) / float64(cap)
	if n > 1.0 {
		return 1.0
	}
	return n
}

// FormatWithBudget concatenates as many of the given entries as fit inside
// the token budget, separated by a horizontal rule. Returns the formatted
// text and the number of entries included.
func FormatWithBudget(entries []string, budget int) (string, int) {
	if budget <= 0 || len(entries) == 0 {
		return "", 0
	}

	var b strings.Builder
	used := 0
	count := 0

	for _, e := range entries {
		cost := EstimateTokens(e) + 2 // separator overhead
		if used+cost > budget {
			break
		}
		if count > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(e)
		used += cost
		count++
	}

	return b.String(), count
}

// TruncateToBudget shortens text to approximately fit the token budget,
// breaking at a word boundary when one is near.
func TruncateToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	maxChars := int(float64(budget) * charsPerToken)
	if maxChars >= len(text) {
		return text
	}

	// Back off to a rune boundary so a multibyte character is never split.
	for maxChars > 0 && !utf8.RuneStart(text[maxChars]) {
		maxChars--
	}
	truncated := text[:maxChars]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxChars/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
