package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the approximate number of characters per token for
// English text. Threshold estimation only, not exact counting.
const charsPerToken = 4

// DefaultResultMaxTokens caps a single tool result handed to the LLM.
// Unbounded results (a cluster-wide pod listing, a full log dump) overflow
// the model's context window.
const DefaultResultMaxTokens = 6000

// DefaultLogTailLines caps pod log retrieval when the caller gives no limit.
const DefaultLogTailLines = 200

// DefaultListLimit caps list-style results (pods, events, PRs, issues).
const DefaultListLimit = 100

// EstimateTokens returns an approximate token count for the given text
// using the ~4 characters per token heuristic. len() counts bytes, so
// multi-byte content overestimates — the safe direction for a budget check.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TruncateResult bounds tool result content. It cuts at the last newline
// before the limit so indented JSON, YAML, or log output keeps whole lines,
// and never splits a multi-byte character. The second return reports
// whether truncation happened; the marker in the content tells the model
// why, so it can request a narrower query.
func TruncateResult(content string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		maxTokens = DefaultResultMaxTokens
	}
	maxChars := maxTokens * charsPerToken
	if len(content) <= maxChars {
		return content, false
	}

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf(
		"\n\n[TRUNCATED: result exceeded the %s limit — original size %s; narrow the query (namespace, label selector, tail lines) to see more]",
		formatSize(maxChars), formatSize(len(content)),
	), true
}

// formatSize returns a human-readable size. Bytes under 1KB avoid a
// confusing "0KB" on small content.
func formatSize(bytes int) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%dKB", bytes/1024)
}
