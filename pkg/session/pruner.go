package session

import (
	"strings"
)

// prunePercent is the fill level that triggers pruning: the pruner runs
// when the estimate reaches 80% of the budget and stops once back under.
const prunePercent = 80

// summaryExcerptChars bounds each turn's contribution to a pinned-turn
// summary.
const summaryExcerptChars = 200

// PruneIfNeeded enforces the token budget. Caller holds the session lock.
//
// The policy is deterministic: messages[0] and pinned turns are never
// dropped; oldest non-pinned (ToolCall, ToolResult) pairs go first, as
// units; then oldest non-pinned text turns; when only the system prompt and
// pinned turns remain, the pinned turns collapse into one synthetic
// "Previously:" assistant summary and lose their pins. A session already
// under the threshold is untouched.
func (s *Session) PruneIfNeeded(maxTokens int) bool {
	if maxTokens <= 0 {
		return false
	}
	threshold := maxTokens * prunePercent / 100
	if s.tokenEstimate < threshold {
		return false
	}

	pruned := false
	for s.tokenEstimate >= threshold {
		switch {
		case s.dropOldestToolPair():
			pruned = true
		case s.dropOldestText():
			pruned = true
		case s.summarizePinned():
			pruned = true
		default:
			return pruned
		}
	}
	return pruned
}

// dropOldestToolPair removes the oldest non-pinned ToolCall together with
// its ToolResult. Pairs are only removed whole.
func (s *Session) dropOldestToolPair() bool {
	for i := 1; i < len(s.messages); i++ {
		m := s.messages[i]
		if m.Kind != KindToolCall || s.pinned[i] {
			continue
		}
		for j := i + 1; j < len(s.messages); j++ {
			r := s.messages[j]
			if r.Kind == KindToolResult && r.ToolCallID == m.ToolCallID {
				if s.pinned[j] {
					break
				}
				s.removeIndices(i, j)
				return true
			}
		}
	}
	return false
}

// dropOldestText removes the oldest non-pinned user or assistant text turn.
func (s *Session) dropOldestText() bool {
	for i := 1; i < len(s.messages); i++ {
		if s.messages[i].IsText() && !s.pinned[i] {
			s.removeIndices(i)
			return true
		}
	}
	return false
}

// summarizePinned collapses all pinned turns into one synthetic assistant
// message placed right after the system prompt, and clears their pins.
func (s *Session) summarizePinned() bool {
	if len(s.pinned) == 0 {
		return false
	}

	var excerpts []string
	kept := make([]Message, 0, len(s.messages))
	kept = append(kept, s.messages[0])
	for i := 1; i < len(s.messages); i++ {
		m := s.messages[i]
		if s.pinned[i] {
			excerpts = append(excerpts, excerpt(m))
			continue
		}
		kept = append(kept, m)
	}

	summary := AssistantText("Previously: " + strings.Join(excerpts, "; "))
	s.messages = append([]Message{kept[0], summary}, kept[1:]...)
	s.pinned = map[int]bool{}
	s.recountTokens()
	return true
}

// removeIndices drops the given message indices (ascending) and remaps the
// pin set.
func (s *Session) removeIndices(indices ...int) {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}

	kept := make([]Message, 0, len(s.messages)-len(indices))
	pinned := make(map[int]bool, len(s.pinned))
	for i, m := range s.messages {
		if drop[i] {
			continue
		}
		if s.pinned[i] {
			pinned[len(kept)] = true
		}
		kept = append(kept, m)
	}
	s.messages = kept
	s.pinned = pinned
	s.recountTokens()
}

func (s *Session) recountTokens() {
	total := 0
	for _, m := range s.messages {
		total += m.Tokens()
	}
	s.tokenEstimate = total
}

func excerpt(m Message) string {
	text := m.Text
	if text == "" {
		text = m.Payload
	}
	if text == "" {
		text = m.ToolName
	}
	text = strings.TrimSpace(text)
	if len(text) > summaryExcerptChars {
		text = text[:summaryExcerptChars] + "..."
	}
	return text
}
