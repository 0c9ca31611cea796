package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one ordered conversation. messages[0] is always the current
// system prompt. The embedded mutex serializes body edits; the LLM driver
// holds it across a whole advance so eviction and concurrent queries never
// interleave turns.
type Session struct {
	ID        string
	CreatedAt time.Time

	// Owner is the API identity that created the session; empty in dev mode
	// and for the orchestrator session.
	Owner string

	mu            sync.Mutex
	lastUsedAt    time.Time
	messages      []Message
	pinned        map[int]bool
	tokenEstimate int
}

// New creates a session opened with the given system prompt.
func New(owner, systemPrompt string) *Session {
	now := time.Now()
	s := &Session{
		ID:         uuid.New().String(),
		CreatedAt:  now,
		Owner:      owner,
		lastUsedAt: now,
		pinned:     map[int]bool{},
	}
	s.messages = append(s.messages, SystemPrompt(systemPrompt))
	s.tokenEstimate = s.messages[0].Tokens()
	return s
}

// Lock acquires the session body lock. The driver takes it for the duration
// of one advance.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session body lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// The methods below require the lock to be held.

// Append adds messages in order and refreshes last-used.
func (s *Session) Append(msgs ...Message) {
	for _, m := range msgs {
		s.messages = append(s.messages, m)
		s.tokenEstimate += m.Tokens()
	}
	s.lastUsedAt = time.Now()
}

// Messages returns the live message slice. Callers must not mutate it.
func (s *Session) Messages() []Message {
	return s.messages
}

// Len returns the number of messages.
func (s *Session) Len() int { return len(s.messages) }

// TokenEstimate returns the running token estimate.
func (s *Session) TokenEstimate() int { return s.tokenEstimate }

// AddTokens folds provider-reported usage into the estimate when it exceeds
// the heuristic count.
func (s *Session) AddTokens(n int) {
	if n > s.tokenEstimate {
		s.tokenEstimate = n
	}
}

// PinLast marks the newest message as never-prunable. The orchestrator pins
// turns carrying CRITICAL findings so they survive across cycles.
func (s *Session) PinLast() {
	if len(s.messages) > 0 {
		s.pinned[len(s.messages)-1] = true
	}
}

// Pinned reports whether index i is pinned.
func (s *Session) Pinned(i int) bool { return s.pinned[i] }

// Snapshot deep-copies the messages for reading without holding the lock.
func (s *Session) Snapshot() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Touch refreshes the TTL clock.
func (s *Session) Touch() { s.lastUsedAt = time.Now() }

// LastUsed returns the TTL clock without requiring the body lock ordering;
// the store calls it under its own lock while holding s.mu via TryLock.
func (s *Session) LastUsed() time.Time { return s.lastUsedAt }
