package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when a session id is unknown or already evicted.
var ErrNotFound = fmt.Errorf("session not found")

// Stats is the counters surface behind GET /api/v1/sessions/stats.
type Stats struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
	Evicted int64 `json:"evicted"`
	Deleted int64 `json:"deleted"`
}

// Store holds query sessions in memory with TTL eviction and a hard cap.
// The orchestrator session does not live here; it is owned by the
// orchestrator and pruned by size, not time.
type Store struct {
	ttl           time.Duration
	cap           int
	sweepInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	created int64
	evicted int64
	deleted int64

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewStore creates a store. ttl bounds idle lifetime, cap bounds the
// session count, sweepInterval bounds eviction latency.
func NewStore(ttl time.Duration, cap int, sweepInterval time.Duration) *Store {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Store{
		ttl:           ttl,
		cap:           cap,
		sweepInterval: sweepInterval,
		sessions:      make(map[string]*Session),
		logger:        slog.Default().With("component", "session-store"),
	}
}

// Start launches the sweeper goroutine.
func (st *Store) Start(ctx context.Context) {
	ctx, st.cancel = context.WithCancel(ctx)
	st.done = make(chan struct{})

	go func() {
		defer close(st.done)
		ticker := time.NewTicker(st.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweep()
			}
		}
	}()

	st.logger.Info("Session store started", "ttl", st.ttl, "cap", st.cap)
}

// Stop halts the sweeper and waits for it to exit.
func (st *Store) Stop() {
	if st.cancel == nil {
		return
	}
	st.cancel()
	<-st.done
	st.logger.Info("Session store stopped")
}

// Create registers a new session. When the cap is hit, the oldest
// least-recently-used session is evicted first.
func (st *Store) Create(owner, systemPrompt string) *Session {
	s := New(owner, systemPrompt)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cap > 0 && len(st.sessions) >= st.cap {
		st.evictOldestLocked()
	}
	st.sessions[s.ID] = s
	st.created++
	return s
}

// Get returns the session or ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session explicitly.
func (st *Store) Delete(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(st.sessions, id)
	st.deleted++
	return nil
}

// Stats returns the current counters.
func (st *Store) Stats() Stats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Stats{
		Active:  len(st.sessions),
		Created: st.created,
		Evicted: st.evicted,
		Deleted: st.deleted,
	}
}

// sweep evicts sessions idle beyond the TTL. A session whose lock is held
// has an advance in flight; it is skipped and caught on a later sweep.
func (st *Store) sweep() {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	for id, s := range st.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.lastUsedAt)
		s.mu.Unlock()

		if idle > st.ttl {
			delete(st.sessions, id)
			st.evicted++
			st.logger.Debug("Evicted idle session", "session_id", id, "idle", idle)
		}
	}
}

// evictOldestLocked drops the least-recently-used session. Caller holds the
// store lock.
func (st *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, s := range st.sessions {
		if !s.mu.TryLock() {
			continue
		}
		lastUsed := s.lastUsedAt
		s.mu.Unlock()

		if oldestID == "" || lastUsed.Before(oldest) {
			oldestID = id
			oldest = lastUsed
		}
	}
	if oldestID != "" {
		delete(st.sessions, oldestID)
		st.evicted++
		st.logger.Warn("Session cap reached, evicted oldest", "session_id", oldestID)
	}
}
