package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// Entry is one audit record. Arguments are hashed, never stored raw, so the
// audit file can be shipped without scrubbing.
type Entry struct {
	TS       time.Time `json:"ts"`
	ScopeID  string    `json:"scope_id"`
	Tool     string    `json:"tool"`
	ArgsHash string    `json:"args_hash"`
	Decision string    `json:"decision"`
	Reason   string    `json:"reason,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Config   string    `json:"config,omitempty"`
}

// HashArgs produces the SHA-256 hex digest of the canonical argument
// rendering.
func HashArgs(args map[string]any) string {
	sum := sha256.Sum256([]byte(tools.HashableArgs(args)))
	return hex.EncodeToString(sum[:])
}

// AuditLog appends entries to an NDJSON file through one writer goroutine,
// so concurrent adjudications never interleave lines. Callers enqueue and
// return; Stop drains the queue before closing the file.
type AuditLog struct {
	path        string
	fingerprint string
	queue       chan Entry
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	file        *os.File
	logger      *slog.Logger
}

// NewAuditLog prepares the log. fingerprint is the short config fingerprint
// stamped into every entry.
func NewAuditLog(path, fingerprint string) *AuditLog {
	return &AuditLog{
		path:        path,
		fingerprint: fingerprint,
		queue:       make(chan Entry, 256),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      slog.Default().With("component", "audit"),
	}
}

// Start opens the file for append and launches the writer goroutine.
func (a *AuditLog) Start(ctx context.Context) error {
	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log %s: %w", a.path, err)
	}
	a.file = file

	go a.writeLoop()

	a.logger.Info("Audit log started", "path", a.path)
	return nil
}

func (a *AuditLog) writeLoop() {
	defer close(a.done)
	encoder := json.NewEncoder(a.file)
	write := func(entry Entry) {
		if err := encoder.Encode(entry); err != nil {
			a.logger.Error("Failed to write audit entry", "tool", entry.Tool, "error", err)
		}
	}
	for {
		select {
		case entry := <-a.queue:
			write(entry)
		case <-a.stop:
			// Drain whatever was enqueued before the stop.
			for {
				select {
				case entry := <-a.queue:
					write(entry)
				default:
					return
				}
			}
		}
	}
}

// Record enqueues one entry. The timestamp and config fingerprint are
// stamped here so callers only fill the decision fields.
func (a *AuditLog) Record(entry Entry) {
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	entry.Config = a.fingerprint
	select {
	case a.queue <- entry:
	case <-a.stop:
		a.logger.Warn("Audit entry dropped after shutdown", "tool", entry.Tool)
	}
}

// Stop drains queued entries and closes the file. Idempotent.
func (a *AuditLog) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
		if a.file != nil {
			if err := a.file.Close(); err != nil {
				a.logger.Error("Failed to close audit log", "error", err)
			}
		}
		a.logger.Info("Audit log stopped")
	})
}
