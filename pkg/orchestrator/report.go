package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/ticket"
)

// CycleReport is the durable record of one monitoring cycle.
type CycleReport struct {
	CycleID        string           `json:"cycle_id"`
	CycleNumber    int              `json:"cycle_number"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Findings       []Finding        `json:"findings"`
	ActionsTaken   []string         `json:"actions_taken"`
	TicketsTouched []ticket.Outcome `json:"tickets_touched"`
	TokensUsed     int              `json:"tokens_used"`
	DurationMS     int64            `json:"duration_ms"`
	Partial        bool             `json:"partial,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
}

// WriteReport persists the report atomically (tmp + rename) and returns the
// final path. A crashed write leaves no half-written report behind the name
// readers look for.
func WriteReport(dir string, r *CycleReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report dir: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report marshal: %w", err)
	}

	// Colons are unsafe in filenames on some filesystems.
	stamp := r.StartedAt.UTC().Format("2006-01-02T15-04-05Z")
	final := filepath.Join(dir, fmt.Sprintf("cycle-report-%s.json", stamp))

	tmp, err := os.CreateTemp(dir, "cycle-report-*.tmp")
	if err != nil {
		return "", fmt.Errorf("report tmp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("report write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("report close: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("report rename: %w", err)
	}
	return final, nil
}
