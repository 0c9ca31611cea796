// Package ticket correlates findings with Jira issues: one ticket per
// distinct incident, structured comments on change, never an auto-close.
package ticket

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	sectionChange       = "*Change Detected*"
	sectionMetrics      = "*Current Metrics*"
	sectionObservations = "*New Observations*"
	sectionNextSteps    = "*Next Steps*"
)

// Snapshot is the metrics block embedded in every comment. The next cycle
// parses it back out of the latest comment, so the rendered form is part of
// the contract.
type Snapshot struct {
	ObservedAt    time.Time
	Status        string
	Severity      string
	RestartCount  int
	ErrorPatterns []string
}

// Comment is one structured update on an existing ticket.
type Comment struct {
	ChangeDetected string
	Snapshot       Snapshot
	Observations   []string
	NextSteps      []string
}

// Render produces the markdown body. Sections appear in fixed order so
// humans and the parser read the same shape.
func (c Comment) Render() string {
	var sb strings.Builder

	sb.WriteString(sectionChange + "\n")
	sb.WriteString(c.ChangeDetected + "\n\n")

	sb.WriteString(sectionMetrics + "\n")
	fmt.Fprintf(&sb, "- observed_at: %s\n", c.Snapshot.ObservedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- status: %s\n", c.Snapshot.Status)
	fmt.Fprintf(&sb, "- severity: %s\n", c.Snapshot.Severity)
	fmt.Fprintf(&sb, "- restart_count: %d\n", c.Snapshot.RestartCount)
	if len(c.Snapshot.ErrorPatterns) > 0 {
		fmt.Fprintf(&sb, "- error_patterns: %s\n", strings.Join(c.Snapshot.ErrorPatterns, " | "))
	}
	sb.WriteString("\n")

	sb.WriteString(sectionObservations + "\n")
	if len(c.Observations) == 0 {
		sb.WriteString("- none\n")
	}
	for _, o := range c.Observations {
		sb.WriteString("- " + o + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString(sectionNextSteps + "\n")
	if len(c.NextSteps) == 0 {
		sb.WriteString("- continue monitoring\n")
	}
	for _, n := range c.NextSteps {
		sb.WriteString("- " + n + "\n")
	}

	return sb.String()
}

// ParseLatestSnapshot walks the comments newest first and returns the first
// parsable metrics block. False when no comment carries one.
func ParseLatestSnapshot(comments []string) (Snapshot, bool) {
	for i := len(comments) - 1; i >= 0; i-- {
		if snap, ok := parseSnapshot(comments[i]); ok {
			return snap, true
		}
	}
	return Snapshot{}, false
}

func parseSnapshot(body string) (Snapshot, bool) {
	idx := strings.Index(body, sectionMetrics)
	if idx < 0 {
		return Snapshot{}, false
	}

	var snap Snapshot
	found := false
	for _, line := range strings.Split(body[idx:], "\n")[1:] {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "*") {
			break
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "- "), ": ")
		if !ok {
			continue
		}
		switch key {
		case "observed_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				snap.ObservedAt = ts
				found = true
			}
		case "status":
			snap.Status = value
		case "severity":
			snap.Severity = value
		case "restart_count":
			if n, err := strconv.Atoi(value); err == nil {
				snap.RestartCount = n
			}
		case "error_patterns":
			snap.ErrorPatterns = strings.Split(value, " | ")
		}
	}
	return snap, found
}
