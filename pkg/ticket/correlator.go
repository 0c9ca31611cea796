package ticket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/tools"
)

const (
	// commentCooldown is gate A's staleness arm.
	commentCooldown = 24 * time.Hour
	// restartDeltaThreshold is gate B's restart arm.
	restartDeltaThreshold = 10
	// resolvedAfter is how long a workload must stay healthy before the
	// resolution comment.
	resolvedAfter = 30 * time.Minute

	defaultIssueType = "Bug"
)

var priorityBySeverity = map[string]string{
	"CRITICAL": "Highest",
	"HIGH":     "High",
	"MEDIUM":   "Medium",
	"LOW":      "Low",
}

var severityOrder = map[string]int{
	"LOW":      1,
	"MEDIUM":   2,
	"HIGH":     3,
	"CRITICAL": 4,
}

// tracker is the issue-tracker surface. Satisfied by tools.JiraAdapter.
type tracker interface {
	FindBySummary(ctx context.Context, summary string) (*tools.Ticket, error)
	CreateTicket(ctx context.Context, summary, description, issueType, priority string) (string, error)
	AddTicketComment(ctx context.Context, key, body string) error
	TicketComments(ctx context.Context, key string) ([]string, error)
}

// Observation is one cycle's view of an incident, the correlator's input.
type Observation struct {
	Cluster       string
	Namespace     string
	Component     string
	Kind          string
	Severity      string
	RestartCount  int
	Evidence      []string
	ErrorPatterns []string
	Diagnosis     string
	// CorrelatedDeployments lists merged PRs or rollouts near first_seen.
	CorrelatedDeployments []string
	// RemediationAttempted is set when a remediation delegate acted this
	// cycle.
	RemediationAttempted bool
	// HealthyFor is non-zero when the workload has recovered; the
	// resolution comment waits until it exceeds resolvedAfter.
	HealthyFor time.Duration
}

// Outcome reports what the correlator did, for the cycle report.
type Outcome struct {
	Key          string `json:"key"`
	Created      bool   `json:"created"`
	CommentAdded bool   `json:"comment_added"`
	Reason       string `json:"reason,omitempty"`
}

// SummaryKey is the stable join key between findings and tickets.
func SummaryKey(cluster, component, kind string) string {
	return fmt.Sprintf("[%s] %s: %s", cluster, component, kind)
}

// Correlator drives ticket creation and commenting. Stateless between
// calls: everything it needs to decide lives in the tracker.
type Correlator struct {
	tracker tracker
	now     func() time.Time
	logger  *slog.Logger
}

func NewCorrelator(tr tracker) *Correlator {
	return &Correlator{
		tracker: tr,
		now:     time.Now,
		logger:  slog.Default().With("component", "ticket"),
	}
}

// Reconcile maps one observation onto the tracker: create when no open
// ticket exists, comment when the change gates pass, otherwise record why
// not. Re-running immediately on the same observation is a no-op.
func (c *Correlator) Reconcile(ctx context.Context, obs Observation) (*Outcome, error) {
	summary := SummaryKey(obs.Cluster, obs.Component, obs.Kind)

	existing, err := c.tracker.FindBySummary(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("ticket lookup failed for %q: %w", summary, err)
	}

	// A resolved ticket stays closed; a recurrence is a new incident.
	if existing == nil || existing.Resolved {
		return c.create(ctx, summary, obs)
	}

	return c.comment(ctx, existing.Key, obs)
}

// CommentIfExists updates an existing open ticket through the change gates
// but never creates one. MEDIUM findings use this path: comment-only when a
// ticket exists, otherwise nothing.
func (c *Correlator) CommentIfExists(ctx context.Context, obs Observation) (*Outcome, error) {
	summary := SummaryKey(obs.Cluster, obs.Component, obs.Kind)

	existing, err := c.tracker.FindBySummary(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("ticket lookup failed for %q: %w", summary, err)
	}
	if existing == nil || existing.Resolved {
		return &Outcome{Reason: "no open ticket"}, nil
	}
	return c.comment(ctx, existing.Key, obs)
}

func (c *Correlator) create(ctx context.Context, summary string, obs Observation) (*Outcome, error) {
	priority := priorityBySeverity[obs.Severity]
	key, err := c.tracker.CreateTicket(ctx, summary, buildDescription(obs), defaultIssueType, priority)
	if err != nil {
		return nil, fmt.Errorf("ticket create failed for %q: %w", summary, err)
	}

	// Seed the metrics baseline so the next cycle has a snapshot to diff
	// against.
	baseline := Comment{
		ChangeDetected: "Incident detected; ticket opened.",
		Snapshot:       c.snapshotOf(obs),
		Observations:   obs.Evidence,
		NextSteps:      []string{"monitor for recovery or escalation"},
	}
	if err := c.tracker.AddTicketComment(ctx, key, baseline.Render()); err != nil {
		c.logger.Warn("Baseline comment failed", "key", key, "error", err)
	}

	c.logger.Info("Ticket created", "key", key, "summary", summary, "priority", priority)
	return &Outcome{Key: key, Created: true, CommentAdded: true}, nil
}

func (c *Correlator) comment(ctx context.Context, key string, obs Observation) (*Outcome, error) {
	comments, err := c.tracker.TicketComments(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("comment fetch failed for %s: %w", key, err)
	}

	prev, hasPrev := ParseLatestSnapshot(comments)
	allowed, change := c.evaluateGates(obs, prev, hasPrev)
	if !allowed {
		return &Outcome{Key: key, Reason: change}, nil
	}

	body := Comment{
		ChangeDetected: change,
		Snapshot:       c.snapshotOf(obs),
		Observations:   buildObservations(obs, prev, hasPrev),
		NextSteps:      buildNextSteps(obs),
	}
	if err := c.tracker.AddTicketComment(ctx, key, body.Render()); err != nil {
		return nil, fmt.Errorf("comment failed for %s: %w", key, err)
	}

	c.logger.Info("Ticket updated", "key", key, "change", change)
	return &Outcome{Key: key, CommentAdded: true}, nil
}

// evaluateGates applies the A AND B change gates. The returned string is
// the change description when allowed, or the skip reason when not.
func (c *Correlator) evaluateGates(obs Observation, prev Snapshot, hasPrev bool) (bool, string) {
	if !hasPrev {
		// No parsable history: first detection against this ticket.
		return true, "First detection by this monitor."
	}

	// Severity escalation counts as an observed status change; easing off
	// does not reopen the gate on its own.
	statusChanged := prev.Status != obs.observedStatus()
	escalated := severityOrder[obs.Severity] > severityOrder[prev.Severity]
	stale := c.now().Sub(prev.ObservedAt) >= commentCooldown
	if !statusChanged && !escalated && !stale {
		return false, "no status change and last comment is recent"
	}

	switch {
	case obs.resolved():
		return true, fmt.Sprintf("Workload healthy for %s; considering resolved.", obs.HealthyFor.Round(time.Minute))
	case obs.RemediationAttempted:
		return true, "Automated remediation was attempted."
	case obs.RestartCount-prev.RestartCount >= restartDeltaThreshold:
		return true, fmt.Sprintf("Restart count climbed from %d to %d.", prev.RestartCount, obs.RestartCount)
	case newErrorPattern(obs.ErrorPatterns, prev.ErrorPatterns) != "":
		return true, fmt.Sprintf("New error pattern: %s", newErrorPattern(obs.ErrorPatterns, prev.ErrorPatterns))
	case prev.Severity != obs.Severity:
		return true, fmt.Sprintf("Severity changed from %s to %s.", prev.Severity, obs.Severity)
	default:
		return false, "no substantive change since last comment"
	}
}

func (c *Correlator) snapshotOf(obs Observation) Snapshot {
	return Snapshot{
		ObservedAt:    c.now(),
		Status:        obs.observedStatus(),
		Severity:      obs.Severity,
		RestartCount:  obs.RestartCount,
		ErrorPatterns: obs.ErrorPatterns,
	}
}

func (o Observation) resolved() bool {
	return o.HealthyFor >= resolvedAfter
}

// observedStatus is the workload state recorded in the snapshot; a
// recovered workload reads Healthy regardless of the finding kind.
func (o Observation) observedStatus() string {
	if o.resolved() {
		return "Healthy"
	}
	return o.Kind
}

func newErrorPattern(current, previous []string) string {
	known := make(map[string]bool, len(previous))
	for _, p := range previous {
		known[p] = true
	}
	for _, p := range current {
		if !known[p] {
			return p
		}
	}
	return ""
}

func buildDescription(obs Observation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Automated incident report for %s/%s on cluster %s.\n\n", obs.Namespace, obs.Component, obs.Cluster)
	fmt.Fprintf(&sb, "State: %s (severity %s)\n\n", obs.Kind, obs.Severity)

	if obs.Diagnosis != "" {
		sb.WriteString("h3. Diagnosis\n")
		sb.WriteString(obs.Diagnosis + "\n\n")
	}
	if len(obs.Evidence) > 0 {
		sb.WriteString("h3. Evidence\n")
		for _, e := range obs.Evidence {
			sb.WriteString("- " + e + "\n")
		}
		sb.WriteString("\n")
	}
	if len(obs.CorrelatedDeployments) > 0 {
		sb.WriteString("h3. Deployment Correlation\n")
		for _, d := range obs.CorrelatedDeployments {
			sb.WriteString("- " + d + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func buildObservations(obs Observation, prev Snapshot, hasPrev bool) []string {
	var out []string
	if hasPrev && obs.RestartCount != prev.RestartCount {
		out = append(out, fmt.Sprintf("restart_count %d (was %d)", obs.RestartCount, prev.RestartCount))
	}
	out = append(out, obs.Evidence...)
	if p := newErrorPattern(obs.ErrorPatterns, prev.ErrorPatterns); hasPrev && p != "" {
		out = append(out, "new error pattern: "+p)
	}
	return out
}

func buildNextSteps(obs Observation) []string {
	switch {
	case obs.resolved():
		return []string{"no action required; close manually after review"}
	case obs.RemediationAttempted:
		return []string{"verify the remediation held through the next cycle"}
	case len(obs.CorrelatedDeployments) > 0:
		return []string{"review the correlated deployment for a rollback candidate"}
	default:
		return nil
	}
}
