// Package orchestrator drives the monitoring loop: scheduled cycles that
// delegate to subagents, escalate findings, reconcile tickets, and write
// atomic cycle reports.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks a finding's impact.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Finding is one detected non-healthy workload state. Findings live in a
// per-cycle arena keyed by ID; nothing holds pointers across cycles — the
// ticket key is the only stable join.
type Finding struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Cluster   string    `json:"cluster"`
	Namespace string    `json:"namespace"`
	Workload  string    `json:"workload"`
	Kind      string    `json:"kind"`
	Evidence  []string  `json:"evidence"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	RestartCount int `json:"restart_count,omitempty"`
	PodsDown     int `json:"pods_down,omitempty"`
	PodsTotal    int `json:"pods_total,omitempty"`

	ErrorPatterns         []string `json:"error_patterns,omitempty"`
	RootCause             string   `json:"root_cause,omitempty"`
	CorrelatedDeployments []string `json:"correlated_deployments,omitempty"`
	CorrelatedTraffic     string   `json:"correlated_traffic,omitempty"`
}

// rawFinding is the diagnostics subagent's JSON contract.
type rawFinding struct {
	Severity     string   `json:"severity"`
	Namespace    string   `json:"namespace"`
	Workload     string   `json:"workload"`
	Kind         string   `json:"kind"`
	Evidence     []string `json:"evidence"`
	RestartCount int      `json:"restart_count"`
	PodsDown     int      `json:"pods_down"`
	PodsTotal    int      `json:"pods_total"`
}

type findingsEnvelope struct {
	Findings []rawFinding `json:"findings"`
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseFindings extracts the fenced JSON block from the diagnostics report
// and materializes findings for the cycle arena. Model-reported severities
// outside the known set degrade to MEDIUM rather than failing the cycle.
func ParseFindings(report, cluster string, now time.Time) ([]Finding, error) {
	match := fencedJSONPattern.FindStringSubmatch(report)
	if match == nil {
		return nil, fmt.Errorf("diagnostics report carries no fenced JSON block")
	}

	var env findingsEnvelope
	if err := json.Unmarshal([]byte(match[1]), &env); err != nil {
		return nil, fmt.Errorf("diagnostics JSON is malformed: %w", err)
	}

	findings := make([]Finding, 0, len(env.Findings))
	for _, raw := range env.Findings {
		if raw.Workload == "" || raw.Kind == "" {
			continue
		}
		severity := Severity(strings.ToUpper(raw.Severity))
		if !severity.IsValid() {
			severity = SeverityMedium
		}
		findings = append(findings, Finding{
			ID:           uuid.New().String(),
			Severity:     severity,
			Cluster:      cluster,
			Namespace:    raw.Namespace,
			Workload:     raw.Workload,
			Kind:         raw.Kind,
			Evidence:     raw.Evidence,
			FirstSeen:    now,
			LastSeen:     now,
			RestartCount: raw.RestartCount,
			PodsDown:     raw.PodsDown,
			PodsTotal:    raw.PodsTotal,
		})
	}
	return findings, nil
}

// kindsWithLogEvidence lists finding kinds worth a log-analysis delegation.
var kindsWithLogEvidence = map[string]bool{
	"CrashLoopBackOff": true,
	"OOMKilled":        true,
}

// wantsLogAnalysis reports whether a finding carries log evidence worth a
// dedicated delegation. Frequent restarts qualify regardless of kind.
func (f Finding) wantsLogAnalysis() bool {
	return kindsWithLogEvidence[f.Kind] || f.RestartCount >= 10
}

// Summary is the one-line form used in session context and logs.
func (f Finding) Summary() string {
	return fmt.Sprintf("[%s] %s/%s: %s (%s)", f.Cluster, f.Namespace, f.Workload, f.Kind, f.Severity)
}
