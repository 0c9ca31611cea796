package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/masking"
	"github.com/codeready-toolchain/vigil/pkg/notify"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/subagent"
	"github.com/codeready-toolchain/vigil/pkg/ticket"
)

// delegator runs subagent profiles. Satisfied by subagent.Runner.
type delegator interface {
	Delegate(ctx context.Context, profile, brief, scopeID string) (*subagent.Result, error)
}

// reconciler is the ticket surface. Satisfied by ticket.Correlator.
type reconciler interface {
	Reconcile(ctx context.Context, obs ticket.Observation) (*ticket.Outcome, error)
	CommentIfExists(ctx context.Context, obs ticket.Observation) (*ticket.Outcome, error)
}

// alerter posts notifications. Satisfied by notify.Service.
type alerter interface {
	Notify(ctx context.Context, a notify.Alert)
}

// openIncident tracks a finding across cycles so first-seen survives and
// recoveries are detected when a workload stops appearing in diagnostics.
type openIncident struct {
	finding       Finding
	firstSeen     time.Time
	lastUnhealthy time.Time
}

// Orchestrator owns the persistent monitoring session and runs one cycle at
// a time. It is driven by a single goroutine; nothing here needs a lock
// except the session, whose lock documents the sharing contract.
type Orchestrator struct {
	delegate   delegator
	tickets    reconciler
	notifier   alerter
	gate       *RemediationGate
	correlator *Correlator
	services   *config.ServiceMap
	masker     *masking.Service

	cluster            string
	criticalNamespaces []string
	maxDowntime        map[config.Criticality]time.Duration
	resolvedAfter      time.Duration
	reportDir          string
	cycleDeadline      time.Duration
	sessionMaxTokens   int
	freshSession       bool
	systemPrompt       string

	sess        *session.Session
	cycleNumber int
	prevSummary string
	open        map[string]openIncident

	now    func() time.Time
	logger *slog.Logger
}

// Deps bundles the orchestrator's collaborators. Tickets and Notifier may
// be nil when the integrations are unconfigured.
type Deps struct {
	Delegator  delegator
	Tickets    reconciler
	Notifier   alerter
	Gate       *RemediationGate
	Correlator *Correlator
	Services   *config.ServiceMap
	// Masker scrubs free text before reports and alerts leave the process.
	Masker *masking.Service
}

func New(deps Deps, cfg *config.Config) *Orchestrator {
	systemPrompt := fmt.Sprintf(
		"Persistent monitoring context for cluster %s. Cycle summaries accumulate here; pinned entries mark unresolved critical incidents.",
		cfg.Clusters.Target)

	return &Orchestrator{
		delegate:           deps.Delegator,
		tickets:            deps.Tickets,
		notifier:           deps.Notifier,
		gate:               deps.Gate,
		correlator:         deps.Correlator,
		services:           deps.Services,
		masker:             deps.Masker,
		cluster:            cfg.Clusters.Target,
		criticalNamespaces: cfg.Orchestrator.CriticalNamespaces,
		maxDowntime:        cfg.Thresholds.MaxDowntime,
		resolvedAfter:      cfg.Thresholds.ResolvedAfter,
		reportDir:          cfg.Orchestrator.ReportDir,
		cycleDeadline:      cfg.Orchestrator.CycleDeadline,
		sessionMaxTokens:   cfg.Orchestrator.SessionMaxTokens,
		freshSession:       cfg.Orchestrator.FreshSessionPerCycle,
		systemPrompt:       systemPrompt,
		sess:               session.New("", systemPrompt),
		open:               map[string]openIncident{},
		now:                time.Now,
		logger:             slog.Default().With("component", "orchestrator"),
	}
}

// RunCycle executes one monitoring cycle and always writes a report, partial
// when the deadline cut it short. The returned error covers report-writing
// failures only; in-cycle errors are recorded in the report instead.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	if o.cycleDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cycleDeadline)
		defer cancel()
	}

	// Stateless mode: each tick starts from a bare monitoring context.
	if o.freshSession {
		o.sess = session.New("", o.systemPrompt)
	}

	o.cycleNumber++
	start := o.now()
	report := &CycleReport{
		CycleID:     uuid.New().String(),
		CycleNumber: o.cycleNumber,
		StartedAt:   start,
	}
	o.logger.Info("Cycle started", "cycle", o.cycleNumber, "cycle_id", report.CycleID)

	findings := o.diagnose(ctx, report)
	for i := range findings {
		o.assess(ctx, &findings[i], report)
	}
	report.Findings = findings

	for i := range findings {
		o.act(ctx, &findings[i], report)
	}
	o.closeRecovered(ctx, findings, report)

	o.updateSession(findings)

	report.Partial = ctx.Err() != nil
	report.FinishedAt = o.now()
	report.DurationMS = report.FinishedAt.Sub(start).Milliseconds()

	o.maskReport(report)
	path, err := WriteReport(o.reportDir, report)
	if err != nil {
		return report, fmt.Errorf("cycle %d report: %w", o.cycleNumber, err)
	}
	o.logger.Info("Cycle finished",
		"cycle", o.cycleNumber,
		"findings", len(findings),
		"partial", report.Partial,
		"report", path)
	return report, nil
}

// diagnose delegates the cluster scan and parses the findings contract.
func (o *Orchestrator) diagnose(ctx context.Context, report *CycleReport) []Finding {
	brief := o.buildCycleBrief()
	res, err := o.delegate.Delegate(ctx, "diagnostics", brief, report.CycleID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ERROR: diagnostics delegation failed: %v", err))
		return nil
	}
	report.TokensUsed += res.TokensUsed

	findings, err := ParseFindings(res.Text, o.cluster, o.now())
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ERROR: %v", err))
		return nil
	}

	// Carry first-seen across cycles for recurring incidents.
	for i := range findings {
		key := remediationKey(findings[i])
		if inc, ok := o.open[key]; ok {
			findings[i].FirstSeen = inc.firstSeen
		}
	}
	return findings
}

// assess escalates severity and enriches findings at or above HIGH with log
// analysis and deployment/traffic correlation.
func (o *Orchestrator) assess(ctx context.Context, f *Finding, report *CycleReport) {
	tier := o.services.CriticalityOf(f.Workload)
	f.Severity = Escalate(*f, tier, o.maxDowntime, o.now())

	if !f.Severity.AtLeast(SeverityHigh) {
		return
	}

	if f.wantsLogAnalysis() {
		brief := subagent.BuildBrief(
			fmt.Sprintf("Analyze the logs of workload %s in namespace %s and produce a root-cause hypothesis.", f.Workload, f.Namespace),
			map[string]string{"state": f.Kind, "restart_count": fmt.Sprintf("%d", f.RestartCount)})
		res, err := o.delegate.Delegate(ctx, "log-analyzer", brief, report.CycleID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("ERROR: log analysis for %s failed: %v", f.Workload, err))
		} else {
			f.RootCause = res.Text
			report.TokensUsed += res.TokensUsed
		}
	}

	if o.correlator != nil {
		o.correlator.Enrich(ctx, f)
	}
}

// act applies the severity policy: tickets, notifications and gated
// remediation. Failures are recorded and the cycle moves on.
func (o *Orchestrator) act(ctx context.Context, f *Finding, report *CycleReport) {
	key := remediationKey(*f)
	now := o.now()
	if inc, ok := o.open[key]; ok {
		inc.finding = *f
		inc.lastUnhealthy = now
		o.open[key] = inc
	} else {
		o.open[key] = openIncident{finding: *f, firstSeen: f.FirstSeen, lastUnhealthy: now}
	}

	switch {
	case f.Severity == SeverityCritical:
		remediated := o.remediate(ctx, f, report)
		o.reconcileTicket(ctx, *f, remediated, report)
		o.alert(ctx, *f, report)
	case f.Severity == SeverityHigh:
		o.reconcileTicket(ctx, *f, false, report)
		o.alert(ctx, *f, report)
	case f.Severity == SeverityMedium:
		o.commentOnly(ctx, *f, report)
	default:
		o.logger.Info("Low-severity finding", "finding", f.Summary())
	}
}

func (o *Orchestrator) remediate(ctx context.Context, f *Finding, report *CycleReport) bool {
	if o.gate == nil {
		return false
	}
	ok, reason := o.gate.Approve(ctx, *f, o.cycleNumber, o.now())
	if !ok {
		o.logger.Info("Remediation not approved", "finding", f.Summary(), "reason", reason)
		report.ActionsTaken = append(report.ActionsTaken,
			fmt.Sprintf("remediation skipped for %s/%s: %s", f.Namespace, f.Workload, reason))
		return false
	}

	brief := subagent.BuildBrief(
		fmt.Sprintf("Restart the rollout of deployment %s in namespace %s and verify it recovers.", f.Workload, f.Namespace),
		map[string]string{"state": f.Kind, "cluster": f.Cluster})
	res, err := o.delegate.Delegate(ctx, "remediation", brief, report.CycleID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ERROR: remediation for %s failed: %v", f.Workload, err))
		return false
	}

	o.gate.MarkApplied(*f, o.cycleNumber)
	report.TokensUsed += res.TokensUsed
	report.ActionsTaken = append(report.ActionsTaken,
		fmt.Sprintf("remediation applied to %s/%s: %s", f.Namespace, f.Workload, firstLine(res.Text)))
	return true
}

func (o *Orchestrator) reconcileTicket(ctx context.Context, f Finding, remediated bool, report *CycleReport) {
	if o.tickets == nil {
		return
	}
	out, err := o.tickets.Reconcile(ctx, o.observationOf(f, remediated, 0))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ERROR: ticket reconcile for %s failed: %v", f.Workload, err))
		return
	}
	report.TicketsTouched = append(report.TicketsTouched, *out)
}

func (o *Orchestrator) commentOnly(ctx context.Context, f Finding, report *CycleReport) {
	if o.tickets == nil {
		o.logger.Info("Medium-severity finding", "finding", f.Summary())
		return
	}
	out, err := o.tickets.CommentIfExists(ctx, o.observationOf(f, false, 0))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("ERROR: ticket comment for %s failed: %v", f.Workload, err))
		return
	}
	if out.Key != "" {
		report.TicketsTouched = append(report.TicketsTouched, *out)
	}
}

func (o *Orchestrator) alert(ctx context.Context, f Finding, report *CycleReport) {
	if o.notifier == nil {
		return
	}
	severity := "warning"
	if f.Severity == SeverityCritical {
		severity = "critical"
	}
	o.notifier.Notify(ctx, notify.Alert{
		Severity:  severity,
		Cluster:   f.Cluster,
		Component: f.Workload,
		Kind:      f.Kind,
		Summary:   f.Summary(),
	})
	report.ActionsTaken = append(report.ActionsTaken,
		fmt.Sprintf("notified %s for %s/%s", severity, f.Namespace, f.Workload))
}

// closeRecovered detects incidents that stopped appearing in diagnostics
// and, once healthy long enough, records resolution as a ticket comment.
func (o *Orchestrator) closeRecovered(ctx context.Context, current []Finding, report *CycleReport) {
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		seen[remediationKey(f)] = true
	}

	now := o.now()
	for key, inc := range o.open {
		if seen[key] {
			continue
		}
		healthyFor := now.Sub(inc.lastUnhealthy)
		if healthyFor < o.resolvedAfter {
			continue
		}
		if o.tickets != nil {
			out, err := o.tickets.CommentIfExists(ctx, o.observationOf(inc.finding, false, healthyFor))
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("ERROR: resolution comment for %s failed: %v", inc.finding.Workload, err))
				continue
			}
			if out.Key != "" {
				report.TicketsTouched = append(report.TicketsTouched, *out)
			}
		}
		o.logger.Info("Incident resolved", "finding", inc.finding.Summary(), "healthy_for", healthyFor)
		delete(o.open, key)
	}
}

func (o *Orchestrator) observationOf(f Finding, remediated bool, healthyFor time.Duration) ticket.Observation {
	return ticket.Observation{
		Cluster:               f.Cluster,
		Namespace:             f.Namespace,
		Component:             f.Workload,
		Kind:                  f.Kind,
		Severity:              string(f.Severity),
		RestartCount:          f.RestartCount,
		Evidence:              f.Evidence,
		ErrorPatterns:         f.ErrorPatterns,
		Diagnosis:             f.RootCause,
		CorrelatedDeployments: f.CorrelatedDeployments,
		RemediationAttempted:  remediated,
		HealthyFor:            healthyFor,
	}
}

func (o *Orchestrator) buildCycleBrief() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Monitoring cycle %d at %s.\n", o.cycleNumber, o.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Scan the critical namespaces (%s) and report every non-healthy workload.\n",
		strings.Join(o.criticalNamespaces, ", "))
	if o.prevSummary != "" {
		fmt.Fprintf(&sb, "\nPrevious cycle: %s\n", o.prevSummary)
	}
	return sb.String()
}

// updateSession folds the cycle into the persistent session, pinning
// summaries that carry critical findings.
func (o *Orchestrator) updateSession(findings []Finding) {
	summary := o.summarize(findings)

	o.sess.Lock()
	defer o.sess.Unlock()
	o.sess.Append(session.AssistantText(fmt.Sprintf("Cycle %d: %s", o.cycleNumber, summary)))
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			o.sess.PinLast()
			break
		}
	}
	o.sess.PruneIfNeeded(o.sessionMaxTokens)

	o.prevSummary = summary
}

func (o *Orchestrator) summarize(findings []Finding) string {
	if len(findings) == 0 {
		return "all monitored workloads healthy"
	}
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, f.Summary())
	}
	return strings.Join(parts, "; ")
}

// maskReport scrubs every free-text report surface. Evidence and log
// excerpts come from live cluster output and can carry secret material.
func (o *Orchestrator) maskReport(r *CycleReport) {
	for i := range r.Findings {
		f := &r.Findings[i]
		f.RootCause = o.masker.MaskText(f.RootCause)
		for j, e := range f.Evidence {
			f.Evidence[j] = o.masker.MaskText(e)
		}
		for j, p := range f.ErrorPatterns {
			f.ErrorPatterns[j] = o.masker.MaskText(p)
		}
	}
	for i, a := range r.ActionsTaken {
		r.ActionsTaken[i] = o.masker.MaskText(a)
	}
	for i, e := range r.Errors {
		r.Errors[i] = o.masker.MaskText(e)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
