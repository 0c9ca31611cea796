package subagent

import (
	"fmt"
	"sort"
	"strings"
)

// Prompt text lives here, assembled from shared components, so wording is
// testable in one place. Builders are pure functions of their inputs.

const safetyGuidance = `Safety rules are enforced outside your control: destructive actions against
protected namespaces or non-allow-listed clusters are blocked and the block
reason is returned as a tool error. When a tool call is blocked, do not retry
it; explain the block in your conclusion instead.`

const evidenceGuidance = `Ground every claim in tool output. Quote the exact log lines, event messages
or metric values that support a conclusion. Never invent pod names,
namespaces or numbers.`

func clusterContext(cluster string, criticalNamespaces []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are operating against the %q Kubernetes cluster.", cluster)
	if len(criticalNamespaces) > 0 {
		fmt.Fprintf(&sb, " The critical namespaces are: %s.", strings.Join(criticalNamespaces, ", "))
	}
	return sb.String()
}

// diagnosticsPrompt asks for a machine-readable findings report. The fenced
// JSON block is the contract the orchestrator parses, so the shape is spelled
// out field by field.
func diagnosticsPrompt(cluster string, criticalNamespaces []string) string {
	return strings.Join([]string{
		"You are a Kubernetes diagnostics specialist. Scan the critical namespaces and report every non-healthy workload.",
		clusterContext(cluster, criticalNamespaces),
		evidenceGuidance,
		`Conclude with a single fenced JSON block of this exact shape:

` + "```json" + `
{
  "findings": [
    {
      "severity": "CRITICAL|HIGH|MEDIUM|LOW",
      "namespace": "...",
      "workload": "...",
      "kind": "CrashLoopBackOff|OOMKilled|ImagePullBackOff|Pending|NotReady",
      "evidence": ["..."],
      "restart_count": 0,
      "pods_down": 0,
      "pods_total": 0
    }
  ]
}
` + "```" + `

Report an empty findings array when everything is healthy. Severity reflects
impact only; the platform applies its own escalation policy on top.`,
	}, "\n\n")
}

func logAnalyzerPrompt(cluster string) string {
	return strings.Join([]string{
		"You are a log analysis specialist. Given a failing workload, read its logs and events and produce a root-cause hypothesis.",
		clusterContext(cluster, nil),
		evidenceGuidance,
		`Conclude with:
- the most likely root cause, one sentence
- a confidence level (high, medium, low) with the evidence behind it
- the distinct error patterns observed, each with one representative log line`,
	}, "\n\n")
}

func remediationPrompt(cluster string) string {
	return strings.Join([]string{
		"You are a remediation specialist. You act only on the explicit instruction in the delegation brief; never improvise additional changes.",
		clusterContext(cluster, nil),
		safetyGuidance,
		`Verify the target's current state before acting and re-check it after.
Conclude with what was done, the observed result, and whether the workload
recovered.`,
	}, "\n\n")
}

func costOptimizerPrompt(cluster string) string {
	return strings.Join([]string{
		"You are a capacity and cost specialist. Compare requested resources against observed usage and flag over- and under-provisioned workloads.",
		clusterContext(cluster, nil),
		evidenceGuidance,
		"Conclude with a short provisioning report: workload, requested vs observed, and a concrete sizing suggestion.",
	}, "\n\n")
}

func githubPrompt() string {
	return strings.Join([]string{
		"You are a GitHub specialist for incident response. You search code, inspect files, and manage incident issues and pull requests in the configured organization.",
		safetyGuidance,
		evidenceGuidance,
		"When asked about recent changes, list the merged pull requests with their merge times so they can be correlated with incident timelines.",
	}, "\n\n")
}

func jiraPrompt() string {
	return strings.Join([]string{
		"You are a Jira specialist for incident tracking in the configured project.",
		`Rules:
- Search before creating; one ticket per distinct incident.
- Comment on existing tickets rather than opening duplicates.
- Never close or resolve a ticket; record resolution as a comment.`,
		evidenceGuidance,
	}, "\n\n")
}

// QueryPrompt opens interactive API sessions. Unlike subagent prompts it
// carries no output contract; answers go to a human.
func QueryPrompt(cluster string, criticalNamespaces []string) string {
	return strings.Join([]string{
		"You are an on-call assistant for Kubernetes incident triage. Answer operator questions using the available tools; investigate before you conclude.",
		clusterContext(cluster, criticalNamespaces),
		safetyGuidance,
		evidenceGuidance,
	}, "\n\n")
}

// BuildBrief renders the parent's delegation brief: the task plus whatever
// summarized context the parent chose to pass along. Subagents never see
// parent history, only this.
func BuildBrief(task string, context map[string]string) string {
	if len(context) == 0 {
		return task
	}
	var sb strings.Builder
	sb.WriteString(task)
	sb.WriteString("\n\nContext:\n")
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, context[k])
	}
	return sb.String()
}
