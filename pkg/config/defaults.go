package config

import "time"

// Built-in defaults applied when vigil.yaml leaves a value unset.
const (
	// DefaultCycleInterval is the gap between monitoring cycle ticks.
	DefaultCycleInterval = 15 * time.Minute

	// DefaultCycleDeadline is the wall-clock budget for one cycle.
	DefaultCycleDeadline = 600 * time.Second

	// DefaultQueryDeadline is the wall-clock budget for one query advance.
	DefaultQueryDeadline = 180 * time.Second

	// DefaultSessionTTL evicts idle query sessions.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultSessionCap is the hard limit on live query sessions.
	DefaultSessionCap = 1000

	// DefaultSweepInterval is how often the session evictor runs.
	DefaultSweepInterval = 1 * time.Minute

	// DefaultSessionMaxTokens bounds a session; pruning starts at 80%.
	DefaultSessionMaxTokens = 120000

	// DefaultMaxToolCalls bounds tool calls in a single advance.
	DefaultMaxToolCalls = 25

	// DefaultParallelReads caps concurrent read tools in one turn.
	DefaultParallelReads = 8

	// DefaultPRWindow is how far back merged PRs are fetched for correlation.
	DefaultPRWindow = 6 * time.Hour

	// DefaultMergeOverlap attaches a PR merged within first_seen ± this window.
	DefaultMergeOverlap = 30 * time.Minute

	// DefaultPendingAge is how long a Pending pod must persist before it
	// qualifies as a transient-Pending remediation candidate.
	DefaultPendingAge = 10 * time.Minute

	// DefaultResolvedAfter marks a finding resolved when healthy this long.
	DefaultResolvedAfter = 30 * time.Minute

	// DefaultSuppressionWindow deduplicates identical notifications.
	DefaultSuppressionWindow = 15 * time.Minute

	// DefaultMaxTokensPerReply caps one provider completion.
	DefaultMaxTokensPerReply = 4096
)

// DefaultProtectedNamespaces are never targets of write or destructive tools.
func DefaultProtectedNamespaces() []string {
	return []string{"kube-system", "kube-public"}
}

// DefaultMaxDowntime returns the per-tier downtime thresholds.
// Recovery beyond the threshold escalates finding severity.
func DefaultMaxDowntime() map[Criticality]time.Duration {
	return map[Criticality]time.Duration{
		CriticalityP0: 5 * time.Minute,
		CriticalityP1: 15 * time.Minute,
		CriticalityP2: 30 * time.Minute,
		CriticalityP3: 1 * time.Hour,
	}
}

// DefaultBudgetsConfig returns the built-in advance budgets.
func DefaultBudgetsConfig() *BudgetsConfig {
	return &BudgetsConfig{
		MaxToolCalls:  DefaultMaxToolCalls,
		ParallelReads: DefaultParallelReads,
	}
}

// RateLimit holds per-minute request limits for one endpoint.
type RateLimit struct {
	// Auth applies when the request presents a valid API key.
	Auth int
	// Unauth applies to anonymous requests, keyed by source IP.
	Unauth int
}

// DefaultRateLimits returns the built-in per-minute endpoint limits,
// keyed by endpoint name. api.rate_overrides replaces the authenticated
// limit of individual entries.
func DefaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"query":          {Auth: 60, Unauth: 10},
		"session.create": {Auth: 10, Unauth: 10},
		"session.query":  {Auth: 60, Unauth: 60},
		"session.get":    {Auth: 30, Unauth: 30},
	}
}
