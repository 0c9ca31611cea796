package config

import (
	"os"
	"time"
)

// LogConfig controls slog output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" (production) or "text" (dev).
	Format string `yaml:"format"`
}

// ClustersConfig pins the process to an explicit set of clusters.
// The allow-list is immutable after boot; the cluster guard is built from it.
type ClustersConfig struct {
	// Allowed is the complete set of clusters this process may contact.
	Allowed []string `yaml:"allowed"`
	// Target is the cluster this deployment observes. Must be allow-listed;
	// a violation is fatal at boot. Falls back to the TARGET_CLUSTER
	// environment variable when unset.
	Target string `yaml:"target"`
	// Dev lists clusters where approved auto-remediation may run.
	// Production clusters are never remediated automatically.
	Dev []string `yaml:"dev"`
}

// LLMConfig configures the provider client and model routing.
type LLMConfig struct {
	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string `yaml:"api_key_env"`
	// DefaultModel is used when a subagent profile has no model hint.
	DefaultModel string `yaml:"default_model"`
	// Models overrides the model per subagent profile name.
	Models map[string]string `yaml:"models"`
	// MaxTokensPerReply caps a single provider completion.
	MaxTokensPerReply int `yaml:"max_tokens_per_reply"`
}

// APIKey resolves the provider key from the environment.
// Secret material is never stored on the config value itself.
func (c *LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// ModelFor returns the model for a subagent profile, falling back to the default.
func (c *LLMConfig) ModelFor(profile string) string {
	if m, ok := c.Models[profile]; ok && m != "" {
		return m
	}
	return c.DefaultModel
}

// OrchestratorConfig drives the monitoring cycle loop.
type OrchestratorConfig struct {
	// Interval between cycle ticks. A tick is skipped while a cycle runs.
	Interval time.Duration `yaml:"-"`
	// CycleDeadline is the wall-clock budget for one cycle.
	CycleDeadline time.Duration `yaml:"-"`
	// SessionMaxTokens bounds the persistent session; the pruner triggers
	// at 80% of this value.
	SessionMaxTokens int `yaml:"session_max_tokens"`
	// FreshSessionPerCycle switches to stateless mode: a new session per tick.
	FreshSessionPerCycle bool `yaml:"fresh_session_per_cycle"`
	// ReportDir receives cycle-report-{timestamp}.json files.
	ReportDir string `yaml:"report_dir"`
	// CriticalNamespaces are scanned by the diagnostics subagent each cycle.
	CriticalNamespaces []string `yaml:"critical_namespaces"`
}

// QueryConfig bounds the interactive query engine.
type QueryConfig struct {
	// Deadline is the wall-clock budget for one query advance.
	Deadline time.Duration `yaml:"-"`
	// SessionTTL evicts idle query sessions.
	SessionTTL time.Duration `yaml:"-"`
	// SessionCap is the hard limit on live query sessions; exceeding it
	// evicts the oldest by last use.
	SessionCap int `yaml:"session_cap"`
	// SweepInterval is how often the evictor sweeps expired sessions.
	SweepInterval time.Duration `yaml:"-"`
	// SessionMaxTokens bounds a single query session.
	SessionMaxTokens int `yaml:"session_max_tokens"`
}

// BudgetsConfig bounds a single LLM-driver advance.
type BudgetsConfig struct {
	// MaxToolCalls per advance.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// ParallelReads caps concurrent read-category tool calls in one turn.
	ParallelReads int `yaml:"parallel_reads"`
}

// CorrelationConfig tunes deployment and traffic correlation.
type CorrelationConfig struct {
	// PRWindow is how far back merged PRs are fetched.
	PRWindow time.Duration `yaml:"-"`
	// MergeOverlap attaches a PR when its merge time falls within
	// first_seen ± this window.
	MergeOverlap time.Duration `yaml:"-"`
	// EgressKinds lists finding kinds that trigger NAT/Datadog traffic checks.
	EgressKinds []string `yaml:"egress_kinds"`
}

// ThresholdsConfig holds the deterministic decision thresholds.
type ThresholdsConfig struct {
	// PendingAge is how long a Pending pod must persist before it is
	// considered a transient-Pending remediation candidate.
	PendingAge time.Duration `yaml:"-"`
	// ResolvedAfter is the healthy duration after which a finding counts
	// as resolved for ticket-comment purposes.
	ResolvedAfter time.Duration `yaml:"-"`
	// MaxDowntime per service tier; recovery beyond it escalates severity.
	MaxDowntime map[Criticality]time.Duration `yaml:"-"`
}

// RemediationConfig scopes approved auto-remediation.
type RemediationConfig struct {
	// ExtraApprovedKinds extends the builtin approved set. Empty by default;
	// growth is an explicit config decision, never implicit.
	ExtraApprovedKinds []string `yaml:"extra_approved_kinds"`
}

// GitHubConfig holds GitHub integration settings.
type GitHubConfig struct {
	// TokenEnv names the environment variable holding the token.
	TokenEnv string `yaml:"token_env"`
}

// Token resolves the GitHub token from the environment.
func (c *GitHubConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// JiraConfig holds Jira tracker settings.
type JiraConfig struct {
	// BaseURL is the Jira instance, e.g. https://acme.atlassian.net.
	BaseURL string `yaml:"base_url"`
	// Project receives incident tickets.
	Project string `yaml:"project"`
	// EmailEnv and TokenEnv name the env vars for basic-auth credentials.
	EmailEnv string `yaml:"email_env"`
	TokenEnv string `yaml:"token_env"`
}

// Email resolves the Jira account email from the environment.
func (c *JiraConfig) Email() string {
	return os.Getenv(c.EmailEnv)
}

// Token resolves the Jira API token from the environment.
func (c *JiraConfig) Token() string {
	return os.Getenv(c.TokenEnv)
}

// Enabled reports whether the Jira integration is configured at all.
func (c *JiraConfig) Enabled() bool {
	return c.BaseURL != "" && c.Project != ""
}

// AWSConfig holds AWS settings. Credentials use the SDK default chain.
type AWSConfig struct {
	Region string `yaml:"region"`
	// NATGateways maps a cluster name to the NAT gateway IDs serving it,
	// used by egress traffic checks.
	NATGateways map[string][]string `yaml:"nat_gateways"`
}

// NATGatewaysFor returns the NAT gateway IDs for a cluster.
func (c *AWSConfig) NATGatewaysFor(cluster string) []string {
	return c.NATGateways[cluster]
}

// DatadogConfig holds Datadog query settings.
type DatadogConfig struct {
	Site      string `yaml:"site"`
	APIKeyEnv string `yaml:"api_key_env"`
	AppKeyEnv string `yaml:"app_key_env"`
}

// APIKey resolves the Datadog API key from the environment.
func (c *DatadogConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// AppKey resolves the Datadog application key from the environment.
func (c *DatadogConfig) AppKey() string {
	return os.Getenv(c.AppKeyEnv)
}

// Enabled reports whether Datadog queries can be made.
func (c *DatadogConfig) Enabled() bool {
	return c.APIKey() != "" && c.AppKey() != ""
}

// NotifyConfig configures the alert notifier.
type NotifyConfig struct {
	// SlackTokenEnv names the env var for the bot token. Empty disables Slack.
	SlackTokenEnv string `yaml:"slack_token_env"`
	// SlackChannel receives incident notifications.
	SlackChannel string `yaml:"slack_channel"`
	// WebhookURLEnv names the env var holding a Teams-style incoming
	// webhook URL. Empty disables the webhook sink.
	WebhookURLEnv string `yaml:"webhook_url_env"`
	// SuppressionWindow deduplicates identical notifications.
	SuppressionWindow time.Duration `yaml:"-"`
	// DashboardURL is the base for deep links in notifications.
	DashboardURL string `yaml:"dashboard_url"`
}

// SlackToken resolves the Slack bot token from the environment.
func (c *NotifyConfig) SlackToken() string {
	return os.Getenv(c.SlackTokenEnv)
}

// WebhookURL resolves the webhook URL from the environment.
func (c *NotifyConfig) WebhookURL() string {
	return os.Getenv(c.WebhookURLEnv)
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
	// KeysEnv names the env var holding a comma-separated API key list.
	// An empty resolved list means dev mode: all requests allowed.
	KeysEnv string `yaml:"keys_env"`
	// RateOverrides replaces the builtin per-minute limit for an endpoint,
	// keyed by endpoint name (query, session.create, ...).
	RateOverrides map[string]int `yaml:"rate_overrides"`
}

// Keys resolves the configured API keys from the environment.
func (c *APIConfig) Keys() []string {
	raw := os.Getenv(c.KeysEnv)
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range splitAndTrim(raw, ",") {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// AuditConfig locates the append-only audit log.
type AuditConfig struct {
	Path string `yaml:"path"`
}
