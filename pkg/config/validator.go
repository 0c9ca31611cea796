package config

import (
	"fmt"
	"os"
	"time"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: clusters → llm → services → limits → integrations
	// This ensures dependencies are validated before dependents

	if err := v.validateClusters(); err != nil {
		return fmt.Errorf("cluster validation failed: %w", err)
	}

	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}

	if err := v.validateServices(); err != nil {
		return fmt.Errorf("service map validation failed: %w", err)
	}

	if err := v.validateLimits(); err != nil {
		return fmt.Errorf("limits validation failed: %w", err)
	}

	if err := v.validateIntegrations(); err != nil {
		return fmt.Errorf("integration validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateClusters() error {
	c := v.cfg.Clusters

	if len(c.Allowed) == 0 {
		return NewValidationError("clusters", "", "allowed", fmt.Errorf("%w: at least one allow-listed cluster required", ErrMissingRequiredField))
	}
	if c.Target == "" {
		return NewValidationError("clusters", "", "target", fmt.Errorf("%w: set clusters.target or TARGET_CLUSTER", ErrMissingRequiredField))
	}

	// The target must be allow-listed. This is the boot-time guard rail:
	// a process pointed at the wrong cluster never comes up.
	allowed := make(map[string]bool, len(c.Allowed))
	for _, name := range c.Allowed {
		if name == "" {
			return NewValidationError("clusters", "", "allowed", fmt.Errorf("%w: empty cluster name", ErrInvalidValue))
		}
		allowed[name] = true
	}
	if !allowed[c.Target] {
		return NewValidationError("clusters", c.Target, "target", ErrClusterNotAllowed)
	}

	for _, dev := range c.Dev {
		if !allowed[dev] {
			return NewValidationError("clusters", dev, "dev", fmt.Errorf("%w: dev cluster not in allowed list", ErrInvalidReference))
		}
	}

	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM

	if l.DefaultModel == "" {
		return NewValidationError("llm", "", "default_model", fmt.Errorf("%w: model required", ErrMissingRequiredField))
	}

	// The key must be present at boot so the first provider call cannot be
	// the moment we discover it is missing.
	if value := os.Getenv(l.APIKeyEnv); value == "" {
		return NewValidationError("llm", "", "api_key_env", fmt.Errorf("environment variable %s is not set", l.APIKeyEnv))
	}

	if l.MaxTokensPerReply < 1 {
		return NewValidationError("llm", "", "max_tokens_per_reply", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	for profile, model := range l.Models {
		if model == "" {
			return NewValidationError("llm", profile, "models", fmt.Errorf("%w: empty model override", ErrInvalidValue))
		}
	}

	return nil
}

func (v *ConfigValidator) validateServices() error {
	names := make(map[string]bool)
	for _, e := range v.cfg.Services.Entries() {
		names[e.Name] = true
	}

	for _, e := range v.cfg.Services.Entries() {
		// Criticality is optional (unknown tiers degrade to P3), but an
		// explicit bogus value is a config mistake worth failing on.
		if e.Criticality != "" && !e.Criticality.IsValid() {
			return NewValidationError("service", e.Name, "criticality", fmt.Errorf("%w: %s (expected P0..P3)", ErrInvalidValue, e.Criticality))
		}

		if (e.RepoOwner == "") != (e.RepoName == "") {
			return NewValidationError("service", e.Name, "repo_owner", fmt.Errorf("%w: repo_owner and repo_name must be set together", ErrInvalidValue))
		}

		for _, dep := range e.DependsOn {
			if !names[dep] {
				return NewValidationError("service", e.Name, "depends_on", fmt.Errorf("%w: unknown service '%s'", ErrInvalidReference, dep))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateLimits() error {
	type positiveDuration struct {
		section string
		field   string
		value   time.Duration
	}
	durations := []positiveDuration{
		{"orchestrator", "interval", v.cfg.Orchestrator.Interval},
		{"orchestrator", "cycle_deadline", v.cfg.Orchestrator.CycleDeadline},
		{"query", "deadline", v.cfg.Query.Deadline},
		{"query", "session_ttl", v.cfg.Query.SessionTTL},
		{"query", "sweep_interval", v.cfg.Query.SweepInterval},
		{"correlation", "pr_window", v.cfg.Correlation.PRWindow},
		{"correlation", "merge_overlap", v.cfg.Correlation.MergeOverlap},
		{"thresholds", "pending_age", v.cfg.Thresholds.PendingAge},
		{"thresholds", "resolved_after", v.cfg.Thresholds.ResolvedAfter},
		{"notify", "suppression_window", v.cfg.Notify.SuppressionWindow},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return NewValidationError(d.section, "", d.field, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}

	for tier, d := range v.cfg.Thresholds.MaxDowntime {
		if d <= 0 {
			return NewValidationError("thresholds", string(tier), "max_downtime", fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}

	if v.cfg.Budgets.MaxToolCalls < 1 {
		return NewValidationError("budgets", "", "max_tool_calls", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if v.cfg.Budgets.ParallelReads < 1 {
		return NewValidationError("budgets", "", "parallel_reads", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	if v.cfg.Orchestrator.SessionMaxTokens < 1000 {
		return NewValidationError("orchestrator", "", "session_max_tokens", fmt.Errorf("%w: must be at least 1000", ErrInvalidValue))
	}
	if v.cfg.Query.SessionMaxTokens < 1000 {
		return NewValidationError("query", "", "session_max_tokens", fmt.Errorf("%w: must be at least 1000", ErrInvalidValue))
	}
	if v.cfg.Query.SessionCap < 1 {
		return NewValidationError("query", "", "session_cap", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateIntegrations() error {
	// Jira is optional, but a half-configured tracker is a mistake.
	j := v.cfg.Jira
	if (j.BaseURL == "") != (j.Project == "") {
		return NewValidationError("jira", "", "base_url", fmt.Errorf("%w: base_url and project must be set together", ErrInvalidValue))
	}

	if v.cfg.API.Addr == "" {
		return NewValidationError("api", "", "addr", fmt.Errorf("%w: listen address required", ErrMissingRequiredField))
	}

	known := DefaultRateLimits()
	for endpoint, limit := range v.cfg.API.RateOverrides {
		if _, ok := known[endpoint]; !ok {
			return NewValidationError("api", endpoint, "rate_overrides", fmt.Errorf("%w: unknown endpoint", ErrInvalidReference))
		}
		if limit < 1 {
			return NewValidationError("api", endpoint, "rate_overrides", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
	}

	if v.cfg.Audit.Path == "" {
		return NewValidationError("audit", "", "path", fmt.Errorf("%w: audit log path required", ErrMissingRequiredField))
	}

	switch v.cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("log", "", "level", fmt.Errorf("%w: %s", ErrInvalidValue, v.cfg.Log.Level))
	}
	switch v.cfg.Log.Format {
	case "json", "text":
	default:
		return NewValidationError("log", "", "format", fmt.Errorf("%w: %s", ErrInvalidValue, v.cfg.Log.Format))
	}

	return nil
}
