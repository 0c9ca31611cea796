package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// VigilYAMLConfig represents the complete vigil.yaml file structure
type VigilYAMLConfig struct {
	Log                 *LogConfig              `yaml:"log"`
	Clusters            *ClustersConfig         `yaml:"clusters"`
	LLM                 *LLMConfig              `yaml:"llm"`
	Orchestrator        *OrchestratorYAMLConfig `yaml:"orchestrator"`
	Query               *QueryYAMLConfig        `yaml:"query"`
	Budgets             *BudgetsConfig          `yaml:"budgets"`
	Correlation         *CorrelationYAMLConfig  `yaml:"correlation"`
	Thresholds          *ThresholdsYAMLConfig   `yaml:"thresholds"`
	Remediation         *RemediationConfig      `yaml:"remediation"`
	ProtectedNamespaces []string                `yaml:"protected_namespaces"`
	GitHub              *GitHubConfig           `yaml:"github"`
	Jira                *JiraConfig             `yaml:"jira"`
	AWS                 *AWSConfig              `yaml:"aws"`
	Datadog             *DatadogConfig          `yaml:"datadog"`
	Notify              *NotifyYAMLConfig       `yaml:"notify"`
	API                 *APIConfig              `yaml:"api"`
	Audit               *AuditConfig            `yaml:"audit"`
}

// OrchestratorYAMLConfig holds orchestrator settings from YAML.
// Duration fields are strings ("15m") parsed during resolution.
type OrchestratorYAMLConfig struct {
	Interval             string   `yaml:"interval,omitempty"`
	CycleDeadline        string   `yaml:"cycle_deadline,omitempty"`
	SessionMaxTokens     int      `yaml:"session_max_tokens,omitempty"`
	FreshSessionPerCycle *bool    `yaml:"fresh_session_per_cycle,omitempty"`
	ReportDir            string   `yaml:"report_dir,omitempty"`
	CriticalNamespaces   []string `yaml:"critical_namespaces,omitempty"`
}

// QueryYAMLConfig holds query-engine settings from YAML.
type QueryYAMLConfig struct {
	Deadline         string `yaml:"deadline,omitempty"`
	SessionTTL       string `yaml:"session_ttl,omitempty"`
	SessionCap       int    `yaml:"session_cap,omitempty"`
	SweepInterval    string `yaml:"sweep_interval,omitempty"`
	SessionMaxTokens int    `yaml:"session_max_tokens,omitempty"`
}

// CorrelationYAMLConfig holds correlation settings from YAML.
type CorrelationYAMLConfig struct {
	PRWindow     string   `yaml:"pr_window,omitempty"`
	MergeOverlap string   `yaml:"merge_overlap,omitempty"`
	EgressKinds  []string `yaml:"egress_kinds,omitempty"`
}

// ThresholdsYAMLConfig holds decision thresholds from YAML.
// MaxDowntime is keyed by tier name ("P0".."P3").
type ThresholdsYAMLConfig struct {
	PendingAge    string            `yaml:"pending_age,omitempty"`
	ResolvedAfter string            `yaml:"resolved_after,omitempty"`
	MaxDowntime   map[string]string `yaml:"max_downtime,omitempty"`
}

// NotifyYAMLConfig holds notifier settings from YAML.
type NotifyYAMLConfig struct {
	SlackTokenEnv     string `yaml:"slack_token_env,omitempty"`
	SlackChannel      string `yaml:"slack_channel,omitempty"`
	WebhookURLEnv     string `yaml:"webhook_url_env,omitempty"`
	SuppressionWindow string `yaml:"suppression_window,omitempty"`
	DashboardURL      string `yaml:"dashboard_url,omitempty"`
}

// ServicesYAMLConfig represents the services.yaml file structure
type ServicesYAMLConfig struct {
	Services map[string]serviceYAML `yaml:"services"`
}

// serviceYAML is the YAML shape of one service map entry.
type serviceYAML struct {
	RepoOwner   string   `yaml:"repo_owner"`
	RepoName    string   `yaml:"repo_name"`
	Criticality string   `yaml:"criticality"`
	KnownIssues []string `yaml:"known_issues"`
	DependsOn   []string `yaml:"depends_on"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Resolve defaults for unset values
//  5. Build the service map
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"fingerprint", cfg.Fingerprint(),
		"services", stats.Services,
		"allowed_clusters", stats.AllowedClusters,
		"dev_clusters", stats.DevClusters,
		"model_overrides", stats.ModelOverrides)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load vigil.yaml (all sections except the service map)
	vigilConfig, err := loader.loadVigilYAML()
	if err != nil {
		return nil, NewLoadError("vigil.yaml", err)
	}

	// 2. Load services.yaml (the service map)
	services, err := loader.loadServicesYAML()
	if err != nil {
		return nil, NewLoadError("services.yaml", err)
	}

	// 3. Resolve budgets (merge user YAML with built-in defaults)
	budgets := DefaultBudgetsConfig()
	if vigilConfig.Budgets != nil {
		if err := mergo.Merge(budgets, vigilConfig.Budgets, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge budgets config: %w", err)
		}
	}

	// 4. Resolve remaining sections, applying built-in defaults
	return &Config{
		configDir:           configDir,
		fingerprint:         fingerprintBytes(loader.raw),
		Log:                 resolveLogConfig(vigilConfig.Log),
		Clusters:            resolveClustersConfig(vigilConfig.Clusters),
		LLM:                 resolveLLMConfig(vigilConfig.LLM),
		Orchestrator:        resolveOrchestratorConfig(vigilConfig.Orchestrator),
		Query:               resolveQueryConfig(vigilConfig.Query),
		Budgets:             budgets,
		Correlation:         resolveCorrelationConfig(vigilConfig.Correlation),
		Thresholds:          resolveThresholdsConfig(vigilConfig.Thresholds),
		Remediation:         resolveRemediationConfig(vigilConfig.Remediation),
		GitHub:              resolveGitHubConfig(vigilConfig.GitHub),
		Jira:                resolveJiraConfig(vigilConfig.Jira),
		AWS:                 resolveAWSConfig(vigilConfig.AWS),
		Datadog:             resolveDatadogConfig(vigilConfig.Datadog),
		Notify:              resolveNotifyConfig(vigilConfig.Notify),
		API:                 resolveAPIConfig(vigilConfig.API),
		Audit:               resolveAuditConfig(vigilConfig.Audit),
		ProtectedNamespaces: resolveProtectedNamespaces(vigilConfig.ProtectedNamespaces),
		Services:            BuildServiceMap(services),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
	raw       []byte // config bytes as read from disk, pre-expansion
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Fingerprint covers pre-expansion bytes so the identity of a config
	// revision does not change with the environment.
	l.raw = append(l.raw, data...)

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadVigilYAML() (*VigilYAMLConfig, error) {
	var config VigilYAMLConfig

	if err := l.loadYAML("vigil.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadServicesYAML() (map[string]serviceYAML, error) {
	var config ServicesYAMLConfig

	// Initialize map to avoid nil map
	config.Services = make(map[string]serviceYAML)

	if err := l.loadYAML("services.yaml", &config); err != nil {
		return nil, err
	}

	return config.Services, nil
}

// parseDuration parses a user-supplied duration string, falling back to the
// default (with a warning) when the value is empty or malformed.
func parseDuration(value string, def time.Duration, field string) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", value,
			"default", def,
			"error", err)
		return def
	}
	return d
}

// resolveLogConfig resolves logging configuration, applying defaults.
func resolveLogConfig(v *LogConfig) *LogConfig {
	cfg := &LogConfig{
		Level:  "info",
		Format: "json",
	}

	if v == nil {
		return cfg
	}
	if v.Level != "" {
		cfg.Level = v.Level
	}
	if v.Format != "" {
		cfg.Format = v.Format
	}

	return cfg
}

// resolveClustersConfig resolves cluster pinning, applying the TARGET_CLUSTER
// environment fallback.
func resolveClustersConfig(v *ClustersConfig) *ClustersConfig {
	cfg := &ClustersConfig{}

	if v != nil {
		cfg.Allowed = append(cfg.Allowed, v.Allowed...)
		cfg.Dev = append(cfg.Dev, v.Dev...)
		cfg.Target = v.Target
	}
	if cfg.Target == "" {
		cfg.Target = os.Getenv("TARGET_CLUSTER")
	}

	return cfg
}

// resolveLLMConfig resolves provider settings, applying defaults.
func resolveLLMConfig(v *LLMConfig) *LLMConfig {
	cfg := &LLMConfig{
		APIKeyEnv:         "ANTHROPIC_API_KEY",
		DefaultModel:      "claude-sonnet-4-20250514",
		MaxTokensPerReply: DefaultMaxTokensPerReply,
	}

	if v == nil {
		return cfg
	}
	if v.APIKeyEnv != "" {
		cfg.APIKeyEnv = v.APIKeyEnv
	}
	if v.DefaultModel != "" {
		cfg.DefaultModel = v.DefaultModel
	}
	if len(v.Models) > 0 {
		cfg.Models = make(map[string]string, len(v.Models))
		for k, m := range v.Models {
			cfg.Models[k] = m
		}
	}
	if v.MaxTokensPerReply > 0 {
		cfg.MaxTokensPerReply = v.MaxTokensPerReply
	}

	return cfg
}

// resolveOrchestratorConfig resolves cycle-loop settings, applying defaults.
func resolveOrchestratorConfig(v *OrchestratorYAMLConfig) *OrchestratorConfig {
	cfg := &OrchestratorConfig{
		Interval:         DefaultCycleInterval,
		CycleDeadline:    DefaultCycleDeadline,
		SessionMaxTokens: DefaultSessionMaxTokens,
		ReportDir:        "reports",
	}

	if v == nil {
		return cfg
	}
	cfg.Interval = parseDuration(v.Interval, cfg.Interval, "orchestrator.interval")
	cfg.CycleDeadline = parseDuration(v.CycleDeadline, cfg.CycleDeadline, "orchestrator.cycle_deadline")
	if v.SessionMaxTokens > 0 {
		cfg.SessionMaxTokens = v.SessionMaxTokens
	}
	if v.FreshSessionPerCycle != nil {
		cfg.FreshSessionPerCycle = *v.FreshSessionPerCycle
	}
	if v.ReportDir != "" {
		cfg.ReportDir = v.ReportDir
	}
	if len(v.CriticalNamespaces) > 0 {
		cfg.CriticalNamespaces = v.CriticalNamespaces
	}

	return cfg
}

// resolveQueryConfig resolves query-engine settings, applying defaults.
func resolveQueryConfig(v *QueryYAMLConfig) *QueryConfig {
	cfg := &QueryConfig{
		Deadline:         DefaultQueryDeadline,
		SessionTTL:       DefaultSessionTTL,
		SessionCap:       DefaultSessionCap,
		SweepInterval:    DefaultSweepInterval,
		SessionMaxTokens: DefaultSessionMaxTokens,
	}

	if v == nil {
		return cfg
	}
	cfg.Deadline = parseDuration(v.Deadline, cfg.Deadline, "query.deadline")
	cfg.SessionTTL = parseDuration(v.SessionTTL, cfg.SessionTTL, "query.session_ttl")
	cfg.SweepInterval = parseDuration(v.SweepInterval, cfg.SweepInterval, "query.sweep_interval")
	if v.SessionCap > 0 {
		cfg.SessionCap = v.SessionCap
	}
	if v.SessionMaxTokens > 0 {
		cfg.SessionMaxTokens = v.SessionMaxTokens
	}

	return cfg
}

// resolveCorrelationConfig resolves correlation settings, applying defaults.
func resolveCorrelationConfig(v *CorrelationYAMLConfig) *CorrelationConfig {
	cfg := &CorrelationConfig{
		PRWindow:     DefaultPRWindow,
		MergeOverlap: DefaultMergeOverlap,
	}

	if v == nil {
		return cfg
	}
	cfg.PRWindow = parseDuration(v.PRWindow, cfg.PRWindow, "correlation.pr_window")
	cfg.MergeOverlap = parseDuration(v.MergeOverlap, cfg.MergeOverlap, "correlation.merge_overlap")
	if len(v.EgressKinds) > 0 {
		cfg.EgressKinds = v.EgressKinds
	}

	return cfg
}

// resolveThresholdsConfig resolves decision thresholds, applying defaults.
func resolveThresholdsConfig(v *ThresholdsYAMLConfig) *ThresholdsConfig {
	cfg := &ThresholdsConfig{
		PendingAge:    DefaultPendingAge,
		ResolvedAfter: DefaultResolvedAfter,
		MaxDowntime:   DefaultMaxDowntime(),
	}

	if v == nil {
		return cfg
	}
	cfg.PendingAge = parseDuration(v.PendingAge, cfg.PendingAge, "thresholds.pending_age")
	cfg.ResolvedAfter = parseDuration(v.ResolvedAfter, cfg.ResolvedAfter, "thresholds.resolved_after")
	for tier, raw := range v.MaxDowntime {
		c := Criticality(tier)
		if !c.IsValid() {
			slog.Warn("Unknown tier in thresholds.max_downtime, ignoring",
				"tier", tier)
			continue
		}
		cfg.MaxDowntime[c] = parseDuration(raw, cfg.MaxDowntime[c], "thresholds.max_downtime."+tier)
	}

	return cfg
}

// resolveRemediationConfig resolves remediation scope, applying defaults.
func resolveRemediationConfig(v *RemediationConfig) *RemediationConfig {
	cfg := &RemediationConfig{}

	if v != nil && len(v.ExtraApprovedKinds) > 0 {
		cfg.ExtraApprovedKinds = append(cfg.ExtraApprovedKinds, v.ExtraApprovedKinds...)
	}

	return cfg
}

// resolveGitHubConfig resolves GitHub configuration, applying defaults.
func resolveGitHubConfig(v *GitHubConfig) *GitHubConfig {
	cfg := &GitHubConfig{
		TokenEnv: "GITHUB_TOKEN",
	}

	if v != nil && v.TokenEnv != "" {
		cfg.TokenEnv = v.TokenEnv
	}

	return cfg
}

// resolveJiraConfig resolves Jira configuration, applying defaults.
func resolveJiraConfig(v *JiraConfig) *JiraConfig {
	cfg := &JiraConfig{
		EmailEnv: "JIRA_EMAIL",
		TokenEnv: "JIRA_API_TOKEN",
	}

	if v == nil {
		return cfg
	}
	if v.BaseURL != "" {
		cfg.BaseURL = v.BaseURL
	}
	if v.Project != "" {
		cfg.Project = v.Project
	}
	if v.EmailEnv != "" {
		cfg.EmailEnv = v.EmailEnv
	}
	if v.TokenEnv != "" {
		cfg.TokenEnv = v.TokenEnv
	}

	return cfg
}

// resolveAWSConfig resolves AWS configuration, applying defaults.
func resolveAWSConfig(v *AWSConfig) *AWSConfig {
	cfg := &AWSConfig{}

	if v != nil {
		cfg.Region = v.Region
		if len(v.NATGateways) > 0 {
			cfg.NATGateways = make(map[string][]string, len(v.NATGateways))
			for cluster, ids := range v.NATGateways {
				cfg.NATGateways[cluster] = append([]string(nil), ids...)
			}
		}
	}
	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}

	return cfg
}

// resolveDatadogConfig resolves Datadog configuration, applying defaults.
func resolveDatadogConfig(v *DatadogConfig) *DatadogConfig {
	cfg := &DatadogConfig{
		Site:      "datadoghq.com",
		APIKeyEnv: "DD_API_KEY",
		AppKeyEnv: "DD_APP_KEY",
	}

	if v == nil {
		return cfg
	}
	if v.Site != "" {
		cfg.Site = v.Site
	}
	if v.APIKeyEnv != "" {
		cfg.APIKeyEnv = v.APIKeyEnv
	}
	if v.AppKeyEnv != "" {
		cfg.AppKeyEnv = v.AppKeyEnv
	}

	return cfg
}

// resolveNotifyConfig resolves notifier configuration, applying defaults.
func resolveNotifyConfig(v *NotifyYAMLConfig) *NotifyConfig {
	cfg := &NotifyConfig{
		SlackTokenEnv:     "SLACK_BOT_TOKEN",
		WebhookURLEnv:     "TEAMS_WEBHOOK_URL",
		SuppressionWindow: DefaultSuppressionWindow,
	}

	if v == nil {
		return cfg
	}
	if v.SlackTokenEnv != "" {
		cfg.SlackTokenEnv = v.SlackTokenEnv
	}
	if v.SlackChannel != "" {
		cfg.SlackChannel = v.SlackChannel
	}
	if v.WebhookURLEnv != "" {
		cfg.WebhookURLEnv = v.WebhookURLEnv
	}
	cfg.SuppressionWindow = parseDuration(v.SuppressionWindow, cfg.SuppressionWindow, "notify.suppression_window")
	if v.DashboardURL != "" {
		cfg.DashboardURL = v.DashboardURL
	}

	return cfg
}

// resolveAPIConfig resolves HTTP surface configuration, applying defaults.
func resolveAPIConfig(v *APIConfig) *APIConfig {
	cfg := &APIConfig{
		Addr:    ":8080",
		KeysEnv: "VIGIL_API_KEYS",
	}

	if v == nil {
		return cfg
	}
	if v.Addr != "" {
		cfg.Addr = v.Addr
	}
	if v.KeysEnv != "" {
		cfg.KeysEnv = v.KeysEnv
	}
	if len(v.RateOverrides) > 0 {
		cfg.RateOverrides = make(map[string]int, len(v.RateOverrides))
		for k, n := range v.RateOverrides {
			cfg.RateOverrides[k] = n
		}
	}

	return cfg
}

// resolveAuditConfig resolves audit log location, applying defaults.
func resolveAuditConfig(v *AuditConfig) *AuditConfig {
	cfg := &AuditConfig{
		Path: "audit.ndjson",
	}

	if v != nil && v.Path != "" {
		cfg.Path = v.Path
	}

	return cfg
}

// resolveProtectedNamespaces returns the protected set, applying defaults.
// User configuration extends the built-in set rather than replacing it.
func resolveProtectedNamespaces(extra []string) []string {
	protected := DefaultProtectedNamespaces()
	for _, ns := range extra {
		if ns == "" {
			continue
		}
		seen := false
		for _, p := range protected {
			if p == ns {
				seen = true
				break
			}
		}
		if !seen {
			protected = append(protected, ns)
		}
	}
	return protected
}
