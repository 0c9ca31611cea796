// Vigil monitoring server — runs the orchestrated triage cycle against one
// Kubernetes cluster and serves the query/session HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/vigil/pkg/api"
	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/guard"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/masking"
	"github.com/codeready-toolchain/vigil/pkg/notify"
	"github.com/codeready-toolchain/vigil/pkg/orchestrator"
	"github.com/codeready-toolchain/vigil/pkg/safety"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/subagent"
	"github.com/codeready-toolchain/vigil/pkg/ticket"
	"github.com/codeready-toolchain/vigil/pkg/tools"
	"github.com/codeready-toolchain/vigil/pkg/version"
)

// natTrafficWindow is the lookback for NAT egress summaries attached to
// egress-kind findings.
const natTrafficWindow = time.Hour

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging(cfg *config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// githubOwner picks the organization the service repositories live under.
func githubOwner(services *config.ServiceMap) string {
	for _, e := range services.Entries() {
		if e.RepoOwner != "" {
			return e.RepoOwner
		}
	}
	return ""
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx := context.Background()

	// 1. Configuration. Initialize validates eagerly; a broken config never
	// reaches the wiring below.
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	stats := cfg.Stats()
	slog.Info("Starting vigil",
		"version", version.Full(),
		"config_dir", *configDir,
		"config", cfg.Fingerprint(),
		"services", stats.Services,
		"allowed_clusters", stats.AllowedClusters)

	// 2. Cluster guard. A target outside the allow-list is fatal before any
	// listener or LLM call.
	g, err := guard.New(cfg.Clusters.Allowed, cfg.Clusters.Target)
	if err != nil {
		slog.Error("Cluster guard rejected boot", "error", err)
		os.Exit(1)
	}
	slog.Info("Cluster guard active", "target", g.Target(), "allowed", g.Allowed())

	// 3. Masking and the tool catalog.
	maskingService := masking.NewService(nil)
	catalog := tools.NewCatalog(maskingService)

	k8sConfig, err := tools.LoadRestConfig(os.Getenv("KUBECONFIG"))
	if err != nil {
		slog.Error("Failed to load Kubernetes config", "error", err)
		os.Exit(1)
	}
	k8s, err := tools.NewKubernetesAdapter(g, g.Target(), k8sConfig)
	if err != nil {
		slog.Error("Failed to build Kubernetes adapter", "error", err)
		os.Exit(1)
	}
	k8s.Register(catalog)

	var gh *tools.GitHubAdapter
	if token := cfg.GitHub.Token(); token != "" {
		gh = tools.NewGitHubAdapter(token, githubOwner(cfg.Services))
		gh.Register(catalog)
	}

	var jiraAdapter *tools.JiraAdapter
	if cfg.Jira.Enabled() {
		jiraAdapter, err = tools.NewJiraAdapter(cfg.Jira.BaseURL, cfg.Jira.Email(), cfg.Jira.Token(), cfg.Jira.Project)
		if err != nil {
			slog.Error("Failed to build Jira adapter", "error", err)
			os.Exit(1)
		}
		jiraAdapter.Register(catalog)
	}

	var awsAdapter *tools.AWSAdapter
	if cfg.AWS.Region != "" {
		awsAdapter, err = tools.NewAWSAdapter(ctx, cfg.AWS.Region)
		if err != nil {
			slog.Error("Failed to build AWS adapter", "error", err)
			os.Exit(1)
		}
		awsAdapter.Register(catalog)
	}

	if cfg.Datadog.Enabled() {
		tools.NewDatadogAdapter(cfg.Datadog.APIKey(), cfg.Datadog.AppKey(), cfg.Datadog.Site).Register(catalog)
	}

	// 4. Notifications. NewService returns nil when no sink is configured;
	// everything downstream treats that as no-op.
	notifier := notify.NewService(notify.ServiceConfig{
		SlackToken:   cfg.Notify.SlackToken(),
		SlackChannel: cfg.Notify.SlackChannel,
		WebhookURL:   cfg.Notify.WebhookURL(),
		Masker:       maskingService,
	})
	if notifier != nil {
		tools.NewNotifyAdapter(notifier).Register(catalog)
	}
	slog.Info("Tool catalog ready", "tools", len(catalog.Names()))

	// 5. Safety chain and audit trail.
	audit := safety.NewAuditLog(cfg.Audit.Path, cfg.Fingerprint())
	if err := audit.Start(ctx); err != nil {
		slog.Error("Failed to start audit log", "error", err)
		os.Exit(1)
	}
	defer audit.Stop()

	validator := safety.NewValidator(g, cfg.ProtectedNamespaces, k8s)
	chain := safety.NewChain(validator, audit, notifier)

	// 6. LLM driver. The provider client is constructed at boot so a missing
	// key fails here, not mid-cycle.
	llmClient, err := llm.NewAnthropicClient(cfg.LLM.APIKey(), cfg.LLM.MaxTokensPerReply)
	if err != nil {
		slog.Error("Failed to build LLM client", "error", err)
		os.Exit(1)
	}
	driver := llm.NewDriver(llmClient, catalog, chain, g.Target())

	// 7. Session store for the query engine.
	store := session.NewStore(cfg.Query.SessionTTL, cfg.Query.SessionCap, cfg.Query.SweepInterval)
	store.Start(ctx)
	defer store.Stop()

	// 8. Subagents, tickets, correlation, remediation gate.
	registry := subagent.NewRegistry(g.Target(), cfg.Orchestrator.CriticalNamespaces)
	runner := subagent.NewRunner(driver, registry, catalog)

	var traffic orchestrator.TrafficFunc
	if awsAdapter != nil && len(cfg.AWS.NATGatewaysFor(g.Target())) > 0 {
		nats := cfg.AWS.NATGatewaysFor(g.Target())
		traffic = func(ctx context.Context, cluster string) (string, error) {
			return awsAdapter.NatEgressSummary(ctx, nats, natTrafficWindow)
		}
	}
	var pulls orchestrator.PullLister
	if gh != nil {
		pulls = gh
	}
	enricher := orchestrator.NewCorrelator(pulls, cfg.Services, traffic, cfg.Correlation)

	gate := orchestrator.NewRemediationGate(cfg.Clusters.Dev, cfg.ProtectedNamespaces, k8s, cfg.Thresholds.PendingAge)

	deps := orchestrator.Deps{
		Delegator:  runner,
		Gate:       gate,
		Correlator: enricher,
		Services:   cfg.Services,
		Masker:     maskingService,
	}
	if jiraAdapter != nil {
		deps.Tickets = ticket.NewCorrelator(jiraAdapter)
	}
	if notifier != nil {
		deps.Notifier = notifier
	}

	// 9. Orchestrator loop and HTTP server.
	orch := orchestrator.New(deps, cfg)
	scheduler := orchestrator.NewScheduler(orch, cfg.Orchestrator.Interval)
	scheduler.Start(ctx)

	httpServer := api.NewServer(api.Deps{
		Driver:           driver,
		Store:            store,
		Catalog:          catalog,
		Guard:            g,
		Keys:             cfg.API.Keys(),
		RateOverrides:    cfg.API.RateOverrides,
		Model:            cfg.LLM.DefaultModel,
		QueryDeadline:    cfg.Query.Deadline,
		MaxToolCalls:     cfg.Budgets.MaxToolCalls,
		SessionMaxTokens: cfg.Query.SessionMaxTokens,
		SystemPrompt:     subagent.QueryPrompt(g.Target(), cfg.Orchestrator.CriticalNamespaces),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.API.Addr); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Vigil started",
		"cluster", g.Target(),
		"addr", cfg.API.Addr,
		"cycle_interval", cfg.Orchestrator.Interval)

	// 10. Wait for a signal or a listener failure, then shut down in stages:
	// stop scheduling new cycles, drain HTTP, flush the audit log last.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error triggered shutdown", "error", err)
	}

	scheduler.Stop()
	slog.Info("Cycle scheduler stopped")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
