package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// advancer is the loop surface the runner delegates to. Satisfied by
// llm.Driver.
type advancer interface {
	Advance(ctx context.Context, sess *session.Session, userInput string, p llm.Params) (*llm.Outcome, error)
}

// subsetter resolves profile tool names to descriptors. Satisfied by
// tools.Catalog.
type subsetter interface {
	Subset(names []string) []tools.Descriptor
}

// Result is what one delegation produced.
type Result struct {
	Profile      string
	Text         string
	ToolsInvoked []string
	TokensUsed   int
	Truncated    bool
	Duration     time.Duration
}

// Runner executes delegations. Each one runs in a fresh session seeded with
// the profile's system prompt and the parent's brief; parent history never
// crosses the boundary.
type Runner struct {
	driver   advancer
	registry *Registry
	catalog  subsetter
	logger   *slog.Logger
}

func NewRunner(driver advancer, registry *Registry, catalog subsetter) *Runner {
	return &Runner{
		driver:   driver,
		registry: registry,
		catalog:  catalog,
		logger:   slog.Default().With("component", "subagent"),
	}
}

// Delegate runs the named profile against the brief and returns its terminal
// text. scopeID threads the parent cycle or session id into audit entries.
func (r *Runner) Delegate(ctx context.Context, profileName, brief, scopeID string) (*Result, error) {
	profile, ok := r.registry.Get(profileName)
	if !ok {
		return nil, fmt.Errorf("unknown subagent profile: %s", profileName)
	}

	descs := r.catalog.Subset(profile.AllowedTools)
	if len(descs) < len(profile.AllowedTools) {
		r.logger.Warn("Profile references unregistered tools",
			"profile", profileName, "allowed", len(profile.AllowedTools), "resolved", len(descs))
	}

	sess := session.New("", profile.SystemPrompt)
	start := time.Now()
	outcome, err := r.driver.Advance(ctx, sess, brief, llm.Params{
		Model:   profile.ModelHint,
		Tools:   descs,
		Budget:  profile.Budget,
		ScopeID: scopeID,
	})
	if err != nil {
		return nil, fmt.Errorf("subagent %s failed: %w", profileName, err)
	}

	r.logger.Info("Delegation finished",
		"profile", profileName,
		"scope_id", scopeID,
		"tool_calls", outcome.ToolCalls,
		"tokens", outcome.TokensUsed,
		"stop_reason", outcome.StopReason)

	return &Result{
		Profile:      profileName,
		Text:         outcome.Text,
		ToolsInvoked: outcome.ToolsInvoked,
		TokensUsed:   outcome.TokensUsed,
		Truncated:    outcome.TruncatedByDeadline,
		Duration:     time.Since(start),
	}, nil
}
