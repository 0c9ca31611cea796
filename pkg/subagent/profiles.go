// Package subagent holds the registry of specialist profiles and the
// delegation runner that executes them in fresh, isolated sessions.
package subagent

import (
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/llm"
)

// Profile describes one specialist: the system prompt it runs under, the
// tool subset it may call, a model hint, and the budget one delegation gets.
type Profile struct {
	Name         string
	SystemPrompt string
	AllowedTools []string
	ModelHint    string
	Budget       llm.Budget
}

// clone returns a defensive copy so callers can't mutate registry state.
func (p Profile) clone() Profile {
	out := p
	out.AllowedTools = append([]string(nil), p.AllowedTools...)
	return out
}

// Registry is an immutable-after-construction set of profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry builds a registry with the builtin profiles for the given
// cluster. Custom profiles can be layered on with Add before first use.
func NewRegistry(cluster string, criticalNamespaces []string) *Registry {
	r := &Registry{profiles: map[string]Profile{}}
	for _, p := range builtinProfiles(cluster, criticalNamespaces) {
		r.profiles[p.Name] = p
	}
	return r
}

// Add registers a custom profile. Existing names are rejected so builtins
// can't be silently shadowed.
func (r *Registry) Add(p Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if _, exists := r.profiles[p.Name]; exists {
		return fmt.Errorf("profile %q already registered", p.Name)
	}
	r.profiles[p.Name] = p.clone()
	return nil
}

// Get returns a copy of the named profile.
func (r *Registry) Get(name string) (Profile, bool) {
	p, ok := r.profiles[name]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Names lists registered profiles, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func builtinProfiles(cluster string, criticalNamespaces []string) []Profile {
	readK8s := []string{"list_pods", "get_pod", "get_events", "get_logs", "top_pods", "list_nodes", "list_deployments"}

	return []Profile{
		{
			Name:         "diagnostics",
			SystemPrompt: diagnosticsPrompt(cluster, criticalNamespaces),
			AllowedTools: readK8s,
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 15, Deadline: 4 * time.Minute},
		},
		{
			Name:         "log-analyzer",
			SystemPrompt: logAnalyzerPrompt(cluster),
			AllowedTools: []string{"get_logs", "get_events", "get_pod"},
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 10, Deadline: 3 * time.Minute},
		},
		{
			Name:         "remediation",
			SystemPrompt: remediationPrompt(cluster),
			AllowedTools: []string{"get_pod", "list_pods", "list_deployments", "rollout_restart", "scale_deployment", "delete_pod"},
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 8, Deadline: 3 * time.Minute},
		},
		{
			Name:         "cost-optimizer",
			SystemPrompt: costOptimizerPrompt(cluster),
			AllowedTools: []string{"top_pods", "list_nodes", "list_deployments"},
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 10, Deadline: 3 * time.Minute},
		},
		{
			Name:         "github",
			SystemPrompt: githubPrompt(),
			AllowedTools: []string{"list_prs", "list_issues", "search_code", "get_file", "create_pull_request"},
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 10, Deadline: 3 * time.Minute},
		},
		{
			Name:         "jira",
			SystemPrompt: jiraPrompt(),
			AllowedTools: []string{"search_issues", "create_issue", "add_issue_comment", "update_issue", "transition_issue"},
			ModelHint:    "claude-sonnet-4-5",
			Budget:       llm.Budget{MaxToolCalls: 10, Deadline: 3 * time.Minute},
		},
	}
}
