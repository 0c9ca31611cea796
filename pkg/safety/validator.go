// Package safety adjudicates write and destructive tool calls before they
// reach an external system: a validator decides, an audit log records, a
// notifier tells the operators. Stages run in order per call — Pending,
// Validated, Logged, Notified — and the decision is final once logged.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/vigil/pkg/guard"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// Request describes one tool call awaiting adjudication.
type Request struct {
	// ScopeID is the cycle or session id the call belongs to.
	ScopeID  string
	Tool     string
	Category tools.Category
	Cluster  string
	Args     map[string]any
}

// Decision is the chain's verdict. Reason is operator-facing and is echoed
// into the audit entry and, on deny, into the tool result the model sees.
type Decision struct {
	Allow  bool
	Reason string
}

func allow() Decision { return Decision{Allow: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// ReplicaReader reports live replica counts. Satisfied by
// tools.KubernetesAdapter; nil in deployments without a cluster, where the
// replica rules deny for lack of evidence.
type ReplicaReader interface {
	DeploymentReplicas(ctx context.Context, namespace, name string) (int32, error)
}

// forbiddenTools can never run, whatever the context.
var forbiddenTools = map[string]bool{
	"delete_namespace": true,
	"delete_pv":        true,
}

// secretPathPattern blocks pull requests whose changed paths look like
// credential material.
var secretPathPattern = regexp.MustCompile(`(?i)(secret|credential|\.env|token)`)

// builtinProtectedNamespaces are always protected; config extends the set.
var builtinProtectedNamespaces = []string{"kube-system", "kube-public", "kube-node-lease"}

// Validator applies the hard-coded rule table. First matching rule wins.
type Validator struct {
	guard     *guard.Guard
	protected map[string]bool
	replicas  ReplicaReader
}

// NewValidator builds the validator; extraProtected extends the builtin
// protected namespace set.
func NewValidator(g *guard.Guard, extraProtected []string, replicas ReplicaReader) *Validator {
	protected := make(map[string]bool, len(builtinProtectedNamespaces)+len(extraProtected))
	for _, ns := range builtinProtectedNamespaces {
		protected[ns] = true
	}
	for _, ns := range extraProtected {
		if ns != "" {
			protected[ns] = true
		}
	}
	return &Validator{guard: g, protected: protected, replicas: replicas}
}

// Protected reports whether a namespace is in the protected set.
func (v *Validator) Protected(namespace string) bool {
	return v.protected[namespace]
}

// Validate runs the rule table against one request. Read-category calls are
// always allowed; they do not reach the chain in the first place.
func (v *Validator) Validate(ctx context.Context, req Request) Decision {
	if req.Category == tools.CategoryRead {
		return allow()
	}

	namespace := tools.StringArg(req.Args, "namespace")

	if req.Category == tools.CategoryDestructive && req.Cluster != "" {
		if err := v.guard.Require(req.Cluster); err != nil {
			return deny("cluster %s is not on the allow-list", req.Cluster)
		}
	}

	if forbiddenTools[req.Tool] || touchesClusterRole(req.Args) {
		return deny("tool %s is never permitted", req.Tool)
	}

	if v.protected[namespace] && isDeleteLike(req.Tool, req.Category) {
		return deny("namespace %s is protected", namespace)
	}

	switch req.Tool {
	case "rollout_restart":
		name := tools.StringArg(req.Args, "deployment")
		replicas, err := v.deploymentReplicas(ctx, namespace, name)
		if err != nil {
			return deny("cannot verify replicas for %s/%s: %v", namespace, name, err)
		}
		if replicas < 2 {
			return deny("rollout_restart on %s/%s with %d replica(s) would cause downtime", namespace, name, replicas)
		}
	case "scale_deployment":
		name := tools.StringArg(req.Args, "deployment")
		desired := tools.IntArg(req.Args, "replicas", -1)
		current, err := v.deploymentReplicas(ctx, namespace, name)
		if err != nil {
			return deny("cannot verify replicas for %s/%s: %v", namespace, name, err)
		}
		delta := desired - int(current)
		if delta < 0 {
			delta = -delta
		}
		if delta > 2 {
			return deny("scaling %s/%s from %d to %d exceeds the step limit of 2", namespace, name, current, desired)
		}
	case "delete_pod":
		if v.protected[namespace] {
			return deny("pod deletion in system namespace %s", namespace)
		}
	case "create_pull_request":
		// The head branch stands in for the commit path: a PR from a branch
		// named after credentials does not get opened.
		for _, key := range []string{"head", "path"} {
			if value := tools.StringArg(req.Args, key); value != "" && secretPathPattern.MatchString(value) {
				return deny("pull request %s %q looks like credential material", key, value)
			}
		}
	}

	return allow()
}

func (v *Validator) deploymentReplicas(ctx context.Context, namespace, name string) (int32, error) {
	if v.replicas == nil {
		return 0, fmt.Errorf("no replica reader configured")
	}
	if namespace == "" || name == "" {
		return 0, fmt.Errorf("namespace and deployment are required")
	}
	return v.replicas.DeploymentReplicas(ctx, namespace, name)
}

func isDeleteLike(tool string, category tools.Category) bool {
	return category == tools.CategoryDestructive || strings.Contains(tool, "delete")
}

// touchesClusterRole scans string arguments for cluster-role references, so
// a manifest or resource argument naming RBAC never slips through.
func touchesClusterRole(args map[string]any) bool {
	for _, v := range args {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		if strings.Contains(lower, "clusterrole") {
			return true
		}
	}
	return false
}
