package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// replicaReader reports a deployment's desired replica count. Satisfied by
// tools.KubernetesAdapter.
type replicaReader interface {
	DeploymentReplicas(ctx context.Context, namespace, name string) (int32, error)
}

// RemediationGate decides whether a finding qualifies for the remediation
// delegate. Every condition must hold; the first failing one is the reason.
type RemediationGate struct {
	devClusters map[string]bool
	protected   map[string]bool
	replicas    replicaReader
	pendingAge  time.Duration

	// applied maps finding key -> cycle number of the last remediation, so
	// the same fix is never applied two cycles in a row.
	applied map[string]int
}

func NewRemediationGate(devClusters, protectedNamespaces []string, replicas replicaReader, pendingAge time.Duration) *RemediationGate {
	dev := make(map[string]bool, len(devClusters))
	for _, c := range devClusters {
		dev[c] = true
	}
	prot := make(map[string]bool, len(protectedNamespaces))
	for _, ns := range protectedNamespaces {
		prot[ns] = true
	}
	return &RemediationGate{
		devClusters: dev,
		protected:   prot,
		replicas:    replicas,
		pendingAge:  pendingAge,
		applied:     map[string]int{},
	}
}

func remediationKey(f Finding) string {
	return fmt.Sprintf("%s/%s/%s/%s", f.Cluster, f.Namespace, f.Workload, f.Kind)
}

// Approve runs the gate. Only called by the orchestrator goroutine, so the
// applied map needs no lock.
func (g *RemediationGate) Approve(ctx context.Context, f Finding, cycle int, now time.Time) (bool, string) {
	switch f.Kind {
	case "CrashLoopBackOff":
		if len(f.CorrelatedDeployments) == 0 {
			return false, "CrashLoopBackOff without a correlated deployment"
		}
	case "Pending":
		if now.Sub(f.FirstSeen) <= g.pendingAge {
			return false, fmt.Sprintf("Pending for less than %s", g.pendingAge)
		}
	default:
		return false, fmt.Sprintf("kind %s is not approved for auto-remediation", f.Kind)
	}

	if !g.devClusters[f.Cluster] {
		return false, fmt.Sprintf("cluster %s is not a dev cluster", f.Cluster)
	}
	if g.protected[f.Namespace] {
		return false, fmt.Sprintf("namespace %s is protected", f.Namespace)
	}

	if last, ok := g.applied[remediationKey(f)]; ok && last >= cycle-1 {
		return false, "same remediation applied in the previous cycle"
	}

	replicas, err := g.replicas.DeploymentReplicas(ctx, f.Namespace, f.Workload)
	if err != nil {
		return false, fmt.Sprintf("cannot verify replicas: %v", err)
	}
	if replicas < 2 {
		return false, fmt.Sprintf("deployment has %d replica(s), need at least 2", replicas)
	}

	return true, ""
}

// MarkApplied records that the finding's remediation ran in the given cycle.
func (g *RemediationGate) MarkApplied(f Finding, cycle int) {
	g.applied[remediationKey(f)] = cycle
}
