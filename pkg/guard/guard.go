// Package guard pins the process to an explicit allow-list of clusters.
//
// The guard is constructed once at boot from configuration and is immutable
// afterwards. Every component that targets a cluster (K8s tool adapters, the
// HTTP ingress, the orchestrator) calls Require before doing work, so a
// process pointed at the wrong cluster fails closed instead of acting.
package guard

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrClusterForbidden indicates a cluster outside the allow-list.
var ErrClusterForbidden = errors.New("cluster not allow-listed")

// Guard holds the immutable cluster allow-list and the target cluster.
type Guard struct {
	allowed map[string]bool
	target  string
}

// New builds a guard from the allow-list and the target cluster.
// It fails when the target itself is not allow-listed; callers treat that
// as fatal at boot.
func New(allowed []string, target string) (*Guard, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: empty allow-list", ErrClusterForbidden)
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		if name == "" {
			return nil, fmt.Errorf("%w: empty cluster name in allow-list", ErrClusterForbidden)
		}
		set[name] = true
	}

	g := &Guard{allowed: set, target: target}
	if err := g.Require(target); err != nil {
		return nil, fmt.Errorf("target cluster rejected at boot: %w", err)
	}
	return g, nil
}

// Require returns an error unless the named cluster is allow-listed.
func (g *Guard) Require(cluster string) error {
	if cluster == "" {
		return fmt.Errorf("%w: empty cluster name", ErrClusterForbidden)
	}
	if !g.allowed[cluster] {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrClusterForbidden, cluster, strings.Join(g.Allowed(), ", "))
	}
	return nil
}

// Target returns the cluster this deployment observes.
func (g *Guard) Target() string {
	return g.target
}

// Allowed returns a sorted copy of the allow-list.
func (g *Guard) Allowed() []string {
	names := make([]string, 0, len(g.allowed))
	for name := range g.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
