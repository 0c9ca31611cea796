package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// PullLister is the merged-PR surface. Satisfied by tools.GitHubAdapter;
// nil disables deployment correlation.
type PullLister interface {
	MergedPulls(ctx context.Context, repo string, since time.Time) ([]tools.MergedPull, error)
}

// TrafficFunc checks egress traffic for a cluster and returns a short
// human-readable summary. Nil disables traffic correlation.
type TrafficFunc func(ctx context.Context, cluster string) (string, error)

// Correlator attaches deployment and traffic context to findings.
type Correlator struct {
	pulls    PullLister
	services *config.ServiceMap
	traffic  TrafficFunc

	// prWindow bounds how far back merged PRs are fetched; mergeOverlap
	// attaches a PR when its merge time falls within first_seen ± overlap.
	prWindow     time.Duration
	mergeOverlap time.Duration
	egressKinds  map[string]bool

	logger *slog.Logger
}

func NewCorrelator(pulls PullLister, services *config.ServiceMap, traffic TrafficFunc, cfg *config.CorrelationConfig) *Correlator {
	egress := make(map[string]bool, len(cfg.EgressKinds))
	for _, k := range cfg.EgressKinds {
		egress[k] = true
	}
	return &Correlator{
		pulls:        pulls,
		services:     services,
		traffic:      traffic,
		prWindow:     cfg.PRWindow,
		mergeOverlap: cfg.MergeOverlap,
		egressKinds:  egress,
		logger:       slog.Default().With("component", "correlation"),
	}
}

// Enrich annotates the finding in place. Correlation is best-effort: a
// failed lookup logs and leaves the finding unannotated.
func (c *Correlator) Enrich(ctx context.Context, f *Finding) {
	c.attachDeployments(ctx, f)
	c.attachTraffic(ctx, f)
}

func (c *Correlator) attachDeployments(ctx context.Context, f *Finding) {
	if c.pulls == nil {
		return
	}
	entry, ok := c.services.Get(f.Workload)
	if !ok || entry.RepoName == "" {
		return
	}

	pulls, err := c.pulls.MergedPulls(ctx, entry.RepoName, f.FirstSeen.Add(-c.prWindow))
	if err != nil {
		c.logger.Warn("PR correlation failed", "workload", f.Workload, "repo", entry.RepoName, "error", err)
		return
	}

	for _, pr := range pulls {
		delta := pr.MergedAt.Sub(f.FirstSeen)
		if delta < -c.mergeOverlap || delta > c.mergeOverlap {
			continue
		}
		f.CorrelatedDeployments = append(f.CorrelatedDeployments,
			fmt.Sprintf("PR #%d %q merged %s (%s)", pr.Number, pr.Title, pr.MergedAt.Format(time.RFC3339), pr.URL))
	}
}

func (c *Correlator) attachTraffic(ctx context.Context, f *Finding) {
	if c.traffic == nil || !c.egressKinds[f.Kind] {
		return
	}
	summary, err := c.traffic(ctx, f.Cluster)
	if err != nil {
		c.logger.Warn("Traffic correlation failed", "cluster", f.Cluster, "error", err)
		return
	}
	f.CorrelatedTraffic = summary
}
