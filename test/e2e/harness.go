// Package e2e drives the full triage stack against scripted LLM replies and
// fake external systems: no network, no real cluster, no provider calls.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/codeready-toolchain/vigil/pkg/config"
	"github.com/codeready-toolchain/vigil/pkg/guard"
	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/masking"
	"github.com/codeready-toolchain/vigil/pkg/notify"
	"github.com/codeready-toolchain/vigil/pkg/orchestrator"
	"github.com/codeready-toolchain/vigil/pkg/safety"
	"github.com/codeready-toolchain/vigil/pkg/subagent"
	"github.com/codeready-toolchain/vigil/pkg/ticket"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

const (
	testCluster   = "dev-eks"
	testNamespace = "payments"
)

// fakeJira is an in-memory tracker mirroring the Jira adapter surface.
type fakeJira struct {
	mu       sync.Mutex
	tickets  map[string]*tools.Ticket
	comments map[string][]string
	created  int
}

func newFakeJira() *fakeJira {
	return &fakeJira{
		tickets:  map[string]*tools.Ticket{},
		comments: map[string][]string{},
	}
}

func (f *fakeJira) FindBySummary(_ context.Context, summary string) (*tools.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets[summary], nil
}

func (f *fakeJira) CreateTicket(_ context.Context, summary, _, _, priority string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	key := fmt.Sprintf("OPS-%d", f.created)
	f.tickets[summary] = &tools.Ticket{Key: key, Summary: summary, Status: "Open", Priority: priority}
	return key, nil
}

func (f *fakeJira) AddTicketComment(_ context.Context, key, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments[key] = append(f.comments[key], body)
	return nil
}

func (f *fakeJira) TicketComments(_ context.Context, key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments[key], nil
}

func (f *fakeJira) seed(summary, key string, comments ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[summary] = &tools.Ticket{Key: key, Summary: summary, Status: "Open", Priority: "Highest"}
	f.comments[key] = append(f.comments[key], comments...)
}

func (f *fakeJira) ticketCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeJira) commentsFor(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[key]...)
}

// fakeGitHub serves a fixed set of merged pulls for deployment correlation.
type fakeGitHub struct {
	pulls []tools.MergedPull
}

func (f *fakeGitHub) MergedPulls(_ context.Context, _ string, _ time.Time) ([]tools.MergedPull, error) {
	return f.pulls, nil
}

// webhookRecorder captures delivered notification cards.
type webhookRecorder struct {
	mu    sync.Mutex
	cards []struct{ Title, Text string }
	srv   *httptest.Server
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	r := &webhookRecorder{}
	r.srv = httptest.NewServer(httpHandler(func(body []byte) {
		var card struct{ Title, Text string }
		_ = json.Unmarshal(body, &card)
		r.mu.Lock()
		r.cards = append(r.cards, card)
		r.mu.Unlock()
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *webhookRecorder) delivered() []struct{ Title, Text string } {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]struct{ Title, Text string }(nil), r.cards...)
}

// harness wires the production components around scripted and fake edges.
type harness struct {
	t       *testing.T
	client  *ScriptedClient
	guard   *guard.Guard
	catalog *tools.Catalog
	driver  *llm.Driver
	runner  *subagent.Runner
	jira    *fakeJira
	github  *fakeGitHub
	webhook *webhookRecorder
	orch    *orchestrator.Orchestrator
	cfg     *config.Config

	auditPath string
	audit     *safety.AuditLog
}

func newHarness(t *testing.T, objects ...runtime.Object) *harness {
	t.Helper()

	g, err := guard.New([]string{testCluster}, testCluster)
	require.NoError(t, err)

	k8sClient := fake.NewSimpleClientset(objects...)
	k8s, err := tools.NewKubernetesAdapterWithClients(g, testCluster, k8sClient, nil)
	require.NoError(t, err)

	masker := masking.NewService(nil)
	catalog := tools.NewCatalog(masker)
	k8s.Register(catalog)

	webhook := newWebhookRecorder(t)
	notifier := notify.NewService(notify.ServiceConfig{WebhookURL: webhook.srv.URL, Masker: masker})
	require.NotNil(t, notifier)
	tools.NewNotifyAdapter(notifier).Register(catalog)

	auditPath := filepath.Join(t.TempDir(), "audit.ndjson")
	audit := safety.NewAuditLog(auditPath, "e2e")
	require.NoError(t, audit.Start(context.Background()))
	t.Cleanup(audit.Stop)

	validator := safety.NewValidator(g, nil, k8s)
	chain := safety.NewChain(validator, audit, notifier)

	client := NewScriptedClient()
	driver := llm.NewDriver(client, catalog, chain, testCluster)

	registry := subagent.NewRegistry(testCluster, []string{testNamespace})
	runner := subagent.NewRunner(driver, registry, catalog)

	cfg := &config.Config{
		Clusters: &config.ClustersConfig{
			Allowed: []string{testCluster},
			Target:  testCluster,
			Dev:     []string{testCluster},
		},
		Orchestrator: &config.OrchestratorConfig{
			CriticalNamespaces: []string{testNamespace},
			ReportDir:          t.TempDir(),
			CycleDeadline:      time.Minute,
			SessionMaxTokens:   100000,
		},
		Thresholds: &config.ThresholdsConfig{
			PendingAge:    10 * time.Minute,
			ResolvedAfter: 30 * time.Minute,
			MaxDowntime: map[config.Criticality]time.Duration{
				config.CriticalityP0: 5 * time.Minute,
			},
		},
		Correlation: &config.CorrelationConfig{
			PRWindow:     6 * time.Hour,
			MergeOverlap: 30 * time.Minute,
		},
	}
	services := config.ServiceMapFromEntries([]config.ServiceEntry{
		{Name: "api", RepoOwner: "acme", RepoName: "api", Criticality: config.CriticalityP0},
	})

	gh := &fakeGitHub{}
	jira := newFakeJira()
	gate := orchestrator.NewRemediationGate(cfg.Clusters.Dev, nil, k8s, cfg.Thresholds.PendingAge)

	orch := orchestrator.New(orchestrator.Deps{
		Delegator:  runner,
		Tickets:    ticket.NewCorrelator(jira),
		Notifier:   notifier,
		Gate:       gate,
		Correlator: orchestrator.NewCorrelator(gh, services, nil, cfg.Correlation),
		Services:   services,
		Masker:     masker,
	}, cfg)

	return &harness{
		t:         t,
		client:    client,
		guard:     g,
		catalog:   catalog,
		driver:    driver,
		runner:    runner,
		jira:      jira,
		github:    gh,
		webhook:   webhook,
		orch:      orch,
		cfg:       cfg,
		auditPath: auditPath,
		audit:     audit,
	}
}

// auditEntries flushes the audit log and decodes every NDJSON line.
func (h *harness) auditEntries() []safety.Entry {
	h.t.Helper()
	h.audit.Stop()
	return readAuditFile(h.t, h.auditPath)
}

// apiDeployment builds a two-replica deployment the remediation rules accept.
func apiDeployment(replicas int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: testNamespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "api"}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "api"}},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "app", Image: "api:latest"}}},
			},
		},
	}
}

// crashLoopFindings is the diagnostics conclusion for a fully-down api
// deployment.
func crashLoopFindings(restarts int) string {
	return fmt.Sprintf("Scan complete, one degraded workload.\n\n```json\n"+
		`{"findings":[{"severity":"HIGH","namespace":%q,"workload":"api","kind":"CrashLoopBackOff",`+
		`"evidence":["Back-off restarting failed container app in pod api-7d9f"],`+
		`"restart_count":%d,"pods_down":2,"pods_total":2}]}`+"\n```\n", testNamespace, restarts)
}

const healthyFindings = "All critical namespaces healthy.\n\n```json\n{\"findings\":[]}\n```\n"
