package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/masking"
)

type recordingSink struct {
	mu         sync.Mutex
	alerts     []Alert
	suppressed []int
	err        error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(ctx context.Context, a Alert, suppressed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	r.suppressed = append(r.suppressed, suppressed)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestService_NilSafe(t *testing.T) {
	var s *Service
	s.Notify(context.Background(), Alert{Severity: "critical"})
	assert.Error(t, s.PostNotification(context.Background(), "info", "api", "t", "b"))
}

func TestService_UnconfiguredReturnsNil(t *testing.T) {
	assert.Nil(t, NewService(ServiceConfig{}))
	assert.Nil(t, NewService(ServiceConfig{SlackToken: "xoxb-1"})) // channel missing
	assert.NotNil(t, NewService(ServiceConfig{WebhookURL: "https://example.com/hook"}))
}

func TestService_SuppressesIdenticalWithinWindow(t *testing.T) {
	sink := &recordingSink{}
	s := newServiceWithSinks(nil, sink)

	a := Alert{Severity: "critical", Cluster: "dev-eks", Component: "api", Kind: "CrashLoopBackOff"}
	s.Notify(context.Background(), a)
	s.Notify(context.Background(), a)
	s.Notify(context.Background(), a)

	assert.Equal(t, 1, sink.count())

	// A different kind is its own fingerprint and goes out.
	s.Notify(context.Background(), Alert{Severity: "critical", Cluster: "dev-eks", Component: "api", Kind: "OOMKilled"})
	assert.Equal(t, 2, sink.count())
}

func TestService_SuppressedCountRidesNextAlert(t *testing.T) {
	sink := &recordingSink{}
	s := newServiceWithSinks(nil, sink)

	a := Alert{Severity: "warning", Component: "worker", Kind: "Pending"}
	s.Notify(context.Background(), a)
	s.Notify(context.Background(), a)
	s.Notify(context.Background(), a)

	// Age the window out, then send again: the rider reports the two
	// duplicates that were swallowed.
	s.mu.Lock()
	s.seen[a.fingerprint()].lastSent = time.Now().Add(-suppressWindow - time.Second)
	s.mu.Unlock()

	s.Notify(context.Background(), a)
	require.Equal(t, 2, sink.count())
	assert.Equal(t, 0, sink.suppressed[0])
	assert.Equal(t, 2, sink.suppressed[1])
}

func TestService_MasksSecretsBeforeDelivery(t *testing.T) {
	sink := &recordingSink{}
	s := newServiceWithSinks(masking.NewService(nil), sink)

	s.Notify(context.Background(), Alert{
		Severity:  "critical",
		Cluster:   "dev-eks",
		Component: "api",
		Kind:      "CrashLoopBackOff",
		Summary:   "crash log shows password=hunter2secret on startup",
	})

	require.Equal(t, 1, sink.count())
	assert.Contains(t, sink.alerts[0].Summary, "__MASKED_PASSWORD__")
	assert.NotContains(t, sink.alerts[0].Summary, "hunter2secret")
}

func TestService_SinkFailureDoesNotPropagate(t *testing.T) {
	failing := &recordingSink{err: assert.AnError}
	healthy := &recordingSink{}
	s := newServiceWithSinks(nil, failing, healthy)

	s.Notify(context.Background(), Alert{Severity: "info", Component: "api", Kind: "x"})
	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())
}

func TestWebhookSink_PostsConnectorCard(t *testing.T) {
	var got webhookCard
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newWebhookSink(srv.URL)
	err := sink.Deliver(context.Background(), Alert{
		Severity:  "critical",
		Cluster:   "dev-eks",
		Component: "api",
		Kind:      "CrashLoopBackOff",
		Summary:   "api pods restarting",
		TicketURL: "https://jira.example.com/browse/OPS-12",
	}, 3)
	require.NoError(t, err)

	assert.Equal(t, "[dev-eks] api: CrashLoopBackOff", got.Title)
	assert.Contains(t, got.Text, "api pods restarting")
	assert.Contains(t, got.Text, "OPS-12")
	assert.Contains(t, got.Text, "3 identical alert(s) suppressed")
}

func TestWebhookSink_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newWebhookSink(srv.URL).Deliver(context.Background(), Alert{Severity: "info"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestBuildAlertBlocks_LinksAndRider(t *testing.T) {
	blocks := buildAlertBlocks(Alert{
		Severity:  "critical",
		Cluster:   "dev-eks",
		Component: "api",
		Kind:      "CrashLoopBackOff",
		Summary:   "restarts climbing",
		TicketURL: "https://jira.example.com/browse/OPS-12",
		ReportURL: "https://reports.example.com/cycle-7.json",
	}, 2)

	// Body section plus the link context block.
	require.Len(t, blocks, 2)
}
