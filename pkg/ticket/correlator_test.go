package ticket

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/tools"
)

type fakeTracker struct {
	tickets  map[string]*tools.Ticket // summary -> ticket
	comments map[string][]string      // key -> bodies
	created  int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		tickets:  map[string]*tools.Ticket{},
		comments: map[string][]string{},
	}
}

func (f *fakeTracker) FindBySummary(ctx context.Context, summary string) (*tools.Ticket, error) {
	return f.tickets[summary], nil
}

func (f *fakeTracker) CreateTicket(ctx context.Context, summary, description, issueType, priority string) (string, error) {
	f.created++
	key := fmt.Sprintf("OPS-%d", f.created)
	f.tickets[summary] = &tools.Ticket{Key: key, Summary: summary, Status: "Open", Priority: priority}
	return key, nil
}

func (f *fakeTracker) AddTicketComment(ctx context.Context, key, body string) error {
	f.comments[key] = append(f.comments[key], body)
	return nil
}

func (f *fakeTracker) TicketComments(ctx context.Context, key string) ([]string, error) {
	return f.comments[key], nil
}

func testCorrelator(tr tracker, now time.Time) *Correlator {
	c := NewCorrelator(tr)
	c.now = func() time.Time { return now }
	return c
}

func crashLoopObs() Observation {
	return Observation{
		Cluster:       "dev-eks",
		Namespace:     "payments",
		Component:     "api",
		Kind:          "CrashLoopBackOff",
		Severity:      "HIGH",
		RestartCount:  18,
		Evidence:      []string{"pod api-7d9f restarted 18 times"},
		ErrorPatterns: []string{"connection refused to db:5432"},
	}
}

func TestSummaryKey_Format(t *testing.T) {
	assert.Equal(t, "[dev-eks] api: CrashLoopBackOff", SummaryKey("dev-eks", "api", "CrashLoopBackOff"))
}

func TestCorrelator_CreatesTicketWithBaseline(t *testing.T) {
	tr := newFakeTracker()
	c := testCorrelator(tr, time.Now())

	out, err := c.Reconcile(context.Background(), crashLoopObs())
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.True(t, out.CommentAdded)
	assert.Equal(t, "OPS-1", out.Key)

	created := tr.tickets["[dev-eks] api: CrashLoopBackOff"]
	require.NotNil(t, created)
	assert.Equal(t, "High", created.Priority)

	// Baseline comment carries a parsable snapshot.
	snap, ok := ParseLatestSnapshot(tr.comments["OPS-1"])
	require.True(t, ok)
	assert.Equal(t, "CrashLoopBackOff", snap.Status)
	assert.Equal(t, 18, snap.RestartCount)
}

func TestCorrelator_PriorityFollowsSeverity(t *testing.T) {
	for severity, priority := range map[string]string{
		"CRITICAL": "Highest", "HIGH": "High", "MEDIUM": "Medium", "LOW": "Low",
	} {
		tr := newFakeTracker()
		c := testCorrelator(tr, time.Now())
		obs := crashLoopObs()
		obs.Severity = severity

		_, err := c.Reconcile(context.Background(), obs)
		require.NoError(t, err)
		assert.Equal(t, priority, tr.tickets["[dev-eks] api: CrashLoopBackOff"].Priority, severity)
	}
}

func TestCorrelator_ImmediateRerunIsNoOp(t *testing.T) {
	tr := newFakeTracker()
	c := testCorrelator(tr, time.Now())
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.False(t, out.Created)
	assert.False(t, out.CommentAdded)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, 1, tr.created)
	assert.Len(t, tr.comments["OPS-1"], 1)
}

func TestCorrelator_StaleWithRestartDeltaComments(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// 25 hours on, ten more restarts: gate A (stale) and gate B (delta).
	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	obs.RestartCount = 28
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.True(t, out.CommentAdded)
	latest := tr.comments["OPS-1"][len(tr.comments["OPS-1"])-1]
	assert.Contains(t, latest, "from 18 to 28")
	assert.Contains(t, latest, "restart_count: 28")
}

func TestCorrelator_StaleWithoutSubstantiveChangeSkips(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Stale satisfies gate A, but nothing qualifies under gate B.
	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	obs.RestartCount = 20
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.False(t, out.CommentAdded)
	assert.Contains(t, out.Reason, "no substantive change")
	assert.Len(t, tr.comments["OPS-1"], 1)
}

func TestCorrelator_EscalationWithinCooldownComments(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs() // HIGH

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Two hours on, same kind and restarts, but the severity rose: the
	// escalation reopens the time/status gate on its own.
	c.now = func() time.Time { return start.Add(2 * time.Hour) }
	obs.Severity = "CRITICAL"
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.True(t, out.CommentAdded)
	latest := tr.comments["OPS-1"][len(tr.comments["OPS-1"])-1]
	assert.Contains(t, latest, "Severity changed from HIGH to CRITICAL")
}

func TestCorrelator_DeescalationWithinCooldownSkips(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()
	obs.Severity = "CRITICAL"

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Severity easing off within the cooldown is not an escalation and the
	// status is unchanged: nothing reopens gate A.
	c.now = func() time.Time { return start.Add(2 * time.Hour) }
	obs.Severity = "HIGH"
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.False(t, out.CommentAdded)
	assert.Len(t, tr.comments["OPS-1"], 1)
}

func TestCorrelator_NewErrorPatternComments(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	obs.ErrorPatterns = append(obs.ErrorPatterns, "OOMKilled: memory limit exceeded")
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.True(t, out.CommentAdded)
	latest := tr.comments["OPS-1"][len(tr.comments["OPS-1"])-1]
	assert.Contains(t, latest, "New error pattern")
	assert.Contains(t, latest, "memory limit exceeded")
}

func TestCorrelator_ResolutionIsCommentNotClose(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Healthy for 45 minutes; status flips to Healthy which passes gate A
	// even inside the 24 h window.
	c.now = func() time.Time { return start.Add(time.Hour) }
	obs.HealthyFor = 45 * time.Minute
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.True(t, out.CommentAdded)
	latest := tr.comments["OPS-1"][len(tr.comments["OPS-1"])-1]
	assert.Contains(t, latest, "considering resolved")
	assert.Contains(t, latest, "status: Healthy")
	// The ticket itself is untouched.
	assert.Equal(t, "Open", tr.tickets["[dev-eks] api: CrashLoopBackOff"].Status)
}

func TestCorrelator_BriefRecoverySkips(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Healthy only 10 minutes: not resolved yet, status still the finding
	// kind, nothing to say.
	c.now = func() time.Time { return start.Add(time.Hour) }
	obs.HealthyFor = 10 * time.Minute
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)
	assert.False(t, out.CommentAdded)
}

func TestCorrelator_ResolvedTicketRecurrenceCreatesNew(t *testing.T) {
	tr := newFakeTracker()
	c := testCorrelator(tr, time.Now())
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	tr.tickets["[dev-eks] api: CrashLoopBackOff"].Resolved = true
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	assert.True(t, out.Created)
	assert.Equal(t, "OPS-2", out.Key)
}

func TestCorrelator_RemediationAttemptComments(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	_, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)

	// Status unchanged and the window fresh: remediation alone cannot
	// comment until gate A passes.
	c.now = func() time.Time { return start.Add(time.Hour) }
	obs.RemediationAttempted = true
	out, err := c.Reconcile(context.Background(), obs)
	require.NoError(t, err)
	assert.False(t, out.CommentAdded)

	// Once stale, the remediation attempt is the gate B trigger.
	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	out, err = c.Reconcile(context.Background(), obs)
	require.NoError(t, err)
	assert.True(t, out.CommentAdded)
	latest := tr.comments["OPS-1"][len(tr.comments["OPS-1"])-1]
	assert.Contains(t, latest, "remediation")
}

func TestCorrelator_CommentIfExistsNeverCreates(t *testing.T) {
	tr := newFakeTracker()
	start := time.Now()
	c := testCorrelator(tr, start)
	obs := crashLoopObs()

	// No ticket yet: nothing happens.
	out, err := c.CommentIfExists(context.Background(), obs)
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.False(t, out.CommentAdded)
	assert.Zero(t, tr.created)

	// With an open ticket the change gates apply as usual.
	_, err = c.Reconcile(context.Background(), obs)
	require.NoError(t, err)
	c.now = func() time.Time { return start.Add(25 * time.Hour) }
	obs.RestartCount = 40
	out, err = c.CommentIfExists(context.Background(), obs)
	require.NoError(t, err)
	assert.True(t, out.CommentAdded)
	assert.Equal(t, 1, tr.created)
}

func TestComment_RenderParseRoundTrip(t *testing.T) {
	observed := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	c := Comment{
		ChangeDetected: "Restart count climbed.",
		Snapshot: Snapshot{
			ObservedAt:    observed,
			Status:        "CrashLoopBackOff",
			Severity:      "HIGH",
			RestartCount:  28,
			ErrorPatterns: []string{"connection refused", "timeout waiting for db"},
		},
		Observations: []string{"restarts accelerating"},
		NextSteps:    []string{"review recent deploys"},
	}

	body := c.Render()
	assert.Contains(t, body, "*Change Detected*")
	assert.Contains(t, body, "*Current Metrics*")
	assert.Contains(t, body, "*New Observations*")
	assert.Contains(t, body, "*Next Steps*")

	snap, ok := ParseLatestSnapshot([]string{"unstructured human comment", body})
	require.True(t, ok)
	assert.Equal(t, observed, snap.ObservedAt)
	assert.Equal(t, "CrashLoopBackOff", snap.Status)
	assert.Equal(t, "HIGH", snap.Severity)
	assert.Equal(t, 28, snap.RestartCount)
	assert.Equal(t, []string{"connection refused", "timeout waiting for db"}, snap.ErrorPatterns)
}

func TestParseLatestSnapshot_PrefersNewest(t *testing.T) {
	old := Comment{Snapshot: Snapshot{ObservedAt: time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Second), RestartCount: 5, Status: "CrashLoopBackOff"}}
	recent := Comment{Snapshot: Snapshot{ObservedAt: time.Now().UTC().Truncate(time.Second), RestartCount: 20, Status: "CrashLoopBackOff"}}

	snap, ok := ParseLatestSnapshot([]string{old.Render(), recent.Render()})
	require.True(t, ok)
	assert.Equal(t, 20, snap.RestartCount)
}

func TestParseLatestSnapshot_NoParsableComment(t *testing.T) {
	_, ok := ParseLatestSnapshot([]string{"just text", "another comment"})
	assert.False(t, ok)
}
