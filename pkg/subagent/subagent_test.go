package subagent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/llm"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

type fakeAdvancer struct {
	lastSess  *session.Session
	lastInput string
	lastParam llm.Params
	outcome   *llm.Outcome
	err       error
}

func (f *fakeAdvancer) Advance(ctx context.Context, sess *session.Session, userInput string, p llm.Params) (*llm.Outcome, error) {
	f.lastSess = sess
	f.lastInput = userInput
	f.lastParam = p
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeSubsetter struct{ known map[string]bool }

func (f *fakeSubsetter) Subset(names []string) []tools.Descriptor {
	var out []tools.Descriptor
	for _, n := range names {
		if f.known[n] {
			out = append(out, tools.Descriptor{Name: n, Category: tools.CategoryRead})
		}
	}
	return out
}

func allKnown(names ...string) *fakeSubsetter {
	m := map[string]bool{}
	for _, n := range names {
		m[n] = true
	}
	return &fakeSubsetter{known: m}
}

func TestRegistry_BuiltinProfiles(t *testing.T) {
	r := NewRegistry("dev-eks", []string{"payments", "api"})

	assert.Equal(t,
		[]string{"cost-optimizer", "diagnostics", "github", "jira", "log-analyzer", "remediation"},
		r.Names())

	diag, ok := r.Get("diagnostics")
	require.True(t, ok)
	assert.Contains(t, diag.SystemPrompt, "dev-eks")
	assert.Contains(t, diag.SystemPrompt, "payments")
	assert.Contains(t, diag.SystemPrompt, `"findings"`)
	assert.Contains(t, diag.AllowedTools, "list_pods")
	assert.NotContains(t, diag.AllowedTools, "delete_pod")
	assert.Positive(t, diag.Budget.MaxToolCalls)
}

func TestRegistry_RemediationHasNoReadOnlyLeakage(t *testing.T) {
	r := NewRegistry("dev-eks", nil)

	rem, ok := r.Get("remediation")
	require.True(t, ok)
	assert.Contains(t, rem.AllowedTools, "rollout_restart")
	// Ticket and notification tools stay out of the remediation profile.
	assert.NotContains(t, rem.AllowedTools, "create_issue")
	assert.NotContains(t, rem.AllowedTools, "post_notification")
}

func TestRegistry_GetReturnsDefensiveCopy(t *testing.T) {
	r := NewRegistry("dev-eks", nil)

	a, _ := r.Get("diagnostics")
	a.AllowedTools[0] = "tampered"

	b, _ := r.Get("diagnostics")
	assert.NotEqual(t, "tampered", b.AllowedTools[0])
}

func TestRegistry_AddRejectsDuplicates(t *testing.T) {
	r := NewRegistry("dev-eks", nil)

	require.Error(t, r.Add(Profile{Name: "diagnostics"}))
	require.Error(t, r.Add(Profile{}))
	require.NoError(t, r.Add(Profile{Name: "custom", AllowedTools: []string{"list_pods"}}))

	_, ok := r.Get("custom")
	assert.True(t, ok)
}

func TestRunner_DelegateIsolatesSession(t *testing.T) {
	adv := &fakeAdvancer{outcome: &llm.Outcome{
		Text:         "api pods are crash looping",
		ToolsInvoked: []string{"list_pods", "get_logs"},
		TokensUsed:   900,
		StopReason:   "completed",
	}}
	r := NewRunner(adv, NewRegistry("dev-eks", nil),
		allKnown("get_logs", "get_events", "get_pod"))

	res, err := r.Delegate(context.Background(), "log-analyzer", "analyze api pod logs", "cycle-7")
	require.NoError(t, err)
	assert.Equal(t, "api pods are crash looping", res.Text)
	assert.Equal(t, 900, res.TokensUsed)

	// Fresh session: only the profile prompt, nothing from any parent.
	msgs := adv.lastSess.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, session.KindSystemPrompt, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "log analysis specialist")
	assert.Equal(t, "analyze api pod logs", adv.lastInput)

	// Tool subset and scope travel with the delegation.
	assert.Equal(t, "cycle-7", adv.lastParam.ScopeID)
	assert.Len(t, adv.lastParam.Tools, 3)
	assert.Equal(t, 10, adv.lastParam.Budget.MaxToolCalls)
	assert.Equal(t, 3*time.Minute, adv.lastParam.Budget.Deadline)
}

func TestRunner_UnknownProfile(t *testing.T) {
	r := NewRunner(&fakeAdvancer{}, NewRegistry("dev-eks", nil), allKnown())

	_, err := r.Delegate(context.Background(), "nonexistent", "brief", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subagent profile")
}

func TestBuildBrief_ContextRendering(t *testing.T) {
	brief := BuildBrief("restart the api deployment", map[string]string{
		"namespace": "payments",
		"finding":   "CrashLoopBackOff",
	})

	require.True(t, strings.HasPrefix(brief, "restart the api deployment"))
	// Deterministic ordering: keys sorted.
	fi := strings.Index(brief, "finding:")
	ni := strings.Index(brief, "namespace:")
	assert.Greater(t, ni, fi)

	assert.Equal(t, "just a task", BuildBrief("just a task", nil))
}
