package safety

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/guard"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) PostNotification(ctx context.Context, severity, component, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func testChain(t *testing.T, n notifier) (*Chain, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	audit := NewAuditLog(path, "cfg1234")
	require.NoError(t, audit.Start(context.Background()))
	t.Cleanup(audit.Stop)

	g, err := guard.New([]string{"dev-eks"}, "dev-eks")
	require.NoError(t, err)
	v := NewValidator(g, nil, &stubReplicas{counts: map[string]int32{"app-dev/api": 3}})
	return NewChain(v, audit, n), path
}

func readAuditEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestChain_DenySurfacesAsBlockedValidation(t *testing.T) {
	chain, path := testChain(t, nil)

	err := chain.Check(context.Background(), Request{
		ScopeID:  "cycle-1",
		Tool:     "delete_pod",
		Category: tools.CategoryDestructive,
		Cluster:  "dev-eks",
		Args:     map[string]any{"namespace": "kube-system", "name": "coredns-1"},
	})
	require.Error(t, err)
	terr := tools.AsToolError(err)
	assert.Equal(t, tools.KindValidation, terr.Kind)
	assert.Contains(t, terr.Message, "BLOCKED:")

	chain.audit.Stop()
	entries := readAuditEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "deny", entries[0].Decision)
	assert.Equal(t, "delete_pod", entries[0].Tool)
	assert.Equal(t, "cfg1234", entries[0].Config)
	assert.NotEmpty(t, entries[0].ArgsHash)
}

func TestChain_AllowedWriteIsAudited(t *testing.T) {
	chain, path := testChain(t, nil)

	err := chain.Check(context.Background(), Request{
		ScopeID:  "cycle-2",
		Tool:     "create_issue",
		Category: tools.CategoryWrite,
		Args:     map[string]any{"summary": "s", "description": "d"},
	})
	require.NoError(t, err)

	chain.audit.Stop()
	entries := readAuditEntries(t, path)
	require.Len(t, entries, 1)
	assert.Equal(t, "allow", entries[0].Decision)
}

func TestChain_ReadSkipsAudit(t *testing.T) {
	chain, path := testChain(t, nil)

	err := chain.Check(context.Background(), Request{
		Tool:     "list_pods",
		Category: tools.CategoryRead,
		Args:     map[string]any{"namespace": "app-dev"},
	})
	require.NoError(t, err)

	chain.audit.Stop()
	assert.Empty(t, readAuditEntries(t, path))
}

func TestChain_AuditNeverStoresRawArgs(t *testing.T) {
	chain, path := testChain(t, nil)

	require.NoError(t, chain.Check(context.Background(), Request{
		ScopeID:  "s-1",
		Tool:     "create_issue",
		Category: tools.CategoryWrite,
		Args:     map[string]any{"summary": "db password leaked hunter2", "description": "d"},
	}))

	chain.audit.Stop()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestChain_DestructiveAllowNotifies(t *testing.T) {
	n := &recordingNotifier{}
	chain, _ := testChain(t, n)

	err := chain.Check(context.Background(), Request{
		ScopeID:  "cycle-3",
		Tool:     "rollout_restart",
		Category: tools.CategoryDestructive,
		Cluster:  "dev-eks",
		Args:     map[string]any{"namespace": "app-dev", "deployment": "api"},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestChain_PlainWriteAllowDoesNotNotify(t *testing.T) {
	n := &recordingNotifier{}
	chain, _ := testChain(t, n)

	require.NoError(t, chain.Check(context.Background(), Request{
		Tool:     "add_issue_comment",
		Category: tools.CategoryWrite,
		Args:     map[string]any{"key": "OPS-1", "body": "update"},
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, n.count())
}

func TestAuditLog_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	audit := NewAuditLog(path, "fp")
	require.NoError(t, audit.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audit.Record(Entry{ScopeID: "s", Tool: "create_issue", Decision: "allow"})
		}()
	}
	wg.Wait()
	audit.Stop()

	assert.Len(t, readAuditEntries(t, path), 50)
}
