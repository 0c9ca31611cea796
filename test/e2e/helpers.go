package e2e

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/vigil/pkg/safety"
)

// httpHandler adapts a body callback into an http.Handler that always
// answers 200.
func httpHandler(onBody func([]byte)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		onBody(body)
		w.WriteHeader(http.StatusOK)
	})
}

// readAuditFile decodes every NDJSON entry from the audit trail.
func readAuditFile(t *testing.T, path string) []safety.Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []safety.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e safety.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}
