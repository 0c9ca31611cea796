package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackSink_PostsToChannel(t *testing.T) {
	var gotChannel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotChannel = r.Form.Get("channel")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	sink := newSlackSinkWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	err := sink.Deliver(context.Background(), Alert{
		Severity:  "warning",
		Cluster:   "dev-eks",
		Component: "worker",
		Kind:      "Pending",
		Summary:   "pod stuck pending",
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "C123", gotChannel)
}

func TestSlackSink_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer srv.Close()

	sink := newSlackSinkWithAPIURL("xoxb-test", "C404", srv.URL+"/")
	err := sink.Deliver(context.Background(), Alert{Severity: "info"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
