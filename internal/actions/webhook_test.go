package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookOpenPR(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/prs", r.URL.Path)
		var req PRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Fix n+1 query", req.Title)
		assert.True(t, req.AutoMerge)
		json.NewEncoder(w).Encode(map[string]string{"id": "pr-42"})
	}))
	defer server.Close()

	client := NewWebhookClient("", server.URL, 5*time.Second)
	id, err := client.OpenPR(context.Background(), PRRequest{Title: "Fix n+1 query", AutoMerge: true})
	require.NoError(t, err)
	assert.Equal(t, "pr-42", id)
}

func TestWebhookDeploy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deployments", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"id": "dep-7"})
	}))
	defer server.Close()

	client := NewWebhookClient("", server.URL, 5*time.Second)
	id, err := client.Deploy(context.Background(), "pr-42")
	require.NoError(t, err)
	assert.Equal(t, "dep-7", id)
}

func TestWebhookNotify(t *testing.T) {
	var received Notification
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, "", 5*time.Second)
	err := client.Notify(context.Background(), Notification{IncidentID: "inc-1", ActionTaken: ActionNotifyOnly})
	require.NoError(t, err)
	assert.Equal(t, "inc-1", received.IncidentID)
}

func TestWebhookDiff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/commits/abc123/diff", r.URL.Path)
		w.Write([]byte("--- a/app.py\n+++ b/app.py\n"))
	}))
	defer server.Close()

	client := NewWebhookClient("", server.URL, 5*time.Second)
	diff, err := client.Diff(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Contains(t, diff, "+++ b/app.py")
}

func TestWebhookUnconfigured(t *testing.T) {
	client := NewWebhookClient("", "", time.Second)

	require.Error(t, client.Notify(context.Background(), Notification{}))
	_, err := client.OpenPR(context.Background(), PRRequest{})
	require.Error(t, err)
	_, err = client.Deploy(context.Background(), "pr-1")
	require.Error(t, err)
}

func TestWebhookErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewWebhookClient(server.URL, server.URL, 5*time.Second)
	_, err := client.OpenPR(context.Background(), PRRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
