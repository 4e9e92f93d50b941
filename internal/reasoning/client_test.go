package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/sandboxd/internal/config"
)

func TestOpenAIClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		msgs, ok := req["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"task_type\": \"computation\"}"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	defer srv.Close()

	client := NewClient(config.ReasoningConfig{
		BaseURL:           srv.URL,
		APIKey:            config.Secret("test"),
		Model:             "test-model",
		RequestsPerSecond: 100,
	})

	raw, err := client.Complete(context.Background(), Request{
		Instructions: "You analyze tasks.",
		Content:      "print the numbers 1 to 5",
		SchemaName:   "task_analysis",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_type": "computation"}`, string(raw))
}

func TestOpenAIClientFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(config.ReasoningConfig{
		BaseURL:           srv.URL,
		Model:             "test-model",
		RequestsPerSecond: 100,
	})

	_, err := client.Complete(context.Background(), Request{SchemaName: "task_analysis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task_analysis")
}
