package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	llmtypes "github.com/tabletalk-dev/tabletalk/pkg/types/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(t.Context(), llmtypes.Config{
		Provider: llmtypes.ProviderGoogle,
		Google:   &llmtypes.GoogleConfig{APIKey: "test", BaseURL: server.URL + "/"},
		Retry:    llmtypes.RetryConfig{Attempts: 2, InitialDelay: 1, MaxDelay: 2, BackoffType: "fixed"},
	})
	require.NoError(t, err)
	return client
}

func candidate(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": text}}}},
		},
	}
}

func TestNew(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	_, err := New(context.Background(), llmtypes.Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), llmtypes.Config{Google: &llmtypes.GoogleConfig{Backend: "other"}})
	assert.ErrorContains(t, err, "unknown google backend")

	t.Setenv("GEMINI_API_KEY", "k")
	client, err := New(context.Background(), llmtypes.Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
	assert.Equal(t, "google", client.Name())
}

func TestComplete(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/"+DefaultModel+":generateContent"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(candidate("SELECT 1")))
	})

	out, err := client.Complete(t.Context(), []llmtypes.Message{
		llmtypes.System("only sql"),
		llmtypes.User("q"),
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out)

	contents, ok := body["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 1)
	assert.Contains(t, body, "systemInstruction")
}

func TestStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Two ", "rows."} {
			payload, _ := json.Marshal(candidate(part))
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
	})

	var fragments []string
	for fragment, err := range client.Stream(t.Context(), []llmtypes.Message{llmtypes.User("q")}) {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"Two ", "rows."}, fragments)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", genai.APIError{Code: 429}, true},
		{"unavailable", &genai.APIError{Code: 503}, true},
		{"bad request", genai.APIError{Code: 400}, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"cancelled", errors.Wrap(context.Canceled, "call"), false},
		{"other", errors.New("invalid argument"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
