package adapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-dev/claude-relay/internal/backend"
	"github.com/halvorsen-dev/claude-relay/internal/config"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
	"github.com/halvorsen-dev/claude-relay/internal/selector"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	reg, err := registry.New(config.OSUnix)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	client := backend.New("test", srv.URL, "test-key")

	return &Adapter{
		Name:     "test",
		Client:   client,
		Registry: reg,
		Models: selector.Models{
			WebSearch:  "search-model",
			HighReason: "high-model",
			FastCoding: "fast-model",
			General:    "general-model",
		},
		WebSearchCapable: true,
	}, srv
}

// TestHandle_PlainText covers a plain-text request/response round trip.
func TestHandle_PlainText(t *testing.T) {
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"},"finish_reason":"stop"}]}`))
	})
	defer srv.Close()

	msg := transform.ClientMessage{
		Model:     "claude-3-5-sonnet",
		Turns:     []transform.Turn{{Role: transform.RoleUser, String: "Say hi."}},
		MaxTokens: 16,
	}

	result, err := a.Handle(t.Context(), msg, 10)
	require.NoError(t, err)
	require.Len(t, result.Final.Content, 1)
	assert.Equal(t, "hi", result.Final.Content[0].Text)
	assert.Equal(t, transform.StopEndTurn, result.Final.StopReason)
}

// TestHandle_WebSearchInterception covers the secondary-call substitution
// for a web_search tool call.
func TestHandle_WebSearchInterception(t *testing.T) {
	calls := 0
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")

		if calls == 1 {
			// First call: the model decides to call web_search.
			_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[{"id":"c1","function":{"name":"web_search","arguments":"{\"query\":\"latest HTTP/3 RFC\"}"}}]},"finish_reason":"tool_calls"}]}`))
			return
		}
		// Secondary call: the search-capable model's answer.
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"HTTP/3 is RFC 9114."},"finish_reason":"stop"}]}`))
	})
	defer srv.Close()
	a.WebSearchIntercept = groqWebSearchIntercept

	msg := transform.ClientMessage{
		Model: "claude-3-5-sonnet",
		Turns: []transform.Turn{{Role: transform.RoleUser, String: "what's new in HTTP/3?"}},
		Tools: []transform.ToolDeclaration{{Name: "web_search", Description: "search"}},
	}

	result, err := a.Handle(t.Context(), msg, 10)
	require.NoError(t, err)
	assert.Equal(t, ResultToolResultInjected, result.Kind)
	require.Len(t, result.Final.Content, 1)
	block := result.Final.Content[0]
	assert.Equal(t, transform.BlockToolResult, block.Type)
	assert.Equal(t, "c1", block.ToolResultID)
	assert.Contains(t, block.ToolResultText, "RFC 9114")
	assert.Equal(t, 2, calls)
}

// TestHandle_WebSearchSecondaryCallFailureIsError covers the failure branch of
// web-search interception.
func TestHandle_WebSearchSecondaryCallFailureIsError(t *testing.T) {
	calls := 0
	a, srv := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"tool_calls":[{"id":"c1","function":{"name":"web_search","arguments":"{\"query\":\"x\"}"}}]},"finish_reason":"tool_calls"}]}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	})
	defer srv.Close()
	a.WebSearchIntercept = groqWebSearchIntercept

	msg := transform.ClientMessage{
		Model: "m",
		Turns: []transform.Turn{{Role: transform.RoleUser, String: "search something"}},
		Tools: []transform.ToolDeclaration{{Name: "web_search"}},
	}

	result, err := a.Handle(t.Context(), msg, 10)
	require.NoError(t, err)
	assert.Equal(t, ResultError, result.Kind)
	require.Len(t, result.Final.Content, 1)
	assert.True(t, result.Final.Content[0].ToolResultIsError)
	assert.Equal(t, "web search unavailable", result.Final.Content[0].ToolResultText)
}
