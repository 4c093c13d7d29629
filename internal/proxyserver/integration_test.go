package proxyserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-dev/claude-relay/internal/adapter"
	"github.com/halvorsen-dev/claude-relay/internal/backend"
	"github.com/halvorsen-dev/claude-relay/internal/config"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
	"github.com/halvorsen-dev/claude-relay/internal/selector"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, backendHandler http.HandlerFunc) (*Server, *httptest.Server) {
	t.Helper()
	reg, err := registry.New(config.OSUnix)
	require.NoError(t, err)

	backendSrv := httptest.NewServer(backendHandler)
	t.Cleanup(backendSrv.Close)

	a := &adapter.Adapter{
		Name:     "test",
		Client:   backend.New("test", backendSrv.URL, "test-key"),
		Registry: reg,
		Models: selector.Models{
			WebSearch:  "search-model",
			HighReason: "high-model",
			FastCoding: "fast-model",
			General:    "general-model",
		},
	}

	s := New(a, "127.0.0.1", 0, testLogger())
	return s, backendSrv
}

// TestHandleMessages_PlainText exercises the full HTTP surface for
// a plain-text request in, a plain-text Anthropic-shaped
// response out.
func TestHandleMessages_PlainText(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}]}`))
	})

	reqBody := `{"model":"claude-3-5-sonnet","max_tokens":64,"messages":[{"role":"user","content":"Say hi."}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "message", body["type"])
	content := body["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "hi there", block["text"])
	assert.Equal(t, "end_turn", body["stop_reason"])
}

func TestHandleMessages_StreamingProducesSSEFrames(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"))
		flusher.Flush()
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	})

	reqBody := `{"model":"claude-3-5-sonnet","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"Say hi."}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_delta")
	assert.Contains(t, out, "event: message_stop")
}

func TestHandleMessages_MalformedJSONIsInvalidClientRequest(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("backend should never be called for a malformed client request")
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid_client_request", errObj["type"])
}

func TestHandleMessages_BackendRateLimitSurfacesRetryAfter(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	reqBody := `{"model":"claude-3-5-sonnet","max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHealthz_CarriesSentinelHeader(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sentinelValue, rec.Header().Get(sentinelHeader))
}

func TestUnknownRoute_Is404(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
