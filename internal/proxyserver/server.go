// Package proxyserver is the HTTP front: a loopback listener routing
// POST /v1/messages to the configured Adapter, a minimal catch-all, and a
// /healthz sentinel endpoint used for port-conflict detection.
package proxyserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/halvorsen-dev/claude-relay/internal/adapter"
	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

const shutdownDrainTimeout = 10 * time.Second

// Server is the HTTP front for one Adapter.
type Server struct {
	adapter *adapter.Adapter
	logger  *slog.Logger
	host    string
	port    int
	http    *http.Server
}

// New builds a Server bound to the given adapter.
func New(a *adapter.Adapter, host string, port int, logger *slog.Logger) *Server {
	s := &Server{adapter: a, logger: logger, host: host, port: port}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/", s.handleNotFound)

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           withLogging(logger, mux),
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

// CheckPort probes the configured port before binding: this proxy never
// silently picks another port.
func (s *Server) CheckPort() error {
	conflict, err := probePort(s.host, s.port)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "port probe failed", err)
	}
	if conflict != nil {
		return conflict
	}
	return nil
}

// Serve blocks until the listener stops. Callers should run this in a
// goroutine and use Shutdown for graceful termination.
func (s *Server) Serve() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests for up to shutdownDrainTimeout, then
// forces close.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	defer cancel()
	return s.http.Shutdown(drainCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(sentinelHeader, sentinelValue)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeClientError(w, apperr.New(apperr.InvalidClientRequest, fmt.Sprintf("unknown route %s %s", r.Method, r.URL.Path)).WithStatusNotFound())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.handleNotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		writeClientError(w, apperr.Wrap(apperr.InvalidClientRequest, "failed to read request body", err))
		return
	}

	msg, err := transform.ParseClientMessage(body)
	if err != nil {
		writeClientError(w, err)
		return
	}

	inputTokens := countInputTokens(msg)
	ctx := r.Context()

	if msg.Stream {
		s.handleStreaming(ctx, w, msg, inputTokens)
		return
	}

	result, err := s.adapter.Handle(ctx, msg, inputTokens)
	if err != nil {
		writeClientError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(transform.RenderFinal(generateMessageID(), result.Final))
}

func (s *Server) handleStreaming(ctx context.Context, w http.ResponseWriter, msg transform.ClientMessage, inputTokens int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	sentAny := false

	err := s.adapter.HandleStream(ctx, msg, inputTokens, func(ev transform.ClientEvent) error {
		sentAny = true
		data, merr := json.Marshal(ev.Data)
		if merr != nil {
			return merr
		}
		_, werr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, data)
		if flusher != nil {
			flusher.Flush()
		}
		return werr
	})

	if err != nil {
		if !sentAny {
			writeClientError(w, err)
			return
		}
		// Bytes already reached the client: terminate with a terminal
		// frame instead of an abrupt close, per §7's user-visible
		// failure behavior.
		data, _ := json.Marshal(map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": "error"},
		})
		_, _ = fmt.Fprintf(w, "event: message_delta\ndata: %s\n\n", data)
		_, _ = fmt.Fprintf(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeClientError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(apperr.InternalError, "unclassified error", err)
	}

	status := appErr.Status()
	if appErr.Kind == apperr.BackendRateLimited && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", appErr.RetryAfter))
	}

	message := appErr.Message
	if appErr.Kind == apperr.BackendAuth {
		message = "authentication with the backend failed"
	}
	if appErr.Kind == apperr.InternalError {
		message = fmt.Sprintf("internal error (incident %s)", generateMessageID())
	}

	errType := appErr.Kind.String()
	if status == http.StatusNotFound {
		errType = "not_found_error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}
