// Package backend implements the thin HTTP transport to a chat-completion
// backend: authenticated requests, streaming and non-streaming, transient-
// error retry with bounded exponential backoff, and response decompression.
package backend

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

const maxConcurrentRequests = 32

// Client is a single backend's HTTP transport. One Client per Adapter,
// built once at startup and shared across every request.
type Client struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	sem        *semaphore.Weighted
	authHeader func(req *http.Request, apiKey string)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithAuthHeader overrides how the credential is attached to the outbound
// request; defaults to an `Authorization: Bearer <key>` header.
func WithAuthHeader(f func(req *http.Request, apiKey string)) Option {
	return func(c *Client) { c.authHeader = f }
}

// New builds a backend Client. name is used only in error messages and
// logs, never sent over the wire.
func New(name, endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		name:     name,
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 0, // per-request timeouts are enforced via context below
			Transport: &http.Transport{
				MaxConnsPerHost:     maxConcurrentRequests,
				MaxIdleConnsPerHost: maxConcurrentRequests,
			},
		},
		sem: semaphore.NewWeighted(maxConcurrentRequests),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.authHeader == nil {
		c.authHeader = func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	}
	return c
}

const (
	connectTimeout   = 10 * time.Second
	firstByteTimeout = 60 * time.Second

	retryMaxAttempts  = 3
	retryInitialDelay = 500 * time.Millisecond
)

// interChunkTimeout is a var, not a const, so tests can shrink it rather
// than waiting out the real idle window.
var interChunkTimeout = 30 * time.Second

// Send issues a non-streaming chat-completion call and returns the parsed
// BackendResponse.
func (c *Client) Send(ctx context.Context, req transform.BackendRequest) (transform.BackendResponse, error) {
	body, err := encodeRequest(req)
	if err != nil {
		return transform.BackendResponse{}, apperr.Wrap(apperr.InternalError, "encode backend request", err)
	}

	result, err := c.doWithRetry(ctx, body)
	if err != nil {
		return transform.BackendResponse{}, err
	}
	defer result.body.Close()

	raw, err := io.ReadAll(result.body)
	if err != nil {
		return transform.BackendResponse{}, apperr.Wrap(apperr.BackendProtocol, "read backend response", err)
	}

	return decodeResponse(raw)
}

// StreamHandler receives each decoded BackendStreamDelta as it arrives.
// Returning an error aborts the stream read.
type StreamHandler func(transform.BackendStreamDelta) error

// SendStream issues a streaming chat-completion call, invoking handler for
// every delta decoded from the backend's SSE body. Once any delta has been
// delivered to handler, SendStream will not retry on a subsequent failure:
// the caller sees an UpstreamCancelled-shaped error instead, per the
// non-idempotent streaming rule: a stream that has already delivered
// bytes to the caller is never retried.
func (c *Client) SendStream(ctx context.Context, req transform.BackendRequest, handler StreamHandler) error {
	req.Stream = true
	body, err := encodeRequest(req)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, "encode backend request", err)
	}

	delivered := false
	_, err = c.doWithRetryCond(ctx, body, func() bool { return !delivered }, func(resp *http.Response, cancel context.CancelFunc) error {
		reader, derr := decompress(resp)
		if derr != nil {
			return apperr.Wrap(apperr.BackendProtocol, "decompress stream", derr)
		}
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		// idleTimer enforces interChunkTimeout: it is reset after every
		// chunk read and, if it ever fires, cancels the request context so
		// the blocked Scan() below returns instead of hanging indefinitely.
		idleTimedOut := false
		idleTimer := time.AfterFunc(interChunkTimeout, func() {
			idleTimedOut = true
			cancel()
		})
		defer idleTimer.Stop()

		for scanner.Scan() {
			idleTimer.Reset(interChunkTimeout)
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return nil
			}
			if payload == "" {
				continue
			}
			delta, derr := decodeStreamChunk([]byte(payload))
			if derr != nil {
				if delivered {
					return apperr.Wrap(apperr.UpstreamCancelled, "malformed stream chunk after partial delivery", derr)
				}
				return apperr.Wrap(apperr.BackendProtocol, "malformed stream chunk", derr)
			}
			delivered = true
			if herr := handler(delta); herr != nil {
				return herr
			}
		}
		idleTimer.Stop()

		if err := scanner.Err(); err != nil {
			if idleTimedOut {
				return apperr.Wrap(apperr.UpstreamCancelled, "backend idle beyond inter-chunk timeout", err)
			}
			if delivered {
				return apperr.Wrap(apperr.UpstreamCancelled, "stream truncated after partial delivery", err)
			}
			return apperr.Wrap(apperr.BackendProtocol, "stream read failed", err)
		}
		return nil
	})
	return err
}

type rawResult struct {
	body io.ReadCloser
}

// doWithRetry performs the non-streaming retry loop and returns the raw,
// decompressed body on success.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (rawResult, error) {
	var out rawResult
	_, err := c.doWithRetryCond(ctx, body, func() bool { return true }, func(resp *http.Response, cancel context.CancelFunc) error {
		reader, derr := decompress(resp)
		if derr != nil {
			return apperr.Wrap(apperr.BackendProtocol, "decompress response", derr)
		}
		defer reader.Close()
		// Read the body here, while the request context is still live;
		// doWithRetryCond cancels it as soon as this returns.
		raw, rerr := io.ReadAll(reader)
		if rerr != nil {
			return apperr.Wrap(apperr.BackendProtocol, "read backend response", rerr)
		}
		out = rawResult{body: io.NopCloser(strings.NewReader(string(raw)))}
		return nil
	})
	return out, err
}

// doWithRetryCond executes the HTTP call with bounded exponential backoff
// and jitter, honoring Retry-After, as long as retryAllowed() is true.
// onSuccess is invoked with the 2xx response and the request's own cancel
// function, which streaming callers use to enforce an inter-chunk idle
// timeout; its error (if any) is NOT retried, since by the time the body
// is being read/streamed it has already committed to the caller.
func (c *Client) doWithRetryCond(ctx context.Context, body []byte, retryAllowed func() bool, onSuccess func(*http.Response, context.CancelFunc) error) (struct{}, error) {
	operation := func() (struct{}, error) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return struct{}{}, backoff.Permanent(apperr.Wrap(apperr.UpstreamCancelled, "request cancelled while queued", err))
		}
		defer c.sem.Release(1)

		// reqCtx is cancelled, not deadlined, so a long-lived but actively
		// flowing stream is never cut off by a fixed total duration;
		// connectTimer bounds only the time to receive headers, and
		// SendStream layers its own idle timer on top once streaming.
		reqCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		connectTimer := time.AfterFunc(connectTimeout+firstByteTimeout, cancel)

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, newBodyReader(body))
		if err != nil {
			connectTimer.Stop()
			return struct{}{}, backoff.Permanent(apperr.Wrap(apperr.InternalError, "build backend request", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept-Encoding", "gzip, br")
		c.authHeader(httpReq, c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		connectTimer.Stop()
		if err != nil {
			if !retryAllowed() {
				return struct{}{}, backoff.Permanent(apperr.Wrap(apperr.UpstreamCancelled, "network error after partial delivery", err))
			}
			return struct{}{}, apperr.Wrap(apperr.BackendServerError, "network error", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			if !retryAllowed() {
				return struct{}{}, backoff.Permanent(apperr.New(apperr.UpstreamCancelled, "rate limited after partial delivery"))
			}
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryAfter > 0 {
				rateLimitErr := apperr.New(apperr.BackendRateLimited, "backend rate limited").WithRetryAfter(int(retryAfter.Seconds()))
				return struct{}{}, retryAfterError{after: retryAfter, err: rateLimitErr}
			}
			return struct{}{}, apperr.New(apperr.BackendRateLimited, "backend rate limited")
		case resp.StatusCode >= 500:
			resp.Body.Close()
			if !retryAllowed() {
				return struct{}{}, backoff.Permanent(apperr.New(apperr.UpstreamCancelled, "server error after partial delivery"))
			}
			return struct{}{}, apperr.New(apperr.BackendServerError, fmt.Sprintf("backend returned %d", resp.StatusCode))
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			defer resp.Body.Close()
			return struct{}{}, backoff.Permanent(apperr.New(apperr.BackendAuth, "backend rejected credential"))
		case resp.StatusCode >= 400:
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return struct{}{}, backoff.Permanent(apperr.New(apperr.InvalidClientRequest, fmt.Sprintf("backend rejected request: %s", truncate(string(raw), 500))))
		}

		if err := onSuccess(resp, cancel); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(retryMaxAttempts+1),
		backoff.WithNotify(func(err error, after time.Duration) {
			var rae retryAfterError
			if ok := errorsAsRetryAfter(err, &rae); ok {
				time.Sleep(rae.after)
			}
		}),
	)
}

// retryAfterError carries a server-specified wait duration so the retry
// loop can honor Retry-After precisely rather than only the backoff curve.
type retryAfterError struct {
	after time.Duration
	err   error
}

func (e retryAfterError) Error() string { return e.err.Error() }
func (e retryAfterError) Unwrap() error { return e.err }

func errorsAsRetryAfter(err error, target *retryAfterError) bool {
	if rae, ok := err.(retryAfterError); ok {
		*target = rae
		return true
	}
	return false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}

func decompress(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return struct {
			io.Reader
			io.Closer
		}{gz, resp.Body}, nil
	case "br":
		br := brotli.NewReader(resp.Body)
		return struct {
			io.Reader
			io.Closer
		}{br, resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func newBodyReader(body []byte) io.Reader {
	return &limitedReader{data: body}
}

type limitedReader struct {
	data []byte
	pos  int
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func encodeRequest(req transform.BackendRequest) ([]byte, error) {
	return json.Marshal(toWireRequest(req))
}
