package adapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/backend"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
	"github.com/halvorsen-dev/claude-relay/internal/selector"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

const groqEndpoint = "https://api.groq.com/openai/v1/chat/completions"

const groqMaxTokensCeiling = 8192

var groqModels = selector.Models{
	WebSearch:   "groq/compound",
	HighReason:  "deepseek-r1-distill-llama-70b",
	FastCoding:  "llama-3.3-70b-versatile",
	General:     "llama-3.1-8b-instant",
	LongContext: "llama-3.3-70b-versatile",
}

// NewGroq builds the Groq-style, OpenAI-compatible adapter with
// web-search interception wired in.
func NewGroq(reg *registry.Registry, apiKey string) *Adapter {
	client := backend.New("groq", groqEndpoint, apiKey, backend.WithAuthHeader(func(req *http.Request, apiKey string) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}))

	a := &Adapter{
		Name:                 "groq",
		Client:               client,
		Registry:             reg,
		Models:               groqModels,
		Limits:               transform.BackendLimits{MaxTokensCeiling: groqMaxTokensCeiling, SupportsReasoning: false},
		WebSearchCapable:     true,
		LongContextThreshold: 60000,
	}
	a.WebSearchIntercept = groqWebSearchIntercept
	return a
}

// groqWebSearchIntercept implements the five-step secondary-call sequence
// build a minimal request to the web-search-
// capable model, send it non-streaming, and return its plain-text content.
func groqWebSearchIntercept(ctx context.Context, a *Adapter, query string) (string, error) {
	req := transform.BackendRequest{
		Model: a.Models.WebSearch,
		Messages: []transform.BackendMessage{
			{Role: "user", Content: fmt.Sprintf("Search the web for: %s", query)},
		},
		MaxTokens: groqMaxTokensCeiling,
	}

	resp, err := a.Client.Send(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.BackendServerError, "secondary web-search call failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.BackendProtocol, "secondary web-search call returned no choices")
	}
	return resp.Choices[0].Content, nil
}
