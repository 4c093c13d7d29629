package adapter

import (
	"net/http"

	"github.com/halvorsen-dev/claude-relay/internal/backend"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
	"github.com/halvorsen-dev/claude-relay/internal/selector"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

const xaiEndpoint = "https://api.x.ai/v1/chat/completions"

// xAI model ids for each selector route, including a long-context model
// so the long-context selector rule has somewhere to route. The adapter
// declares reasoning support, so the selector's reasoning_effort hint is
// always attached to the request.
var xaiModels = selector.Models{
	HighReason:  "grok-4",
	FastCoding:  "grok-3-fast",
	General:     "grok-3",
	LongContext: "grok-4-fast-reasoning",
}

// NewXAI builds the xAI-style adapter: a straight passthrough with no
// web-search interception.
func NewXAI(reg *registry.Registry, apiKey string) *Adapter {
	client := backend.New("xai", xaiEndpoint, apiKey, backend.WithAuthHeader(func(req *http.Request, apiKey string) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}))

	return &Adapter{
		Name:                 "xai",
		Client:               client,
		Registry:             reg,
		Models:               xaiModels,
		Limits:               transform.BackendLimits{MaxTokensCeiling: 0, SupportsReasoning: true},
		WebSearchCapable:     false,
		LongContextThreshold: 60000,
		WebSearchIntercept:   nil,
	}
}
