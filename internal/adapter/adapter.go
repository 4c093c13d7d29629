// Package adapter composes the Registry, Transformer, Selector, and
// Backend Client for one specific backend, absorbing backend-specific
// quirks such as the Groq-style web-search interception sequence.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/backend"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
	"github.com/halvorsen-dev/claude-relay/internal/selector"
	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

// Result is the non-streaming outcome of Handle. Representing the
// web-search substitution as a tagged variant (rather than raising and
// catching an exception, as a naive port of the source would) is the
// result-variant pattern, avoiding exception-based control flow.
type Result struct {
	Kind    ResultKind
	Final   transform.FinalMessage
}

type ResultKind int

const (
	ResultPlain ResultKind = iota
	ResultToolResultInjected
	ResultError
)

// Adapter is the shared implementation; XAI and Groq differ only in
// their client endpoint, selector.Models, limits, WebSearchCapable, and
// whether WebSearchIntercept is set.
type Adapter struct {
	Name                 string
	Client               *backend.Client
	Registry             *registry.Registry
	Models               selector.Models
	Limits               transform.BackendLimits
	WebSearchCapable     bool
	LongContextThreshold int
	HaikuExplainHighReasoning bool

	// WebSearchIntercept, when non-nil, implements the Groq-style
	// secondary-call substitution for a web_search/browser_search tool
	// call. The xAI-style adapter leaves this nil (straight passthrough).
	WebSearchIntercept func(ctx context.Context, a *Adapter, query string) (string, error)
}

// Handle runs one non-streaming request end to end.
func (a *Adapter) Handle(ctx context.Context, msg transform.ClientMessage, inputTokens int) (Result, error) {
	if err := transform.ValidateToolResultReferences(msg); err != nil {
		return Result{}, err
	}

	sel := a.selectModel(msg, inputTokens)

	req, err := transform.ToBackend(msg, a.Registry, a.Limits, sel.ModelID, string(sel.ReasoningEffort))
	if err != nil {
		return Result{}, err
	}

	resp, err := a.Client.Send(ctx, req)
	if err != nil {
		return Result{}, err
	}

	final, err := transform.ToClientFinal(resp, a.Registry)
	if err != nil {
		return Result{}, err
	}

	if !sel.WebSearchRequired || a.WebSearchIntercept == nil {
		return Result{Kind: ResultPlain, Final: final}, nil
	}

	return a.interceptWebSearch(ctx, final, resp)
}

// HandleStream runs one streaming request, invoking sink for every client
// event produced. Web-search interception does not apply to streaming
// requests in this spec's scope: a tool_calls delta naming web_search is
// still streamed to the client as an ordinary tool_use block, and the
// client is expected to fall back to a non-streaming retry if it wants
// interception. Interception is defined only in terms of
// interception only in terms of the non-streaming Adapter.handle surface.
func (a *Adapter) HandleStream(ctx context.Context, msg transform.ClientMessage, inputTokens int, sink func(transform.ClientEvent) error) error {
	if err := transform.ValidateToolResultReferences(msg); err != nil {
		return err
	}

	sel := a.selectModel(msg, inputTokens)

	req, err := transform.ToBackend(msg, a.Registry, a.Limits, sel.ModelID, string(sel.ReasoningEffort))
	if err != nil {
		return err
	}

	acc := transform.NewStreamAccumulator(a.Registry)
	return a.Client.SendStream(ctx, req, func(delta transform.BackendStreamDelta) error {
		events, err := acc.ToClientStream(delta)
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := sink(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Adapter) selectModel(msg transform.ClientMessage, inputTokens int) selector.Selection {
	userText := userVisibleText(msg)
	toolNames := make([]string, 0, len(msg.Tools))
	for _, t := range msg.Tools {
		toolNames = append(toolNames, t.Name)
	}

	if !a.HaikuExplainHighReasoning && strings.Contains(strings.ToLower(msg.Model), "claude-3-5-haiku") {
		// Explicit open-question resolution: haiku stays on the fast path
		// even if the text contains "explain", unless the operator opts
		// into the alternate table via configuration.
		return selector.Selection{ModelID: a.Models.FastCoding, ReasoningEffort: selector.EffortMedium}
	}

	return selector.Select(a.Models, a.WebSearchCapable, msg.Model, userText, toolNames, inputTokens, a.LongContextThreshold)
}

func userVisibleText(msg transform.ClientMessage) string {
	var sb strings.Builder
	for _, turn := range msg.Turns {
		if turn.Role != transform.RoleUser {
			continue
		}
		if !turn.HasBlocks() {
			sb.WriteString(turn.String)
			sb.WriteString("\n")
			continue
		}
		for _, b := range turn.Blocks {
			if b.Type == transform.BlockText {
				sb.WriteString(b.Text)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func (a *Adapter) interceptWebSearch(ctx context.Context, final transform.FinalMessage, resp transform.BackendResponse) (Result, error) {
	var target *transform.ContentBlock
	for i := range final.Content {
		b := &final.Content[i]
		if b.Type == transform.BlockToolUse && (b.ToolName == "web_search" || b.ToolName == "browser_search") {
			target = b
			break
		}
	}
	if target == nil {
		// The model did not actually call the search tool this turn.
		return Result{Kind: ResultPlain, Final: final}, nil
	}

	// The injected tool_result answers the model's own call, so it is
	// addressed to the backend's original call id, not the hashed one.
	resultID := target.ToolUseID
	for _, tc := range resp.Choices[0].ToolCalls {
		if transform.StableToolUseID(tc.ID) == target.ToolUseID {
			resultID = tc.ID
			break
		}
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(target.ToolInput, &args); err != nil {
		return a.webSearchFailure(resultID), nil
	}

	text, err := a.WebSearchIntercept(ctx, a, args.Query)
	if err != nil {
		return a.webSearchFailure(resultID), nil
	}

	return Result{
		Kind: ResultToolResultInjected,
		Final: transform.FinalMessage{
			Content: []transform.ContentBlock{{
				Type:           transform.BlockToolResult,
				ToolResultID:   resultID,
				ToolResultText: text,
			}},
			StopReason: transform.StopToolUse,
		},
	}, nil
}

func (a *Adapter) webSearchFailure(toolUseID string) Result {
	return Result{
		Kind: ResultError,
		Final: transform.FinalMessage{
			Content: []transform.ContentBlock{{
				Type:              transform.BlockToolResult,
				ToolResultID:      toolUseID,
				ToolResultText:    "web search unavailable",
				ToolResultIsError: true,
			}},
			StopReason: transform.StopToolUse,
		},
	}
}

// ErrorToClientShape renders an apperr.Error the way the Adapter hands
// off to the Proxy Server: never a raw backend body, always the taxonomy.
func ErrorToClientShape(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	return apperr.Wrap(apperr.InternalError, fmt.Sprintf("unclassified error: %v", err), err)
}
