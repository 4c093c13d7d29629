package transform

import (
	"fmt"
	"strings"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
)

// BackendLimits caps what ToBackend is allowed to forward, since each
// backend declares its own ceiling (e.g. 8192 for the Groq-style backend).
type BackendLimits struct {
	MaxTokensCeiling      int
	SupportsReasoning     bool
}

// ToBackend flattens a ClientMessage into the backend's native chat-
// completion request shape. If the client declared tools, they are
// replaced wholesale with the Registry's current tools for the host OS,
// the client's own tool shapes never reach the
// backend.
func ToBackend(msg ClientMessage, reg *registry.Registry, limits BackendLimits, model string, reasoningEffort string) (BackendRequest, error) {
	req := BackendRequest{
		Model:       model,
		Temperature: msg.Temperature,
		Stream:      msg.Stream,
	}

	if msg.System != "" {
		req.Messages = append(req.Messages, BackendMessage{Role: "system", Content: msg.System})
	}

	for _, turn := range msg.Turns {
		converted, err := convertTurn(turn)
		if err != nil {
			return BackendRequest{}, err
		}
		req.Messages = append(req.Messages, converted...)
	}

	if len(msg.Tools) > 0 {
		for _, e := range reg.ToolsForOS() {
			req.Tools = append(req.Tools, BackendFunctionTool{
				Name:        e.Name,
				Description: e.Description,
				Parameters:  e.Schema,
			})
		}
		req.ToolChoice = "auto"
	}

	req.MaxTokens = msg.MaxTokens
	if limits.MaxTokensCeiling > 0 && req.MaxTokens > limits.MaxTokensCeiling {
		req.MaxTokens = limits.MaxTokensCeiling
	}

	if limits.SupportsReasoning {
		req.ReasoningEffort = reasoningEffort
	}

	return req, nil
}

func convertTurn(t Turn) ([]BackendMessage, error) {
	if !t.HasBlocks() {
		return []BackendMessage{{Role: string(t.Role), Content: t.String}}, nil
	}

	var texts []string
	var toolCalls []ToolCall
	var toolResultMsgs []BackendMessage

	for _, b := range t.Blocks {
		switch b.Type {
		case BlockText:
			texts = append(texts, b.Text)
		case BlockToolUse:
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ToolUseID,
				Name:      b.ToolName,
				Arguments: string(b.ToolInput),
			})
		case BlockToolResult:
			content := b.ToolResultText
			toolResultMsgs = append(toolResultMsgs, BackendMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: b.ToolResultID,
			})
		default:
			return nil, apperr.New(apperr.InvalidClientRequest, fmt.Sprintf("unknown content block type %q", b.Type))
		}
	}

	if len(toolResultMsgs) > 0 {
		// tool_result blocks become their own messages; they never share
		// a message with text/tool_use content from the same turn.
		return toolResultMsgs, nil
	}

	msg := BackendMessage{
		Role:      string(t.Role),
		Content:   strings.Join(texts, "\n"),
		ToolCalls: toolCalls,
	}
	return []BackendMessage{msg}, nil
}

// ValidateToolResultReferences enforces that
// every tool_result id must match an earlier tool_use id in the same
// request.
func ValidateToolResultReferences(msg ClientMessage) error {
	seen := map[string]bool{}
	for _, turn := range msg.Turns {
		if !turn.HasBlocks() {
			continue
		}
		for _, b := range turn.Blocks {
			switch b.Type {
			case BlockToolUse:
				seen[b.ToolUseID] = true
			case BlockToolResult:
				if !seen[b.ToolResultID] {
					return apperr.New(apperr.InvalidClientRequest, fmt.Sprintf("tool_result references unknown tool_use id %q", b.ToolResultID))
				}
			}
		}
	}
	return nil
}
