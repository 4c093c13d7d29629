package transform

import (
	"hash/fnv"
	"encoding/json"
	"fmt"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
)

// StopReason is the client-visible terminal state of a turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopError     StopReason = "error"
)

// FinalMessage is the assistant turn ToClientFinal produces, ready to be
// rendered as the non-streaming HTTP response body.
type FinalMessage struct {
	Content    []ContentBlock
	StopReason StopReason
	Usage      BackendUsage
}

// ConvertFinishReason maps a backend finish reason to the client's stop
// reason.
func ConvertFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	default:
		return StopEndTurn
	}
}

// ToClientFinal converts a whole backend response into the client's
// message shape. Only the first choice is used.
func ToClientFinal(resp BackendResponse, reg *registry.Registry) (FinalMessage, error) {
	if len(resp.Choices) == 0 {
		return FinalMessage{StopReason: StopEndTurn}, nil
	}
	choice := resp.Choices[0]

	var blocks []ContentBlock
	if choice.Content != "" {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: choice.Content})
	}

	for _, tc := range choice.ToolCalls {
		block, err := toolCallToBlock(tc, reg)
		if err != nil {
			return FinalMessage{}, err
		}
		blocks = append(blocks, block)
	}

	return FinalMessage{
		Content:    blocks,
		StopReason: ConvertFinishReason(choice.FinishReason),
		Usage:      resp.Usage,
	}, nil
}

// toolCallToBlock parses a backend tool call's argument string, applies
// the Registry's canonicalisation, and produces a tool_use block with a
// stable, retry-safe id. On JSON parse failure the whole call degrades to
// a text block carrying the raw string, per §4.2's parse_error handling.
// A call whose arguments still fail Registry validation after
// normalisation (InvalidArgs) self-heals into an is_error tool_result
// rather than rejecting the response, so the model can correct itself on
// its next turn.
func toolCallToBlock(tc ToolCall, reg *registry.Registry) (ContentBlock, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &raw); err != nil {
		return ContentBlock{Type: BlockText, Text: tc.Arguments}, nil
	}

	canonicalName, canonicalArgs, err := reg.CanonicalArgs(tc.Name, raw)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.InvalidArgs {
			return selfHealInvalidArgs(tc), nil
		}
		return ContentBlock{}, err
	}

	inputJSON, err := json.Marshal(canonicalArgs)
	if err != nil {
		return ContentBlock{}, err
	}

	return ContentBlock{
		Type:      BlockToolUse,
		ToolUseID: StableToolUseID(tc.ID),
		ToolName:  reg.ReverseToolName(canonicalName),
		ToolInput: inputJSON,
	}, nil
}

// selfHealInvalidArgs rewrites a tool call whose arguments the Registry
// rejected into an is_error=true tool_result carrying the raw arguments
// as text, addressed to the call's own stable id, per §7's InvalidArgs
// handling.
func selfHealInvalidArgs(tc ToolCall) ContentBlock {
	return ContentBlock{
		Type:              BlockToolResult,
		ToolResultID:      StableToolUseID(tc.ID),
		ToolResultText:    tc.Arguments,
		ToolResultIsError: true,
	}
}

// StableToolUseID derives a client-visible tool_use id from a backend call
// id via a stable hash, so the same backend id always produces the same
// client id across retries.
func StableToolUseID(backendID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(backendID))
	return fmt.Sprintf("call_%016x", h.Sum64())
}
