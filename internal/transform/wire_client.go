package transform

import (
	"encoding/json"
	"fmt"

	"github.com/halvorsen-dev/claude-relay/internal/apperr"
)

// clientWireMessage mirrors the client's `POST /v1/messages` body, per
// the Anthropic messages request body. Content is decoded manually since it is either a plain
// string or an array of typed blocks.
type clientWireMessage struct {
	Model       string          `json:"model"`
	Messages    []clientWireTurn `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Tools       []ToolDeclaration `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type clientWireTurn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type clientWireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ParseClientMessage decodes a raw `POST /v1/messages` body into a
// ClientMessage. Unknown top-level fields are ignored, per §6.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var w clientWireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return ClientMessage{}, apperr.Wrap(apperr.InvalidClientRequest, "request body is not valid JSON", err)
	}
	if w.Model == "" {
		return ClientMessage{}, apperr.New(apperr.InvalidClientRequest, "model is required")
	}

	msg := ClientMessage{
		Model:       w.Model,
		Tools:       w.Tools,
		MaxTokens:   w.MaxTokens,
		Temperature: w.Temperature,
		Stream:      w.Stream,
	}

	if len(w.System) > 0 {
		var sysStr string
		if err := json.Unmarshal(w.System, &sysStr); err == nil {
			msg.System = sysStr
		}
	}

	for _, t := range w.Messages {
		turn, err := parseWireTurn(t)
		if err != nil {
			return ClientMessage{}, err
		}
		if turn.Role == RoleSystem && !turn.HasBlocks() {
			// A turn of role "system" promotes the same as a top-level
			// system string, per §3.
			if msg.System == "" {
				msg.System = turn.String
			}
			continue
		}
		msg.Turns = append(msg.Turns, turn)
	}

	return msg, nil
}

func parseWireTurn(t clientWireTurn) (Turn, error) {
	turn := Turn{Role: Role(t.Role)}

	var asString string
	if err := json.Unmarshal(t.Content, &asString); err == nil {
		turn.String = asString
		return turn, nil
	}

	var blocks []clientWireBlock
	if err := json.Unmarshal(t.Content, &blocks); err != nil {
		return Turn{}, apperr.Wrap(apperr.InvalidClientRequest, "message content must be a string or an array of blocks", err)
	}

	for _, b := range blocks {
		block, err := parseWireBlock(b)
		if err != nil {
			return Turn{}, err
		}
		turn.Blocks = append(turn.Blocks, block)
	}
	if turn.Blocks == nil {
		turn.Blocks = []ContentBlock{}
	}
	return turn, nil
}

func parseWireBlock(b clientWireBlock) (ContentBlock, error) {
	switch BlockType(b.Type) {
	case BlockText:
		return ContentBlock{Type: BlockText, Text: b.Text}, nil
	case BlockToolUse:
		return ContentBlock{Type: BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}, nil
	case BlockToolResult:
		text, isErr := flattenToolResultContent(b.Content)
		if b.IsError {
			isErr = true
		}
		return ContentBlock{Type: BlockToolResult, ToolResultID: b.ToolUseID, ToolResultText: text, ToolResultIsError: isErr}, nil
	default:
		return ContentBlock{}, apperr.New(apperr.InvalidClientRequest, fmt.Sprintf("unknown content block type %q", b.Type))
	}
}

// flattenToolResultContent handles a tool_result's outcome body, which is
// either a plain string or a short list of text blocks, per §3.
func flattenToolResultContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, false
	}
	var blocks []clientWireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		text := ""
		for _, b := range blocks {
			if b.Type == "text" || b.Type == "" {
				text += b.Text
			}
		}
		return text, false
	}
	return string(raw), false
}

// RenderFinal renders a FinalMessage into the client's non-streaming
// success body, per §6.
func RenderFinal(id string, final FinalMessage) map[string]any {
	content := make([]map[string]any, 0, len(final.Content))
	for _, b := range final.Content {
		content = append(content, renderBlock(b))
	}
	return map[string]any{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"stop_reason": final.StopReason,
		"usage": map[string]any{
			"input_tokens":  final.Usage.InputTokens,
			"output_tokens": final.Usage.OutputTokens,
		},
	}
}

func renderBlock(b ContentBlock) map[string]any {
	switch b.Type {
	case BlockText:
		return map[string]any{"type": "text", "text": b.Text}
	case BlockToolUse:
		var input any = map[string]any{}
		if len(b.ToolInput) > 0 {
			_ = json.Unmarshal(b.ToolInput, &input)
		}
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": input}
	case BlockToolResult:
		m := map[string]any{"type": "tool_result", "tool_use_id": b.ToolResultID, "content": b.ToolResultText}
		if b.ToolResultIsError {
			m["is_error"] = true
		}
		return m
	default:
		return map[string]any{"type": string(b.Type)}
	}
}
