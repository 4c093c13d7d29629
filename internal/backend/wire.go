package backend

import (
	"encoding/json"

	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

// wireRequest is the OpenAI-style chat-completion request body, per
// the backend's OpenAI-compatible chat-completions endpoint.
type wireRequest struct {
	Model           string          `json:"model"`
	Messages        []wireMessage   `json:"messages"`
	Tools           []wireTool      `json:"tools,omitempty"`
	ToolChoice      string          `json:"tool_choice,omitempty"`
	MaxTokens       int             `json:"max_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	Stream          bool            `json:"stream"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func toWireRequest(req transform.BackendRequest) wireRequest {
	wr := wireRequest{
		Model:           req.Model,
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		Stream:          req.Stream,
		ToolChoice:      req.ToolChoice,
		ReasoningEffort: req.ReasoningEffort,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		wr.Messages = append(wr.Messages, wm)
	}
	for _, t := range req.Tools {
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return wr
}

// wireResponse is a whole, non-streaming chat-completion response.
type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
}

type wireChoice struct {
	Message      wireResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type wireResponseMessage struct {
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func decodeResponse(raw []byte) (transform.BackendResponse, error) {
	var wr wireResponse
	if err := json.Unmarshal(raw, &wr); err != nil {
		return transform.BackendResponse{}, err
	}
	var resp transform.BackendResponse
	for _, c := range wr.Choices {
		choice := transform.BackendChoice{
			Content:      c.Message.Content,
			FinishReason: c.FinishReason,
		}
		for _, tc := range c.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, transform.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	if wr.Usage != nil {
		resp.Usage = transform.BackendUsage{
			InputTokens:  wr.Usage.PromptTokens,
			OutputTokens: wr.Usage.CompletionTokens,
		}
	}
	return resp, nil
}

// wireStreamChunk is one SSE `data:` payload of a streaming response.
type wireStreamChunk struct {
	Choices []wireStreamChoice `json:"choices"`
	Usage   *wireUsage         `json:"usage,omitempty"`
}

type wireStreamChoice struct {
	Delta        wireStreamDelta `json:"delta"`
	FinishReason string          `json:"finish_reason"`
}

type wireStreamDelta struct {
	Content   string              `json:"content,omitempty"`
	ToolCalls []wireStreamToolCall `json:"tool_calls,omitempty"`
}

type wireStreamToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Function wireFunctionCall `json:"function"`
}

func decodeStreamChunk(raw []byte) (transform.BackendStreamDelta, error) {
	var wc wireStreamChunk
	if err := json.Unmarshal(raw, &wc); err != nil {
		return transform.BackendStreamDelta{}, err
	}
	var out transform.BackendStreamDelta
	if len(wc.Choices) > 0 {
		choice := wc.Choices[0]
		out.ContentDelta = choice.Delta.Content
		out.FinishReason = choice.FinishReason
		for _, tc := range choice.Delta.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, transform.StreamToolCallDelta{
				Index:             tc.Index,
				ID:                tc.ID,
				Name:              tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
			})
		}
	}
	if wc.Usage != nil {
		out.Usage = &transform.BackendUsage{
			InputTokens:  wc.Usage.PromptTokens,
			OutputTokens: wc.Usage.CompletionTokens,
		}
	}
	return out, nil
}
