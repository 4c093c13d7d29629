package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halvorsen-dev/claude-relay/internal/config"
	"github.com/halvorsen-dev/claude-relay/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New(config.OSUnix)
	require.NoError(t, err)
	return r
}

// TestToBackend_PlainTextRoundTrip exercises the round-trip law from
// to_backend composed with to_client_final over a
// plain-text assistant turn is the identity on joined text, modulo
// whitespace.
func TestToBackend_PlainTextRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	msg := ClientMessage{
		Model: "claude-3-5-sonnet",
		Turns: []Turn{
			{Role: RoleUser, String: "Say hi."},
		},
		MaxTokens: 16,
	}

	req, err := ToBackend(msg, reg, BackendLimits{}, "some-model", "")
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Say hi.", req.Messages[0].Content)

	resp := BackendResponse{Choices: []BackendChoice{{Content: "hi", FinishReason: "stop"}}}
	final, err := ToClientFinal(resp, reg)
	require.NoError(t, err)
	require.Len(t, final.Content, 1)
	assert.Equal(t, "hi", final.Content[0].Text)
	assert.Equal(t, StopEndTurn, final.StopReason)
}

// TestToBackend_MaxTokensCapped checks the backend ceiling is respected.
func TestToBackend_MaxTokensCapped(t *testing.T) {
	reg := newTestRegistry(t)
	msg := ClientMessage{Model: "m", MaxTokens: 100000}
	req, err := ToBackend(msg, reg, BackendLimits{MaxTokensCeiling: 8192}, "m", "")
	require.NoError(t, err)
	assert.Equal(t, 8192, req.MaxTokens)
}

// TestToClientFinal_ToolRoundTrip covers a
// read_file call with a "path" argument renames to file_path.
func TestToClientFinal_ToolRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)
	resp := BackendResponse{
		Choices: []BackendChoice{{
			ToolCalls: []ToolCall{{ID: "call_abc", Name: "read_file", Arguments: `{"path":"/tmp/x"}`}},
			FinishReason: "tool_calls",
		}},
	}
	final, err := ToClientFinal(resp, reg)
	require.NoError(t, err)
	require.Len(t, final.Content, 1)
	block := final.Content[0]
	assert.Equal(t, BlockToolUse, block.Type)
	assert.Equal(t, "read_file", block.ToolName)
	assert.Equal(t, StopToolUse, final.StopReason)

	var input map[string]any
	require.NoError(t, json.Unmarshal(block.ToolInput, &input))
	assert.Equal(t, "/tmp/x", input["file_path"])
}

// TestToClientFinal_ParseErrorDegradesToText covers an unparseable tool
// call argument string.
func TestToClientFinal_ParseErrorDegradesToText(t *testing.T) {
	reg := newTestRegistry(t)
	resp := BackendResponse{
		Choices: []BackendChoice{{
			ToolCalls:    []ToolCall{{ID: "call_x", Name: "read_file", Arguments: `not json`}},
			FinishReason: "tool_calls",
		}},
	}
	final, err := ToClientFinal(resp, reg)
	require.NoError(t, err)
	require.Len(t, final.Content, 1)
	assert.Equal(t, BlockText, final.Content[0].Type)
	assert.Equal(t, "not json", final.Content[0].Text)
}

// TestToClientFinal_InvalidArgsSelfHeals covers a tool call missing a
// required argument after normalisation: the proxy must not reject the
// response, it must rewrite the call into an is_error tool_result
// carrying the raw arguments as text.
func TestToClientFinal_InvalidArgsSelfHeals(t *testing.T) {
	reg := newTestRegistry(t)
	resp := BackendResponse{
		Choices: []BackendChoice{{
			ToolCalls:    []ToolCall{{ID: "call_bad", Name: "edit_file", Arguments: `{"file_path":"/a","old_string":"a"}`}},
			FinishReason: "tool_calls",
		}},
	}
	final, err := ToClientFinal(resp, reg)
	require.NoError(t, err)
	require.Len(t, final.Content, 1)
	block := final.Content[0]
	assert.Equal(t, BlockToolResult, block.Type)
	assert.Equal(t, StableToolUseID("call_bad"), block.ToolResultID)
	assert.True(t, block.ToolResultIsError)
	assert.Equal(t, `{"file_path":"/a","old_string":"a"}`, block.ToolResultText)
	assert.Equal(t, StopToolUse, final.StopReason)
}

func TestConvertFinishReason(t *testing.T) {
	cases := map[string]StopReason{
		"stop":           StopEndTurn,
		"length":         StopMaxTokens,
		"tool_calls":     StopToolUse,
		"function_call":  StopToolUse,
		"content_filter": StopEndTurn,
		"":               StopEndTurn,
	}
	for reason, want := range cases {
		assert.Equal(t, want, ConvertFinishReason(reason), "reason=%q", reason)
	}
}

func TestStableToolUseID_DeterministicAcrossCalls(t *testing.T) {
	a := StableToolUseID("call_1")
	b := StableToolUseID("call_1")
	c := StableToolUseID("call_2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestValidateToolResultReferences(t *testing.T) {
	ok := ClientMessage{Turns: []Turn{
		{Role: RoleAssistant, Blocks: []ContentBlock{{Type: BlockToolUse, ToolUseID: "t1"}}},
		{Role: RoleUser, Blocks: []ContentBlock{{Type: BlockToolResult, ToolResultID: "t1"}}},
	}}
	assert.NoError(t, ValidateToolResultReferences(ok))

	bad := ClientMessage{Turns: []Turn{
		{Role: RoleUser, Blocks: []ContentBlock{{Type: BlockToolResult, ToolResultID: "missing"}}},
	}}
	assert.Error(t, ValidateToolResultReferences(bad))
}
