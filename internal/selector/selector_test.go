package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testModels = Models{
	WebSearch:   "search-model",
	HighReason:  "high-model",
	FastCoding:  "fast-model",
	General:     "general-model",
	LongContext: "long-model",
}

func TestSelect_WebSearchTakesPriority(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "please architect a system", []string{"web_search"}, 10, 60000)
	assert.Equal(t, "search-model", sel.ModelID)
	assert.True(t, sel.WebSearchRequired)
	assert.Equal(t, EffortNone, sel.ReasoningEffort)
}

func TestSelect_WebSearchIgnoredIfBackendNotCapable(t *testing.T) {
	sel := Select(testModels, false, "claude-3-5-sonnet", "hello", []string{"web_search"}, 10, 60000)
	assert.False(t, sel.WebSearchRequired)
	assert.Equal(t, "general-model", sel.ModelID)
}

func TestSelect_HighReasoningModelMarker(t *testing.T) {
	sel := Select(testModels, true, "claude-opus-4", "hello", nil, 10, 60000)
	assert.Equal(t, "high-model", sel.ModelID)
	assert.Equal(t, EffortHigh, sel.ReasoningEffort)
}

func TestSelect_ReasoningKeyword(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "please explain why this trade-off matters", nil, 10, 60000)
	assert.Equal(t, "high-model", sel.ModelID)
	assert.Equal(t, EffortHigh, sel.ReasoningEffort)
}

func TestSelect_CodingKeyword(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "fix this bug in the function", nil, 10, 60000)
	assert.Equal(t, "fast-model", sel.ModelID)
	assert.Equal(t, EffortMedium, sel.ReasoningEffort)
}

func TestSelect_LongContextBeforeDefault(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "hi there", nil, 70000, 60000)
	assert.Equal(t, "long-model", sel.ModelID)
}

// TestSelect_LongContextBeatsCodingKeyword covers a request that both
// exceeds the long-context threshold and mentions a coding keyword: long
// context must win, since it is checked first.
func TestSelect_LongContextBeatsCodingKeyword(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "fix this bug in the function", nil, 70000, 60000)
	assert.Equal(t, "long-model", sel.ModelID)
}

func TestSelect_Default(t *testing.T) {
	sel := Select(testModels, true, "claude-3-5-sonnet", "hi there", nil, 10, 60000)
	assert.Equal(t, "general-model", sel.ModelID)
	assert.Equal(t, EffortMedium, sel.ReasoningEffort)
}

// TestSelect_Deterministic covers that identical inputs always route identically.
func TestSelect_Deterministic(t *testing.T) {
	a := Select(testModels, true, "claude-3-5-sonnet", "refactor this repo", []string{"read_file"}, 100, 60000)
	b := Select(testModels, true, "claude-3-5-sonnet", "refactor this repo", []string{"read_file"}, 100, 60000)
	assert.Equal(t, a, b)
}
