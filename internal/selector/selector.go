// Package selector implements the content-based model and reasoning-effort
// pick. The selector is a pure function of
// its inputs: no I/O, no clock, no config lookups beyond the backend model
// set it was built with.
package selector

import "strings"

// ReasoningEffort is the coarse hint forwarded to backends that support it.
type ReasoningEffort string

const (
	EffortNone   ReasoningEffort = ""
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

// Models names the backend-specific model identifiers the Selector picks
// between. Built once at startup from the active Adapter's configuration.
type Models struct {
	WebSearch   string // only used if WebSearchCapable is true
	HighReason  string
	FastCoding  string
	General     string
	LongContext string
}

// Selection is the Selector's output.
type Selection struct {
	ModelID           string
	ReasoningEffort   ReasoningEffort
	WebSearchRequired bool
}

var highReasoningModelMarkers = []string{"opus", "reasoning", "think"}

var reasoningKeywords = []string{
	"analyse", "analyze", "prove", "derive", "explain why", "design",
	"architecture", "trade-off", "tradeoff", "complexity", "proof", "theorem",
}

var codingKeywords = []string{
	"code", "function", "compile", "refactor", "bug", "stack trace", "test", "lint", "repo",
}

var webSearchToolNames = map[string]bool{
	"web_search":     true,
	"browser_search": true,
}

// Select implements the deterministic priority order: web-search tool
// presence, then high-reasoning model markers in the declared model
// string, then reasoning keywords, then long context, then coding
// keywords, then default. Long context is checked before coding keywords
// so a request that both exceeds the threshold and mentions a coding
// keyword still routes to the long-context model.
func Select(models Models, webSearchCapable bool, clientModel string, userText string, toolNames []string, inputTokens int, longContextThreshold int) Selection {
	lowerText := strings.ToLower(userText)
	lowerModel := strings.ToLower(clientModel)

	if webSearchCapable {
		for _, name := range toolNames {
			if webSearchToolNames[name] {
				return Selection{ModelID: models.WebSearch, ReasoningEffort: EffortNone, WebSearchRequired: true}
			}
		}
	}

	for _, marker := range highReasoningModelMarkers {
		if strings.Contains(lowerModel, marker) {
			return Selection{ModelID: models.HighReason, ReasoningEffort: EffortHigh}
		}
	}

	for _, kw := range reasoningKeywords {
		if strings.Contains(lowerText, kw) {
			return Selection{ModelID: models.HighReason, ReasoningEffort: EffortHigh}
		}
	}

	if longContextThreshold > 0 && inputTokens > longContextThreshold && models.LongContext != "" {
		return Selection{ModelID: models.LongContext, ReasoningEffort: EffortMedium}
	}

	for _, kw := range codingKeywords {
		if strings.Contains(lowerText, kw) {
			return Selection{ModelID: models.FastCoding, ReasoningEffort: EffortMedium}
		}
	}

	return Selection{ModelID: models.General, ReasoningEffort: EffortMedium}
}
