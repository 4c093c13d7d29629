package proxyserver

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/halvorsen-dev/claude-relay/internal/transform"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

// countInputTokens estimates the request's input token count using the
// cl100k_base encoding, the same approximation used for
// its long-context routing decision. It is an estimate, not an exact count
// of what the backend will bill: backends use their own tokenizers.
func countInputTokens(msg transform.ClientMessage) int {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil || encoding == nil {
		return 0
	}

	total := 0
	if msg.System != "" {
		total += len(encoding.Encode(msg.System, nil, nil))
	}
	for _, turn := range msg.Turns {
		if !turn.HasBlocks() {
			total += len(encoding.Encode(turn.String, nil, nil))
			continue
		}
		for _, b := range turn.Blocks {
			switch b.Type {
			case transform.BlockText:
				total += len(encoding.Encode(b.Text, nil, nil))
			case transform.BlockToolResult:
				total += len(encoding.Encode(b.ToolResultText, nil, nil))
			}
		}
	}
	return total
}
