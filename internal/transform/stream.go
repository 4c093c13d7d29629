package transform

import (
	"encoding/json"

	"github.com/halvorsen-dev/claude-relay/internal/registry"
)

// toolAccum is the per-call accumulator state: not-yet-parseable vs
// parsed-once, matching the design note on mid-stream partial JSON
// accumulation — an explicit state machine, not an ambient buffer.
type toolAccum struct {
	clientIndex int
	id          string
	name        string
	argBuffer   string
	started     bool // content_block_start emitted
	parsedOnce  bool
	stopped     bool
}

// StreamAccumulator holds the small per-stream state needed to translate a
// sequence of backend deltas into client-shaped events. One instance per
// in-flight streaming request; never shared across requests.
type StreamAccumulator struct {
	reg *registry.Registry

	messageStarted bool
	nextIndex      int

	textBlockIndex int
	textBlockOpen  bool

	toolsByBackendIndex map[int]*toolAccum
	openOrder           []int // client indices, in the order their blocks opened

	finished bool
}

// NewStreamAccumulator constructs a fresh accumulator for one streaming
// request.
func NewStreamAccumulator(reg *registry.Registry) *StreamAccumulator {
	return &StreamAccumulator{
		reg:                 reg,
		textBlockIndex:      -1,
		toolsByBackendIndex: make(map[int]*toolAccum),
	}
}

// ToClientStream feeds one backend delta through the accumulator and
// returns the client events it produces, in emission order.
func (s *StreamAccumulator) ToClientStream(delta BackendStreamDelta) ([]ClientEvent, error) {
	if s.finished {
		return nil, nil
	}

	var events []ClientEvent

	if !s.messageStarted {
		s.messageStarted = true
		events = append(events, ClientEvent{
			Event: "message_start",
			Data: map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"type":    "message",
					"role":    "assistant",
					"content": []any{},
				},
			},
		})
	}

	if delta.ContentDelta != "" {
		if !s.textBlockOpen {
			s.textBlockIndex = s.nextIndex
			s.nextIndex++
			s.textBlockOpen = true
			s.openOrder = append(s.openOrder, s.textBlockIndex)
			events = append(events, contentBlockStart(s.textBlockIndex, map[string]any{
				"type": "text",
				"text": "",
			}))
		}
		events = append(events, ClientEvent{
			Event: "content_block_delta",
			Data: map[string]any{
				"type":  "content_block_delta",
				"index": s.textBlockIndex,
				"delta": map[string]any{
					"type": "text_delta",
					"text": delta.ContentDelta,
				},
			},
		})
	}

	for _, tcDelta := range delta.ToolCalls {
		evts, err := s.applyToolDelta(tcDelta)
		if err != nil {
			return nil, err
		}
		events = append(events, evts...)
	}

	if delta.FinishReason != "" {
		closeEvents := s.closeAllOpenBlocks()
		events = append(events, closeEvents...)

		usage := BackendUsage{}
		if delta.Usage != nil {
			usage = *delta.Usage
		}
		events = append(events, ClientEvent{
			Event: "message_delta",
			Data: map[string]any{
				"type": "message_delta",
				"delta": map[string]any{
					"stop_reason": ConvertFinishReason(delta.FinishReason),
				},
				"usage": map[string]any{
					"input_tokens":  usage.InputTokens,
					"output_tokens": usage.OutputTokens,
				},
			},
		})
		events = append(events, ClientEvent{Event: "message_stop", Data: map[string]any{"type": "message_stop"}})
		s.finished = true
	}

	return events, nil
}

func (s *StreamAccumulator) applyToolDelta(d StreamToolCallDelta) ([]ClientEvent, error) {
	acc, ok := s.toolsByBackendIndex[d.Index]
	if !ok {
		acc = &toolAccum{clientIndex: -1}
		s.toolsByBackendIndex[d.Index] = acc
	}
	if d.ID != "" {
		acc.id = d.ID
	}
	if d.Name != "" {
		acc.name = d.Name
	}
	acc.argBuffer += d.ArgumentsFragment

	var events []ClientEvent

	if !acc.started && acc.id != "" && acc.name != "" {
		if s.textBlockOpen {
			events = append(events, contentBlockStop(s.textBlockIndex))
			s.textBlockOpen = false
		}
		acc.clientIndex = s.nextIndex
		s.nextIndex++
		s.openOrder = append(s.openOrder, acc.clientIndex)
		acc.started = true
		events = append(events, contentBlockStart(acc.clientIndex, map[string]any{
			"type":  "tool_use",
			"id":    acc.id,
			"name":  s.reg.ReverseToolName(acc.name),
			"input": map[string]any{},
		}))
	}

	if acc.started && !acc.parsedOnce {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(acc.argBuffer), &parsed); err == nil {
			acc.parsedOnce = true
			events = append(events, ClientEvent{
				Event: "content_block_delta",
				Data: map[string]any{
					"type":  "content_block_delta",
					"index": acc.clientIndex,
					"delta": map[string]any{
						"type":         "input_json_delta",
						"partial_json": s.canonicalArgsJSON(acc.name, parsed, acc.argBuffer),
					},
				},
			})
		}
	}

	return events, nil
}

// canonicalArgsJSON applies the Registry's rename/normalisation pass to a
// tool call's fully-parsed argument buffer, mirroring toolCallToBlock's
// non-streaming counterpart so a streamed tool_use carries the same
// canonical input a client would get from the non-streaming path. A call
// that still fails validation after normalisation (InvalidArgs) has
// already committed to a tool_use block on the wire by this point, so it
// falls back to the raw accumulated buffer rather than retroactively
// rewriting the block into a tool_result; InvalidArgs self-healing is
// only defined for the non-streaming path.
func (s *StreamAccumulator) canonicalArgsJSON(toolName string, parsed map[string]any, rawBuffer string) string {
	_, canonicalArgs, err := s.reg.CanonicalArgs(toolName, parsed)
	if err != nil {
		return rawBuffer
	}
	marshaled, err := json.Marshal(canonicalArgs)
	if err != nil {
		return rawBuffer
	}
	return string(marshaled)
}

func (s *StreamAccumulator) closeAllOpenBlocks() []ClientEvent {
	var events []ClientEvent
	if s.textBlockOpen {
		events = append(events, contentBlockStop(s.textBlockIndex))
		s.textBlockOpen = false
	}
	for _, idx := range s.openOrder {
		for _, acc := range s.toolsByBackendIndex {
			if acc.clientIndex == idx && acc.started && !acc.stopped {
				acc.stopped = true
				events = append(events, contentBlockStop(idx))
			}
		}
	}
	return events
}

func contentBlockStart(index int, block map[string]any) ClientEvent {
	return ClientEvent{
		Event: "content_block_start",
		Data: map[string]any{
			"type":          "content_block_start",
			"index":         index,
			"content_block": block,
		},
	}
}

func contentBlockStop(index int) ClientEvent {
	return ClientEvent{
		Event: "content_block_stop",
		Data: map[string]any{
			"type":  "content_block_stop",
			"index": index,
		},
	}
}
