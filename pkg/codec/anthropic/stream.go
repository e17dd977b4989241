package anthropic

import (
	"encoding/json"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

// StreamDecoder decodes Anthropic SSE events into canonical events. It is
// stateful: content_block_start records whether each index opened a
// tool_use block, so content_block_stop knows whether to emit ToolCallEnd.
// One decoder instance is bound to a single response stream.
type StreamDecoder struct {
	toolBlocks map[int]bool
}

// NewStreamDecoder creates a decoder for one response stream.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{toolBlocks: make(map[int]bool)}
}

// MarkBlockType records a block type observed by an external fast-path
// decoder so content_block_stop handling stays consistent.
func (d *StreamDecoder) MarkBlockType(index int, isTool bool) {
	d.toolBlocks[index] = isTool
}

// BlockStop consumes a content_block_stop for index, emitting ToolCallEnd
// when the block was a tool_use block.
func (d *StreamDecoder) BlockStop(index int, out *[]canonical.StreamEvent) {
	isTool := d.toolBlocks[index]
	delete(d.toolBlocks, index)
	if isTool {
		*out = append(*out, canonical.StreamEvent{
			Type:  canonical.EventToolCallEnd,
			Index: index,
		})
	}
}

type wireStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	ContentBlock *wireContentBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Message *struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Usage *wireUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decode consumes one SSE event (type + data payload) and appends the
// canonical events it carries. Unknown event types decode to nothing.
func (d *StreamDecoder) Decode(eventType string, data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	var ev wireStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	if eventType == "" {
		eventType = ev.Type
	}

	switch eventType {
	case "message_start":
		*out = append(*out, canonical.StreamEvent{
			Type: canonical.EventMessageStart,
			Role: canonical.RoleAssistant,
		})
		if emitUsage && ev.Message != nil &&
			(ev.Message.Usage.InputTokens > 0 || ev.Message.Usage.OutputTokens > 0) {
			*out = append(*out, usageEvent(ev.Message.Usage))
		}
		return true

	case "content_block_start":
		block := ev.ContentBlock
		if block == nil {
			return true
		}
		switch block.Type {
		case "tool_use":
			d.toolBlocks[ev.Index] = true
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventToolCallStart,
				Index: ev.Index,
				ID:    block.ID,
				Name:  block.Name,
			})
		case "text":
			d.toolBlocks[ev.Index] = false
			if block.Text != "" {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: block.Text})
			}
		case "thinking":
			d.toolBlocks[ev.Index] = false
			if block.Thinking != "" {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventReasoningDelta, Text: block.Thinking})
			}
		default:
			d.toolBlocks[ev.Index] = false
		}
		return true

	case "content_block_delta":
		if ev.Delta == nil {
			return true
		}
		switch ev.Delta.Type {
		case "text_delta":
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: ev.Delta.Text})
		case "thinking_delta":
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventReasoningDelta, Text: ev.Delta.Thinking})
		case "input_json_delta":
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventToolCallArgsDelta,
				Index: ev.Index,
				Delta: ev.Delta.PartialJSON,
			})
		}
		return true

	case "content_block_stop":
		d.BlockStop(ev.Index, out)
		return true

	case "message_delta":
		if emitUsage && ev.Usage != nil {
			*out = append(*out, usageEvent(*ev.Usage))
		}
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			*out = append(*out, canonical.StreamEvent{
				Type:       canonical.EventMessageEnd,
				StopReason: canonical.AnthropicStopToCanonical(ev.Delta.StopReason),
			})
		}
		return true

	case "message_stop":
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
		return true

	case "error":
		message := ""
		if ev.Error != nil {
			message = ev.Error.Message
		}
		*out = append(*out, canonical.StreamEvent{
			Type:    canonical.EventError,
			Status:  500,
			Message: message,
		})
		return true

	case "ping":
		return true

	default:
		return false
	}
}

func usageEvent(u wireUsage) canonical.StreamEvent {
	return canonical.StreamEvent{
		Type: canonical.EventUsage,
		Usage: canonical.NormalizeUsage(canonical.Usage{
			InputTokens:  canonical.Uint64Ptr(u.InputTokens),
			OutputTokens: canonical.Uint64Ptr(u.OutputTokens),
		}),
	}
}

// EncodeStreamEvent encodes a canonical stream event as an Anthropic SSE
// frame. Standalone Usage events have no Anthropic representation; the
// caller suppresses them before reaching this encoder.
func EncodeStreamEvent(ev *canonical.StreamEvent, model, responseID string) (string, bool) {
	switch ev.Type {
	case canonical.EventMessageStart:
		data := map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            responseID,
				"type":          "message",
				"role":          "assistant",
				"model":         model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}
		return encodeFrame("message_start", data)

	case canonical.EventTextDelta:
		data := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		}
		return encodeFrame("content_block_delta", data)

	case canonical.EventReasoningDelta:
		data := map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Text},
		}
		return encodeFrame("content_block_delta", data)

	case canonical.EventToolCallStart:
		data := map[string]any{
			"type":  "content_block_start",
			"index": ev.Index,
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    ev.ID,
				"name":  ev.Name,
				"input": map[string]any{},
			},
		}
		return encodeFrame("content_block_start", data)

	case canonical.EventToolCallArgsDelta:
		data := map[string]any{
			"type":  "content_block_delta",
			"index": ev.Index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.Delta},
		}
		return encodeFrame("content_block_delta", data)

	case canonical.EventToolCallEnd:
		data := map[string]any{"type": "content_block_stop", "index": ev.Index}
		return encodeFrame("content_block_stop", data)

	case canonical.EventToolResult:
		data := map[string]any{
			"type":  "content_block_start",
			"index": 0,
			"content_block": map[string]any{
				"type":        "tool_result",
				"tool_use_id": ev.ToolCallID,
				"content":     ev.Content,
			},
		}
		return encodeFrame("content_block_start", data)

	case canonical.EventMessageEnd:
		outputTokens := uint64(0)
		if ev.Usage.OutputTokens != nil {
			outputTokens = *ev.Usage.OutputTokens
		}
		data := map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   canonical.CanonicalStopToAnthropic(ev.StopReason),
				"stop_sequence": nil,
			},
			"usage": map[string]any{"output_tokens": outputTokens},
		}
		return encodeFrame("message_delta", data)

	case canonical.EventDone:
		return encodeFrame("message_stop", map[string]any{"type": "message_stop"})

	case canonical.EventError:
		data := map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": ev.Message},
		}
		return encodeFrame("error", data)

	default:
		return "", false
	}
}

func encodeFrame(eventType string, data map[string]any) (string, bool) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", false
	}
	return sse.EncodeEventFrame(eventType, string(encoded)), true
}
