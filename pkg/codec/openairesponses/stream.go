package openairesponses

import (
	"encoding/json"
	"strconv"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/internal/jsonscan"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

type wireStreamEvent struct {
	Type        string          `json:"type"`
	OutputIndex int             `json:"output_index"`
	Delta       string          `json:"delta"`
	Item        *wireOutputItem `json:"item"`
	Response    *wireResponse   `json:"response"`
	Message     string          `json:"message"`
}

// DecodeStreamData decodes one Responses SSE event into canonical events
// via full deserialization. The SSE event name takes precedence over the
// payload's type field when both are present. Returns false when the
// payload is not a decodable event.
func DecodeStreamData(eventType string, data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	if string(data) == sse.DoneData {
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
		return true
	}

	var ev wireStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	if eventType == "" {
		eventType = ev.Type
	}

	switch eventType {
	case "response.created":
		*out = append(*out, canonical.StreamEvent{
			Type: canonical.EventMessageStart,
			Role: canonical.RoleAssistant,
		})
		return true

	case "response.in_progress", "response.content_part.added",
		"response.content_part.done", "response.output_text.done",
		"response.function_call_arguments.done":
		// Known event types with no canonical equivalent.
		return true

	case "response.output_text.delta":
		if ev.Delta != "" {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: ev.Delta})
		}
		return true

	case "response.function_call_arguments.delta":
		*out = append(*out, canonical.StreamEvent{
			Type:  canonical.EventToolCallArgsDelta,
			Index: ev.OutputIndex,
			Delta: ev.Delta,
		})
		return true

	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventToolCallStart,
				Index: ev.OutputIndex,
				ID:    ev.Item.CallID,
				Name:  ev.Item.Name,
			})
		}
		return true

	case "response.output_item.done":
		if ev.Item == nil {
			return true
		}
		switch ev.Item.Type {
		case "function_call":
			*out = append(*out, canonical.StreamEvent{
				Type:     canonical.EventToolCallEnd,
				Index:    ev.OutputIndex,
				CallID:   ev.Item.CallID,
				CallName: ev.Item.Name,
			})
		case "function_call_output":
			*out = append(*out, canonical.StreamEvent{
				Type:       canonical.EventToolResult,
				ToolCallID: ev.Item.CallID,
				Content:    ev.Item.Output,
			})
		}
		return true

	case "response.completed":
		if ev.Response == nil {
			*out = append(*out,
				canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: canonical.StopEndOfTurn},
				canonical.StreamEvent{Type: canonical.EventDone},
			)
			return true
		}
		if emitUsage && ev.Response.Usage != nil {
			usage := canonical.Usage{
				InputTokens:  canonical.Uint64Ptr(ev.Response.Usage.InputTokens),
				OutputTokens: canonical.Uint64Ptr(ev.Response.Usage.OutputTokens),
				TotalTokens:  ev.Response.Usage.TotalTokens,
			}
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventUsage,
				Usage: canonical.NormalizeUsage(usage),
			})
		}
		stopReason := canonical.StopEndOfTurn
		for _, item := range ev.Response.Output {
			if item.Type == "function_call" || item.Type == "function_call_output" {
				stopReason = canonical.StopToolCalls
				break
			}
		}
		*out = append(*out,
			canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: stopReason},
			canonical.StreamEvent{Type: canonical.EventDone},
		)
		return true

	case "error":
		*out = append(*out, canonical.StreamEvent{
			Type:    canonical.EventError,
			Status:  500,
			Message: ev.Message,
		})
		return true

	default:
		return false
	}
}

// StreamEncoder encodes canonical events as Responses SSE frames for
// Responses clients. It tracks per-call tool-result sequence numbers so
// repeated tool results get unique `fco_{call_id}_{seq}` item ids.
type StreamEncoder struct {
	model         string
	responseID    string
	toolResultSeq map[string]int
}

// NewStreamEncoder creates an encoder for one response stream.
func NewStreamEncoder(model, responseID string) *StreamEncoder {
	return &StreamEncoder{
		model:         model,
		responseID:    responseID,
		toolResultSeq: make(map[string]int),
	}
}

// Encode renders one canonical event. Standalone Usage, MessageEnd, and
// ReasoningDelta have no Responses frame: usage and completion ride on
// response.completed, which is emitted for Done.
func (e *StreamEncoder) Encode(ev *canonical.StreamEvent) (string, bool) {
	switch ev.Type {
	case canonical.EventMessageStart:
		return sse.EncodeEventFrame("response.created",
			e.envelope("response.created", "in_progress")), true

	case canonical.EventTextDelta:
		buf := make([]byte, 0, 96+len(ev.Text))
		buf = append(buf, `{"type":"response.output_text.delta","output_index":0,"content_index":0,"delta":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Text)
		buf = append(buf, '}')
		return sse.EncodeEventFrame("response.output_text.delta", string(buf)), true

	case canonical.EventToolCallStart:
		buf := make([]byte, 0, 128+len(ev.ID)+len(ev.Name))
		buf = append(buf, `{"type":"response.output_item.added","output_index":`...)
		buf = strconv.AppendInt(buf, int64(ev.Index), 10)
		buf = append(buf, `,"item":{"type":"function_call","id":"fc_`...)
		buf = strconv.AppendInt(buf, int64(ev.Index), 10)
		buf = append(buf, `","call_id":`...)
		buf = jsonscan.AppendJSONString(buf, ev.ID)
		buf = append(buf, `,"name":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Name)
		buf = append(buf, `,"arguments":""}}`...)
		return sse.EncodeEventFrame("response.output_item.added", string(buf)), true

	case canonical.EventToolCallArgsDelta:
		buf := make([]byte, 0, 96+len(ev.Delta))
		buf = append(buf, `{"type":"response.function_call_arguments.delta","output_index":`...)
		buf = strconv.AppendInt(buf, int64(ev.Index), 10)
		buf = append(buf, `,"delta":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Delta)
		buf = append(buf, '}')
		return sse.EncodeEventFrame("response.function_call_arguments.delta", string(buf)), true

	case canonical.EventToolCallEnd:
		buf := make([]byte, 0, 128+len(ev.CallID)+len(ev.CallName))
		buf = append(buf, `{"type":"response.output_item.done","output_index":`...)
		buf = strconv.AppendInt(buf, int64(ev.Index), 10)
		buf = append(buf, `,"item":{"type":"function_call","id":"fc_`...)
		buf = strconv.AppendInt(buf, int64(ev.Index), 10)
		buf = append(buf, `","call_id":`...)
		buf = jsonscan.AppendJSONString(buf, ev.CallID)
		buf = append(buf, `,"name":`...)
		buf = jsonscan.AppendJSONString(buf, ev.CallName)
		buf = append(buf, `,"arguments":""}}`...)
		return sse.EncodeEventFrame("response.output_item.done", string(buf)), true

	case canonical.EventToolResult:
		seq := e.nextToolResultSeq(ev.ToolCallID)
		buf := make([]byte, 0, 160+len(ev.ToolCallID)*2+len(ev.Content))
		buf = append(buf, `{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call_output","id":"fco_`...)
		buf = append(buf, ev.ToolCallID...)
		buf = append(buf, '_')
		buf = strconv.AppendInt(buf, int64(seq), 10)
		buf = append(buf, `","call_id":`...)
		buf = jsonscan.AppendJSONString(buf, ev.ToolCallID)
		buf = append(buf, `,"output":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Content)
		buf = append(buf, "}}"...)
		return sse.EncodeEventFrame("response.output_item.added", string(buf)), true

	case canonical.EventDone:
		return sse.EncodeEventFrame("response.completed",
			e.envelope("response.completed", "completed")), true

	case canonical.EventError:
		buf := make([]byte, 0, 40+len(ev.Message))
		buf = append(buf, `{"type":"error","message":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Message)
		buf = append(buf, '}')
		return sse.EncodeEventFrame("error", string(buf)), true

	default:
		return "", false
	}
}

func (e *StreamEncoder) envelope(eventType, status string) string {
	buf := make([]byte, 0, 96+len(e.model)+len(e.responseID))
	buf = append(buf, `{"type":`...)
	buf = jsonscan.AppendJSONString(buf, eventType)
	buf = append(buf, `,"response":{"id":`...)
	buf = jsonscan.AppendJSONString(buf, e.responseID)
	buf = append(buf, `,"object":"response","model":`...)
	buf = jsonscan.AppendJSONString(buf, e.model)
	buf = append(buf, `,"output":[],"status":`...)
	buf = jsonscan.AppendJSONString(buf, status)
	buf = append(buf, "}}"...)
	return string(buf)
}

func (e *StreamEncoder) nextToolResultSeq(toolCallID string) int {
	if seq, ok := e.toolResultSeq[toolCallID]; ok {
		e.toolResultSeq[toolCallID] = seq + 1
		return seq + 1
	}
	e.toolResultSeq[toolCallID] = 0
	return 0
}
