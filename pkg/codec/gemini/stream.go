package gemini

import (
	"encoding/json"
	"strconv"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/internal/jsonscan"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

// DecodeStreamData decodes one Gemini streamGenerateContent chunk into
// canonical events via full deserialization. Gemini function calls arrive
// whole in one chunk, so each becomes a synthetic
// ToolCallStart/ArgsDelta/ToolCallEnd triple. Returns false when the
// payload is not a decodable chunk.
func DecodeStreamData(data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	if string(data) == sse.DoneData {
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
		return true
	}

	var chunk wireResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return false
	}
	if len(chunk.Candidates) == 0 && chunk.UsageMetadata == nil {
		return false
	}

	hasToolCalls := false
	for _, candidate := range chunk.Candidates {
		for _, part := range candidate.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				hasToolCalls = true
				args := string(part.FunctionCall.Args)
				if args == "" {
					args = "{}"
				}
				*out = append(*out,
					canonical.StreamEvent{
						Type:  canonical.EventToolCallStart,
						Index: 0,
						ID:    canonical.NextCallID(),
						Name:  part.FunctionCall.Name,
					},
					canonical.StreamEvent{
						Type:  canonical.EventToolCallArgsDelta,
						Index: 0,
						Delta: args,
					},
					canonical.StreamEvent{
						Type:  canonical.EventToolCallEnd,
						Index: 0,
					},
				)
			case part.Text != "":
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: part.Text})
			}
		}
		if candidate.FinishReason != "" {
			reason := canonical.GeminiStopToCanonical(candidate.FinishReason)
			if hasToolCalls && reason == canonical.StopEndOfTurn {
				reason = canonical.StopToolCalls
			}
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: reason})
		}
	}

	if emitUsage && chunk.UsageMetadata != nil {
		*out = append(*out, canonical.StreamEvent{
			Type: canonical.EventUsage,
			Usage: canonical.Usage{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  chunk.UsageMetadata.TotalTokenCount,
			},
		})
	}
	return true
}

// StreamEncoder encodes canonical events as Gemini stream chunks for
// Gemini clients. Gemini addresses tool calls by name, so the encoder
// keeps per-stream bindings: index -> call name (to label argument deltas)
// and call id -> name (to label tool results).
type StreamEncoder struct {
	namesByIndex map[int]string
	namesByID    map[string]string
	argsSeen     map[int]bool
}

// NewStreamEncoder creates an encoder for one response stream.
func NewStreamEncoder() *StreamEncoder {
	return &StreamEncoder{
		namesByIndex: make(map[int]string),
		namesByID:    make(map[string]string),
		argsSeen:     make(map[int]bool),
	}
}

// Encode renders one canonical event. Returns ok=false for events with no
// Gemini chunk of their own: message start, the Done terminator, tool-call
// starts (which only record the call's name), and a tool-call end whose
// arguments were already sent.
func (e *StreamEncoder) Encode(ev *canonical.StreamEvent) (string, bool) {
	switch ev.Type {
	case canonical.EventTextDelta, canonical.EventReasoningDelta:
		return encodeCandidateChunk(map[string]any{"text": ev.Text}, ""), true

	case canonical.EventToolCallStart:
		e.namesByIndex[ev.Index] = ev.Name
		if ev.ID != "" {
			e.namesByID[ev.ID] = ev.Name
		}
		return "", false

	case canonical.EventToolCallArgsDelta:
		e.argsSeen[ev.Index] = true
		name := e.namesByIndex[ev.Index]
		var args any
		if json.Valid([]byte(ev.Delta)) {
			args = json.RawMessage(ev.Delta)
		} else {
			args = ev.Delta
		}
		part := map[string]any{
			"functionCall": map[string]any{"name": name, "args": args},
		}
		return encodeCandidateChunk(part, ""), true

	case canonical.EventToolCallEnd:
		// A call that ended without any argument delta still surfaces as a
		// functionCall with empty args so the client sees it.
		if !e.argsSeen[ev.Index] {
			if name, ok := e.namesByIndex[ev.Index]; ok {
				part := map[string]any{
					"functionCall": map[string]any{"name": name, "args": map[string]any{}},
				}
				return encodeCandidateChunk(part, ""), true
			}
		}
		return "", false

	case canonical.EventToolResult:
		name := e.namesByID[ev.ToolCallID]
		if name == "" {
			name = "unknown"
		}
		var response any
		if json.Valid([]byte(ev.Content)) {
			response = json.RawMessage(ev.Content)
		} else {
			response = map[string]any{"content": ev.Content}
		}
		part := map[string]any{
			"functionResponse": map[string]any{"name": name, "response": response},
		}
		return encodeCandidateChunk(part, ""), true

	case canonical.EventMessageEnd:
		data := map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []any{}},
				"finishReason": canonical.CanonicalStopToGemini(ev.StopReason),
				"index":        0,
			}},
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", false
		}
		return sse.EncodeDataFrame(string(encoded)), true

	case canonical.EventUsage:
		data := map[string]any{"usageMetadata": encodeUsageMetadata(ev.Usage)}
		encoded, err := json.Marshal(data)
		if err != nil {
			return "", false
		}
		return sse.EncodeDataFrame(string(encoded)), true

	case canonical.EventError:
		buf := make([]byte, 0, 64+len(ev.Message))
		buf = append(buf, `{"error":{"code":`...)
		buf = strconv.AppendInt(buf, int64(ev.Status), 10)
		buf = append(buf, `,"message":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Message)
		buf = append(buf, `,"status":"INTERNAL"}}`...)
		return sse.EncodeDataFrame(string(buf)), true

	default:
		// MessageStart and Done have no explicit Gemini chunk; the stream
		// simply starts with content and ends when the body closes.
		return "", false
	}
}

func encodeCandidateChunk(part map[string]any, finishReason string) string {
	candidate := map[string]any{
		"content": map[string]any{"role": "model", "parts": []any{part}},
		"index":   0,
	}
	if finishReason != "" {
		candidate["finishReason"] = finishReason
	}
	data := map[string]any{"candidates": []any{candidate}}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return sse.EncodeDataFrame(string(encoded))
}
