package openaichat

import (
	"encoding/json"
	"strconv"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/internal/jsonscan"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

type wireStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role             string         `json:"role"`
			Content          *string        `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []wireToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// DecodeStreamData decodes one OpenAI Chat SSE `data` payload into
// canonical events via full deserialization. messageStarted suppresses
// duplicate MessageStart events across chunks. Returns false when the
// payload is not decodable JSON.
func DecodeStreamData(data []byte, messageStarted *bool, emitUsage bool, out *[]canonical.StreamEvent) bool {
	if string(data) == sse.DoneData {
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
		return true
	}

	var chunk wireStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return false
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Role != "" && !*messageStarted {
			*messageStarted = true
			*out = append(*out, canonical.StreamEvent{
				Type: canonical.EventMessageStart,
				Role: decodeRole(choice.Delta.Role),
			})
		}
		if choice.Delta.ReasoningContent != "" {
			*out = append(*out, canonical.StreamEvent{
				Type: canonical.EventReasoningDelta,
				Text: choice.Delta.ReasoningContent,
			})
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			*out = append(*out, canonical.StreamEvent{
				Type: canonical.EventTextDelta,
				Text: *choice.Delta.Content,
			})
		}
		for _, call := range choice.Delta.ToolCalls {
			if call.ID != "" {
				*out = append(*out, canonical.StreamEvent{
					Type:  canonical.EventToolCallStart,
					Index: call.Index,
					ID:    call.ID,
					Name:  call.Function.Name,
				})
			}
			if call.Function.Arguments != "" {
				*out = append(*out, canonical.StreamEvent{
					Type:  canonical.EventToolCallArgsDelta,
					Index: call.Index,
					Delta: call.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			*out = append(*out, canonical.StreamEvent{
				Type:       canonical.EventMessageEnd,
				StopReason: canonical.OpenAIStopToCanonical(*choice.FinishReason),
			})
		}
	}

	// Usage-only chunks have choices == [] with populated usage.
	if emitUsage && chunk.Usage != nil {
		*out = append(*out, canonical.StreamEvent{
			Type: canonical.EventUsage,
			Usage: canonical.NormalizeUsage(canonical.Usage{
				InputTokens:  canonical.Uint64Ptr(chunk.Usage.PromptTokens),
				OutputTokens: canonical.Uint64Ptr(chunk.Usage.CompletionTokens),
				TotalTokens:  canonical.Uint64Ptr(chunk.Usage.TotalTokens),
			}),
		})
	}
	return true
}

func decodeRole(role string) canonical.Role {
	switch role {
	case "user":
		return canonical.RoleUser
	case "system":
		return canonical.RoleSystem
	case "tool":
		return canonical.RoleTool
	default:
		return canonical.RoleAssistant
	}
}

// EncodeStreamEvent encodes a canonical stream event as an OpenAI Chat SSE
// frame under the client-facing model name. Returns ok=false for events
// with no representation in this dialect (reasoning deltas, tool-call end
// markers, tool results).
func EncodeStreamEvent(ev *canonical.StreamEvent, model, responseID string, created int64) (string, bool) {
	switch ev.Type {
	case canonical.EventMessageStart:
		return encodeChunk(model, responseID, created, map[string]any{"role": "assistant"}, nil, nil), true

	case canonical.EventTextDelta:
		return encodeChunk(model, responseID, created, map[string]any{"content": ev.Text}, nil, nil), true

	case canonical.EventToolCallStart:
		emptyArgs := ""
		call := map[string]any{
			"index": ev.Index,
			"id":    ev.ID,
			"type":  "function",
			"function": map[string]any{
				"name":      ev.Name,
				"arguments": emptyArgs,
			},
		}
		return encodeChunk(model, responseID, created, map[string]any{"tool_calls": []any{call}}, nil, nil), true

	case canonical.EventToolCallArgsDelta:
		call := map[string]any{
			"index":    ev.Index,
			"function": map[string]any{"arguments": ev.Delta},
		}
		return encodeChunk(model, responseID, created, map[string]any{"tool_calls": []any{call}}, nil, nil), true

	case canonical.EventMessageEnd:
		reason := canonical.CanonicalStopToOpenAI(ev.StopReason)
		return encodeChunk(model, responseID, created, map[string]any{}, &reason, nil), true

	case canonical.EventUsage:
		usage := encodeUsage(ev.Usage)
		return encodeUsageChunk(model, responseID, created, &usage), true

	case canonical.EventDone:
		return sse.DoneFrame, true

	case canonical.EventError:
		buf := make([]byte, 0, 48+len(ev.Message))
		buf = append(buf, `{"error":{"status":`...)
		buf = strconv.AppendInt(buf, int64(ev.Status), 10)
		buf = append(buf, `,"message":`...)
		buf = jsonscan.AppendJSONString(buf, ev.Message)
		buf = append(buf, "}}"...)
		return sse.EncodeDataFrame(string(buf)), true

	default:
		// ReasoningDelta, ToolCallEnd, ToolResult have no OpenAI Chat
		// stream representation.
		return "", false
	}
}

func encodeChunk(model, responseID string, created int64, delta map[string]any, finishReason *string, usage *wireUsage) string {
	chunk := map[string]any{
		"id":      responseID,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	if usage != nil {
		chunk["usage"] = usage
	}
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return ""
	}
	return sse.EncodeDataFrame(string(encoded))
}

func encodeUsageChunk(model, responseID string, created int64, usage *wireUsage) string {
	chunk := map[string]any{
		"id":      responseID,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []any{},
		"usage":   usage,
	}
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return ""
	}
	return sse.EncodeDataFrame(string(encoded))
}
