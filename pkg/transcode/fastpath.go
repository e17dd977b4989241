package transcode

import (
	"bytes"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/anthropic"
	"github.com/digitallysavvy/go-llm-gateway/pkg/internal/jsonscan"
)

// Fast-path byte decoders. Each searches for the small set of JSON keys a
// stream chunk can actually carry and decodes values directly from the
// JSON text, never building a decoded tree. On any anomaly they report
// false and the caller falls back to full deserialization; they never
// produce user-visible errors.

var (
	openaiRoleKey         = []byte(`"role":`)
	openaiContentKey      = []byte(`"content":`)
	openaiToolCallsKey    = []byte(`"tool_calls"`)
	openaiFinishReasonKey = []byte(`"finish_reason":`)
	openaiUsageKey        = []byte(`"usage"`)
)

func fastDecodeOpenAIChunk(data []byte, messageStarted *bool, emitUsage bool, out *[]canonical.StreamEvent) bool {
	produced := false
	handled := false

	if !*messageStarted {
		if pos := bytes.Index(data, openaiRoleKey); pos >= 0 {
			if role, ok := jsonscan.StringAfterKeyPos(data, pos, len(openaiRoleKey)); ok {
				*out = append(*out, canonical.StreamEvent{
					Type: canonical.EventMessageStart,
					Role: decodeOpenAIRole(role),
				})
				produced = true
				*messageStarted = true
			}
		}
	}

	if pos := bytes.Index(data, openaiContentKey); pos >= 0 {
		content, ok := jsonscan.StringAfterKeyPos(data, pos, len(openaiContentKey))
		if !ok {
			// Non-string content (null, part array) needs the full decoder.
			valueStart := jsonscan.SkipWS(data, pos+len(openaiContentKey))
			if valueStart >= len(data) || data[valueStart] != 'n' {
				return false
			}
			handled = true
		} else {
			handled = true
			if content != "" {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: content})
				produced = true
			}
		}
	} else if pos := bytes.Index(data, openaiToolCallsKey); pos >= 0 {
		toolProduced, ok := fastDecodeOpenAIToolCalls(data, pos, out)
		if !ok {
			return false
		}
		handled = true
		if toolProduced {
			produced = true
		}
	}

	if pos := bytes.Index(data, openaiFinishReasonKey); pos >= 0 {
		valueStart := jsonscan.SkipWS(data, pos+len(openaiFinishReasonKey))
		switch {
		case valueStart < len(data) && data[valueStart] == 'n':
			if valueStart+4 > len(data) || string(data[valueStart:valueStart+4]) != "null" {
				return false
			}
			handled = true
		default:
			reason, ok := jsonscan.StringAfterKeyPos(data, pos, len(openaiFinishReasonKey))
			if !ok {
				return false
			}
			*out = append(*out, canonical.StreamEvent{
				Type:       canonical.EventMessageEnd,
				StopReason: canonical.OpenAIStopToCanonical(reason),
			})
			produced = true
			handled = true
		}
	}

	if emitUsage && !produced {
		if pos := bytes.Index(data, openaiUsageKey); pos >= 0 {
			if start, end, ok := jsonscan.ObjectRangeAfterKeyPos(data, pos, len(openaiUsageKey)); ok {
				input, okIn := jsonscan.U64AfterKeyIn(data, []byte(`"prompt_tokens":`), start, end)
				output, okOut := jsonscan.U64AfterKeyIn(data, []byte(`"completion_tokens":`), start, end)
				total, okTotal := jsonscan.U64AfterKeyIn(data, []byte(`"total_tokens":`), start, end)
				if okIn && okOut && okTotal {
					*out = append(*out, canonical.StreamEvent{
						Type: canonical.EventUsage,
						Usage: canonical.Usage{
							InputTokens:  &input,
							OutputTokens: &output,
							TotalTokens:  &total,
						},
					})
					produced = true
					handled = true
				}
			}
		}
	}

	return produced || handled
}

func decodeOpenAIRole(role string) canonical.Role {
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

// fastDecodeOpenAIToolCalls handles the dominant single-call delta shape:
// "tool_calls":[{ index, id?, function:{name?, arguments?} }]. Multi-call
// deltas fall back to the full decoder.
func fastDecodeOpenAIToolCalls(data []byte, keyPos int, out *[]canonical.StreamEvent) (bool, bool) {
	colon := jsonscan.SkipWS(data, keyPos+len(openaiToolCallsKey))
	if colon >= len(data) || data[colon] != ':' {
		return false, false
	}
	arrayStart := jsonscan.SkipWS(data, colon+1)
	if arrayStart >= len(data) || data[arrayStart] != '[' {
		return false, false
	}
	cursor := jsonscan.SkipWS(data, arrayStart+1)
	if cursor < len(data) && data[cursor] == ']' {
		return false, true
	}
	if cursor >= len(data) || data[cursor] != '{' {
		return false, false
	}
	objStart := cursor
	objEnd, ok := jsonscan.ValueEnd(data, objStart)
	if !ok {
		return false, false
	}
	after := jsonscan.SkipWS(data, objEnd)
	if after >= len(data) || data[after] != ']' {
		return false, false
	}

	indexU64, ok := jsonscan.U64AfterKeyIn(data, []byte(`"index":`), objStart, objEnd)
	if !ok {
		return false, false
	}
	index := int(indexU64)
	callID, hasID := jsonscan.StringAfterKeyIn(data, []byte(`"id":`), objStart, objEnd)
	callName := ""
	if hasID {
		callName, _ = jsonscan.StringAfterKeyIn(data, []byte(`"name":`), objStart, objEnd)
	}
	args, hasArgs := jsonscan.StringAfterKeyIn(data, []byte(`"arguments":`), objStart, objEnd)

	produced := false
	if hasID {
		*out = append(*out, canonical.StreamEvent{
			Type:  canonical.EventToolCallStart,
			Index: index,
			ID:    callID,
			Name:  callName,
		})
		produced = true
	}
	if hasArgs && args != "" {
		*out = append(*out, canonical.StreamEvent{
			Type:  canonical.EventToolCallArgsDelta,
			Index: index,
			Delta: args,
		})
		produced = true
	}
	return produced, true
}

var (
	anthropicTypeToolUse    = []byte(`"type":"tool_use"`)
	anthropicTypeText       = []byte(`"type":"text"`)
	anthropicTypeThinking   = []byte(`"type":"thinking"`)
	anthropicTypeToolResult = []byte(`"type":"tool_result"`)
	anthropicTextDelta      = []byte(`"text_delta"`)
	anthropicThinkingDelta  = []byte(`"thinking_delta"`)
	anthropicInputJSONDelta = []byte(`"input_json_delta"`)
	anthropicStopNull       = []byte(`"stop_reason":null`)
)

func fastDecodeAnthropicEvent(eventType string, data []byte, decoder *anthropic.StreamDecoder, emitUsage bool, out *[]canonical.StreamEvent) bool {
	switch eventType {
	case "message_start":
		*out = append(*out, canonical.StreamEvent{
			Type: canonical.EventMessageStart,
			Role: canonical.RoleAssistant,
		})
		if emitUsage {
			input, okIn := jsonscan.U64AfterKey(data, []byte(`"input_tokens":`))
			output, okOut := jsonscan.U64AfterKey(data, []byte(`"output_tokens":`))
			if (okIn && input > 0) || (okOut && output > 0) {
				usage := canonical.Usage{}
				if okIn {
					usage.InputTokens = &input
				}
				if okOut {
					usage.OutputTokens = &output
				}
				*out = append(*out, canonical.StreamEvent{
					Type:  canonical.EventUsage,
					Usage: canonical.NormalizeUsage(usage),
				})
			}
		}
		return true

	case "content_block_start":
		indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"index":`))
		if !ok {
			return false
		}
		index := int(indexU64)
		start, end, ok := jsonscan.ObjectRangeAfterKey(data, []byte(`"content_block"`))
		if !ok {
			return false
		}
		block := data[start:end]

		if bytes.Contains(block, anthropicTypeToolUse) {
			id, okID := jsonscan.StringAfterKeyIn(data, []byte(`"id":`), start, end)
			name, okName := jsonscan.StringAfterKeyIn(data, []byte(`"name":`), start, end)
			if !okID || !okName {
				return false
			}
			if decoder != nil {
				decoder.MarkBlockType(index, true)
			}
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventToolCallStart,
				Index: index,
				ID:    id,
				Name:  name,
			})
			return true
		}
		if decoder != nil {
			decoder.MarkBlockType(index, false)
		}
		if bytes.Contains(block, anthropicTypeText) {
			if text, ok := jsonscan.StringAfterKeyIn(data, []byte(`"text":`), start, end); ok && text != "" {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: text})
			}
			return true
		}
		if bytes.Contains(block, anthropicTypeThinking) {
			if thinking, ok := jsonscan.StringAfterKeyIn(data, []byte(`"thinking":`), start, end); ok && thinking != "" {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventReasoningDelta, Text: thinking})
			}
			return true
		}
		return bytes.Contains(block, anthropicTypeToolResult)

	case "content_block_delta":
		if bytes.Contains(data, anthropicTextDelta) {
			if text, ok := jsonscan.StringAfterKey(data, []byte(`"text":`)); ok {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: text})
				return true
			}
		}
		if bytes.Contains(data, anthropicThinkingDelta) {
			if thinking, ok := jsonscan.StringAfterKey(data, []byte(`"thinking":`)); ok {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventReasoningDelta, Text: thinking})
				return true
			}
		}
		if bytes.Contains(data, anthropicInputJSONDelta) {
			indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"index":`))
			if !ok {
				return false
			}
			delta, ok := jsonscan.StringAfterKey(data, []byte(`"partial_json":`))
			if !ok {
				return false
			}
			*out = append(*out, canonical.StreamEvent{
				Type:  canonical.EventToolCallArgsDelta,
				Index: int(indexU64),
				Delta: delta,
			})
			return true
		}
		return false

	case "content_block_stop":
		if decoder == nil {
			return false
		}
		indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"index":`))
		if !ok {
			return false
		}
		decoder.BlockStop(int(indexU64), out)
		return true

	case "message_delta":
		produced := false
		if emitUsage {
			input, okIn := jsonscan.U64AfterKey(data, []byte(`"input_tokens":`))
			output, okOut := jsonscan.U64AfterKey(data, []byte(`"output_tokens":`))
			if okIn || okOut {
				usage := canonical.Usage{}
				if okIn {
					usage.InputTokens = &input
				}
				if okOut {
					usage.OutputTokens = &output
				}
				*out = append(*out, canonical.StreamEvent{
					Type:  canonical.EventUsage,
					Usage: canonical.NormalizeUsage(usage),
				})
				produced = true
			}
		}
		if !bytes.Contains(data, anthropicStopNull) {
			if reason, ok := jsonscan.StringAfterKey(data, []byte(`"stop_reason":`)); ok {
				*out = append(*out, canonical.StreamEvent{
					Type:       canonical.EventMessageEnd,
					StopReason: canonical.AnthropicStopToCanonical(reason),
				})
				produced = true
			}
		}
		return produced

	case "message_stop":
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
		return true

	case "error":
		message, ok := jsonscan.StringAfterKey(data, []byte(`"message":`))
		if !ok {
			return false
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

var (
	respTypeFunctionCall       = []byte(`"type":"function_call"`)
	respTypeFunctionCallPrefix = []byte(`"type":"function_call`)
)

func fastDecodeResponsesEvent(eventTypeHint string, data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	eventType := eventTypeHint
	if eventType == "" {
		inner, ok := jsonscan.UnescapedStringAfterKey(data, []byte(`"type":`))
		if !ok {
			return false
		}
		eventType = string(inner)
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
		return true

	case "response.output_text.delta":
		if delta, ok := jsonscan.StringAfterKey(data, []byte(`"delta":`)); ok && delta != "" {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: delta})
			return true
		}
		return false

	case "response.function_call_arguments.delta":
		indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"output_index":`))
		if !ok {
			return false
		}
		delta, ok := jsonscan.StringAfterKey(data, []byte(`"delta":`))
		if !ok {
			return false
		}
		*out = append(*out, canonical.StreamEvent{
			Type:  canonical.EventToolCallArgsDelta,
			Index: int(indexU64),
			Delta: delta,
		})
		return true

	case "response.output_item.added":
		return fastDecodeResponsesItemAdded(data, out)

	case "response.output_item.done":
		return fastDecodeResponsesItemDone(data, out)

	case "response.completed":
		return fastDecodeResponsesCompleted(data, emitUsage, out)

	case "error":
		message, ok := jsonscan.StringAfterKey(data, []byte(`"message":`))
		if !ok {
			return false
		}
		*out = append(*out, canonical.StreamEvent{
			Type:    canonical.EventError,
			Status:  500,
			Message: message,
		})
		return true

	default:
		return false
	}
}

func fastDecodeResponsesItemAdded(data []byte, out *[]canonical.StreamEvent) bool {
	if !bytes.Contains(data, respTypeFunctionCall) {
		// Non-function-call items have no canonical stream equivalent.
		return true
	}
	itemStart, itemEnd, ok := jsonscan.ObjectRangeAfterKey(data, []byte(`"item"`))
	if !ok {
		return false
	}
	if !bytes.Contains(data[itemStart:itemEnd], respTypeFunctionCall) {
		return true
	}
	indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"output_index":`))
	if !ok {
		return false
	}
	id, ok := jsonscan.StringAfterKeyIn(data, []byte(`"call_id":`), itemStart, itemEnd)
	if !ok {
		return false
	}
	name, ok := jsonscan.StringAfterKeyIn(data, []byte(`"name":`), itemStart, itemEnd)
	if !ok {
		return false
	}
	*out = append(*out, canonical.StreamEvent{
		Type:  canonical.EventToolCallStart,
		Index: int(indexU64),
		ID:    id,
		Name:  name,
	})
	return true
}

func fastDecodeResponsesItemDone(data []byte, out *[]canonical.StreamEvent) bool {
	if !bytes.Contains(data, respTypeFunctionCallPrefix) {
		// Message item done has no canonical stream equivalent.
		return true
	}
	itemStart, itemEnd, ok := jsonscan.ObjectRangeAfterKey(data, []byte(`"item"`))
	if !ok {
		return false
	}
	item := data[itemStart:itemEnd]
	typePos := bytes.Index(item, respTypeFunctionCallPrefix)
	if typePos < 0 {
		return true
	}
	suffixPos := typePos + len(respTypeFunctionCallPrefix)
	isOutput := bytes.HasPrefix(item[suffixPos:], []byte(`_output"`))
	isCall := suffixPos < len(item) && item[suffixPos] == '"'

	if isOutput {
		toolCallID, ok := jsonscan.StringAfterKeyIn(data, []byte(`"call_id":`), itemStart, itemEnd)
		if !ok {
			return false
		}
		content, ok := jsonscan.StringAfterKeyIn(data, []byte(`"output":`), itemStart, itemEnd)
		if !ok {
			return false
		}
		*out = append(*out, canonical.StreamEvent{
			Type:       canonical.EventToolResult,
			ToolCallID: toolCallID,
			Content:    content,
		})
		return true
	}
	if !isCall {
		return true
	}

	indexU64, ok := jsonscan.U64AfterKey(data, []byte(`"output_index":`))
	if !ok {
		return false
	}
	callID, ok := jsonscan.StringAfterKeyIn(data, []byte(`"call_id":`), itemStart, itemEnd)
	if !ok {
		return false
	}
	callName, ok := jsonscan.StringAfterKeyIn(data, []byte(`"name":`), itemStart, itemEnd)
	if !ok {
		return false
	}
	*out = append(*out, canonical.StreamEvent{
		Type:     canonical.EventToolCallEnd,
		Index:    int(indexU64),
		CallID:   callID,
		CallName: callName,
	})
	return true
}

func fastDecodeResponsesCompleted(data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	if emitUsage {
		if start, end, ok := jsonscan.ObjectRangeAfterKey(data, []byte(`"usage"`)); ok {
			input, okIn := jsonscan.U64AfterKeyIn(data, []byte(`"input_tokens":`), start, end)
			output, okOut := jsonscan.U64AfterKeyIn(data, []byte(`"output_tokens":`), start, end)
			total, okTotal := jsonscan.U64AfterKeyIn(data, []byte(`"total_tokens":`), start, end)
			usage := canonical.Usage{}
			if okIn {
				usage.InputTokens = &input
			}
			if okOut {
				usage.OutputTokens = &output
			}
			if okTotal {
				usage.TotalTokens = &total
			}
			if okIn || okOut || okTotal {
				*out = append(*out, canonical.StreamEvent{
					Type:  canonical.EventUsage,
					Usage: canonical.NormalizeUsage(usage),
				})
			}
		}
	}

	stopReason := canonical.StopEndOfTurn
	if bytes.Contains(data, respTypeFunctionCallPrefix) {
		stopReason = canonical.StopToolCalls
	}
	*out = append(*out,
		canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: stopReason},
		canonical.StreamEvent{Type: canonical.EventDone},
	)
	return true
}

var (
	geminiCandidatesKey   = []byte(`"candidates"`)
	geminiFunctionCallKey = []byte(`"functionCall"`)
)

func fastDecodeGeminiChunk(data []byte, emitUsage bool, out *[]canonical.StreamEvent) bool {
	if !bytes.Contains(data, geminiCandidatesKey) {
		return false
	}

	produced := false
	hasToolCalls := false

	if bytes.Contains(data, geminiFunctionCallKey) {
		start, end, ok := jsonscan.ObjectRangeAfterKey(data, geminiFunctionCallKey)
		if !ok {
			return false
		}
		name, ok := jsonscan.StringAfterKeyIn(data, []byte(`"name":`), start, end)
		if !ok {
			return false
		}
		args, ok := jsonscan.RawValueAfterKeyIn(data, []byte(`"args"`), start, end)
		if !ok {
			return false
		}
		*out = append(*out,
			canonical.StreamEvent{
				Type:  canonical.EventToolCallStart,
				Index: 0,
				ID:    canonical.NextCallID(),
				Name:  name,
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
		produced = true
		hasToolCalls = true
	} else if text, ok := jsonscan.StringAfterKey(data, []byte(`"text":`)); ok {
		if text != "" {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventTextDelta, Text: text})
			produced = true
		}
	}

	if reason, ok := jsonscan.StringAfterKey(data, []byte(`"finishReason":`)); ok {
		stopReason := canonical.GeminiStopToCanonical(reason)
		if hasToolCalls && stopReason == canonical.StopEndOfTurn {
			stopReason = canonical.StopToolCalls
		}
		*out = append(*out, canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: stopReason})
		produced = true
	}

	if emitUsage {
		if start, end, ok := jsonscan.ObjectRangeAfterKey(data, []byte(`"usageMetadata"`)); ok {
			input, okIn := jsonscan.U64AfterKeyIn(data, []byte(`"promptTokenCount":`), start, end)
			output, okOut := jsonscan.U64AfterKeyIn(data, []byte(`"candidatesTokenCount":`), start, end)
			total, okTotal := jsonscan.U64AfterKeyIn(data, []byte(`"totalTokenCount":`), start, end)
			usage := canonical.Usage{}
			if okIn {
				usage.InputTokens = &input
			}
			if okOut {
				usage.OutputTokens = &output
			}
			if okTotal {
				usage.TotalTokens = &total
			}
			if okIn || okOut || okTotal {
				*out = append(*out, canonical.StreamEvent{Type: canonical.EventUsage, Usage: usage})
				produced = true
			}
		}
	}

	return produced
}
