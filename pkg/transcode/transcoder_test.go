package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

var providers = []canonical.ProviderKind{
	canonical.ProviderOpenAI,
	canonical.ProviderOpenAIResponses,
	canonical.ProviderAnthropic,
	canonical.ProviderGemini,
	canonical.ProviderGeminiOpenAI,
}

var ingressAPIs = []canonical.IngressAPI{
	canonical.IngressOpenAIChat,
	canonical.IngressOpenAIResponses,
	canonical.IngressAnthropic,
	canonical.IngressGemini,
}

func sampleTextDeltaFrame(provider canonical.ProviderKind) sse.Event {
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return sse.Event{Data: `{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"content":"matrix"},"finish_reason":null}]}`}
	case canonical.ProviderOpenAIResponses:
		return sse.Event{
			Event: "response.output_text.delta",
			Data:  `{"type":"response.output_text.delta","output_index":0,"content_index":0,"delta":"matrix"}`,
		}
	case canonical.ProviderAnthropic:
		return sse.Event{
			Event: "content_block_delta",
			Data:  `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"matrix"}}`,
		}
	default:
		return sse.Event{Data: `{"candidates":[{"content":{"role":"model","parts":[{"text":"matrix"}]},"index":0}]}`}
	}
}

func sampleToolCallFrame(provider canonical.ProviderKind) sse.Event {
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return sse.Event{Data: `{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"m1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]},"finish_reason":null}]}`}
	case canonical.ProviderOpenAIResponses:
		return sse.Event{
			Event: "response.output_item.added",
			Data:  `{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","id":"fc_0","call_id":"call_1","name":"lookup","arguments":"{\"q\":\"x\"}"}}`,
		}
	case canonical.ProviderAnthropic:
		return sse.Event{
			Event: "content_block_start",
			Data:  `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"lookup","input":{}}}`,
		}
	default:
		return sse.Event{Data: `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]},"index":0}]}`}
	}
}

func sampleDoneFrame(provider canonical.ProviderKind) sse.Event {
	if provider == canonical.ProviderAnthropic {
		return sse.Event{Event: "message_stop", Data: `{"type":"message_stop"}`}
	}
	return sse.Event{Data: "[DONE]"}
}

func expectedTextMarker(api canonical.IngressAPI) string {
	switch api {
	case canonical.IngressOpenAIChat:
		return `"chat.completion.chunk"`
	case canonical.IngressOpenAIResponses:
		return "event: response.output_text.delta"
	case canonical.IngressAnthropic:
		return "event: content_block_delta"
	default:
		return `"candidates"`
	}
}

func TestStreamTextDeltaTranscodeMatrix(t *testing.T) {
	for _, provider := range providers {
		frame := sampleTextDeltaFrame(provider)
		for _, api := range ingressAPIs {
			tr := NewStreamTranscoder(provider, api, "m1", "id-1")
			chunks := tr.TranscodeFrame(&frame)
			require.NotEmpty(t, chunks, "provider=%v api=%v", provider, api)
			assert.Contains(t, chunks[0], expectedTextMarker(api),
				"provider=%v api=%v chunk=%s", provider, api, chunks[0])
			assert.Contains(t, chunks[0], "matrix")
		}
	}
}

func TestStreamToolCallTranscodeMatrix(t *testing.T) {
	for _, provider := range providers {
		frame := sampleToolCallFrame(provider)
		for _, api := range ingressAPIs {
			tr := NewStreamTranscoder(provider, api, "m1", "id-1")
			chunks := tr.TranscodeFrame(&frame)
			joined := strings.Join(chunks, "")
			switch api {
			case canonical.IngressOpenAIChat:
				assert.Contains(t, joined, `"tool_calls"`, "provider=%v", provider)
			case canonical.IngressOpenAIResponses:
				assert.Contains(t, joined, "event: response.output_item.added", "provider=%v", provider)
			case canonical.IngressAnthropic:
				assert.Contains(t, joined, "event: content_block_start", "provider=%v", provider)
			default:
				// Gemini emits functionCall once arguments are known. The
				// Anthropic/Responses samples only open the call in this
				// frame; their arguments arrive in later frames.
				if provider == canonical.ProviderAnthropic || provider == canonical.ProviderOpenAIResponses {
					assert.Empty(t, joined, "provider=%v", provider)
				} else {
					assert.Contains(t, joined, `"functionCall"`, "provider=%v", provider)
				}
			}
		}
	}
}

func TestStreamDoneTranscodeMatrix(t *testing.T) {
	for _, provider := range providers {
		frame := sampleDoneFrame(provider)
		for _, api := range ingressAPIs {
			tr := NewStreamTranscoder(provider, api, "m1", "id-1")
			chunks := tr.TranscodeFrame(&frame)
			switch api {
			case canonical.IngressOpenAIChat:
				assert.Equal(t, []string{"data: [DONE]\n\n"}, chunks, "provider=%v", provider)
			case canonical.IngressOpenAIResponses:
				assert.Contains(t, strings.Join(chunks, ""), "event: response.completed", "provider=%v", provider)
			case canonical.IngressAnthropic:
				assert.Contains(t, strings.Join(chunks, ""), "event: message_stop", "provider=%v", provider)
			default:
				assert.Empty(t, chunks, "gemini target emits no explicit done, provider=%v", provider)
			}
		}
	}
}

func TestStreamUsageTranscodeMatrix(t *testing.T) {
	usageFrame := sse.Event{Data: `{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"m1","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`}
	for _, api := range ingressAPIs {
		tr := NewStreamTranscoder(canonical.ProviderOpenAI, api, "m1", "id-1")
		chunks := tr.TranscodeFrame(&usageFrame)
		switch api {
		case canonical.IngressOpenAIChat:
			assert.Contains(t, strings.Join(chunks, ""), `"usage"`)
		case canonical.IngressGemini:
			assert.Contains(t, strings.Join(chunks, ""), `"usageMetadata"`)
		default:
			// Anthropic and Responses suppress standalone usage frames.
			assert.Empty(t, chunks, "api=%v", api)
		}
	}
}

func TestStreamReasoningFromAnthropic(t *testing.T) {
	frame := sse.Event{
		Event: "content_block_delta",
		Data:  `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"reason"}}`,
	}
	for _, api := range ingressAPIs {
		tr := NewStreamTranscoder(canonical.ProviderAnthropic, api, "m1", "id-1")
		chunks := tr.TranscodeFrame(&frame)
		switch api {
		case canonical.IngressOpenAIChat, canonical.IngressOpenAIResponses:
			assert.Empty(t, chunks, "reasoning has no frame for api=%v", api)
		case canonical.IngressAnthropic:
			assert.Contains(t, strings.Join(chunks, ""), `"thinking_delta"`)
		default:
			assert.Contains(t, strings.Join(chunks, ""), `"text":"reason"`)
		}
	}
}

func TestStreamErrorTranscodeMatrix(t *testing.T) {
	frame := sse.Event{
		Event: "error",
		Data:  `{"type":"error","error":{"type":"api_error","message":"boom"}}`,
	}
	for _, api := range ingressAPIs {
		tr := NewStreamTranscoder(canonical.ProviderAnthropic, api, "m1", "id-1")
		chunks := tr.TranscodeFrame(&frame)
		require.NotEmpty(t, chunks, "error must always produce output for api=%v", api)
		assert.Contains(t, strings.Join(chunks, ""), "error")
		assert.Contains(t, strings.Join(chunks, ""), "boom")
	}
}

func TestPassthroughPairs(t *testing.T) {
	cases := []struct {
		provider    canonical.ProviderKind
		api         canonical.IngressAPI
		passthrough bool
	}{
		{canonical.ProviderOpenAI, canonical.IngressOpenAIChat, true},
		{canonical.ProviderGeminiOpenAI, canonical.IngressOpenAIChat, true},
		{canonical.ProviderAnthropic, canonical.IngressAnthropic, true},
		{canonical.ProviderGemini, canonical.IngressGemini, true},
		{canonical.ProviderOpenAIResponses, canonical.IngressOpenAIResponses, true},
		{canonical.ProviderOpenAI, canonical.IngressAnthropic, false},
		{canonical.ProviderAnthropic, canonical.IngressOpenAIChat, false},
		{canonical.ProviderGemini, canonical.IngressOpenAIChat, false},
	}
	for _, tc := range cases {
		tr := NewStreamTranscoder(tc.provider, tc.api, "m", "id")
		assert.Equal(t, tc.passthrough, tr.IsPassthrough(), "provider=%v api=%v", tc.provider, tc.api)
	}
}

func TestDecodeOpenAITextDelta(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressAnthropic, "gpt-4", "id-1")
	frame := sampleTextDeltaFrame(canonical.ProviderOpenAI)
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)
	require.Len(t, events, 1)
	assert.Equal(t, canonical.EventTextDelta, events[0].Type)
	assert.Equal(t, "matrix", events[0].Text)
}

func TestDecodeOpenAINoopNullFinishReason(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressOpenAIChat, "gpt-4", "id-1")
	frame := sse.Event{Data: `{"choices":[{"index":0,"delta":{},"finish_reason":null}],"usage":null}`}
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)
	assert.Empty(t, events)
}

func TestDecodeOpenAIRoleThenContentOrdering(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressOpenAIChat, "gpt-4", "id-1")
	frame := sse.Event{Data: `{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`}
	chunks := tr.TranscodeFrame(&frame)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "assistant")
	assert.Contains(t, chunks[1], "Hi")
}

func TestDecodeOpenAIMessageStartOnlyOnce(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressOpenAIChat, "gpt-4", "id-1")
	frame := sse.Event{Data: `{"choices":[{"index":0,"delta":{"role":"assistant","content":"a"},"finish_reason":null}]}`}
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)
	countStart := 0
	for _, ev := range events {
		if ev.Type == canonical.EventMessageStart {
			countStart++
		}
	}
	require.Equal(t, 1, countStart)

	events = events[:0]
	tr.DecodeUpstreamFrameInto(&frame, &events)
	for _, ev := range events {
		assert.NotEqual(t, canonical.EventMessageStart, ev.Type, "MessageStart must appear at most once")
	}
}

func TestDecodeAnthropicToolUseStartThenStop(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderAnthropic, canonical.IngressOpenAIChat, "claude-3", "id-1")
	start := sampleToolCallFrame(canonical.ProviderAnthropic)
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&start, &events)
	require.NotEmpty(t, events)
	assert.Equal(t, canonical.EventToolCallStart, events[0].Type)
	assert.Equal(t, "call_1", events[0].ID)
	assert.Equal(t, "lookup", events[0].Name)

	stop := sse.Event{Event: "content_block_stop", Data: `{"type":"content_block_stop","index":0}`}
	events = events[:0]
	tr.DecodeUpstreamFrameInto(&stop, &events)
	require.Len(t, events, 1)
	assert.Equal(t, canonical.EventToolCallEnd, events[0].Type)
	assert.Equal(t, 0, events[0].Index)
}

func TestDecodeGeminiFunctionCall(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderGemini, canonical.IngressOpenAIChat, "gemini-pro", "id-1")
	frame := sse.Event{Data: `{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"lookup","args":{"q":"x"}}}]},"finishReason":"STOP","index":0}]}`}
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)

	require.NotEmpty(t, events)
	assert.Equal(t, canonical.EventToolCallStart, events[0].Type)
	assert.Equal(t, "lookup", events[0].Name)

	foundArgs := false
	foundEnd := false
	for _, ev := range events {
		if ev.Type == canonical.EventToolCallArgsDelta && strings.Contains(ev.Delta, `"q"`) {
			foundArgs = true
		}
		if ev.Type == canonical.EventMessageEnd {
			foundEnd = true
			assert.Equal(t, canonical.StopToolCalls, ev.StopReason,
				"functionCall with STOP maps to tool-calls stop reason")
		}
	}
	assert.True(t, foundArgs)
	assert.True(t, foundEnd)
}

func TestDecodeResponsesEventHintWithoutTypeField(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAIResponses, canonical.IngressOpenAIChat, "gpt-4o", "id-1")
	frame := sse.Event{
		Event: "response.output_text.delta",
		Data:  `{"output_index":0,"content_index":0,"delta":"Bonjour"}`,
	}
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)
	require.Len(t, events, 1)
	assert.Equal(t, "Bonjour", events[0].Text)
}

func TestDecodeResponsesNonCanonicalEventsSkip(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAIResponses, canonical.IngressOpenAIChat, "gpt-4o", "id-1")
	frames := []sse.Event{
		{Event: "response.in_progress", Data: `{"type":"response.in_progress","response":{"id":"resp_1","object":"response","model":"gpt-4o","output":[],"status":"in_progress"}}`},
		{Event: "response.output_text.done", Data: `{"type":"response.output_text.done","output_index":0,"content_index":0,"text":"done"}`},
	}
	for _, frame := range frames {
		var events []canonical.StreamEvent
		tr.DecodeUpstreamFrameInto(&frame, &events)
		assert.Empty(t, events, "event=%s", frame.Event)
	}
}

func TestDecodeInvalidJSONProducesNothing(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressOpenAIChat, "gpt-4", "id-1")
	frame := sse.Event{Data: "not valid json"}
	var events []canonical.StreamEvent
	tr.DecodeUpstreamFrameInto(&frame, &events)
	assert.Empty(t, events)
}

func TestTryDecodeRawFrameRejectsNonSSE(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressOpenAIChat, "gpt-4", "id-1")
	var events []canonical.StreamEvent
	assert.False(t, tr.TryDecodeRawFrameInto([]byte(`{"not":"sse"}`), &events))
	assert.Empty(t, events)
}

func TestRawFrameMatchesParsedFrame(t *testing.T) {
	for _, provider := range providers {
		frames := []sse.Event{
			sampleTextDeltaFrame(provider),
			sampleDoneFrame(provider),
		}
		for _, frame := range frames {
			raw := ""
			if frame.Event != "" {
				raw += "event: " + frame.Event + "\n"
			}
			raw += "data: " + frame.Data + "\n\n"

			for _, api := range ingressAPIs {
				parsedT := NewStreamTranscoder(provider, api, "m1", "id-1")
				expected := parsedT.TranscodeFrame(&frame)

				rawT := NewStreamTranscoder(provider, api, "m1", "id-1")
				var decodeBuf []canonical.StreamEvent
				var out []string
				ok := rawT.TranscodeRawFrameInto([]byte(raw), &decodeBuf, &out)
				require.True(t, ok, "provider=%v api=%v raw=%q", provider, api, raw)
				assert.Equal(t, expected, out, "provider=%v api=%v", provider, api)
			}
		}
	}
}

func TestTranscodeOpenAIToAnthropic(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderOpenAI, canonical.IngressAnthropic, "gpt-4", "id-1")
	frame := sse.Event{Data: `{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4","choices":[{"index":0,"delta":{"content":"test"},"finish_reason":null}]}`}
	chunks := tr.TranscodeFrame(&frame)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "event: content_block_delta")
	assert.Contains(t, chunks[0], "test")
}

func TestEncodeMessageEndToOpenAI(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderAnthropic, canonical.IngressOpenAIChat, "claude-3", "id-1")
	encoded, ok := tr.EncodeClientEvent(&canonical.StreamEvent{
		Type:       canonical.EventMessageEnd,
		StopReason: canonical.StopEndOfTurn,
	})
	require.True(t, ok)
	assert.Contains(t, encoded, `"stop"`)
}

// The client stream must contain exactly one Done and at most one
// MessageStart, with tool-call deltas bracketed by start and end events.
func TestTranscodeAnthropicToolUseToOpenAISequence(t *testing.T) {
	tr := NewStreamTranscoder(canonical.ProviderAnthropic, canonical.IngressOpenAIChat, "m", "id-1")
	frames := []sse.Event{
		{Event: "message_start", Data: `{"type":"message_start","message":{"id":"msg_1","role":"assistant","usage":{"input_tokens":1,"output_tokens":0}}}`},
		{Event: "content_block_start", Data: `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"call_1","name":"get_weather","input":{}}}`},
		{Event: "content_block_delta", Data: `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":\"SF\"}"}}`},
		{Event: "content_block_stop", Data: `{"type":"content_block_stop","index":0}`},
		{Event: "message_delta", Data: `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":7}}`},
		{Event: "message_stop", Data: `{"type":"message_stop"}`},
	}
	var all []string
	for i := range frames {
		all = append(all, tr.TranscodeFrame(&frames[i])...)
	}
	joined := strings.Join(all, "")
	assert.Contains(t, joined, `"role":"assistant"`)
	assert.Contains(t, joined, `"id":"call_1"`)
	assert.Contains(t, joined, `"name":"get_weather"`)
	assert.Contains(t, joined, `{\"city\":\"SF\"}`)
	assert.Contains(t, joined, `"finish_reason":"tool_calls"`)
	assert.Equal(t, 1, strings.Count(joined, "data: [DONE]"))
}
