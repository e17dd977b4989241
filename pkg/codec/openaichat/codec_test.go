package openaichat

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

func TestDecodeRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4",
		"stream": true,
		"messages": [
			{"role": "system", "content": "be helpful"},
			{"role": "user", "content": "hello"}
		],
		"temperature": 0.5,
		"max_tokens": 100
	}`)
	req, err := DecodeRequest(body, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, "be helpful", req.SystemPrompt)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, canonical.RoleUser, req.Messages[0].Role)
	assert.Equal(t, 0.5, *req.Generation.Temperature)
	assert.Equal(t, uint64(100), *req.Generation.MaxTokens)
}

func TestDecodeRequestMissingModel(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"messages":[]}`), uuid.New())
	assert.Error(t, err)
}

func TestDecodeRequestToolsAndChoice(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type":"function","function":{"name":"get_weather","description":"d","parameters":{"type":"object"}}}],
		"tool_choice": {"type":"function","function":{"name":"get_weather"}}
	}`)
	req, err := DecodeRequest(body, uuid.New())
	require.NoError(t, err)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Function.Name)
	assert.Equal(t, canonical.ToolChoiceSpecific, req.ToolChoice.Mode)
	assert.Equal(t, "get_weather", req.ToolChoice.Name)
}

func TestDecodeRequestToolMessages(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4",
		"messages": [
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{\"x\":1}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "result"}
		]
	}`)
	req, err := DecodeRequest(body, uuid.New())
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	call := req.Messages[0].Parts[0].(canonical.ToolCallPart)
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, `{"x":1}`, string(call.Arguments), "argument bytes preserved exactly")

	assert.Equal(t, canonical.RoleTool, req.Messages[1].Role)
	result := req.Messages[1].Parts[0].(canonical.ToolResultPart)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "result", result.Content)
}

func TestDecodeRequestExtensionsRoundTrip(t *testing.T) {
	body := []byte(`{"model":"m","messages":[{"role":"user","content":"x"}],"response_format":{"type":"json_object"},"logprobs":true}`)
	req, err := DecodeRequest(body, uuid.New())
	require.NoError(t, err)
	assert.Contains(t, req.Extensions, "response_format")
	assert.Contains(t, req.Extensions, "logprobs")

	encoded, err := EncodeRequest(req)
	require.NoError(t, err)
	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &wire))
	assert.Contains(t, wire, "response_format")
	assert.Contains(t, wire, "logprobs")
}

func TestEncodeRequestRoundTrip(t *testing.T) {
	original := []byte(`{
		"model": "gpt-4",
		"messages": [
			{"role": "system", "content": "sys"},
			{"role": "user", "content": "question"},
			{"role": "assistant", "content": "answer", "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "f", "arguments": "{\"x\":1}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "out"}
		],
		"tools": [{"type":"function","function":{"name":"f","parameters":{"type":"object"}}}],
		"tool_choice": "auto"
	}`)
	req, err := DecodeRequest(original, uuid.New())
	require.NoError(t, err)

	encoded, err := EncodeRequest(req)
	require.NoError(t, err)
	decoded, err := DecodeRequest(encoded, req.RequestID)
	require.NoError(t, err)

	assert.Equal(t, req.Model, decoded.Model)
	assert.Equal(t, req.SystemPrompt, decoded.SystemPrompt)
	assert.Equal(t, req.ToolChoice, decoded.ToolChoice)
	require.Len(t, decoded.Messages, len(req.Messages))
	for i := range req.Messages {
		assert.Equal(t, req.Messages[i].Role, decoded.Messages[i].Role, "message %d", i)
	}
	require.Len(t, decoded.Tools, 1)
	assert.Equal(t, "f", decoded.Tools[0].Function.Name)
}

func TestEncodeRequestStripsToolsOnChoiceNone(t *testing.T) {
	req := &canonical.Request{
		Model:    "m",
		Messages: []canonical.Message{{Role: canonical.RoleUser, Parts: []canonical.Part{canonical.TextPart{Text: "x"}}}},
		Tools: []canonical.ToolSpec{{Function: canonical.ToolFunction{
			Name: "f", Parameters: json.RawMessage(`{}`),
		}}},
		ToolChoice: canonical.ToolChoice{Mode: canonical.ToolChoiceNone},
	}
	encoded, err := EncodeRequest(req)
	require.NoError(t, err)
	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &wire))
	assert.NotContains(t, wire, "tools")
	assert.NotContains(t, wire, "tool_choice")
}

func TestToolChoiceWireMapping(t *testing.T) {
	cases := []struct {
		choice canonical.ToolChoice
		want   string
	}{
		{canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}, `"auto"`},
		{canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}, `"required"`},
		{canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: "n"},
			`{"function":{"name":"n"},"type":"function"}`},
	}
	for _, tc := range cases {
		value, ok := EncodeWireToolChoice(tc.choice)
		require.True(t, ok)
		encoded, err := json.Marshal(value)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(encoded))
	}
	_, ok := EncodeWireToolChoice(canonical.ToolChoice{Mode: canonical.ToolChoiceNone})
	assert.False(t, ok)
}

func TestDecodeResponse(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-4",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "Hi",
				"tool_calls": [{"id":"call_1","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)
	resp, err := DecodeResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, canonical.StopToolCalls, resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Hi", resp.Content[0].(canonical.TextPart).Text)
	assert.Equal(t, uint64(15), *resp.Usage.TotalTokens)
}

func TestEncodeResponse(t *testing.T) {
	resp := &canonical.Response{
		ID: "resp_1",
		Content: []canonical.Part{
			canonical.TextPart{Text: "hello"},
		},
		StopReason: canonical.StopEndOfTurn,
		Usage: canonical.Usage{
			InputTokens:  canonical.Uint64Ptr(3),
			OutputTokens: canonical.Uint64Ptr(4),
			TotalTokens:  canonical.Uint64Ptr(7),
		},
	}
	body, err := EncodeResponse(resp, "alias-model")
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "alias-model", wire["model"])
	assert.Equal(t, "chat.completion", wire["object"])
	choices := wire["choices"].([]any)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	message := choice["message"].(map[string]any)
	assert.Equal(t, "hello", message["content"])
}

func TestDecodeStreamDataTextAndFinish(t *testing.T) {
	started := false
	var events []canonical.StreamEvent
	ok := DecodeStreamData(
		[]byte(`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`),
		&started, true, &events)
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, canonical.EventMessageStart, events[0].Type)
	assert.Equal(t, canonical.EventTextDelta, events[1].Type)

	events = events[:0]
	ok = DecodeStreamData([]byte(`{"choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`),
		&started, true, &events)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, canonical.EventMessageEnd, events[0].Type)
	assert.Equal(t, canonical.StopMaxTokens, events[0].StopReason)
}

func TestEncodeStreamEventShapes(t *testing.T) {
	frame, ok := EncodeStreamEvent(&canonical.StreamEvent{
		Type: canonical.EventMessageStart, Role: canonical.RoleAssistant,
	}, "m", "id-1", 123)
	require.True(t, ok)
	assert.Contains(t, frame, `"delta":{"role":"assistant"}`)
	assert.Contains(t, frame, `"created":123`)

	frame, ok = EncodeStreamEvent(&canonical.StreamEvent{
		Type: canonical.EventToolCallStart, Index: 0, ID: "call_1", Name: "get_weather",
	}, "m", "id-1", 123)
	require.True(t, ok)
	assert.Contains(t, frame, `"id":"call_1"`)
	assert.Contains(t, frame, `"name":"get_weather"`)
	assert.Contains(t, frame, `"arguments":""`)

	frame, ok = EncodeStreamEvent(&canonical.StreamEvent{
		Type: canonical.EventToolCallArgsDelta, Index: 0, Delta: `{"city":"SF"}`,
	}, "m", "id-1", 123)
	require.True(t, ok)
	assert.Contains(t, frame, `{\"city\":\"SF\"}`)

	frame, ok = EncodeStreamEvent(&canonical.StreamEvent{Type: canonical.EventDone}, "m", "id-1", 123)
	require.True(t, ok)
	assert.Equal(t, "data: [DONE]\n\n", frame)

	_, ok = EncodeStreamEvent(&canonical.StreamEvent{
		Type: canonical.EventReasoningDelta, Text: "thinking",
	}, "m", "id-1", 123)
	assert.False(t, ok, "reasoning has no OpenAI Chat representation")
}
