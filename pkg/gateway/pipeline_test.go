package gateway

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/config"
	"github.com/digitallysavvy/go-llm-gateway/pkg/fc"
)

// fakeTransport replays scripted unary bodies and stream frames and
// records every request body it sees.
type fakeTransport struct {
	unaryBodies   [][]byte
	unaryStatuses []int
	streamBody    string
	requests      [][]byte
	calls         int
}

func (f *fakeTransport) SendUnary(_ context.Context, _ string, _ map[string]string, body []byte) (int, []byte, error) {
	f.requests = append(f.requests, body)
	i := f.calls
	f.calls++
	status := 200
	if i < len(f.unaryStatuses) {
		status = f.unaryStatuses[i]
	}
	respBody := []byte("{}")
	if i < len(f.unaryBodies) {
		respBody = f.unaryBodies[i]
	}
	return status, respBody, nil
}

func (f *fakeTransport) SendStream(_ context.Context, _ string, _ map[string]string, body []byte) (int, string, io.ReadCloser, error) {
	f.requests = append(f.requests, body)
	f.calls++
	return 200, "text/event-stream", io.NopCloser(strings.NewReader(f.streamBody)), nil
}

func chatRequest(t *testing.T, withTools bool) (*canonical.Request, []byte) {
	t.Helper()
	body := `{"model":"alias","messages":[{"role":"user","content":"weather in SF?"}]`
	if withTools {
		body += `,"tools":[{"type":"function","function":{"name":"get_weather","parameters":{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}}}],"tool_choice":"auto"`
	}
	body += `}`
	req, err := DecodeIngressRequest(canonical.IngressOpenAIChat, []byte(body), "", false, uuid.New())
	require.NoError(t, err)
	return req, []byte(body)
}

func testRoute(provider canonical.ProviderKind, forceInject bool) *Route {
	return &Route{
		Provider:      provider,
		URL:           "http://upstream.test/v1",
		ClientModel:   "alias",
		UpstreamModel: "real-m",
		ForceFcInject: forceInject,
	}
}

func TestHandleUnaryPassthroughRewritesModel(t *testing.T) {
	ft := &fakeTransport{unaryBodies: [][]byte{[]byte(`{"id":"x","model":"real-m","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`)}}
	p := NewPipeline(ft, config.Features{})
	req, raw := chatRequest(t, false)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, false), raw)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), `{"id":"x","model":"alias"`),
		"model name rewritten, rest byte-identical")
	assert.Contains(t, string(out), `"content":"hi"`)
}

func TestHandleUnaryCrossDialectAnthropicUpstream(t *testing.T) {
	ft := &fakeTransport{unaryBodies: [][]byte{[]byte(`{
		"id": "msg_1", "model": "real-m",
		"content": [{"type": "tool_use", "id": "call_1", "name": "get_weather", "input": {"city": "SF"}}],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 10, "output_tokens": 5}
	}`)}}
	p := NewPipeline(ft, config.Features{})
	req, raw := chatRequest(t, true)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderAnthropic, false), raw)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	assert.Equal(t, "alias", resp["model"])
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])
	calls := choice["message"].(map[string]any)["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	assert.Equal(t, "call_1", call["id"])

	// The upstream request was encoded as an Anthropic body.
	upstream := string(ft.requests[0])
	assert.Contains(t, upstream, `"input_schema"`)
	assert.Contains(t, upstream, `"max_tokens"`)
}

func TestHandleUnaryFcInjectPostprocess(t *testing.T) {
	trigger := fc.TriggerSignal()
	modelText := "Let me check.\n" + trigger + "\n<function_calls><function_call>" +
		"<id>call_a</id><tool>get_weather</tool>" +
		`<args_json>{"city":"SF"}</args_json></function_call></function_calls>`
	upstream, err := json.Marshal(map[string]any{
		"id": "c1", "model": "real-m",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": modelText},
			"finish_reason": "stop",
		}},
	})
	require.NoError(t, err)

	ft := &fakeTransport{unaryBodies: [][]byte{upstream}}
	p := NewPipeline(ft, config.Features{})
	req, raw := chatRequest(t, true)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, true), raw)
	require.NoError(t, err)

	// The upstream request carries the FC prompt and no native tools.
	sent := string(ft.requests[0])
	assert.Contains(t, sent, trigger)
	assert.NotContains(t, sent, `"tools"`)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])
	message := choice["message"].(map[string]any)
	assert.Equal(t, "Let me check.", message["content"])
	calls := message["tool_calls"].([]any)
	call := calls[0].(map[string]any)
	assert.Equal(t, "call_a", call["id"])
	fn := call["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])
	assert.JSONEq(t, `{"city":"SF"}`, fn["arguments"].(string))
}

func TestHandleUnaryFcErrorRetry(t *testing.T) {
	trigger := fc.TriggerSignal()
	badText := trigger + "\n<function_calls><invoke name=\"get_weather\"></invoke></function_calls>"
	goodText := trigger + "\n<function_calls><function_call><tool>get_weather</tool>" +
		`<args_json>{"city":"SF"}</args_json></function_call></function_calls>`

	chatBody := func(text string) []byte {
		body, err := json.Marshal(map[string]any{
			"id": "c1", "model": "real-m",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			}},
		})
		require.NoError(t, err)
		return body
	}

	ft := &fakeTransport{unaryBodies: [][]byte{chatBody(badText), chatBody(goodText)}}
	p := NewPipeline(ft, config.Features{EnableFcErrorRetry: true, FcErrorRetryMaxAttempts: 3})
	req, raw := chatRequest(t, true)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, true), raw)
	require.NoError(t, err)
	require.Len(t, ft.requests, 2, "a second upstream call happens after the parse failure")

	// The retry request appends the failed response and the retry prompt.
	second := string(ft.requests[1])
	assert.Contains(t, second, "DO NOT OUTPUT ANYTHING ELSE")
	assert.Contains(t, second, "invoke name=")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])
}

func TestHandleUnaryFcRetryExhaustedPassesThrough(t *testing.T) {
	trigger := fc.TriggerSignal()
	badText := trigger + "\nnot xml at all"
	body, err := json.Marshal(map[string]any{
		"id": "c1", "model": "real-m",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": badText},
			"finish_reason": "stop",
		}},
	})
	require.NoError(t, err)

	ft := &fakeTransport{unaryBodies: [][]byte{body}}
	p := NewPipeline(ft, config.Features{})
	req, raw := chatRequest(t, true)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, true), raw)
	require.NoError(t, err)
	assert.Len(t, ft.requests, 1, "retry disabled: one upstream call")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"], "plain text passthrough")
}

func TestHandleUnaryAutoFallbackToInject(t *testing.T) {
	trigger := fc.TriggerSignal()
	toolText := trigger + "\n<function_calls><function_call><tool>get_weather</tool>" +
		`<args_json>{"city":"SF"}</args_json></function_call></function_calls>`
	okBody, err := json.Marshal(map[string]any{
		"id": "c1", "model": "real-m",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": toolText},
			"finish_reason": "stop",
		}},
	})
	require.NoError(t, err)

	ft := &fakeTransport{
		unaryStatuses: []int{400, 200},
		unaryBodies: [][]byte{
			[]byte(`{"error":{"message":"tool use is not supported on this model"}}`),
			okBody,
		},
	}
	p := NewPipeline(ft, config.Features{EnableFcErrorRetry: true, FcErrorRetryMaxAttempts: 3})
	req, raw := chatRequest(t, true)

	out, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, false), raw)
	require.NoError(t, err)
	require.Len(t, ft.requests, 2)

	first := string(ft.requests[0])
	assert.Contains(t, first, `"tools"`, "first attempt uses native tools")
	second := string(ft.requests[1])
	assert.NotContains(t, second, `"tools"`, "inject retry strips native tools")
	assert.Contains(t, second, trigger)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out, &resp))
	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])
}

func TestHandleUnaryUpstreamErrorSurfaces(t *testing.T) {
	ft := &fakeTransport{
		unaryStatuses: []int{503},
		unaryBodies:   [][]byte{[]byte(`{"error":"overloaded"}`)},
	}
	p := NewPipeline(ft, config.Features{})
	req, raw := chatRequest(t, false)

	_, err := p.HandleUnary(context.Background(), req, testRoute(canonical.ProviderOpenAI, false), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHandleStreamPassthrough(t *testing.T) {
	ft := &fakeTransport{streamBody: "data: {\"model\":\"real-m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\ndata: [DONE]\n\n"}
	p := NewPipeline(ft, config.Features{})
	req, _ := chatRequest(t, false)
	req.Stream = true

	var sink strings.Builder
	err := p.HandleStream(context.Background(), req, testRoute(canonical.ProviderOpenAI, false), &sink)
	require.NoError(t, err)
	out := sink.String()
	assert.Contains(t, out, `"model":"alias"`, "passthrough frames get the model rewrite")
	assert.Contains(t, out, "data: [DONE]")
}

func TestHandleStreamAnthropicToOpenAI(t *testing.T) {
	streamBody := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"role\":\"assistant\",\"usage\":{\"input_tokens\":1,\"output_tokens\":0}}}\n\n" +
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"tool_use\",\"id\":\"call_1\",\"name\":\"get_weather\",\"input\":{}}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\\\":\\\"SF\\\"}\"}}\n\n" +
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"tool_use\",\"stop_sequence\":null},\"usage\":{\"output_tokens\":5}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	ft := &fakeTransport{streamBody: streamBody}
	p := NewPipeline(ft, config.Features{})
	req, _ := chatRequest(t, true)
	req.Stream = true

	var sink strings.Builder
	err := p.HandleStream(context.Background(), req, testRoute(canonical.ProviderAnthropic, false), &sink)
	require.NoError(t, err)
	out := sink.String()

	assert.Contains(t, out, `"role":"assistant"`)
	assert.Contains(t, out, `"id":"call_1"`)
	assert.Contains(t, out, `"name":"get_weather"`)
	assert.Contains(t, out, `{\"city\":\"SF\"}`)
	assert.Contains(t, out, `"finish_reason":"tool_calls"`)
	assert.Equal(t, 1, strings.Count(out, "data: [DONE]"))
}

func TestHandleStreamFcInject(t *testing.T) {
	trigger := fc.TriggerSignal()
	deltaFrame := func(text string) string {
		encoded, _ := json.Marshal(text)
		return "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":" + string(encoded) + "},\"finish_reason\":null}]}\n\n"
	}
	streamBody := deltaFrame("Let me check.\n") +
		deltaFrame(trigger+"\n<function_calls><function_call><id>call_a</id><tool>get_weather</tool><args_json>{\"city\":\"SF\"}</args_json></function_call></function_calls>") +
		"data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"
	ft := &fakeTransport{streamBody: streamBody}
	p := NewPipeline(ft, config.Features{})
	req, _ := chatRequest(t, true)
	req.Stream = true

	var sink strings.Builder
	err := p.HandleStream(context.Background(), req, testRoute(canonical.ProviderOpenAI, true), &sink)
	require.NoError(t, err)
	out := sink.String()

	assert.Contains(t, out, "Let me check.")
	assert.NotContains(t, out, "function_calls")
	assert.Contains(t, out, `"id":"call_a"`)
	assert.Contains(t, out, `"finish_reason":"tool_calls"`)
	assert.Equal(t, 1, strings.Count(out, "data: [DONE]"))
}
