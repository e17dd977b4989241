package fc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

func weatherTools() []canonical.ToolSpec {
	return []canonical.ToolSpec{makeTool("get_weather",
		`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}
}

func TestProcessFcResponseNoTrigger(t *testing.T) {
	result, err := ProcessFcResponse("Just a normal response.", weatherTools())
	require.NoError(t, err)
	assert.Equal(t, ResultNoToolCalls, result.Kind)
}

func TestProcessFcResponseValidToolCall(t *testing.T) {
	trigger := TriggerSignal()
	text := "Let me check.\n" + trigger + "\n<function_calls>" +
		`<invoke name="get_weather"><parameter name="city">London</parameter></invoke>` +
		"</function_calls>"

	result, err := ProcessFcResponse(text, weatherTools())
	require.NoError(t, err)
	require.Equal(t, ResultToolCalls, result.Kind)
	require.Len(t, result.ToolParts, 1)
	call := result.ToolParts[0].(canonical.ToolCallPart)
	assert.Equal(t, "get_weather", call.Name)
	assert.True(t, len(call.ID) > 5 && call.ID[:5] == "call_")
	assert.Equal(t, "Let me check.", result.TextBefore)
}

func TestProcessFcResponsePreservesCallID(t *testing.T) {
	trigger := TriggerSignal()
	text := trigger + "\n<function_calls><function_call>" +
		"<id>call_preserved_1</id><tool>get_weather</tool>" +
		`<args_json>{"city":"London"}</args_json>` +
		"</function_call></function_calls>"

	result, err := ProcessFcResponse(text, weatherTools())
	require.NoError(t, err)
	require.Equal(t, ResultToolCalls, result.Kind)
	call := result.ToolParts[0].(canonical.ToolCallPart)
	assert.Equal(t, "call_preserved_1", call.ID)
	assert.Equal(t, `{"city":"London"}`, string(call.Arguments))
}

func TestProcessFcResponseParseError(t *testing.T) {
	result, err := ProcessFcResponse(TriggerSignal()+"\nsome garbage", weatherTools())
	require.NoError(t, err)
	assert.Equal(t, ResultParseError, result.Kind)
	assert.NotEmpty(t, result.Error)
	assert.Contains(t, result.OriginalText, "some garbage")
}

func TestProcessFcResponseValidationError(t *testing.T) {
	trigger := TriggerSignal()
	text := trigger + "\n<function_calls>" +
		`<invoke name="get_weather"></invoke>` +
		"</function_calls>"
	result, err := ProcessFcResponse(text, weatherTools())
	require.NoError(t, err)
	require.Equal(t, ResultParseError, result.Kind)
	assert.Contains(t, result.Error, "missing required property")
}

func TestExtractResponseText(t *testing.T) {
	parts := []canonical.Part{
		canonical.TextPart{Text: "Hello "},
		canonical.TextPart{Text: "world"},
		canonical.ToolCallPart{ID: "id", Name: "name", Arguments: json.RawMessage("{}")},
	}
	assert.Equal(t, "Hello world", ExtractResponseText(parts))
	assert.Equal(t, "", ExtractResponseText(nil))
}

func TestExtractResponseTextIfTrigger(t *testing.T) {
	_, ok := ExtractResponseTextIfTrigger([]canonical.Part{canonical.TextPart{Text: "plain"}})
	assert.False(t, ok)

	trigger := TriggerSignal()
	text, ok := ExtractResponseTextIfTrigger([]canonical.Part{
		canonical.TextPart{Text: "before " + trigger + " after"},
	})
	require.True(t, ok)
	assert.Contains(t, text, trigger)

	// Trigger split across parts still detects.
	half := len(trigger) / 2
	text, ok = ExtractResponseTextIfTrigger([]canonical.Part{
		canonical.TextPart{Text: trigger[:half]},
		canonical.TextPart{Text: trigger[half:]},
	})
	require.True(t, ok)
	assert.Equal(t, trigger, text)
}

func TestApplyFcPostprocessOnceSuccess(t *testing.T) {
	trigger := TriggerSignal()
	resp := &canonical.Response{
		ID: "resp_1",
		Content: []canonical.Part{canonical.TextPart{
			Text: "Checking.\n" + trigger + "\n<function_calls><function_call>" +
				"<tool>get_weather</tool>" +
				`<args_json>{"city":"SF"}</args_json>` +
				"</function_call></function_calls>",
		}},
		StopReason: canonical.StopEndOfTurn,
	}
	require.NoError(t, ApplyFcPostprocessOnce(resp, weatherTools()))
	assert.Equal(t, canonical.StopToolCalls, resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "Checking.", resp.Content[0].(canonical.TextPart).Text)
	call := resp.Content[1].(canonical.ToolCallPart)
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, `{"city":"SF"}`, string(call.Arguments))
}

func TestApplyFcPostprocessOncePassesThroughOnFailure(t *testing.T) {
	trigger := TriggerSignal()
	original := []canonical.Part{canonical.TextPart{Text: trigger + "\nbroken"}}
	resp := &canonical.Response{Content: original, StopReason: canonical.StopEndOfTurn}
	require.NoError(t, ApplyFcPostprocessOnce(resp, weatherTools()))
	assert.Equal(t, original, resp.Content)
	assert.Equal(t, canonical.StopEndOfTurn, resp.StopReason)
}
