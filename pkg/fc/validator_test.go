package fc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

func makeTool(name, params string) canonical.ToolSpec {
	return canonical.ToolSpec{Function: canonical.ToolFunction{
		Name:       name,
		Parameters: json.RawMessage(params),
	}}
}

func args(t *testing.T, raw string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestValidateUnknownTool(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("foo", `{}`)}
	errs := ValidateToolCall("bar", map[string]any{}, tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "unknown tool")
}

func TestValidateSimpleCall(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("get_weather",
		`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}
	assert.Empty(t, ValidateToolCall("get_weather", args(t, `{"city":"London"}`), tools))
}

func TestValidateMissingRequired(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("get_weather",
		`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)}
	errs := ValidateToolCall("get_weather", map[string]any{}, tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, `missing required property "city"`)
}

func TestValidateWrongType(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"count":{"type":"integer"}}}`)}
	errs := ValidateToolCall("test", args(t, `{"count":"not a number"}`), tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "expected type 'integer'")
}

func TestValidateIntegerAcceptsWholeFloat(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"count":{"type":"integer"}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"count":3}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"count":3.5}`), tools))
}

func TestValidateAdditionalPropertiesFalse(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"a":{"type":"string"}},"additionalProperties":false}`)}
	errs := ValidateToolCall("test", args(t, `{"a":"ok","b":"extra"}`), tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "unexpected property")
}

func TestValidateAdditionalPropertiesSchema(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{},"additionalProperties":{"type":"integer"},"required":["n"]}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"n":1}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"n":"x"}`), tools))
}

func TestValidateEnum(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"color":{"type":"string","enum":["red","green","blue"]}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"color":"red"}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"color":"purple"}`), tools))
}

func TestValidateConst(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"version":{"const":2}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"version":2}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"version":3}`), tools))
}

func TestValidateAnyOf(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"val":{"anyOf":[{"type":"string"},{"type":"integer"}]}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"val":"hello"}`), tools))
	assert.Empty(t, ValidateToolCall("test", args(t, `{"val":42}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"val":true}`), tools))
}

func TestValidateOneOf(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"val":{"oneOf":[{"type":"string"},{"type":"number"}]}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"val":"hello"}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"val":true}`), tools))
}

func TestValidateAllOf(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"n":{"allOf":[{"type":"integer"},{"minimum":5}]}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"n":7}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"n":3}`), tools))
}

func TestValidateStringConstraints(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"name":{"type":"string","minLength":2,"maxLength":5}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"name":"abc"}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"name":"a"}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"name":"abcdef"}`), tools))
}

func TestValidateNumericConstraints(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"age":{"type":"integer","minimum":0,"maximum":150}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"age":25}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"age":-1}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"age":200}`), tools))
}

func TestValidatePattern(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"email":{"type":"string","pattern":"^[^@]+@[^@]+$"}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"email":"a@b.com"}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"email":"nope"}`), tools))
}

func TestValidateArrayItems(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{"tags":{"type":"array","items":{"type":"string"}}}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"tags":["a","b"]}`), tools))
	errs := ValidateToolCall("test", args(t, `{"tags":["a",1]}`), tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Path, "tags[1]")
}

func TestValidateNonObjectArguments(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test", `{}`)}
	errs := ValidateToolCall("test", "string", tools)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, "arguments must be a JSON object")
}

func TestValidatePermissiveSchemaShortCircuit(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test", `{"type":"object","properties":{}}`)}
	assert.Empty(t, ValidateToolCall("test", map[string]any{}, tools))
	assert.Empty(t, ValidateToolCall("test", args(t, `{"x":1,"y":"z"}`), tools))
}

func TestValidatePermissiveShortCircuitNotAppliedWithConstraints(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("test",
		`{"type":"object","properties":{},"const":{"x":1}}`)}
	assert.Empty(t, ValidateToolCall("test", args(t, `{"x":1}`), tools))
	assert.NotEmpty(t, ValidateToolCall("test", args(t, `{"x":2}`), tools))
}

func TestValidateToolCallsBatch(t *testing.T) {
	tools := []canonical.ToolSpec{makeTool("foo",
		`{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`)}
	calls := []ParsedToolCall{
		{Name: "foo", Arguments: args(t, `{"x":"ok"}`)},
		{Name: "foo", Arguments: map[string]any{}},
	}
	errs := ValidateToolCalls(calls, tools)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "missing required property")
}
