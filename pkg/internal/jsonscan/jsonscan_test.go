package jsonscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringAfterKey(t *testing.T) {
	data := []byte(`{"delta":{"content":"hello"}}`)
	got, ok := StringAfterKey(data, []byte(`"content":`))
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestStringAfterKeyWithEscapes(t *testing.T) {
	data := []byte(`{"content":"line\nbreak \"quoted\""}`)
	got, ok := StringAfterKey(data, []byte(`"content":`))
	require.True(t, ok)
	assert.Equal(t, "line\nbreak \"quoted\"", got)
}

func TestStringAfterKeyMissing(t *testing.T) {
	_, ok := StringAfterKey([]byte(`{"other":"x"}`), []byte(`"content":`))
	assert.False(t, ok)
}

func TestStringAfterKeyNonString(t *testing.T) {
	_, ok := StringAfterKey([]byte(`{"content":null}`), []byte(`"content":`))
	assert.False(t, ok)
}

func TestStringAfterKeyWhitespaceAroundColon(t *testing.T) {
	got, ok := StringAfterKey([]byte(`{"content":   "spaced"}`), []byte(`"content":`))
	require.True(t, ok)
	assert.Equal(t, "spaced", got)
}

func TestU64AfterKey(t *testing.T) {
	got, ok := U64AfterKey([]byte(`{"index": 42}`), []byte(`"index":`))
	require.True(t, ok)
	assert.Equal(t, uint64(42), got)
}

func TestU64AfterKeyNoDigit(t *testing.T) {
	_, ok := U64AfterKey([]byte(`{"index": null}`), []byte(`"index":`))
	assert.False(t, ok)
}

func TestObjectRangeAfterKey(t *testing.T) {
	data := []byte(`{"usage": {"prompt_tokens": 10, "nested": {"a": 1}}, "tail": 1}`)
	start, end, ok := ObjectRangeAfterKey(data, []byte(`"usage"`))
	require.True(t, ok)
	assert.Equal(t, `{"prompt_tokens": 10, "nested": {"a": 1}}`, string(data[start:end]))

	tokens, ok := U64AfterKeyIn(data, []byte(`"prompt_tokens":`), start, end)
	require.True(t, ok)
	assert.Equal(t, uint64(10), tokens)
}

func TestObjectRangeSkipsStringsWithBraces(t *testing.T) {
	data := []byte(`{"obj": {"text": "has } brace"}}`)
	start, end, ok := ObjectRangeAfterKey(data, []byte(`"obj"`))
	require.True(t, ok)
	assert.Equal(t, `{"text": "has } brace"}`, string(data[start:end]))
}

func TestValueEndScalar(t *testing.T) {
	end, ok := ValueEnd([]byte(`123, "x"`), 0)
	require.True(t, ok)
	assert.Equal(t, 3, end)
}

func TestValueEndArray(t *testing.T) {
	data := []byte(`[1, {"a": "]"}, 3] tail`)
	end, ok := ValueEnd(data, 0)
	require.True(t, ok)
	assert.Equal(t, `[1, {"a": "]"}, 3]`, string(data[:end]))
}

func TestRawValueAfterKeyIn(t *testing.T) {
	data := []byte(`{"functionCall": {"name": "f", "args": {"q": "x"}}}`)
	start, end, ok := ObjectRangeAfterKey(data, []byte(`"functionCall"`))
	require.True(t, ok)
	raw, ok := RawValueAfterKeyIn(data, []byte(`"args"`), start, end)
	require.True(t, ok)
	assert.Equal(t, `{"q": "x"}`, raw)
}

func TestUnescapedStringAfterKey(t *testing.T) {
	got, ok := UnescapedStringAfterKey([]byte(`{"type":"response.created"}`), []byte(`"type":`))
	require.True(t, ok)
	assert.Equal(t, "response.created", string(got))

	_, ok = UnescapedStringAfterKey([]byte(`{"type":"a\"b"}`), []byte(`"type":`))
	assert.False(t, ok)
}

func TestAppendJSONString(t *testing.T) {
	out := AppendJSONString(nil, "a\"b\nc\x01")
	assert.Equal(t, "\"a\\\"b\\nc\\u0001\"", string(out))
}
