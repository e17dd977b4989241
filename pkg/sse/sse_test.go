package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserSimpleDataFrame(t *testing.T) {
	p := NewParser()
	events := p.Feed("data: hello world\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "hello world", events[0].Data)
	assert.Empty(t, events[0].Event)
}

func TestParserNamedEvent(t *testing.T) {
	p := NewParser()
	events := p.Feed("event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "message_start", events[0].Event)
	assert.Equal(t, `{"type":"message_start"}`, events[0].Data)
}

func TestParserMultilineData(t *testing.T) {
	p := NewParser()
	events := p.Feed("data: line1\ndata: line2\ndata: line3\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2\nline3", events[0].Data)
}

func TestParserMultipleFrames(t *testing.T) {
	p := NewParser()
	events := p.Feed("data: first\n\ndata: second\n\n")
	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Data)
	assert.Equal(t, "second", events[1].Data)
}

func TestParserIgnoresComments(t *testing.T) {
	p := NewParser()
	events := p.Feed(": this is a comment\ndata: hello\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data)
}

func TestParserIncrementalChunks(t *testing.T) {
	p := NewParser()

	events := p.Feed("data: hel")
	assert.Empty(t, events)

	events = p.Feed("lo\n")
	assert.Empty(t, events)

	events = p.Feed("\n")
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data)
}

func TestParserNoSpaceAfterColon(t *testing.T) {
	p := NewParser()
	events := p.Feed("data:nospace\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "nospace", events[0].Data)
}

func TestParserEmptyData(t *testing.T) {
	p := NewParser()
	events := p.Feed("data:\n\n")
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Data)
}

func TestParserCRLFLineEndings(t *testing.T) {
	p := NewParser()
	events := p.Feed("data: hello\r\n\r\n")
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Data)
}

func TestParserBlankLinesWithoutDataDontEmit(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.Feed("\n\n\n"))
}

func TestParserAnthropicSequence(t *testing.T) {
	p := NewParser()
	input := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\"}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	events := p.Feed(input)
	require.Len(t, events, 3)
	assert.Equal(t, "message_start", events[0].Event)
	assert.Equal(t, "content_block_delta", events[1].Event)
	assert.Equal(t, "message_stop", events[2].Event)
}

func TestIsDone(t *testing.T) {
	assert.True(t, IsDone(&Event{Data: "[DONE]"}))
	assert.True(t, IsDone(&Event{Data: " [DONE] "}))
	assert.False(t, IsDone(&Event{Data: `{"content":"hello"}`}))
}

func TestParseFrameDataOnly(t *testing.T) {
	ev, ok := ParseFrame([]byte("data: hello\n\n"))
	require.True(t, ok)
	assert.Equal(t, "hello", ev.Data)
	assert.Empty(t, ev.Event)
}

func TestParseFrameEventAndData(t *testing.T) {
	ev, ok := ParseFrame([]byte("event: ping\ndata: {}\n\n"))
	require.True(t, ok)
	assert.Equal(t, "ping", ev.Event)
	assert.Equal(t, "{}", ev.Data)
}

func TestParseFrameMultilineData(t *testing.T) {
	ev, ok := ParseFrame([]byte("data: line1\ndata: line2\n\n"))
	require.True(t, ok)
	assert.Equal(t, "line1\nline2", ev.Data)
}

func TestParseFrameRequiresDispatchBoundary(t *testing.T) {
	_, ok := ParseFrame([]byte("data: hello"))
	assert.False(t, ok)
}

func TestParseFrameCRLF(t *testing.T) {
	ev, ok := ParseFrame([]byte("data: a\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "a", ev.Data)
}

func TestEncodeDataFrame(t *testing.T) {
	assert.Equal(t, "data: {\"key\":\"value\"}\n\n", EncodeDataFrame(`{"key":"value"}`))
}

func TestEncodeEventFrame(t *testing.T) {
	assert.Equal(t,
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		EncodeEventFrame("message_start", `{"type":"message_start"}`))
}

func TestEncodeEventMultiline(t *testing.T) {
	out := EncodeEvent(&Event{Data: "line1\nline2"})
	assert.Equal(t, "data: line1\ndata: line2\n\n", out)
}

func TestEncodeEventWithID(t *testing.T) {
	out := EncodeEvent(&Event{Event: "ping", Data: "{}", ID: "42"})
	assert.Equal(t, "event: ping\ndata: {}\nid: 42\n\n", out)
}

func TestFrameScannerSingleFrame(t *testing.T) {
	s := NewFrameScanner(strings.NewReader("data: hello\n\n"))
	frame, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: hello\n\n", string(frame))
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFrameScannerMultipleFramesSameChunk(t *testing.T) {
	s := NewFrameScanner(strings.NewReader("data: first\n\ndata: second\n\n"))
	frame, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: first\n\n", string(frame))
	frame, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: second\n\n", string(frame))
}

func TestFrameScannerSplitTerminatorAcrossReads(t *testing.T) {
	// The reader yields "data: a\n" then "\ndata: b\n\n"; the terminator
	// spans the read boundary.
	s := NewFrameScanner(io.MultiReader(
		strings.NewReader("data: a\n"),
		strings.NewReader("\ndata: b\n\n"),
	))
	frame, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: a\n\n", string(frame))
	frame, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: b\n\n", string(frame))
}

func TestFrameScannerUnterminatedTail(t *testing.T) {
	s := NewFrameScanner(strings.NewReader("data: a\r\n\r\ndata: tail"))
	frame, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: a\r\n\r\n", string(frame))
	frame, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, "data: tail", string(frame))
}
