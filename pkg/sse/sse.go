// Package sse implements the Server-Sent Events substrate shared by every
// dialect: an incremental field parser, a raw-frame scanner for passthrough
// paths, and frame encoders. The subset implemented is the part of the HTML
// SSE spec LLM providers actually use: `event`, `data`, `id`, `retry`, and
// `:` comments.
package sse

import (
	"bytes"
	"io"
	"strconv"
	"strings"
)

// Event is a single parsed SSE event.
type Event struct {
	// Event type (e.g. "message_start"); empty for unnamed events.
	Event string

	// Data payload. Multiple data: lines are joined with \n.
	Data string

	// Last event ID, if any.
	ID string

	// Retry time in milliseconds, if present.
	Retry int
}

// DoneData is the terminal payload used by OpenAI-style streams.
const DoneData = "[DONE]"

// DoneFrame is the encoded terminal frame for OpenAI-style streams.
const DoneFrame = "data: [DONE]\n\n"

// IsDone reports whether an event signals stream completion.
func IsDone(ev *Event) bool {
	return strings.TrimSpace(ev.Data) == DoneData
}

// Parser is an incremental SSE parser. Feed it raw text chunks arriving at
// arbitrary byte boundaries and it emits fully assembled events once the
// terminating blank line arrives.
type Parser struct {
	buffer     []byte
	eventType  string
	dataBuffer strings.Builder
	hasData    bool
	lastID     string
}

// NewParser creates a new incremental parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes a chunk and returns any complete events parsed.
func (p *Parser) Feed(chunk string) []Event {
	var out []Event
	p.FeedInto(chunk, &out)
	return out
}

// FeedInto consumes a chunk and appends complete events to out.
//
// SSE rules applied: lines are terminated by \n (an optional preceding \r
// is stripped); a blank line dispatches the pending event; `:` lines are
// comments; exactly one leading space after `field:` is stripped; multiple
// `data:` lines are joined with \n; unknown fields are ignored.
func (p *Parser) FeedInto(chunk string, out *[]Event) {
	p.buffer = append(p.buffer, chunk...)
	processed := 0
	for {
		rel := bytes.IndexByte(p.buffer[processed:], '\n')
		if rel < 0 {
			break
		}
		lineEnd := processed + rel
		line := p.buffer[processed:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		p.processLine(line, out)
		processed = lineEnd + 1
	}
	if processed == len(p.buffer) {
		p.buffer = p.buffer[:0]
		return
	}
	if processed > 0 {
		p.buffer = append(p.buffer[:0], p.buffer[processed:]...)
	}
}

func (p *Parser) processLine(line []byte, out *[]Event) {
	if len(line) == 0 {
		// Blank line dispatches the pending event.
		if p.hasData {
			*out = append(*out, Event{
				Event: p.eventType,
				Data:  p.dataBuffer.String(),
				ID:    p.lastID,
			})
			p.eventType = ""
			p.dataBuffer.Reset()
			p.hasData = false
		}
		return
	}
	if line[0] == ':' {
		return
	}
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return
	}
	field := string(line[:colon])
	value := line[colon+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	switch field {
	case "data":
		if p.hasData {
			p.dataBuffer.WriteByte('\n')
		} else {
			p.hasData = true
		}
		p.dataBuffer.Write(value)
	case "event":
		p.eventType = string(value)
	case "id":
		p.lastID = string(value)
	case "retry":
		// Parsed but not surfaced per-event; providers do not use it.
		_, _ = strconv.Atoi(string(value))
	}
}

// ParseFrame parses one complete raw SSE frame (terminated by a blank
// line). It fast-paths the two dominant shapes, `data: <json>\n\n` and
// `event: x\ndata: <json>\n\n`, and falls back to a line loop for
// anything else. Returns false when the bytes are not a dispatchable frame.
func ParseFrame(raw []byte) (Event, bool) {
	if ev, ok := parseDataOnlyFrame(raw); ok {
		return ev, true
	}
	if ev, ok := parseEventAndDataFrame(raw); ok {
		return ev, true
	}

	var ev Event
	var data strings.Builder
	hasData := false
	lineStart := 0
	for {
		rel := bytes.IndexByte(raw[lineStart:], '\n')
		if rel < 0 {
			break
		}
		lineEnd := lineStart + rel
		line := raw[lineStart:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lineStart = lineEnd + 1

		if len(line) == 0 {
			if hasData {
				ev.Data = data.String()
				return ev, true
			}
			continue
		}
		if line[0] == ':' {
			continue
		}
		if v, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			v = bytes.TrimPrefix(v, []byte(" "))
			if hasData {
				data.WriteByte('\n')
			} else {
				hasData = true
			}
			data.Write(v)
		} else if v, ok := bytes.CutPrefix(line, []byte("event:")); ok {
			ev.Event = string(bytes.TrimPrefix(v, []byte(" ")))
		} else if v, ok := bytes.CutPrefix(line, []byte("id:")); ok {
			ev.ID = string(bytes.TrimPrefix(v, []byte(" ")))
		} else if v, ok := bytes.CutPrefix(line, []byte("retry:")); ok {
			if ms, err := strconv.Atoi(strings.TrimSpace(string(v))); err == nil {
				ev.Retry = ms
			}
		}
	}
	return Event{}, false
}

func framePayloadEnd(raw []byte) (int, bool) {
	if bytes.HasSuffix(raw, []byte("\r\n\r\n")) {
		return len(raw) - 4, true
	}
	if bytes.HasSuffix(raw, []byte("\n\n")) {
		return len(raw) - 2, true
	}
	return 0, false
}

func parseDataOnlyFrame(raw []byte) (Event, bool) {
	if !bytes.HasPrefix(raw, []byte("data:")) {
		return Event{}, false
	}
	end, ok := framePayloadEnd(raw)
	if !ok || end < 5 {
		return Event{}, false
	}
	start := 5
	if start < len(raw) && raw[start] == ' ' {
		start++
	}
	if start > end {
		return Event{}, false
	}
	data := raw[start:end]
	if bytes.IndexByte(data, '\n') >= 0 || bytes.IndexByte(data, '\r') >= 0 {
		return Event{}, false
	}
	return Event{Data: string(data)}, true
}

func parseEventAndDataFrame(raw []byte) (Event, bool) {
	if !bytes.HasPrefix(raw, []byte("event:")) {
		return Event{}, false
	}
	end, ok := framePayloadEnd(raw)
	if !ok {
		return Event{}, false
	}
	firstNL := bytes.IndexByte(raw, '\n')
	if firstNL < 0 || firstNL+1 >= end {
		return Event{}, false
	}
	eventLine := raw[:firstNL]
	if len(eventLine) > 0 && eventLine[len(eventLine)-1] == '\r' {
		eventLine = eventLine[:len(eventLine)-1]
	}
	eventValue := bytes.TrimPrefix(eventLine[len("event:"):], []byte(" "))

	dataLine := raw[firstNL+1 : end]
	if bytes.IndexByte(dataLine, '\n') >= 0 {
		return Event{}, false
	}
	if len(dataLine) > 0 && dataLine[len(dataLine)-1] == '\r' {
		dataLine = dataLine[:len(dataLine)-1]
	}
	dataValue, ok := bytes.CutPrefix(dataLine, []byte("data:"))
	if !ok {
		return Event{}, false
	}
	dataValue = bytes.TrimPrefix(dataValue, []byte(" "))
	return Event{Event: string(eventValue), Data: string(dataValue)}, true
}

// EncodeDataFrame formats an OpenAI-style SSE frame (no event type).
func EncodeDataFrame(data string) string {
	var b strings.Builder
	b.Grow(10 + len(data))
	b.WriteString("data: ")
	b.WriteString(data)
	b.WriteString("\n\n")
	return b.String()
}

// EncodeEventFrame formats a named-event SSE frame
// (`event: x\ndata: y\n\n`), the Anthropic/Responses shape.
func EncodeEventFrame(eventType, data string) string {
	var b strings.Builder
	b.Grow(18 + len(eventType) + len(data))
	b.WriteString("event: ")
	b.WriteString(eventType)
	b.WriteString("\ndata: ")
	b.WriteString(data)
	b.WriteString("\n\n")
	return b.String()
}

// EncodeEvent renders a full Event back to wire text, splitting multi-line
// data across data: lines.
func EncodeEvent(ev *Event) string {
	if ev.Event == "" && ev.ID == "" && !strings.Contains(ev.Data, "\n") {
		return EncodeDataFrame(ev.Data)
	}
	var b strings.Builder
	b.Grow(16 + len(ev.Data))
	if ev.Event != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

// FrameScanner splits a byte stream into raw SSE frame slices, each
// including its trailing blank-line separator. This is the fast path for
// passthrough: frame boundaries without field parsing. A small trailing
// overlap is kept between reads so a terminator spanning a chunk boundary
// is still matched.
type FrameScanner struct {
	r        io.Reader
	buf      []byte
	scanFrom int
	readBuf  []byte
	err      error
}

// NewFrameScanner creates a scanner over r.
func NewFrameScanner(r io.Reader) *FrameScanner {
	return &FrameScanner{r: r, readBuf: make([]byte, 4096)}
}

// Next returns the next complete frame, or the unterminated tail at EOF.
// Returns io.EOF when the stream is exhausted.
func (s *FrameScanner) Next() ([]byte, error) {
	for {
		if start, length, ok := findFrameTerminator(s.buf, s.scanFrom); ok {
			split := start + length
			frame := make([]byte, split)
			copy(frame, s.buf[:split])
			s.buf = append(s.buf[:0], s.buf[split:]...)
			s.scanFrom = 0
			return frame, nil
		}

		if s.err != nil {
			if len(s.buf) > 0 {
				frame := make([]byte, len(s.buf))
				copy(frame, s.buf)
				s.buf = s.buf[:0]
				return frame, nil
			}
			return nil, s.err
		}

		// Keep a 3-byte overlap so a terminator split across reads still
		// matches on the next scan.
		s.scanFrom = len(s.buf) - 3
		if s.scanFrom < 0 {
			s.scanFrom = 0
		}
		n, err := s.r.Read(s.readBuf)
		if n > 0 {
			s.buf = append(s.buf, s.readBuf[:n]...)
		}
		if err != nil {
			s.err = err
		}
	}
}

func findFrameTerminator(buf []byte, from int) (int, int, bool) {
	if from > len(buf) {
		from = len(buf)
	}
	haystack := buf[from:]
	lfPos := bytes.Index(haystack, []byte("\n\n"))
	crlfPos := bytes.Index(haystack, []byte("\r\n\r\n"))
	switch {
	case lfPos >= 0 && crlfPos >= 0:
		if lfPos <= crlfPos {
			return from + lfPos, 2, true
		}
		return from + crlfPos, 4, true
	case lfPos >= 0:
		return from + lfPos, 2, true
	case crlfPos >= 0:
		return from + crlfPos, 4, true
	default:
		return 0, 0, false
	}
}
