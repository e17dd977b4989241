package fc

import (
	"strings"
)

// DetectorState is the state of the trigger-detector state machine.
type DetectorState int

const (
	// StateDetecting scans incoming text for the trigger signal.
	StateDetecting DetectorState = iota
	// StateToolParsing buffers text after the trigger for XML parsing.
	StateToolParsing
	// StateCompleted is terminal: a full </function_calls> tag arrived, or
	// the buffer overflowed during tool parsing.
	StateCompleted
)

// DetectorActionKind discriminates detector feed results.
type DetectorActionKind int

const (
	// ActionPassThrough: forward Text to the client unchanged.
	ActionPassThrough DetectorActionKind = iota
	// ActionBuffer: text retained internally, emit nothing.
	ActionBuffer
	// ActionTriggerFound: forward Text (the content before the trigger),
	// then buffer for XML parsing.
	ActionTriggerFound
	// ActionBufferOverflow: internal buffer exceeded its cap; flush Text
	// and disable FC for the rest of the stream.
	ActionBufferOverflow
)

// DetectorAction is the result of one Detector.Feed call.
type DetectorAction struct {
	Kind DetectorActionKind
	Text string
}

const (
	detectorMaxBuffer = 512 * 1024
	// maxPreambleWithoutFcOpen bounds how much text may follow the trigger
	// before <function_calls> appears; past it the detector gives up and
	// flushes (protects against models that emit the trigger but no XML).
	maxPreambleWithoutFcOpen = 4096

	fcOpenTag  = "<function_calls>"
	fcCloseTag = "</function_calls>"
)

var reasoningOpenTags = []string{"<think>", "<thinking>", "<reasoning>", "<analysis>"}
var reasoningCloseTags = []string{"</think>", "</thinking>", "</reasoning>", "</analysis>"}

func maxReasoningTagLen() int {
	maxLen := 0
	for _, tag := range reasoningCloseTags {
		if len(tag) > maxLen {
			maxLen = len(tag)
		}
	}
	return maxLen
}

// Detector is the streaming function-call trigger detector: a byte-stream
// state machine fed with text deltas decoded from canonical events.
//
// Trigger occurrences inside reasoning wrappers (<think>, <thinking>,
// <reasoning>, <analysis>, including nested) are ignored. Detection is
// correct across arbitrary chunk boundaries: when passing a prefix
// through, the detector retains at least max(len(trigger)-1, longest
// reasoning tag) bytes of trailing context.
type Detector struct {
	trigger       string
	buffer        strings.Builder
	state         DetectorState
	thinkDepth    int
	maxBufferSize int
	sawFcOpen     bool
}

// NewDetector creates a detector for the given trigger signal.
func NewDetector(trigger string) *Detector {
	return &Detector{
		trigger:       trigger,
		maxBufferSize: detectorMaxBuffer,
	}
}

// State returns the current detector state.
func (d *Detector) State() DetectorState { return d.state }

// Trigger returns the trigger signal this detector scans for.
func (d *Detector) Trigger() string { return d.trigger }

// Feed consumes one text delta and returns the resulting action.
func (d *Detector) Feed(text string) DetectorAction {
	if text == "" {
		return DetectorAction{Kind: ActionBuffer}
	}
	switch d.state {
	case StateDetecting:
		return d.feedDetecting(text)
	case StateToolParsing:
		return d.feedToolParsing(text)
	default:
		return DetectorAction{Kind: ActionPassThrough, Text: text}
	}
}

// Finalize returns any remaining buffered content at stream end.
func (d *Detector) Finalize() string {
	remaining := d.buffer.String()
	d.buffer.Reset()
	return remaining
}

func (d *Detector) feedDetecting(text string) DetectorAction {
	minKeep := len(d.trigger) - 1
	if tagLen := maxReasoningTagLen(); tagLen > minKeep {
		minKeep = tagLen
	}

	// Fast path: the trigger starts with '<'; a chunk with no '<' while
	// nothing is buffered cannot begin a trigger or a reasoning tag.
	if d.buffer.Len() == 0 && d.thinkDepth == 0 &&
		len(text) <= d.maxBufferSize && !strings.ContainsRune(text, '<') {
		return DetectorAction{Kind: ActionPassThrough, Text: text}
	}

	d.buffer.WriteString(text)
	if d.buffer.Len() > d.maxBufferSize {
		flushed := d.buffer.String()
		d.buffer.Reset()
		d.thinkDepth = 0
		d.sawFcOpen = false
		return DetectorAction{Kind: ActionBufferOverflow, Text: flushed}
	}

	buf := d.buffer.String()
	i := 0
	triggerAt := -1
	scanLimit := len(buf) - minKeep
	if scanLimit < 0 {
		scanLimit = 0
	}
	for i < scanLimit {
		rel := strings.IndexByte(buf[i:scanLimit], '<')
		if rel < 0 {
			i = scanLimit
			break
		}
		i += rel

		if openLen := reasoningOpenAt(buf[i:]); openLen > 0 {
			d.thinkDepth++
			i += openLen
			continue
		}
		if closeLen := reasoningCloseAt(buf[i:]); closeLen > 0 {
			if d.thinkDepth > 0 {
				d.thinkDepth--
			}
			i += closeLen
			continue
		}
		if d.thinkDepth == 0 && i+len(d.trigger) <= len(buf) && strings.HasPrefix(buf[i:], d.trigger) {
			triggerAt = i
			break
		}
		i++
	}

	if triggerAt >= 0 {
		d.state = StateToolParsing
		tail := buf[triggerAt:]
		textBefore := buf[:triggerAt]
		d.buffer.Reset()
		d.buffer.WriteString(tail)
		d.sawFcOpen = strings.Contains(tail, fcOpenTag)
		return DetectorAction{Kind: ActionTriggerFound, Text: textBefore}
	}

	// Back off to a rune boundary so a UTF-8 sequence is never split
	// across a pass-through and the retained tail.
	for i > 0 && buf[i]&0xC0 == 0x80 {
		i--
	}
	if i == 0 {
		return DetectorAction{Kind: ActionBuffer}
	}
	passThrough := buf[:i]
	tail := buf[i:]
	d.buffer.Reset()
	d.buffer.WriteString(tail)
	return DetectorAction{Kind: ActionPassThrough, Text: passThrough}
}

func (d *Detector) feedToolParsing(text string) DetectorAction {
	previousLen := d.buffer.Len()
	searchFrom := previousLen - (len(fcCloseTag) - 1)
	if searchFrom < 0 {
		searchFrom = 0
	}
	d.buffer.WriteString(text)
	buf := d.buffer.String()

	if !d.sawFcOpen {
		scanStart := previousLen - (len(fcOpenTag) - 1)
		if scanStart < 0 {
			scanStart = 0
		}
		d.sawFcOpen = strings.Contains(buf[scanStart:], fcOpenTag)
		if !d.sawFcOpen && d.buffer.Len() > maxPreambleWithoutFcOpen {
			d.buffer.Reset()
			d.state = StateCompleted
			return DetectorAction{Kind: ActionBufferOverflow, Text: buf}
		}
	}

	if d.buffer.Len() > d.maxBufferSize {
		d.buffer.Reset()
		d.state = StateCompleted
		d.sawFcOpen = false
		return DetectorAction{Kind: ActionBufferOverflow, Text: buf}
	}

	if strings.Contains(buf[searchFrom:], fcCloseTag) {
		d.state = StateCompleted
	}

	// In ToolParsing everything buffers; the caller retrieves the XML via
	// Finalize or inspects State to know when parsing is done.
	return DetectorAction{Kind: ActionBuffer}
}

func reasoningOpenAt(s string) int {
	if len(s) < 2 || s[0] != '<' {
		return 0
	}
	for _, tag := range reasoningOpenTags {
		if strings.HasPrefix(s, tag) {
			return len(tag)
		}
	}
	return 0
}

func reasoningCloseAt(s string) int {
	if len(s) < 3 || s[0] != '<' || s[1] != '/' {
		return 0
	}
	for _, tag := range reasoningCloseTags {
		if strings.HasPrefix(s, tag) {
			return len(tag)
		}
	}
	return 0
}
