package fc

import (
	"encoding/json"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
	"github.com/digitallysavvy/go-llm-gateway/pkg/transcode"
)

// StreamingProcessor sits between the upstream SSE stream and the client.
// It wraps a StreamTranscoder, feeding decoded text deltas through the
// trigger detector and re-materializing parsed XML tool calls as native
// streaming tool-call events at stream end.
//
// While FC is active, upstream MessageEnd and Done events are suppressed;
// Finalize emits a single synthesized termination. A detector buffer
// overflow disables FC for the rest of the stream, after which upstream
// terminal events forward verbatim.
type StreamingProcessor struct {
	detector              *Detector
	transcoder            *transcode.StreamTranscoder
	decodeBuf             []canonical.StreamEvent
	fcEnabled             bool
	pendingStopReason     *canonical.StopReason
	synthesizeTermination bool
	// Running index for synthesized tool calls, independent of upstream
	// indices.
	toolCallIndex int
}

// NewStreamingProcessor creates a processor for one response stream.
func NewStreamingProcessor(transcoder *transcode.StreamTranscoder, fcEnabled bool, trigger string) *StreamingProcessor {
	return &StreamingProcessor{
		detector:              NewDetector(trigger),
		transcoder:            transcoder,
		fcEnabled:             fcEnabled,
		synthesizeTermination: fcEnabled,
	}
}

// ProcessFrame decodes one upstream SSE frame and appends client frames.
func (p *StreamingProcessor) ProcessFrame(frame *sse.Event, out *[]string) {
	p.decodeBuf = p.decodeBuf[:0]
	p.transcoder.DecodeUpstreamFrameInto(frame, &p.decodeBuf)
	p.processDecodedEvents(out)
}

// TryProcessRawFrame decodes one complete raw SSE frame and appends client
// frames. Returns false when the bytes are not parseable SSE and the
// caller should fall back to raw passthrough.
func (p *StreamingProcessor) TryProcessRawFrame(rawFrame []byte, out *[]string) bool {
	p.decodeBuf = p.decodeBuf[:0]
	if !p.transcoder.TryDecodeRawFrameInto(rawFrame, &p.decodeBuf) {
		return false
	}
	p.processDecodedEvents(out)
	return true
}

func (p *StreamingProcessor) processDecodedEvents(out *[]string) {
	for i := range p.decodeBuf {
		ev := &p.decodeBuf[i]
		switch {
		case ev.Type == canonical.EventTextDelta && p.fcEnabled:
			p.feedDetector(ev.Text, out)

		case ev.Type == canonical.EventMessageEnd && p.fcEnabled && p.synthesizeTermination:
			// Suppress the upstream stop while FC is active; Finalize emits
			// one synthesized terminal event.
			reason := ev.StopReason
			p.pendingStopReason = &reason

		case ev.Type == canonical.EventDone && p.fcEnabled && p.synthesizeTermination:
			// Suppressed; Finalize emits Done exactly once.

		default:
			if encoded, ok := p.transcoder.EncodeClientEvent(ev); ok {
				*out = append(*out, encoded)
			}
		}
	}
}

func (p *StreamingProcessor) feedDetector(text string, out *[]string) {
	action := p.detector.Feed(text)
	switch action.Kind {
	case ActionPassThrough, ActionTriggerFound:
		if action.Text != "" {
			ev := canonical.StreamEvent{Type: canonical.EventTextDelta, Text: action.Text}
			if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
				*out = append(*out, encoded)
			}
		}

	case ActionBuffer:
		// Retained by the detector; nothing to send.

	case ActionBufferOverflow:
		// Flush everything as text and disable FC for the rest of this
		// response.
		if action.Text != "" {
			ev := canonical.StreamEvent{Type: canonical.EventTextDelta, Text: action.Text}
			if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
				*out = append(*out, encoded)
			}
		}
		p.fcEnabled = false
		p.synthesizeTermination = false
		p.pendingStopReason = nil
	}
}

// Finalize flushes the processor at stream end.
//
// Detecting: emit any residual buffer as text, then MessageEnd and Done.
// ToolParsing/Completed: parse the buffered XML; on success emit
// ToolCallStart/ArgsDelta/ToolCallEnd per call and close with the
// ToolCalls stop reason; on failure flush the buffer as a single text
// delta and close with the pending (or end-of-turn) stop reason.
func (p *StreamingProcessor) Finalize(out *[]string) {
	if !p.synthesizeTermination {
		// FC was disabled mid-stream; upstream terminal events were already
		// forwarded verbatim.
		if remaining := p.detector.Finalize(); remaining != "" {
			ev := canonical.StreamEvent{Type: canonical.EventTextDelta, Text: remaining}
			if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
				*out = append(*out, encoded)
			}
		}
		return
	}

	switch p.detector.State() {
	case StateToolParsing, StateCompleted:
		remaining := p.detector.Finalize()
		parsed, err := ParseFunctionCalls(remaining, p.detector.Trigger())
		if err == nil && len(parsed) > 0 {
			p.emitParsedToolCalls(parsed, out)
		} else {
			// Parse failed: flush the buffer as plain text so the client
			// still sees the model's output.
			if remaining != "" {
				ev := canonical.StreamEvent{Type: canonical.EventTextDelta, Text: remaining}
				if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
					*out = append(*out, encoded)
				}
			}
			p.emitMessageEnd(out, p.pendingOrEndOfTurn())
		}

	default:
		if remaining := p.detector.Finalize(); remaining != "" {
			ev := canonical.StreamEvent{Type: canonical.EventTextDelta, Text: remaining}
			if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
				*out = append(*out, encoded)
			}
		}
		p.emitMessageEnd(out, p.pendingOrEndOfTurn())
	}

	done := canonical.StreamEvent{Type: canonical.EventDone}
	if encoded, ok := p.transcoder.EncodeClientEvent(&done); ok {
		*out = append(*out, encoded)
	}
}

func (p *StreamingProcessor) pendingOrEndOfTurn() canonical.StopReason {
	if p.pendingStopReason != nil {
		return *p.pendingStopReason
	}
	return canonical.StopEndOfTurn
}

func (p *StreamingProcessor) emitMessageEnd(out *[]string, reason canonical.StopReason) {
	ev := canonical.StreamEvent{Type: canonical.EventMessageEnd, StopReason: reason}
	if encoded, ok := p.transcoder.EncodeClientEvent(&ev); ok {
		*out = append(*out, encoded)
	}
}

func (p *StreamingProcessor) emitParsedToolCalls(parsed []ParsedToolCall, out *[]string) {
	for _, call := range parsed {
		index := p.toolCallIndex
		id := call.ID
		if id == "" {
			id = canonical.NextCallID()
		}

		start := canonical.StreamEvent{
			Type:  canonical.EventToolCallStart,
			Index: index,
			ID:    id,
			Name:  call.Name,
		}
		if encoded, ok := p.transcoder.EncodeClientEvent(&start); ok {
			*out = append(*out, encoded)
		}

		args := canonical.StreamEvent{
			Type:  canonical.EventToolCallArgsDelta,
			Index: index,
			Delta: argumentsDelta(call),
		}
		if encoded, ok := p.transcoder.EncodeClientEvent(&args); ok {
			*out = append(*out, encoded)
		}

		end := canonical.StreamEvent{Type: canonical.EventToolCallEnd, Index: index}
		if encoded, ok := p.transcoder.EncodeClientEvent(&end); ok {
			*out = append(*out, encoded)
		}

		p.toolCallIndex++
	}
	p.emitMessageEnd(out, canonical.StopToolCalls)
}

func argumentsDelta(call ParsedToolCall) string {
	if call.ArgumentsJSON != "" {
		return call.ArgumentsJSON
	}
	encoded, err := json.Marshal(call.Arguments)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
