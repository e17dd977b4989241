// Package transcode pairs one upstream dialect decoder with one ingress
// dialect encoder. A StreamTranscoder owns all cross-dialect state for a
// single response stream: tool-call index bindings, the response id, the
// OpenAI created timestamp, the Anthropic block-type memo, and cached
// terminator frames.
package transcode

import (
	"encoding/json"
	"time"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/anthropic"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/gemini"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/openaichat"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/openairesponses"
	"github.com/digitallysavvy/go-llm-gateway/pkg/sse"
)

// StreamTranscoder converts upstream stream frames into the client's wire
// dialect through the canonical event plane. One instance is bound to a
// single response stream and discarded at stream end.
type StreamTranscoder struct {
	upstream   canonical.ProviderKind
	ingress    canonical.IngressAPI
	model      string
	responseID string

	// OpenAI chunk timestamp, captured at construction.
	created int64

	// Per-ingress/upstream state, allocated only when needed.
	anthropicDecoder *anthropic.StreamDecoder
	geminiEncoder    *gemini.StreamEncoder
	responsesEncoder *openairesponses.StreamEncoder

	// Cached terminator frames for ingress dialects with expensive Done
	// encodings.
	anthropicDoneFrame string
	responsesDoneFrame string

	openaiMessageStarted bool
	emitUsage            bool
}

// NewStreamTranscoder creates a transcoder for one response stream. model
// and responseID are the client-facing values used in encoded frames.
func NewStreamTranscoder(upstream canonical.ProviderKind, ingress canonical.IngressAPI, model, responseID string) *StreamTranscoder {
	t := &StreamTranscoder{
		upstream:   upstream,
		ingress:    ingress,
		model:      model,
		responseID: responseID,
		created:    time.Now().Unix(),
		emitUsage:  emitsUsageEvent(ingress),
	}
	if upstream == canonical.ProviderAnthropic {
		t.anthropicDecoder = anthropic.NewStreamDecoder()
	}
	switch ingress {
	case canonical.IngressGemini:
		t.geminiEncoder = gemini.NewStreamEncoder()
	case canonical.IngressOpenAIResponses:
		t.responsesEncoder = openairesponses.NewStreamEncoder(model, responseID)
		if frame, ok := t.responsesEncoder.Encode(&canonical.StreamEvent{Type: canonical.EventDone}); ok {
			t.responsesDoneFrame = frame
		}
	case canonical.IngressAnthropic:
		if frame, ok := anthropic.EncodeStreamEvent(&canonical.StreamEvent{Type: canonical.EventDone}, model, responseID); ok {
			t.anthropicDoneFrame = frame
		}
	}
	return t
}

// Usage-emitting ingress dialects: OpenAI Chat and Gemini carry standalone
// usage chunks; Anthropic and Responses suppress them (usage rides on
// their own terminal events).
func emitsUsageEvent(ingress canonical.IngressAPI) bool {
	return ingress == canonical.IngressOpenAIChat || ingress == canonical.IngressGemini
}

// IsPassthrough reports whether upstream and ingress speak the same wire
// dialect, so raw bytes can be forwarded without decode/re-encode. The
// Gemini OpenAI-compatible dialect counts as OpenAI Chat.
func (t *StreamTranscoder) IsPassthrough() bool {
	switch t.upstream {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return t.ingress == canonical.IngressOpenAIChat
	case canonical.ProviderAnthropic:
		return t.ingress == canonical.IngressAnthropic
	case canonical.ProviderGemini:
		return t.ingress == canonical.IngressGemini
	case canonical.ProviderOpenAIResponses:
		return t.ingress == canonical.IngressOpenAIResponses
	default:
		return false
	}
}

// DecodeUpstreamFrameInto appends the canonical events carried by one
// parsed upstream SSE frame.
func (t *StreamTranscoder) DecodeUpstreamFrameInto(frame *sse.Event, out *[]canonical.StreamEvent) {
	t.decodeEventData(frame.Event, []byte(frame.Data), out)
}

// TryDecodeRawFrameInto decodes one complete raw SSE frame. Returns true
// when the frame parsed as SSE and decoded (possibly to zero events),
// false when the bytes are not an SSE frame.
func (t *StreamTranscoder) TryDecodeRawFrameInto(rawFrame []byte, out *[]canonical.StreamEvent) bool {
	frame, ok := sse.ParseFrame(rawFrame)
	if !ok {
		return false
	}
	t.decodeEventData(frame.Event, []byte(frame.Data), out)
	return true
}

func (t *StreamTranscoder) decodeEventData(eventType string, data []byte, out *[]canonical.StreamEvent) {
	switch t.upstream {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		if string(data) == sse.DoneData {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
			return
		}
		if fastDecodeOpenAIChunk(data, &t.openaiMessageStarted, t.emitUsage, out) {
			return
		}
		openaichat.DecodeStreamData(data, &t.openaiMessageStarted, t.emitUsage, out)

	case canonical.ProviderAnthropic:
		if eventType == "" {
			if inner, ok := peekAnthropicType(data); ok {
				eventType = inner
			}
		}
		if fastDecodeAnthropicEvent(eventType, data, t.anthropicDecoder, t.emitUsage, out) {
			return
		}
		t.anthropicDecoder.Decode(eventType, data, t.emitUsage, out)

	case canonical.ProviderGemini:
		if string(data) == sse.DoneData {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
			return
		}
		if fastDecodeGeminiChunk(data, t.emitUsage, out) {
			return
		}
		gemini.DecodeStreamData(data, t.emitUsage, out)

	case canonical.ProviderOpenAIResponses:
		if string(data) == sse.DoneData {
			*out = append(*out, canonical.StreamEvent{Type: canonical.EventDone})
			return
		}
		if fastDecodeResponsesEvent(eventType, data, t.emitUsage, out) {
			return
		}
		openairesponses.DecodeStreamData(eventType, data, t.emitUsage, out)
	}
}

func peekAnthropicType(data []byte) (string, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == "" {
		return "", false
	}
	return probe.Type, true
}

// EncodeClientEvent encodes one canonical event into the client's SSE
// dialect. Returns ok=false when the event has no representation in the
// target dialect (e.g. standalone Usage in Responses; ReasoningDelta in
// OpenAI Chat).
func (t *StreamTranscoder) EncodeClientEvent(ev *canonical.StreamEvent) (string, bool) {
	switch t.ingress {
	case canonical.IngressOpenAIChat:
		return openaichat.EncodeStreamEvent(ev, t.model, t.responseID, t.created)

	case canonical.IngressAnthropic:
		if ev.Type == canonical.EventUsage {
			return "", false
		}
		if ev.Type == canonical.EventDone {
			if t.anthropicDoneFrame == "" {
				return "", false
			}
			return t.anthropicDoneFrame, true
		}
		return anthropic.EncodeStreamEvent(ev, t.model, t.responseID)

	case canonical.IngressGemini:
		return t.geminiEncoder.Encode(ev)

	case canonical.IngressOpenAIResponses:
		switch ev.Type {
		case canonical.EventUsage, canonical.EventMessageEnd, canonical.EventReasoningDelta:
			return "", false
		case canonical.EventDone:
			if t.responsesDoneFrame == "" {
				return "", false
			}
			return t.responsesDoneFrame, true
		}
		return t.responsesEncoder.Encode(ev)

	default:
		return "", false
	}
}

// TranscodeFrameInto processes one parsed SSE frame end-to-end and appends
// client frames to out. Event ordering is preserved exactly.
func (t *StreamTranscoder) TranscodeFrameInto(frame *sse.Event, decodeBuf *[]canonical.StreamEvent, out *[]string) {
	*decodeBuf = (*decodeBuf)[:0]
	t.DecodeUpstreamFrameInto(frame, decodeBuf)
	for i := range *decodeBuf {
		if encoded, ok := t.EncodeClientEvent(&(*decodeBuf)[i]); ok {
			*out = append(*out, encoded)
		}
	}
}

// TranscodeFrame processes one parsed SSE frame end-to-end and returns the
// client frames.
func (t *StreamTranscoder) TranscodeFrame(frame *sse.Event) []string {
	var decodeBuf []canonical.StreamEvent
	var out []string
	t.TranscodeFrameInto(frame, &decodeBuf, &out)
	return out
}

// TranscodeRawFrameInto processes one raw SSE frame end-to-end. An
// unterminated tail frame (stream cut mid-frame) is retried with a
// synthesized terminator. Returns false when the bytes could not be parsed
// as SSE at all; the caller then falls back to raw passthrough.
func (t *StreamTranscoder) TranscodeRawFrameInto(rawFrame []byte, decodeBuf *[]canonical.StreamEvent, out *[]string) bool {
	*decodeBuf = (*decodeBuf)[:0]
	decoded := t.TryDecodeRawFrameInto(rawFrame, decodeBuf)
	if !decoded && !rawFrameTerminated(rawFrame) {
		terminated := make([]byte, 0, len(rawFrame)+2)
		terminated = append(terminated, rawFrame...)
		terminated = append(terminated, '\n', '\n')
		decoded = t.TryDecodeRawFrameInto(terminated, decodeBuf)
	}
	if !decoded {
		return false
	}
	for i := range *decodeBuf {
		if encoded, ok := t.EncodeClientEvent(&(*decodeBuf)[i]); ok {
			*out = append(*out, encoded)
		}
	}
	return true
}

func rawFrameTerminated(raw []byte) bool {
	return hasSuffix(raw, "\n\n") || hasSuffix(raw, "\r\n\r\n")
}

func hasSuffix(b []byte, suffix string) bool {
	return len(b) >= len(suffix) && string(b[len(b)-len(suffix):]) == suffix
}
