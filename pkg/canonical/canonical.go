// Package canonical defines the provider-neutral representation of chat
// requests, responses, and streaming events that every wire dialect is
// decoded into and encoded from. The canonical model is the sole
// fan-in/fan-out point of the gateway: there are no direct
// dialect-to-dialect paths.
package canonical

import (
	"encoding/json"

	"github.com/google/uuid"
)

// IngressAPI identifies which client-facing API a request arrived on.
type IngressAPI int

const (
	IngressOpenAIChat IngressAPI = iota
	IngressOpenAIResponses
	IngressAnthropic
	IngressGemini
)

// String returns the ingress API name for logging.
func (a IngressAPI) String() string {
	switch a {
	case IngressOpenAIChat:
		return "openai_chat"
	case IngressOpenAIResponses:
		return "openai_responses"
	case IngressAnthropic:
		return "anthropic"
	case IngressGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// ProviderKind identifies the wire dialect an upstream service speaks.
type ProviderKind int

const (
	ProviderOpenAI ProviderKind = iota
	ProviderOpenAIResponses
	ProviderAnthropic
	ProviderGemini
	// ProviderGeminiOpenAI is Gemini's OpenAI-compatible endpoint. It is
	// decoded as OpenAI Chat but typed separately for routing.
	ProviderGeminiOpenAI
)

// String returns the provider kind name for logging.
func (p ProviderKind) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderOpenAIResponses:
		return "openai_responses"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGemini:
		return "gemini"
	case ProviderGeminiOpenAI:
		return "gemini_openai"
	default:
		return "unknown"
	}
}

// Role is the canonical message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// StopReason is the canonical reason the model stopped generating.
type StopReason int

const (
	StopEndOfTurn StopReason = iota
	StopToolCalls
	StopMaxTokens
	StopContentFilter
)

// ToolChoiceMode selects how the model may use tools.
type ToolChoiceMode int

const (
	ToolChoiceAuto ToolChoiceMode = iota
	ToolChoiceNone
	ToolChoiceRequired
	ToolChoiceSpecific
)

// ToolChoice is the canonical tool-choice specification. Name is set only
// for ToolChoiceSpecific.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// Equal reports whether two tool choices are identical.
func (c ToolChoice) Equal(other ToolChoice) bool {
	return c.Mode == other.Mode && c.Name == other.Name
}

// Usage is canonical token usage. Nil fields mean the upstream did not
// report that counter.
type Usage struct {
	InputTokens  *uint64
	OutputTokens *uint64
	TotalTokens  *uint64
}

// GenerationParams are sampling parameters passed through to the upstream.
type GenerationParams struct {
	Temperature      *float64
	MaxTokens        *uint64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	N                *uint32
	Stop             []string
}

// Part is a single part of a message's content. Implementations are the
// Text, ReasoningText, Refusal, ImageURL, ToolCall, and ToolResult structs;
// dispatch on the concrete type with a type switch.
type Part interface {
	// PartKind returns the part discriminator ("text", "reasoning",
	// "refusal", "image_url", "tool_call", "tool_result").
	PartKind() string
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

// PartKind implements Part.
func (TextPart) PartKind() string { return "text" }

// ReasoningPart is reasoning/thinking text exposed by the model.
type ReasoningPart struct {
	Text string
}

// PartKind implements Part.
func (ReasoningPart) PartKind() string { return "reasoning" }

// RefusalPart is a refusal message from the model.
type RefusalPart struct {
	Refusal string
}

// PartKind implements Part.
func (RefusalPart) PartKind() string { return "refusal" }

// ImageURLPart references an image by URL (or data URL).
type ImageURLPart struct {
	URL    string
	Detail string
}

// PartKind implements Part.
func (ImageURLPart) PartKind() string { return "image_url" }

// ToolCallPart is a structured tool call issued by the assistant.
//
// Arguments preserves the exact JSON text of the call arguments. The
// gateway never re-serializes numbers or reorders keys on the happy path,
// because providers disagree on the textual form and clients may depend on
// the exact bytes they originally sent.
type ToolCallPart struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// PartKind implements Part.
func (ToolCallPart) PartKind() string { return "tool_call" }

// ToolResultPart carries the result of a prior tool call back to the model.
type ToolResultPart struct {
	ToolCallID string
	Content    string
}

// PartKind implements Part.
func (ToolResultPart) PartKind() string { return "tool_result" }

// Extensions is a free-form key->JSON map for dialect-specific passthrough
// that does not fit the canonical shape (response_format,
// previous_response_id, Anthropic thinking config, Responses built-in
// tools, ...). Keys are defined per dialect and round-trip through matching
// encoders; cross-dialect encoding drops them.
type Extensions map[string]json.RawMessage

// Message is a single message in the canonical conversation.
//
// Invariants: ToolCallID is set iff Role == RoleTool or the message carries
// a ToolResultPart. A message may mix text and tool-call parts (a native
// assistant tool turn) but never mixes tool results with tool calls.
type Message struct {
	Role       Role
	Parts      []Part
	Name       string
	ToolCallID string
	Extensions Extensions
}

// ToolFunction is a tool's function declaration. Parameters is a
// JSON-Schema subset (see pkg/fc validator).
type ToolFunction struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolSpec is a tool specification in the request.
type ToolSpec struct {
	Function ToolFunction
}

// Request is the fully decoded, provider-agnostic request. It is built by
// an ingress decoder and owned by the per-request pipeline; encoders borrow
// it read-only.
type Request struct {
	RequestID    uuid.UUID
	IngressAPI   IngressAPI
	Model        string
	Stream       bool
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	ToolChoice   ToolChoice
	Generation   GenerationParams
	Extensions   Extensions
}

// Response is the fully decoded, provider-agnostic non-streaming response.
type Response struct {
	ID         string
	Model      string
	Content    []Part
	StopReason StopReason
	Usage      Usage
	Extensions Extensions
}

// EventType discriminates StreamEvent variants.
type EventType int

const (
	EventMessageStart EventType = iota
	EventTextDelta
	EventReasoningDelta
	EventToolCallStart
	EventToolCallArgsDelta
	EventToolCallEnd
	EventToolResult
	EventUsage
	EventMessageEnd
	EventDone
	EventError
)

// StreamEvent is a single event in a canonical stream. Fields are
// populated per Type:
//
//   - EventMessageStart: Role
//   - EventTextDelta, EventReasoningDelta: Text
//   - EventToolCallStart: Index, ID, Name
//   - EventToolCallArgsDelta: Index, Delta
//   - EventToolCallEnd: Index, CallID?, CallName?
//   - EventToolResult: ToolCallID, Content
//   - EventUsage: Usage
//   - EventMessageEnd: StopReason
//   - EventError: Status, Message
//
// Within a response: MessageStart appears at most once, before any delta;
// ToolCallStart(i) precedes any ToolCallArgsDelta(i)/ToolCallEnd(i) and
// indices are monotonic; MessageEnd precedes Done; Done is terminal and
// appears exactly once. The pipeline never reorders events, only filters
// or synthesizes them.
type StreamEvent struct {
	Type       EventType
	Role       Role
	Text       string
	Index      int
	ID         string
	Name       string
	Delta      string
	CallID     string
	CallName   string
	ToolCallID string
	Content    string
	Usage      Usage
	StopReason StopReason
	Status     int
	Message    string
}
