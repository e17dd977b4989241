package fc

import (
	"encoding/json"
	"strings"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// FcResultKind discriminates FC post-processing outcomes.
type FcResultKind int

const (
	// ResultNoToolCalls: no trigger in the response; plain text.
	ResultNoToolCalls FcResultKind = iota
	// ResultToolCalls: tool calls parsed and validated.
	ResultToolCalls
	// ResultParseError: trigger found but parsing or validation failed.
	ResultParseError
)

// FcResult is the outcome of processing an FC-injected model response.
type FcResult struct {
	Kind         FcResultKind
	ToolParts    []canonical.Part
	TextBefore   string
	Error        string
	OriginalText string
}

// parsedToCanonicalToolCall converts a parsed call into a canonical
// ToolCall part, reusing the model's call id when present and valid.
func parsedToCanonicalToolCall(parsed ParsedToolCall) (canonical.Part, error) {
	id := parsed.ID
	if id == "" {
		id = canonical.NextCallID()
	}
	raw := parsed.ArgumentsJSON
	if raw == "" {
		encoded, err := json.Marshal(parsed.Arguments)
		if err != nil {
			return nil, gatewayerrors.NewFcParse("failed to serialize tool call arguments: %v", err)
		}
		raw = string(encoded)
	}
	return canonical.ToolCallPart{
		ID:        id,
		Name:      parsed.Name,
		Arguments: json.RawMessage(raw),
	}, nil
}

// ProcessFcResponse processes the text of an FC-injected model response:
// check for the trigger, parse the XML, validate against the tool specs,
// and convert to canonical parts.
func ProcessFcResponse(responseText string, tools []canonical.ToolSpec) (*FcResult, error) {
	trigger := TriggerSignal()
	triggerPos := strings.Index(responseText, trigger)
	if triggerPos < 0 {
		return &FcResult{Kind: ResultNoToolCalls}, nil
	}

	parsed, err := ParseFunctionCalls(responseText, trigger)
	if err != nil {
		return &FcResult{
			Kind:         ResultParseError,
			Error:        err.Error(),
			OriginalText: responseText,
		}, nil
	}
	if errs := ValidateToolCalls(parsed, tools); len(errs) > 0 {
		return &FcResult{
			Kind:         ResultParseError,
			Error:        JoinValidationErrors(errs),
			OriginalText: responseText,
		}, nil
	}

	parts := make([]canonical.Part, 0, len(parsed))
	for _, call := range parsed {
		part, err := parsedToCanonicalToolCall(call)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	return &FcResult{
		Kind:       ResultToolCalls,
		ToolParts:  parts,
		TextBefore: strings.TrimSpace(responseText[:triggerPos]),
	}, nil
}

// ExtractResponseText concatenates all text parts of a response's content.
func ExtractResponseText(content []canonical.Part) string {
	var text strings.Builder
	for _, part := range content {
		if p, ok := part.(canonical.TextPart); ok {
			text.WriteString(p.Text)
		}
	}
	return text.String()
}

// ExtractResponseTextIfTrigger returns the concatenated text only when it
// contains the trigger signal (including triggers split across parts);
// otherwise it returns "" and false.
func ExtractResponseTextIfTrigger(content []canonical.Part) (string, bool) {
	text := ExtractResponseText(content)
	if !strings.Contains(text, TriggerSignal()) {
		return "", false
	}
	return text, true
}

// ApplyFcPostprocessOnce is the one-shot (retry-disabled) unary path: when
// the response text carries valid tool-call XML, replace the content with
// [Text(prefix)?, ToolCall*] and set the ToolCalls stop reason; on any
// parse or validation failure the response passes through untouched.
func ApplyFcPostprocessOnce(resp *canonical.Response, tools []canonical.ToolSpec) error {
	text, ok := ExtractResponseTextIfTrigger(resp.Content)
	if !ok {
		return nil
	}
	trigger := TriggerSignal()

	parsed, err := ParseFunctionCalls(text, trigger)
	if err != nil {
		return nil
	}
	if errs := ValidateToolCalls(parsed, tools); len(errs) > 0 {
		return nil
	}
	if len(parsed) == 0 {
		return nil
	}

	var newContent []canonical.Part
	if pos := strings.Index(text, trigger); pos >= 0 {
		if prefix := strings.TrimSpace(text[:pos]); prefix != "" {
			newContent = append(newContent, canonical.TextPart{Text: prefix})
		}
	}
	for _, call := range parsed {
		part, err := parsedToCanonicalToolCall(call)
		if err != nil {
			return err
		}
		newContent = append(newContent, part)
	}
	resp.Content = newContent
	resp.StopReason = canonical.StopToolCalls
	return nil
}
