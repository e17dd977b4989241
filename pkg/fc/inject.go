package fc

import (
	"encoding/json"
	"strings"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

// ApplyFcInject prepares a canonical request for FC injection:
//
//  1. Generates the FC system prompt from the tool list and tool choice
//     and prepends any existing system prompt.
//  2. Preprocesses messages (Tool -> User, ToolCall -> XML).
//  3. Removes tools and sets tool_choice = none.
//
// Requests that explicitly set tool_choice none, or that ask for a
// structured-output response format (JSON mode / JSON schema), are left
// untouched. The original tools are returned so the caller can validate
// parsed calls without re-cloning; an empty slice means no inject ran.
func ApplyFcInject(req *canonical.Request, promptTemplate string) ([]canonical.ToolSpec, error) {
	if len(req.Tools) == 0 {
		return nil, nil
	}
	if req.ToolChoice.Mode == canonical.ToolChoiceNone {
		return nil, nil
	}
	if requestPrefersStructuredOutput(req) {
		return nil, nil
	}

	savedTools := req.Tools
	req.Tools = nil

	prompt, err := GenerateFcPrompt(savedTools, req.ToolChoice, promptTemplate)
	if err != nil {
		req.Tools = savedTools
		return nil, err
	}

	if req.SystemPrompt != "" {
		req.SystemPrompt = req.SystemPrompt + "\n" + prompt
	} else {
		req.SystemPrompt = prompt
	}
	req.Messages = PreprocessMessages(req.Messages)
	req.ToolChoice = canonical.ToolChoice{Mode: canonical.ToolChoiceNone}

	return savedTools, nil
}

// requestPrefersStructuredOutput reports whether the client asked for a
// JSON-mode or JSON-schema response format. FC inject would conflict with
// structured output, so such requests keep their native tool fields.
func requestPrefersStructuredOutput(req *canonical.Request) bool {
	switch req.IngressAPI {
	case canonical.IngressOpenAIChat:
		if raw, ok := req.Extensions["response_format"]; ok {
			return responseFormatIsJSONMode(raw)
		}
		return false
	case canonical.IngressOpenAIResponses:
		if raw, ok := req.Extensions["response_format"]; ok && responseFormatIsJSONMode(raw) {
			return true
		}
		if raw, ok := req.Extensions["text"]; ok {
			var text struct {
				Format json.RawMessage `json:"format"`
			}
			if err := json.Unmarshal(raw, &text); err == nil && len(text.Format) > 0 {
				return responseFormatIsJSONMode(text.Format)
			}
		}
		return false
	default:
		return false
	}
}

func responseFormatIsJSONMode(raw json.RawMessage) bool {
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		return jsonModeName(mode)
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return jsonModeName(obj.Type)
	}
	return false
}

func jsonModeName(mode string) bool {
	return strings.EqualFold(mode, "json_object") || strings.EqualFold(mode, "json_schema")
}
