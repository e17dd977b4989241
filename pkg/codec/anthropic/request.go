// Package anthropic implements the Anthropic Messages wire codec: request
// and response bodies plus the typed-event SSE stream dialect
// (message_start, content_block_start/_delta/_stop, message_delta,
// message_stop, error, ping).
package anthropic

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// defaultMaxTokens is used when the canonical request carries no limit;
// the Anthropic API requires max_tokens on every request.
const defaultMaxTokens = 4096

var requestKeys = map[string]bool{
	"model": true, "system": true, "messages": true, "tools": true,
	"tool_choice": true, "max_tokens": true, "temperature": true,
	"top_p": true, "stop_sequences": true, "stream": true,
}

type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireContentBlock struct {
	Type string `json:"type"`

	// text blocks
	Text string `json:"text,omitempty"`

	// thinking blocks
	Thinking string `json:"thinking,omitempty"`

	// tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type wireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// DecodeRequest decodes an Anthropic Messages request body into the
// canonical representation. tool_result user blocks become canonical
// role=Tool messages; assistant tool_use blocks become ToolCall parts.
func DecodeRequest(body []byte, requestID uuid.UUID) (*canonical.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed JSON body: %v", err)
	}

	req := &canonical.Request{
		RequestID:  requestID,
		IngressAPI: canonical.IngressAnthropic,
		ToolChoice: canonical.ToolChoice{Mode: canonical.ToolChoiceAuto},
	}

	if raw, ok := fields["model"]; ok {
		if err := json.Unmarshal(raw, &req.Model); err != nil {
			return nil, gatewayerrors.NewInvalidRequest("model must be a string")
		}
	}
	if req.Model == "" {
		return nil, gatewayerrors.NewInvalidRequest("missing required field: model")
	}
	if raw, ok := fields["stream"]; ok {
		_ = json.Unmarshal(raw, &req.Stream)
	}
	if raw, ok := fields["system"]; ok {
		req.SystemPrompt = decodeSystem(raw)
	}

	rawMessages, ok := fields["messages"]
	if !ok {
		return nil, gatewayerrors.NewInvalidRequest("missing required field: messages")
	}
	var messages []wireMessage
	if err := json.Unmarshal(rawMessages, &messages); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed messages: %v", err)
	}
	for _, m := range messages {
		if err := decodeMessage(m, req); err != nil {
			return nil, err
		}
	}

	if raw, ok := fields["tools"]; ok {
		var tools []wireTool
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, gatewayerrors.NewInvalidRequest("malformed tools: %v", err)
		}
		for _, t := range tools {
			params := t.InputSchema
			if len(params) == 0 {
				params = json.RawMessage("{}")
			}
			req.Tools = append(req.Tools, canonical.ToolSpec{Function: canonical.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			}})
		}
	}
	if raw, ok := fields["tool_choice"]; ok {
		req.ToolChoice = decodeToolChoice(raw)
	}

	if raw, ok := fields["max_tokens"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.MaxTokens)
	}
	if raw, ok := fields["temperature"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.Temperature)
	}
	if raw, ok := fields["top_p"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.TopP)
	}
	if raw, ok := fields["stop_sequences"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.Stop)
	}

	for key, raw := range fields {
		if requestKeys[key] {
			continue
		}
		if req.Extensions == nil {
			req.Extensions = canonical.Extensions{}
		}
		req.Extensions[key] = raw
	}

	return req, nil
}

// decodeSystem handles both the string form and the content-block form of
// the Anthropic system field.
func decodeSystem(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	text := ""
	for _, b := range blocks {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text
}

func decodeMessage(m wireMessage, req *canonical.Request) error {
	role := canonical.RoleUser
	if m.Role == "assistant" {
		role = canonical.RoleAssistant
	}

	// String content is a single text part.
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		req.Messages = append(req.Messages, canonical.Message{
			Role:  role,
			Parts: []canonical.Part{canonical.TextPart{Text: text}},
		})
		return nil
	}

	var blocks []wireContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return gatewayerrors.NewInvalidRequest("message content must be a string or block array")
	}

	var parts []canonical.Part
	flush := func() {
		if len(parts) > 0 {
			req.Messages = append(req.Messages, canonical.Message{Role: role, Parts: parts})
			parts = nil
		}
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, canonical.TextPart{Text: b.Text})
		case "thinking":
			parts = append(parts, canonical.ReasoningPart{Text: b.Thinking})
		case "tool_use":
			input := b.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			parts = append(parts, canonical.ToolCallPart{ID: b.ID, Name: b.Name, Arguments: input})
		case "tool_result":
			// tool_result user blocks become canonical Tool messages so
			// every dialect sees the same shape. Preserve block order by
			// flushing any accumulated parts first.
			flush()
			req.Messages = append(req.Messages, canonical.Message{
				Role:       canonical.RoleTool,
				ToolCallID: b.ToolUseID,
				Parts: []canonical.Part{canonical.ToolResultPart{
					ToolCallID: b.ToolUseID,
					Content:    decodeToolResultContent(b.Content),
				}},
			})
		}
	}
	flush()
	return nil
}

func decodeToolResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	text := ""
	for _, b := range blocks {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return text
}

func decodeToolChoice(raw json.RawMessage) canonical.ToolChoice {
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
	switch obj.Type {
	case "any":
		return canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}
	case "none":
		return canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
	case "tool":
		if obj.Name != "" {
			return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: obj.Name}
		}
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	default:
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
}

// EncodeRequest encodes a canonical request as an Anthropic Messages body.
// ToolChoice None strips tools entirely and omits the tool_choice field.
func EncodeRequest(req *canonical.Request) ([]byte, error) {
	body := map[string]any{
		"model": req.Model,
	}
	if req.Stream {
		body["stream"] = true
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	maxTokens := uint64(defaultMaxTokens)
	if req.Generation.MaxTokens != nil {
		maxTokens = *req.Generation.MaxTokens
	}
	body["max_tokens"] = maxTokens
	if req.Generation.Temperature != nil {
		body["temperature"] = *req.Generation.Temperature
	}
	if req.Generation.TopP != nil && req.Generation.Temperature == nil {
		body["top_p"] = *req.Generation.TopP
	}
	if len(req.Generation.Stop) > 0 {
		body["stop_sequences"] = req.Generation.Stop
	}

	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	body["messages"] = messages

	if len(req.Tools) > 0 && req.ToolChoice.Mode != canonical.ToolChoiceNone {
		tools := make([]wireTool, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, wireTool{
				Name:        spec.Function.Name,
				Description: spec.Function.Description,
				InputSchema: spec.Function.Parameters,
			})
		}
		body["tools"] = tools
		if choice, ok := encodeToolChoice(req.ToolChoice); ok {
			body["tool_choice"] = choice
		}
	}

	for key, raw := range req.Extensions {
		body[key] = raw
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Anthropic request", err)
	}
	return encoded, nil
}

func encodeMessages(messages []canonical.Message) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case canonical.RoleTool:
			// Canonical Tool messages reverse to user tool_result blocks.
			var blocks []map[string]any
			for _, part := range msg.Parts {
				if result, ok := part.(canonical.ToolResultPart); ok {
					blocks = append(blocks, map[string]any{
						"type":        "tool_result",
						"tool_use_id": result.ToolCallID,
						"content":     result.Content,
					})
				}
			}
			out = append(out, map[string]any{"role": "user", "content": blocks})

		case canonical.RoleAssistant:
			blocks, err := encodeAssistantBlocks(msg.Parts)
			if err != nil {
				return nil, err
			}
			out = append(out, map[string]any{"role": "assistant", "content": blocks})

		case canonical.RoleSystem:
			// Anthropic has no mid-conversation system role; carry as user.
			out = append(out, map[string]any{"role": "user", "content": collectText(msg.Parts)})

		default:
			out = append(out, map[string]any{"role": "user", "content": encodeUserBlocks(msg.Parts)})
		}
	}
	return out, nil
}

func encodeAssistantBlocks(parts []canonical.Part) ([]map[string]any, error) {
	var blocks []map[string]any
	for _, part := range parts {
		switch p := part.(type) {
		case canonical.TextPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case canonical.ReasoningPart:
			blocks = append(blocks, map[string]any{"type": "thinking", "thinking": p.Text})
		case canonical.ToolCallPart:
			// Anthropic carries arguments as a JSON object, not a string.
			var input any
			if err := json.Unmarshal(p.Arguments, &input); err != nil {
				return nil, gatewayerrors.NewTranslation("tool call arguments are not valid JSON", err)
			}
			blocks = append(blocks, map[string]any{
				"type":  "tool_use",
				"id":    p.ID,
				"name":  p.Name,
				"input": input,
			})
		case canonical.RefusalPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Refusal})
		}
	}
	if blocks == nil {
		blocks = []map[string]any{{"type": "text", "text": ""}}
	}
	return blocks, nil
}

func encodeUserBlocks(parts []canonical.Part) any {
	hasImage := false
	for _, part := range parts {
		if _, ok := part.(canonical.ImageURLPart); ok {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return collectText(parts)
	}
	var blocks []map[string]any
	for _, part := range parts {
		switch p := part.(type) {
		case canonical.TextPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case canonical.ImageURLPart:
			blocks = append(blocks, map[string]any{
				"type":   "image",
				"source": map[string]any{"type": "url", "url": p.URL},
			})
		}
	}
	return blocks
}

func collectText(parts []canonical.Part) string {
	text := ""
	for _, part := range parts {
		if p, ok := part.(canonical.TextPart); ok {
			text += p.Text
		}
	}
	return text
}

func encodeToolChoice(choice canonical.ToolChoice) (any, bool) {
	switch choice.Mode {
	case canonical.ToolChoiceAuto:
		return map[string]any{"type": "auto"}, true
	case canonical.ToolChoiceRequired:
		return map[string]any{"type": "any"}, true
	case canonical.ToolChoiceSpecific:
		return map[string]any{"type": "tool", "name": choice.Name}, true
	default:
		return nil, false
	}
}
