// Package openaichat implements the OpenAI Chat Completions wire codec:
// request and response bodies plus the `data: <json>` SSE stream dialect.
// The Gemini OpenAI-compatible endpoint shares this codec on the wire level.
package openaichat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// requestKeys are the wire fields with canonical meaning. Everything else
// in the request body is carried through provider extensions.
var requestKeys = map[string]bool{
	"model": true, "messages": true, "stream": true, "tools": true,
	"tool_choice": true, "temperature": true, "max_tokens": true,
	"max_completion_tokens": true, "top_p": true, "frequency_penalty": true,
	"presence_penalty": true, "n": true, "stop": true,
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Refusal    string          `json:"refusal,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type,omitempty"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolDef `json:"function"`
}

type wireToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	} `json:"image_url,omitempty"`
}

// DecodeRequest decodes an OpenAI Chat Completions request body into the
// canonical representation. System and developer messages are folded into
// the canonical system prompt; unknown top-level fields round-trip through
// provider extensions.
func DecodeRequest(body []byte, requestID uuid.UUID) (*canonical.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed JSON body: %v", err)
	}

	req := &canonical.Request{
		RequestID:  requestID,
		IngressAPI: canonical.IngressOpenAIChat,
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
		req.Tools = DecodeWireTools(tools)
	}
	if raw, ok := fields["tool_choice"]; ok {
		req.ToolChoice = DecodeWireToolChoice(raw)
	}

	decodeGeneration(fields, &req.Generation)

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

func decodeMessage(m wireMessage, req *canonical.Request) error {
	switch m.Role {
	case "system", "developer":
		text := contentText(m.Content)
		if req.SystemPrompt == "" {
			req.SystemPrompt = text
		} else {
			req.SystemPrompt += "\n" + text
		}
		return nil

	case "tool":
		if m.ToolCallID == "" {
			return gatewayerrors.NewInvalidRequest("tool message missing tool_call_id")
		}
		req.Messages = append(req.Messages, canonical.Message{
			Role:       canonical.RoleTool,
			ToolCallID: m.ToolCallID,
			Parts: []canonical.Part{canonical.ToolResultPart{
				ToolCallID: m.ToolCallID,
				Content:    contentText(m.Content),
			}},
		})
		return nil

	case "assistant":
		msg := canonical.Message{Role: canonical.RoleAssistant, Name: m.Name}
		msg.Parts = decodeContentParts(m.Content)
		if m.Refusal != "" {
			msg.Parts = append(msg.Parts, canonical.RefusalPart{Refusal: m.Refusal})
		}
		for _, call := range m.ToolCalls {
			args := call.Function.Arguments
			if args == "" {
				args = "{}"
			}
			msg.Parts = append(msg.Parts, canonical.ToolCallPart{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(args),
			})
		}
		req.Messages = append(req.Messages, msg)
		return nil

	case "user":
		req.Messages = append(req.Messages, canonical.Message{
			Role:  canonical.RoleUser,
			Name:  m.Name,
			Parts: decodeContentParts(m.Content),
		})
		return nil

	default:
		return gatewayerrors.NewInvalidRequest("unknown message role %q", m.Role)
	}
}

// contentText extracts the plain-text view of a message content field,
// which may be a string or a part array.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []wireContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	text := ""
	for _, p := range parts {
		if p.Type == "text" {
			text += p.Text
		}
	}
	return text
}

func decodeContentParts(raw json.RawMessage) []canonical.Part {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []canonical.Part{canonical.TextPart{Text: s}}
	}
	var wireParts []wireContentPart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil
	}
	var parts []canonical.Part
	for _, p := range wireParts {
		switch p.Type {
		case "text":
			parts = append(parts, canonical.TextPart{Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				parts = append(parts, canonical.ImageURLPart{URL: p.ImageURL.URL, Detail: p.ImageURL.Detail})
			}
		}
	}
	return parts
}

// DecodeWireTools converts wire tool definitions to canonical tool specs.
func DecodeWireTools(tools []wireTool) []canonical.ToolSpec {
	specs := make([]canonical.ToolSpec, 0, len(tools))
	for _, t := range tools {
		params := t.Function.Parameters
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		specs = append(specs, canonical.ToolSpec{Function: canonical.ToolFunction{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  params,
		}})
	}
	return specs
}

// DecodeWireToolChoice converts the OpenAI tool_choice value (a mode
// string or a {"type":"function","function":{"name":...}} object) to the
// canonical tool choice. Unrecognized values decode as Auto.
func DecodeWireToolChoice(raw json.RawMessage) canonical.ToolChoice {
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "none":
			return canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
		case "required":
			return canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}
		default:
			return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
		}
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: obj.Function.Name}
	}
	return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
}

func decodeGeneration(fields map[string]json.RawMessage, gen *canonical.GenerationParams) {
	if raw, ok := fields["temperature"]; ok {
		_ = json.Unmarshal(raw, &gen.Temperature)
	}
	if raw, ok := fields["max_tokens"]; ok {
		_ = json.Unmarshal(raw, &gen.MaxTokens)
	}
	if raw, ok := fields["max_completion_tokens"]; ok && gen.MaxTokens == nil {
		_ = json.Unmarshal(raw, &gen.MaxTokens)
	}
	if raw, ok := fields["top_p"]; ok {
		_ = json.Unmarshal(raw, &gen.TopP)
	}
	if raw, ok := fields["frequency_penalty"]; ok {
		_ = json.Unmarshal(raw, &gen.FrequencyPenalty)
	}
	if raw, ok := fields["presence_penalty"]; ok {
		_ = json.Unmarshal(raw, &gen.PresencePenalty)
	}
	if raw, ok := fields["n"]; ok {
		_ = json.Unmarshal(raw, &gen.N)
	}
	if raw, ok := fields["stop"]; ok {
		var one string
		if err := json.Unmarshal(raw, &one); err == nil {
			gen.Stop = []string{one}
		} else {
			_ = json.Unmarshal(raw, &gen.Stop)
		}
	}
}

// EncodeRequest encodes a canonical request into an OpenAI Chat
// Completions request body.
func EncodeRequest(req *canonical.Request) ([]byte, error) {
	body := map[string]any{
		"model": req.Model,
	}
	if req.Stream {
		body["stream"] = true
	}

	messages := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}
	for i := range req.Messages {
		encoded, err := encodeMessage(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		messages = append(messages, encoded...)
	}
	body["messages"] = messages

	if len(req.Tools) > 0 && req.ToolChoice.Mode != canonical.ToolChoiceNone {
		body["tools"] = EncodeWireTools(req.Tools)
		if choice, ok := EncodeWireToolChoice(req.ToolChoice); ok {
			body["tool_choice"] = choice
		}
	}

	encodeGeneration(&req.Generation, body)

	for key, raw := range req.Extensions {
		body[key] = raw
	}

	// Prompt text (such as the FC trigger tag) goes upstream as written, not
	// with <, > and & turned into \u escapes.
	var encoded bytes.Buffer
	encoder := json.NewEncoder(&encoded)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(body); err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode OpenAI request", err)
	}
	return bytes.TrimSuffix(encoded.Bytes(), []byte("\n")), nil
}

func encodeMessage(msg *canonical.Message) ([]map[string]any, error) {
	switch msg.Role {
	case canonical.RoleTool:
		var out []map[string]any
		for _, part := range msg.Parts {
			if result, ok := part.(canonical.ToolResultPart); ok {
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": result.ToolCallID,
					"content":      result.Content,
				})
			}
		}
		if out == nil {
			return nil, gatewayerrors.NewTranslation(
				fmt.Sprintf("tool message %q has no tool result part", msg.ToolCallID), nil)
		}
		return out, nil

	case canonical.RoleAssistant:
		encoded := map[string]any{"role": "assistant"}
		text := ""
		var toolCalls []wireToolCall
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case canonical.TextPart:
				text += p.Text
			case canonical.ToolCallPart:
				toolCalls = append(toolCalls, wireToolCall{
					ID:   p.ID,
					Type: "function",
					Function: wireToolFunction{
						Name:      p.Name,
						Arguments: string(p.Arguments),
					},
				})
			case canonical.RefusalPart:
				encoded["refusal"] = p.Refusal
			}
		}
		if text != "" || len(toolCalls) == 0 {
			encoded["content"] = text
		}
		if len(toolCalls) > 0 {
			encoded["tool_calls"] = toolCalls
		}
		if msg.Name != "" {
			encoded["name"] = msg.Name
		}
		return []map[string]any{encoded}, nil

	case canonical.RoleSystem:
		return []map[string]any{{
			"role":    "system",
			"content": collectText(msg.Parts),
		}}, nil

	default:
		encoded := map[string]any{"role": "user"}
		if msg.Name != "" {
			encoded["name"] = msg.Name
		}
		encoded["content"] = encodeUserContent(msg.Parts)
		return []map[string]any{encoded}, nil
	}
}

func encodeUserContent(parts []canonical.Part) any {
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
	var wireParts []map[string]any
	for _, part := range parts {
		switch p := part.(type) {
		case canonical.TextPart:
			wireParts = append(wireParts, map[string]any{"type": "text", "text": p.Text})
		case canonical.ImageURLPart:
			image := map[string]any{"url": p.URL}
			if p.Detail != "" {
				image["detail"] = p.Detail
			}
			wireParts = append(wireParts, map[string]any{"type": "image_url", "image_url": image})
		}
	}
	return wireParts
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

// EncodeWireTools converts canonical tool specs to the OpenAI tools array.
func EncodeWireTools(specs []canonical.ToolSpec) []wireTool {
	tools := make([]wireTool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireToolDef{
				Name:        spec.Function.Name,
				Description: spec.Function.Description,
				Parameters:  spec.Function.Parameters,
			},
		})
	}
	return tools
}

// EncodeWireToolChoice converts a canonical tool choice to the OpenAI
// tool_choice value. Returns ok=false for None: the caller already strips
// tools in that case and the field is omitted.
func EncodeWireToolChoice(choice canonical.ToolChoice) (any, bool) {
	switch choice.Mode {
	case canonical.ToolChoiceAuto:
		return "auto", true
	case canonical.ToolChoiceNone:
		return nil, false
	case canonical.ToolChoiceRequired:
		return "required", true
	case canonical.ToolChoiceSpecific:
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}, true
	default:
		return "auto", true
	}
}

func encodeGeneration(gen *canonical.GenerationParams, body map[string]any) {
	if gen.Temperature != nil {
		body["temperature"] = *gen.Temperature
	}
	if gen.MaxTokens != nil {
		body["max_tokens"] = *gen.MaxTokens
	}
	if gen.TopP != nil {
		body["top_p"] = *gen.TopP
	}
	if gen.FrequencyPenalty != nil {
		body["frequency_penalty"] = *gen.FrequencyPenalty
	}
	if gen.PresencePenalty != nil {
		body["presence_penalty"] = *gen.PresencePenalty
	}
	if gen.N != nil {
		body["n"] = *gen.N
	}
	if len(gen.Stop) > 0 {
		body["stop"] = gen.Stop
	}
}
