// Package openairesponses implements the OpenAI Responses wire codec:
// request and response bodies plus the typed-event SSE stream dialect
// (response.created, response.output_text.delta,
// response.output_item.added/.done,
// response.function_call_arguments.delta/.done, response.completed, error).
package openairesponses

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

var requestKeys = map[string]bool{
	"model": true, "input": true, "instructions": true, "tools": true,
	"tool_choice": true, "previous_response_id": true, "store": true,
	"stream": true, "temperature": true, "max_output_tokens": true,
	"top_p": true,
}

// builtinToolsExtensionKey carries Responses built-in tools (web_search,
// file_search, ...) through provider extensions so a Responses upstream
// gets them back verbatim.
const builtinToolsExtensionKey = "responses_builtin_tools"

type wireInputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`

	// function_call fields
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	// function_call_output fields
	Output json.RawMessage `json:"output"`
}

type wireContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
	// input_image fields
	ImageURL string `json:"image_url"`
	Detail   string `json:"detail"`
}

type wireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// DecodeRequest decodes an OpenAI Responses request body into the
// canonical representation. Flattened input items are reassembled: an
// assistant message item followed by function_call items becomes one
// assistant message carrying text and tool-call parts.
func DecodeRequest(body []byte, requestID uuid.UUID) (*canonical.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed JSON body: %v", err)
	}

	req := &canonical.Request{
		RequestID:  requestID,
		IngressAPI: canonical.IngressOpenAIResponses,
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
	if raw, ok := fields["instructions"]; ok {
		_ = json.Unmarshal(raw, &req.SystemPrompt)
	}

	rawInput, ok := fields["input"]
	if !ok {
		return nil, gatewayerrors.NewInvalidRequest("missing required field: input")
	}
	if err := decodeInput(rawInput, req); err != nil {
		return nil, err
	}

	if raw, ok := fields["tools"]; ok {
		var tools []wireTool
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, gatewayerrors.NewInvalidRequest("malformed tools: %v", err)
		}
		decodeTools(tools, req)
	}
	if raw, ok := fields["tool_choice"]; ok {
		req.ToolChoice = decodeToolChoice(raw)
	}

	if raw, ok := fields["temperature"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.Temperature)
	}
	if raw, ok := fields["max_output_tokens"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.MaxTokens)
	}
	if raw, ok := fields["top_p"]; ok {
		_ = json.Unmarshal(raw, &req.Generation.TopP)
	}

	extensions := canonical.Extensions{}
	if raw, ok := fields["previous_response_id"]; ok {
		extensions["previous_response_id"] = raw
	}
	if raw, ok := fields["store"]; ok {
		extensions["store"] = raw
	}
	for key, raw := range fields {
		if requestKeys[key] {
			continue
		}
		extensions[key] = raw
	}
	if len(extensions) > 0 {
		if req.Extensions == nil {
			req.Extensions = canonical.Extensions{}
		}
		for key, raw := range extensions {
			req.Extensions[key] = raw
		}
	}

	return req, nil
}

func decodeInput(raw json.RawMessage, req *canonical.Request) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		req.Messages = append(req.Messages, canonical.Message{
			Role:  canonical.RoleUser,
			Parts: []canonical.Part{canonical.TextPart{Text: text}},
		})
		return nil
	}

	var items []wireInputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return gatewayerrors.NewInvalidRequest("input must be a string or array")
	}

	// pendingAssistant accumulates an assistant message item plus trailing
	// function_call items into a single canonical assistant message.
	var pendingAssistant *canonical.Message
	flush := func() {
		if pendingAssistant != nil {
			req.Messages = append(req.Messages, *pendingAssistant)
			pendingAssistant = nil
		}
	}

	for _, item := range items {
		itemType := item.Type
		if itemType == "" && item.Role != "" {
			itemType = "message"
		}
		switch itemType {
		case "message":
			role := decodeRole(item.Role)
			parts := decodeMessageContent(item.Content)
			if role == canonical.RoleAssistant {
				flush()
				msg := canonical.Message{Role: canonical.RoleAssistant, Parts: parts}
				pendingAssistant = &msg
				continue
			}
			flush()
			if role == canonical.RoleSystem {
				text := ""
				for _, p := range parts {
					if tp, ok := p.(canonical.TextPart); ok {
						text += tp.Text
					}
				}
				if req.SystemPrompt == "" {
					req.SystemPrompt = text
				} else {
					req.SystemPrompt += "\n" + text
				}
				continue
			}
			req.Messages = append(req.Messages, canonical.Message{Role: role, Parts: parts})

		case "function_call":
			args := item.Arguments
			if args == "" {
				args = "{}"
			}
			call := canonical.ToolCallPart{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(args),
			}
			if pendingAssistant == nil {
				msg := canonical.Message{Role: canonical.RoleAssistant}
				pendingAssistant = &msg
			}
			pendingAssistant.Parts = append(pendingAssistant.Parts, call)

		case "function_call_output":
			flush()
			req.Messages = append(req.Messages, canonical.Message{
				Role:       canonical.RoleTool,
				ToolCallID: item.CallID,
				Parts: []canonical.Part{canonical.ToolResultPart{
					ToolCallID: item.CallID,
					Content:    decodeOutputContent(item.Output),
				}},
			})

		case "reasoning":
			// Reasoning input items are provider bookkeeping; skip.
			flush()

		default:
			return gatewayerrors.NewInvalidRequest("unknown input item type %q", item.Type)
		}
	}
	flush()
	return nil
}

func decodeRole(role string) canonical.Role {
	switch role {
	case "assistant":
		return canonical.RoleAssistant
	case "system", "developer":
		return canonical.RoleSystem
	default:
		return canonical.RoleUser
	}
}

func decodeMessageContent(raw json.RawMessage) []canonical.Part {
	if len(raw) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == "" {
			return nil
		}
		return []canonical.Part{canonical.TextPart{Text: text}}
	}
	var wireParts []wireContentPart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil
	}
	var parts []canonical.Part
	for _, p := range wireParts {
		switch p.Type {
		case "input_text", "output_text", "text":
			parts = append(parts, canonical.TextPart{Text: p.Text})
		case "input_image":
			parts = append(parts, canonical.ImageURLPart{URL: p.ImageURL, Detail: p.Detail})
		case "refusal":
			parts = append(parts, canonical.RefusalPart{Refusal: p.Text})
		}
	}
	return parts
}

func decodeOutputContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func decodeTools(tools []wireTool, req *canonical.Request) {
	var builtin []json.RawMessage
	for _, t := range tools {
		if t.Type == "function" {
			params := t.Parameters
			if len(params) == 0 {
				params = json.RawMessage("{}")
			}
			req.Tools = append(req.Tools, canonical.ToolSpec{Function: canonical.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			}})
			continue
		}
		if encoded, err := json.Marshal(t); err == nil {
			builtin = append(builtin, encoded)
		}
	}
	if len(builtin) > 0 {
		list, err := json.Marshal(builtin)
		if err == nil {
			if req.Extensions == nil {
				req.Extensions = canonical.Extensions{}
			}
			req.Extensions[builtinToolsExtensionKey] = list
		}
	}
}

func decodeToolChoice(raw json.RawMessage) canonical.ToolChoice {
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
		Name     string `json:"name"`
		Mode     string `json:"mode"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
	if obj.Type == "allowed_tools" {
		// A single allowed tool pins the choice; otherwise the mode decides.
		if len(obj.Tools) == 1 && obj.Tools[0].Name != "" {
			return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: obj.Tools[0].Name}
		}
		obj.Type = obj.Mode
	}
	if obj.Name != "" {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: obj.Name}
	}
	if obj.Function.Name != "" {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: obj.Function.Name}
	}
	switch obj.Type {
	case "none":
		return canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
	case "required":
		return canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}
	default:
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
}

// EncodeRequest encodes a canonical request as an OpenAI Responses body.
// An assistant message with text emits the message item first, then one
// function_call item per tool call, preserving their order.
func EncodeRequest(req *canonical.Request) ([]byte, error) {
	body := map[string]any{
		"model": req.Model,
	}
	if req.Stream {
		body["stream"] = true
	}
	if req.SystemPrompt != "" {
		body["instructions"] = req.SystemPrompt
	}

	var input []map[string]any
	for i := range req.Messages {
		input = append(input, encodeInputItems(&req.Messages[i])...)
	}
	if input == nil {
		input = []map[string]any{}
	}
	body["input"] = input

	var tools []any
	if len(req.Tools) > 0 && req.ToolChoice.Mode != canonical.ToolChoiceNone {
		for _, spec := range req.Tools {
			tool := map[string]any{
				"type": "function",
				"name": spec.Function.Name,
			}
			if spec.Function.Description != "" {
				tool["description"] = spec.Function.Description
			}
			if len(spec.Function.Parameters) > 0 {
				tool["parameters"] = spec.Function.Parameters
			}
			tools = append(tools, tool)
		}
	}
	if raw, ok := req.Extensions[builtinToolsExtensionKey]; ok {
		var builtin []json.RawMessage
		if err := json.Unmarshal(raw, &builtin); err == nil {
			for _, t := range builtin {
				tools = append(tools, t)
			}
		}
	}
	if tools != nil {
		body["tools"] = tools
		if choice, ok := encodeToolChoice(req.ToolChoice); ok {
			body["tool_choice"] = choice
		}
	}

	if req.Generation.Temperature != nil {
		body["temperature"] = *req.Generation.Temperature
	}
	if req.Generation.MaxTokens != nil {
		body["max_output_tokens"] = *req.Generation.MaxTokens
	}
	if req.Generation.TopP != nil {
		body["top_p"] = *req.Generation.TopP
	}

	for key, raw := range req.Extensions {
		if key == builtinToolsExtensionKey {
			continue
		}
		body[key] = raw
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Responses request", err)
	}
	return encoded, nil
}

func encodeInputItems(msg *canonical.Message) []map[string]any {
	switch msg.Role {
	case canonical.RoleTool:
		var items []map[string]any
		for _, part := range msg.Parts {
			if result, ok := part.(canonical.ToolResultPart); ok {
				items = append(items, map[string]any{
					"type":    "function_call_output",
					"call_id": result.ToolCallID,
					"output":  result.Content,
				})
			}
		}
		return items

	case canonical.RoleAssistant:
		var items []map[string]any
		var content []map[string]any
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case canonical.TextPart:
				content = append(content, map[string]any{"type": "output_text", "text": p.Text})
			case canonical.RefusalPart:
				content = append(content, map[string]any{"type": "refusal", "refusal": p.Refusal})
			}
		}
		if content != nil {
			items = append(items, map[string]any{
				"type":    "message",
				"role":    "assistant",
				"content": content,
			})
		}
		for _, part := range msg.Parts {
			if call, ok := part.(canonical.ToolCallPart); ok {
				items = append(items, map[string]any{
					"type":      "function_call",
					"call_id":   call.ID,
					"name":      call.Name,
					"arguments": string(call.Arguments),
				})
			}
		}
		return items

	case canonical.RoleSystem:
		return []map[string]any{{
			"type":    "message",
			"role":    "system",
			"content": encodeUserContent(msg.Parts),
		}}

	default:
		return []map[string]any{{
			"type":    "message",
			"role":    "user",
			"content": encodeUserContent(msg.Parts),
		}}
	}
}

func encodeUserContent(parts []canonical.Part) []map[string]any {
	var content []map[string]any
	for _, part := range parts {
		switch p := part.(type) {
		case canonical.TextPart:
			content = append(content, map[string]any{"type": "input_text", "text": p.Text})
		case canonical.ImageURLPart:
			item := map[string]any{"type": "input_image", "image_url": p.URL}
			if p.Detail != "" {
				item["detail"] = p.Detail
			}
			content = append(content, item)
		}
	}
	if content == nil {
		content = []map[string]any{{"type": "input_text", "text": ""}}
	}
	return content
}

func encodeToolChoice(choice canonical.ToolChoice) (any, bool) {
	switch choice.Mode {
	case canonical.ToolChoiceAuto:
		return "auto", true
	case canonical.ToolChoiceNone:
		return nil, false
	case canonical.ToolChoiceRequired:
		return "required", true
	case canonical.ToolChoiceSpecific:
		return map[string]any{"type": "function", "name": choice.Name}, true
	default:
		return "auto", true
	}
}
