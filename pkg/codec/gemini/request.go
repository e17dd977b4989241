// Package gemini implements the Gemini generateContent wire codec: request
// and response bodies plus the streamGenerateContent JSON-chunk stream.
// Gemini references tool calls by function name rather than by id, so both
// the request decoder and the stream encoder maintain name/id bindings.
package gemini

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

var requestKeys = map[string]bool{
	"contents": true, "systemInstruction": true, "system_instruction": true,
	"tools": true, "toolConfig": true, "tool_config": true,
	"generationConfig": true, "generation_config": true,
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text         string            `json:"text,omitempty"`
	FunctionCall *wireFunctionCall `json:"functionCall,omitempty"`
	FunctionResp *wireFunctionResp `json:"functionResponse,omitempty"`
	InlineData   json.RawMessage   `json:"inlineData,omitempty"`
	FileData     *struct {
		FileURI  string `json:"fileUri"`
		MimeType string `json:"mimeType"`
	} `json:"fileData,omitempty"`
}

type wireFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type wireFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

type wireToolDecl struct {
	FunctionDeclarations []struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"functionDeclarations"`
}

type wireGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *uint64  `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	CandidateCount  *uint32  `json:"candidateCount,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type wireToolConfig struct {
	FunctionCallingConfig *struct {
		Mode                 string   `json:"mode"`
		AllowedFunctionNames []string `json:"allowedFunctionNames"`
	} `json:"functionCallingConfig"`
}

// DecodeRequest decodes a Gemini generateContent request body. The model
// and stream flag come from the URL (`/v1beta/models/{model}:method`)
// rather than the body, so the caller supplies them.
func DecodeRequest(body []byte, model string, stream bool, requestID uuid.UUID) (*canonical.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed JSON body: %v", err)
	}
	if model == "" {
		return nil, gatewayerrors.NewInvalidRequest("missing model in request path")
	}

	req := &canonical.Request{
		RequestID:  requestID,
		IngressAPI: canonical.IngressGemini,
		Model:      model,
		Stream:     stream,
		ToolChoice: canonical.ToolChoice{Mode: canonical.ToolChoiceAuto},
	}

	if raw, ok := rawField(fields, "systemInstruction", "system_instruction"); ok {
		var instruction wireContent
		if err := json.Unmarshal(raw, &instruction); err == nil {
			for _, part := range instruction.Parts {
				req.SystemPrompt += part.Text
			}
		}
	}

	rawContents, ok := fields["contents"]
	if !ok {
		return nil, gatewayerrors.NewInvalidRequest("missing required field: contents")
	}
	var contents []wireContent
	if err := json.Unmarshal(rawContents, &contents); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed contents: %v", err)
	}
	// callIDsByName resolves functionResponse parts to the id of the most
	// recent functionCall with the same name: Gemini references calls by
	// name only.
	callIDsByName := map[string]string{}
	for _, content := range contents {
		decodeContent(content, req, callIDsByName)
	}

	if raw, ok := fields["tools"]; ok {
		var decls []wireToolDecl
		if err := json.Unmarshal(raw, &decls); err != nil {
			return nil, gatewayerrors.NewInvalidRequest("malformed tools: %v", err)
		}
		for _, decl := range decls {
			for _, fn := range decl.FunctionDeclarations {
				params := fn.Parameters
				if len(params) == 0 {
					params = json.RawMessage("{}")
				}
				req.Tools = append(req.Tools, canonical.ToolSpec{Function: canonical.ToolFunction{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  params,
				}})
			}
		}
	}
	if raw, ok := rawField(fields, "toolConfig", "tool_config"); ok {
		req.ToolChoice = decodeToolConfig(raw)
	}
	if raw, ok := rawField(fields, "generationConfig", "generation_config"); ok {
		var cfg wireGenerationConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			req.Generation = canonical.GenerationParams{
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxOutputTokens,
				TopP:        cfg.TopP,
				N:           cfg.CandidateCount,
				Stop:        cfg.StopSequences,
			}
		}
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

func rawField(fields map[string]json.RawMessage, camel, snake string) (json.RawMessage, bool) {
	if raw, ok := fields[camel]; ok {
		return raw, true
	}
	raw, ok := fields[snake]
	return raw, ok
}

func decodeContent(content wireContent, req *canonical.Request, callIDsByName map[string]string) {
	role := canonical.RoleUser
	switch content.Role {
	case "model":
		role = canonical.RoleAssistant
	case "function":
		role = canonical.RoleTool
	}

	var parts []canonical.Part
	flush := func() {
		if len(parts) > 0 {
			req.Messages = append(req.Messages, canonical.Message{Role: role, Parts: parts})
			parts = nil
		}
	}
	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			id := canonical.NextCallID()
			callIDsByName[part.FunctionCall.Name] = id
			parts = append(parts, canonical.ToolCallPart{
				ID:        id,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		case part.FunctionResp != nil:
			flush()
			id := callIDsByName[part.FunctionResp.Name]
			if id == "" {
				id = canonical.NextCallID()
			}
			req.Messages = append(req.Messages, canonical.Message{
				Role:       canonical.RoleTool,
				ToolCallID: id,
				Parts: []canonical.Part{canonical.ToolResultPart{
					ToolCallID: id,
					Content:    string(part.FunctionResp.Response),
				}},
			})
		case part.Text != "":
			parts = append(parts, canonical.TextPart{Text: part.Text})
		}
	}
	flush()
}

func decodeToolConfig(raw json.RawMessage) canonical.ToolChoice {
	var cfg wireToolConfig
	if err := json.Unmarshal(raw, &cfg); err != nil || cfg.FunctionCallingConfig == nil {
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
	fcc := cfg.FunctionCallingConfig
	switch fcc.Mode {
	case "NONE":
		return canonical.ToolChoice{Mode: canonical.ToolChoiceNone}
	case "ANY":
		if len(fcc.AllowedFunctionNames) == 1 {
			return canonical.ToolChoice{Mode: canonical.ToolChoiceSpecific, Name: fcc.AllowedFunctionNames[0]}
		}
		return canonical.ToolChoice{Mode: canonical.ToolChoiceRequired}
	default:
		return canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	}
}

// EncodeRequest encodes a canonical request as a Gemini generateContent
// body. The model stays out of the body (it rides in the URL).
func EncodeRequest(req *canonical.Request) ([]byte, error) {
	body := map[string]any{}

	if req.SystemPrompt != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	// callNamesByID resolves canonical tool-result messages back to the
	// function name Gemini requires.
	callNamesByID := map[string]string{}
	var contents []map[string]any
	for i := range req.Messages {
		msg := &req.Messages[i]
		content, err := encodeContent(msg, callNamesByID)
		if err != nil {
			return nil, err
		}
		if content != nil {
			contents = append(contents, content)
		}
	}
	if contents == nil {
		contents = []map[string]any{}
	}
	body["contents"] = contents

	if len(req.Tools) > 0 && req.ToolChoice.Mode != canonical.ToolChoiceNone {
		declarations := make([]map[string]any, 0, len(req.Tools))
		for _, spec := range req.Tools {
			decl := map[string]any{"name": spec.Function.Name}
			if spec.Function.Description != "" {
				decl["description"] = spec.Function.Description
			}
			if len(spec.Function.Parameters) > 0 {
				decl["parameters"] = spec.Function.Parameters
			}
			declarations = append(declarations, decl)
		}
		body["tools"] = []map[string]any{{"functionDeclarations": declarations}}
		body["toolConfig"] = map[string]any{
			"functionCallingConfig": encodeFunctionCallingConfig(req.ToolChoice),
		}
	}

	cfg := map[string]any{}
	if req.Generation.Temperature != nil {
		cfg["temperature"] = *req.Generation.Temperature
	}
	if req.Generation.MaxTokens != nil {
		cfg["maxOutputTokens"] = *req.Generation.MaxTokens
	}
	if req.Generation.TopP != nil {
		cfg["topP"] = *req.Generation.TopP
	}
	if req.Generation.N != nil {
		cfg["candidateCount"] = *req.Generation.N
	}
	if len(req.Generation.Stop) > 0 {
		cfg["stopSequences"] = req.Generation.Stop
	}
	if len(cfg) > 0 {
		body["generationConfig"] = cfg
	}

	for key, raw := range req.Extensions {
		body[key] = raw
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Gemini request", err)
	}
	return encoded, nil
}

func encodeContent(msg *canonical.Message, callNamesByID map[string]string) (map[string]any, error) {
	switch msg.Role {
	case canonical.RoleTool:
		var parts []map[string]any
		for _, part := range msg.Parts {
			result, ok := part.(canonical.ToolResultPart)
			if !ok {
				continue
			}
			name := callNamesByID[result.ToolCallID]
			if name == "" {
				name = "unknown"
			}
			var response any
			if json.Valid([]byte(result.Content)) {
				response = json.RawMessage(result.Content)
			} else {
				response = map[string]any{"content": result.Content}
			}
			parts = append(parts, map[string]any{
				"functionResponse": map[string]any{
					"name":     name,
					"response": response,
				},
			})
		}
		if parts == nil {
			return nil, nil
		}
		return map[string]any{"role": "function", "parts": parts}, nil

	case canonical.RoleAssistant:
		var parts []map[string]any
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case canonical.TextPart:
				parts = append(parts, map[string]any{"text": p.Text})
			case canonical.ToolCallPart:
				callNamesByID[p.ID] = p.Name
				var args any
				if err := json.Unmarshal(p.Arguments, &args); err != nil {
					return nil, gatewayerrors.NewTranslation("tool call arguments are not valid JSON", err)
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{
						"name": p.Name,
						"args": args,
					},
				})
			}
		}
		if parts == nil {
			parts = []map[string]any{{"text": ""}}
		}
		return map[string]any{"role": "model", "parts": parts}, nil

	default:
		// System messages mid-conversation carry as user turns; Gemini only
		// accepts system text through systemInstruction.
		text := ""
		for _, part := range msg.Parts {
			if p, ok := part.(canonical.TextPart); ok {
				text += p.Text
			}
		}
		return map[string]any{"role": "user", "parts": []map[string]any{{"text": text}}}, nil
	}
}

func encodeFunctionCallingConfig(choice canonical.ToolChoice) map[string]any {
	switch choice.Mode {
	case canonical.ToolChoiceNone:
		return map[string]any{"mode": "NONE"}
	case canonical.ToolChoiceRequired:
		return map[string]any{"mode": "ANY"}
	case canonical.ToolChoiceSpecific:
		return map[string]any{"mode": "ANY", "allowedFunctionNames": []string{choice.Name}}
	default:
		return map[string]any{"mode": "AUTO"}
	}
}
