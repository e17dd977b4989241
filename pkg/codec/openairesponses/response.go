package openairesponses

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

type wireResponse struct {
	ID     string           `json:"id"`
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Status string           `json:"status"`
	Output []wireOutputItem `json:"output"`
	Usage  *wireUsage       `json:"usage"`

	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

type wireOutputItem struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`

	// function_call / function_call_output fields
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
}

type wireUsage struct {
	InputTokens  uint64  `json:"input_tokens"`
	OutputTokens uint64  `json:"output_tokens"`
	TotalTokens  *uint64 `json:"total_tokens"`
}

// DecodeResponse decodes an OpenAI Responses body into the canonical
// representation. Message items contribute text/refusal parts;
// function_call items contribute ToolCall parts and force the ToolCalls
// stop reason.
func DecodeResponse(body []byte) (*canonical.Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, gatewayerrors.NewTranslation("failed to decode Responses body", err)
	}

	resp := &canonical.Response{
		ID:    wire.ID,
		Model: wire.Model,
	}
	hasToolCalls := false
	for _, item := range wire.Output {
		switch item.Type {
		case "message":
			var parts []wireContentPart
			if err := json.Unmarshal(item.Content, &parts); err == nil {
				for _, p := range parts {
					switch p.Type {
					case "output_text", "text":
						resp.Content = append(resp.Content, canonical.TextPart{Text: p.Text})
					case "refusal":
						resp.Content = append(resp.Content, canonical.RefusalPart{Refusal: p.Text})
					}
				}
			}
		case "function_call":
			hasToolCalls = true
			args := item.Arguments
			if args == "" {
				args = "{}"
			}
			resp.Content = append(resp.Content, canonical.ToolCallPart{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(args),
			})
		}
	}

	switch {
	case hasToolCalls:
		resp.StopReason = canonical.StopToolCalls
	case wire.Status == "incomplete" && wire.IncompleteDetails != nil &&
		wire.IncompleteDetails.Reason == "max_output_tokens":
		resp.StopReason = canonical.StopMaxTokens
	default:
		resp.StopReason = canonical.StopEndOfTurn
	}

	if wire.Usage != nil {
		usage := canonical.Usage{
			InputTokens:  canonical.Uint64Ptr(wire.Usage.InputTokens),
			OutputTokens: canonical.Uint64Ptr(wire.Usage.OutputTokens),
			TotalTokens:  wire.Usage.TotalTokens,
		}
		resp.Usage = canonical.NormalizeUsage(usage)
	}
	return resp, nil
}

// EncodeResponse encodes a canonical response as an OpenAI Responses body
// under the client-facing model name. A message item is emitted first when
// any text parts exist, followed by one function_call item per tool call
// in order.
func EncodeResponse(resp *canonical.Response, clientModel string) ([]byte, error) {
	var output []map[string]any

	var content []map[string]any
	for _, part := range resp.Content {
		switch p := part.(type) {
		case canonical.TextPart:
			content = append(content, map[string]any{
				"type":        "output_text",
				"text":        p.Text,
				"annotations": []any{},
			})
		case canonical.RefusalPart:
			content = append(content, map[string]any{"type": "refusal", "refusal": p.Refusal})
		}
	}
	if content != nil {
		output = append(output, map[string]any{
			"type":    "message",
			"id":      "msg_0",
			"role":    "assistant",
			"status":  "completed",
			"content": content,
		})
	}

	callIndex := 0
	for _, part := range resp.Content {
		call, ok := part.(canonical.ToolCallPart)
		if !ok {
			continue
		}
		output = append(output, map[string]any{
			"type":      "function_call",
			"id":        "fc_" + strconv.Itoa(callIndex),
			"call_id":   call.ID,
			"name":      call.Name,
			"arguments": string(call.Arguments),
			"status":    "completed",
		})
		callIndex++
	}
	if output == nil {
		output = []map[string]any{}
	}

	body := map[string]any{
		"id":         resp.ID,
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     "completed",
		"model":      clientModel,
		"output":     output,
	}
	if resp.Usage.InputTokens != nil || resp.Usage.OutputTokens != nil || resp.Usage.TotalTokens != nil {
		usage := map[string]any{}
		if resp.Usage.InputTokens != nil {
			usage["input_tokens"] = *resp.Usage.InputTokens
		}
		if resp.Usage.OutputTokens != nil {
			usage["output_tokens"] = *resp.Usage.OutputTokens
		}
		if resp.Usage.TotalTokens != nil {
			usage["total_tokens"] = *resp.Usage.TotalTokens
		}
		body["usage"] = usage
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Responses body", err)
	}
	return encoded, nil
}
