package anthropic

import (
	"encoding/json"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

type wireResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []wireContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      *wireUsage         `json:"usage"`
}

type wireUsage struct {
	InputTokens  uint64 `json:"input_tokens"`
	OutputTokens uint64 `json:"output_tokens"`
}

// DecodeResponse decodes an Anthropic Messages response body into the
// canonical representation.
func DecodeResponse(body []byte) (*canonical.Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, gatewayerrors.NewTranslation("failed to decode Anthropic response", err)
	}

	resp := &canonical.Response{
		ID:         wire.ID,
		Model:      wire.Model,
		StopReason: canonical.AnthropicStopToCanonical(wire.StopReason),
	}
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, canonical.TextPart{Text: block.Text})
		case "thinking":
			resp.Content = append(resp.Content, canonical.ReasoningPart{Text: block.Thinking})
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			resp.Content = append(resp.Content, canonical.ToolCallPart{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: input,
			})
		}
	}
	if wire.Usage != nil {
		resp.Usage = canonical.NormalizeUsage(canonical.Usage{
			InputTokens:  canonical.Uint64Ptr(wire.Usage.InputTokens),
			OutputTokens: canonical.Uint64Ptr(wire.Usage.OutputTokens),
		})
	}
	return resp, nil
}

// EncodeResponse encodes a canonical response as an Anthropic Messages
// body under the client-facing model name.
func EncodeResponse(resp *canonical.Response, clientModel string) ([]byte, error) {
	var blocks []map[string]any
	for _, part := range resp.Content {
		switch p := part.(type) {
		case canonical.TextPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case canonical.ReasoningPart:
			blocks = append(blocks, map[string]any{"type": "thinking", "thinking": p.Text})
		case canonical.RefusalPart:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Refusal})
		case canonical.ToolCallPart:
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
		}
	}
	if blocks == nil {
		blocks = []map[string]any{}
	}

	usage := map[string]any{
		"input_tokens":  uint64(0),
		"output_tokens": uint64(0),
	}
	if resp.Usage.InputTokens != nil {
		usage["input_tokens"] = *resp.Usage.InputTokens
	}
	if resp.Usage.OutputTokens != nil {
		usage["output_tokens"] = *resp.Usage.OutputTokens
	}

	body := map[string]any{
		"id":            resp.ID,
		"type":          "message",
		"role":          "assistant",
		"model":         clientModel,
		"content":       blocks,
		"stop_reason":   canonical.CanonicalStopToAnthropic(resp.StopReason),
		"stop_sequence": nil,
		"usage":         usage,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Anthropic response", err)
	}
	return encoded, nil
}
