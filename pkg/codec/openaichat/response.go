package openaichat

import (
	"encoding/json"
	"time"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role             string         `json:"role"`
			Content          *string        `json:"content"`
			Refusal          string         `json:"refusal"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

type wireUsage struct {
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
	TotalTokens      uint64 `json:"total_tokens"`
}

// DecodeResponse decodes an OpenAI Chat Completions response body into the
// canonical representation. Only the first choice is carried; n>1 requests
// pass through untranslated on the passthrough path.
func DecodeResponse(body []byte) (*canonical.Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, gatewayerrors.NewTranslation("failed to decode OpenAI response", err)
	}

	resp := &canonical.Response{
		ID:    wire.ID,
		Model: wire.Model,
	}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		if choice.Message.ReasoningContent != "" {
			resp.Content = append(resp.Content, canonical.ReasoningPart{Text: choice.Message.ReasoningContent})
		}
		if choice.Message.Content != nil && *choice.Message.Content != "" {
			resp.Content = append(resp.Content, canonical.TextPart{Text: *choice.Message.Content})
		}
		if choice.Message.Refusal != "" {
			resp.Content = append(resp.Content, canonical.RefusalPart{Refusal: choice.Message.Refusal})
		}
		for _, call := range choice.Message.ToolCalls {
			args := call.Function.Arguments
			if args == "" {
				args = "{}"
			}
			resp.Content = append(resp.Content, canonical.ToolCallPart{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(args),
			})
		}
		resp.StopReason = canonical.OpenAIStopToCanonical(choice.FinishReason)
	}
	if wire.Usage != nil {
		resp.Usage = canonical.NormalizeUsage(canonical.Usage{
			InputTokens:  canonical.Uint64Ptr(wire.Usage.PromptTokens),
			OutputTokens: canonical.Uint64Ptr(wire.Usage.CompletionTokens),
			TotalTokens:  canonical.Uint64Ptr(wire.Usage.TotalTokens),
		})
	}
	return resp, nil
}

// EncodeResponse encodes a canonical response as an OpenAI Chat
// Completions body for the client, under the client-facing model name.
func EncodeResponse(resp *canonical.Response, clientModel string) ([]byte, error) {
	message := map[string]any{"role": "assistant"}
	text := ""
	var toolCalls []wireToolCall
	for _, part := range resp.Content {
		switch p := part.(type) {
		case canonical.TextPart:
			text += p.Text
		case canonical.RefusalPart:
			message["refusal"] = p.Refusal
		case canonical.ToolCallPart:
			toolCalls = append(toolCalls, wireToolCall{
				ID:   p.ID,
				Type: "function",
				Function: wireToolFunction{
					Name:      p.Name,
					Arguments: string(p.Arguments),
				},
			})
		}
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		if text != "" {
			message["content"] = text
		} else {
			message["content"] = nil
		}
	} else {
		message["content"] = text
	}

	body := map[string]any{
		"id":      resp.ID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   clientModel,
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": canonical.CanonicalStopToOpenAI(resp.StopReason),
		}},
	}
	if resp.Usage.InputTokens != nil || resp.Usage.OutputTokens != nil || resp.Usage.TotalTokens != nil {
		body["usage"] = encodeUsage(resp.Usage)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode OpenAI response", err)
	}
	return encoded, nil
}

func encodeUsage(u canonical.Usage) wireUsage {
	out := wireUsage{}
	if u.InputTokens != nil {
		out.PromptTokens = *u.InputTokens
	}
	if u.OutputTokens != nil {
		out.CompletionTokens = *u.OutputTokens
	}
	if u.TotalTokens != nil {
		out.TotalTokens = *u.TotalTokens
	} else {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}
