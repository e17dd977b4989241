package gemini

import (
	"encoding/json"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

type wireResponse struct {
	Candidates []struct {
		Content      wireContent `json:"content"`
		FinishReason string      `json:"finishReason"`
		Index        int         `json:"index"`
	} `json:"candidates"`
	UsageMetadata *wireUsageMetadata `json:"usageMetadata"`
	ModelVersion  string             `json:"modelVersion"`
	ResponseID    string             `json:"responseId"`
}

type wireUsageMetadata struct {
	PromptTokenCount     *uint64 `json:"promptTokenCount"`
	CandidatesTokenCount *uint64 `json:"candidatesTokenCount"`
	TotalTokenCount      *uint64 `json:"totalTokenCount"`
}

// DecodeResponse decodes a Gemini generateContent response body into the
// canonical representation. A candidate carrying functionCall parts maps to
// the ToolCalls stop reason even though Gemini reports STOP.
func DecodeResponse(body []byte) (*canonical.Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, gatewayerrors.NewTranslation("failed to decode Gemini response", err)
	}

	resp := &canonical.Response{
		ID:    wire.ResponseID,
		Model: wire.ModelVersion,
	}
	if resp.ID == "" {
		resp.ID = canonical.NextCallID()
	}
	if len(wire.Candidates) == 0 {
		return resp, nil
	}

	candidate := wire.Candidates[0]
	hasToolCalls := false
	for _, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			hasToolCalls = true
			args := part.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.Content = append(resp.Content, canonical.ToolCallPart{
				ID:        canonical.NextCallID(),
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		case part.Text != "":
			resp.Content = append(resp.Content, canonical.TextPart{Text: part.Text})
		}
	}

	resp.StopReason = canonical.GeminiStopToCanonical(candidate.FinishReason)
	if hasToolCalls && resp.StopReason == canonical.StopEndOfTurn {
		resp.StopReason = canonical.StopToolCalls
	}

	if wire.UsageMetadata != nil {
		resp.Usage = canonical.NormalizeUsage(canonical.Usage{
			InputTokens:  wire.UsageMetadata.PromptTokenCount,
			OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  wire.UsageMetadata.TotalTokenCount,
		})
	}
	return resp, nil
}

// EncodeResponse encodes a canonical response as a Gemini generateContent
// body under the client-facing model name.
func EncodeResponse(resp *canonical.Response, clientModel string) ([]byte, error) {
	var parts []map[string]any
	for _, part := range resp.Content {
		switch p := part.(type) {
		case canonical.TextPart:
			parts = append(parts, map[string]any{"text": p.Text})
		case canonical.ReasoningPart:
			parts = append(parts, map[string]any{"text": p.Text})
		case canonical.RefusalPart:
			parts = append(parts, map[string]any{"text": p.Refusal})
		case canonical.ToolCallPart:
			var args any
			if err := json.Unmarshal(p.Arguments, &args); err != nil {
				return nil, gatewayerrors.NewTranslation("tool call arguments are not valid JSON", err)
			}
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": p.Name, "args": args},
			})
		}
	}
	if parts == nil {
		parts = []map[string]any{}
	}

	body := map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": canonical.CanonicalStopToGemini(resp.StopReason),
			"index":        0,
		}},
		"modelVersion": clientModel,
		"responseId":   resp.ID,
	}
	if resp.Usage.InputTokens != nil || resp.Usage.OutputTokens != nil || resp.Usage.TotalTokens != nil {
		body["usageMetadata"] = encodeUsageMetadata(resp.Usage)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode Gemini response", err)
	}
	return encoded, nil
}

func encodeUsageMetadata(u canonical.Usage) map[string]any {
	metadata := map[string]any{}
	if u.InputTokens != nil {
		metadata["promptTokenCount"] = *u.InputTokens
	}
	if u.OutputTokens != nil {
		metadata["candidatesTokenCount"] = *u.OutputTokens
	}
	if u.TotalTokens != nil {
		metadata["totalTokenCount"] = *u.TotalTokens
	}
	return metadata
}
