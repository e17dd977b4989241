// Package observability provides local token estimation, usage merging,
// and request-usage logging for completed requests.
package observability

import (
	"log/slog"
	"time"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

// EstimateTokens estimates the token count of text with the bytes/4
// heuristic, avoiding model-specific BPE tables.
func EstimateTokens(text string) uint64 {
	return (uint64(len(text)) + 3) / 4
}

// EstimateRequestTokens estimates the total input tokens of a canonical
// request: system prompt, message text parts, and serialized tool
// definitions.
func EstimateRequestTokens(req *canonical.Request) uint64 {
	var total uint64
	total += EstimateTokens(req.SystemPrompt)

	for _, msg := range req.Messages {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case canonical.TextPart:
				total += EstimateTokens(p.Text)
			case canonical.ReasoningPart:
				total += EstimateTokens(p.Text)
			case canonical.RefusalPart:
				total += EstimateTokens(p.Refusal)
			case canonical.ToolResultPart:
				total += EstimateTokens(p.Content)
			case canonical.ToolCallPart:
				total += EstimateTokens(string(p.Arguments))
			}
		}
	}

	for _, tool := range req.Tools {
		total += EstimateTokens(tool.Function.Name)
		total += EstimateTokens(tool.Function.Description)
		total += EstimateTokens(string(tool.Function.Parameters))
	}
	return total
}

// EstimateResponseTokens estimates output tokens from response content.
func EstimateResponseTokens(content []canonical.Part) uint64 {
	var total uint64
	for _, part := range content {
		switch p := part.(type) {
		case canonical.TextPart:
			total += EstimateTokens(p.Text)
		case canonical.ReasoningPart:
			total += EstimateTokens(p.Text)
		case canonical.ToolCallPart:
			total += EstimateTokens(string(p.Arguments))
		}
	}
	return total
}

// MergeUsage combines upstream-reported usage with local estimates:
// non-zero upstream values always win; nil or zero fields fill from
// estimates; a missing total computes as input + output.
func MergeUsage(upstream canonical.Usage, estimatedInput, estimatedOutput uint64) canonical.Usage {
	input := estimatedInput
	if upstream.InputTokens != nil && *upstream.InputTokens > 0 {
		input = *upstream.InputTokens
	}
	output := estimatedOutput
	if upstream.OutputTokens != nil && *upstream.OutputTokens > 0 {
		output = *upstream.OutputTokens
	}
	total := input + output
	if upstream.TotalTokens != nil && *upstream.TotalTokens > 0 {
		total = *upstream.TotalTokens
	}
	return canonical.Usage{
		InputTokens:  &input,
		OutputTokens: &output,
		TotalTokens:  &total,
	}
}

// LogRequestUsage logs token usage for a completed request.
func LogRequestUsage(model string, usage canonical.Usage, duration time.Duration) {
	var input, output, total uint64
	if usage.InputTokens != nil {
		input = *usage.InputTokens
	}
	if usage.OutputTokens != nil {
		output = *usage.OutputTokens
	}
	if usage.TotalTokens != nil {
		total = *usage.TotalTokens
	}
	slog.Info("request completed",
		"model", model,
		"input_tokens", input,
		"output_tokens", output,
		"total_tokens", total,
		"duration_seconds", duration.Seconds(),
	)
}
