package canonical

// Stop-reason mapping tables. Each dialect has a distinct string set; all
// maps are total, with unknown strings falling back to StopEndOfTurn.

// OpenAIStopToCanonical maps an OpenAI `finish_reason` string.
func OpenAIStopToCanonical(s string) StopReason {
	switch s {
	case "tool_calls", "function_call":
		return StopToolCalls
	case "length":
		return StopMaxTokens
	case "content_filter":
		return StopContentFilter
	default:
		return StopEndOfTurn
	}
}

// CanonicalStopToOpenAI maps a canonical stop reason to the OpenAI string.
func CanonicalStopToOpenAI(r StopReason) string {
	switch r {
	case StopToolCalls:
		return "tool_calls"
	case StopMaxTokens:
		return "length"
	case StopContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// AnthropicStopToCanonical maps an Anthropic `stop_reason` string.
func AnthropicStopToCanonical(s string) StopReason {
	switch s {
	case "tool_use":
		return StopToolCalls
	case "max_tokens", "model_context_window_exceeded":
		return StopMaxTokens
	case "refusal":
		return StopContentFilter
	default:
		return StopEndOfTurn
	}
}

// CanonicalStopToAnthropic maps a canonical stop reason to the Anthropic string.
func CanonicalStopToAnthropic(r StopReason) string {
	switch r {
	case StopToolCalls:
		return "tool_use"
	case StopMaxTokens:
		return "max_tokens"
	case StopContentFilter:
		return "refusal"
	default:
		return "end_turn"
	}
}

// GeminiStopToCanonical maps a Gemini `finishReason` string.
func GeminiStopToCanonical(s string) StopReason {
	switch s {
	case "MAX_TOKENS":
		return StopMaxTokens
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST":
		return StopContentFilter
	default:
		return StopEndOfTurn
	}
}

// CanonicalStopToGemini maps a canonical stop reason to the Gemini string.
// Gemini has no tool-call finish reason; tool-call turns finish with STOP.
func CanonicalStopToGemini(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "MAX_TOKENS"
	case StopContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// NormalizeUsage fills in a missing TotalTokens as input + output. When the
// upstream reported nothing at all, the usage is returned unchanged.
func NormalizeUsage(u Usage) Usage {
	if u.TotalTokens == nil && u.InputTokens != nil && u.OutputTokens != nil {
		total := *u.InputTokens + *u.OutputTokens
		u.TotalTokens = &total
	}
	return u
}

// Uint64Ptr returns a pointer to v. Convenience for building Usage values.
func Uint64Ptr(v uint64) *uint64 { return &v }
