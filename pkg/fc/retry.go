package fc

import (
	"strings"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

const defaultRetryTemplate = `Your previous response attempted to make a function call but the format was invalid or could not be parsed.

**Your original response:**
` + "```" + `
{original_response}
` + "```" + `

**Error details:**
{error_details}

**Instructions:**
Please retry and output the function call in the correct XML format. Remember:
1. Start with the trigger signal on its own line
2. Immediately follow with the <function_calls> XML block
3. Use <args_json> with valid JSON for parameters
4. Do not add any text after </function_calls>

Please provide the corrected function call now. DO NOT OUTPUT ANYTHING ELSE.`

// RetryOptions configures the FC error-retry loop.
type RetryOptions struct {
	Enabled        bool
	MaxAttempts    uint32
	PromptTemplate string
}

// ShouldRetry reports whether another retry attempt should be made. All
// four conditions must hold: retry enabled, attempts remaining, trigger
// present in the response, and a parse/validation failure.
func ShouldRetry(opts RetryOptions, attempt uint32, hasTrigger, parseFailed bool) bool {
	return opts.Enabled && attempt < opts.MaxAttempts && hasTrigger && parseFailed
}

// BuildRetryPrompt renders the prompt sent back to the model asking it to
// fix its output. Custom templates interpolate {error_details} and
// {original_response}.
func BuildRetryPrompt(errorDetails, originalResponse, customTemplate string) string {
	template := customTemplate
	if template == "" {
		template = defaultRetryTemplate
	}
	prompt := strings.ReplaceAll(template, "{error_details}", errorDetails)
	return strings.ReplaceAll(prompt, "{original_response}", originalResponse)
}

// BuildRetryMessages appends retry context to the original conversation:
// the failed response as an assistant message, then the retry prompt as a
// user message. The original slice is not mutated.
func BuildRetryMessages(original []canonical.Message, assistantResponse, retryPrompt string) []canonical.Message {
	messages := make([]canonical.Message, 0, len(original)+2)
	messages = append(messages, original...)
	messages = append(messages,
		canonical.Message{
			Role:  canonical.RoleAssistant,
			Parts: []canonical.Part{canonical.TextPart{Text: assistantResponse}},
		},
		canonical.Message{
			Role:  canonical.RoleUser,
			Parts: []canonical.Part{canonical.TextPart{Text: retryPrompt}},
		},
	)
	return messages
}

// RetryContext tracks retry state across attempts. The upstream call is
// not performed here; the context only answers "should I keep going?" and
// keeps count.
type RetryContext struct {
	Options        RetryOptions
	CurrentAttempt uint32
}

// NewRetryContext constructs a context from the retry options.
func NewRetryContext(opts RetryOptions) *RetryContext {
	return &RetryContext{Options: opts}
}

// ShouldContinue mirrors ShouldRetry using the internal counter.
func (c *RetryContext) ShouldContinue(hasTrigger, parseFailed bool) bool {
	return ShouldRetry(c.Options, c.CurrentAttempt, hasTrigger, parseFailed)
}

// Increment advances the attempt counter.
func (c *RetryContext) Increment() { c.CurrentAttempt++ }
