package fc

import (
	"fmt"
	"strings"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

// buildToolCallIndex maps tool_call_id -> (name, arguments JSON) from
// assistant messages in the conversation history.
func buildToolCallIndex(messages []canonical.Message) map[string][2]string {
	index := map[string][2]string{}
	for _, msg := range messages {
		if msg.Role != canonical.RoleAssistant {
			continue
		}
		for _, part := range msg.Parts {
			if call, ok := part.(canonical.ToolCallPart); ok {
				index[call.ID] = [2]string{call.Name, string(call.Arguments)}
			}
		}
	}
	return index
}

// PreprocessMessages rewrites a conversation for FC inject mode:
//
//   - role=Tool messages become role=User messages reporting the
//     originating tool name and arguments with the result wrapped in
//     <tool_result>...</tool_result>.
//   - Assistant messages carrying tool calls get those calls re-rendered
//     in the XML form (CDATA-wrapped args_json) appended to their text, so
//     the model observes its own prior turns in the format it is being
//     asked to produce.
//
// The rewrite is idempotent on conversations without Tool roles or
// tool-call parts.
func PreprocessMessages(messages []canonical.Message) []canonical.Message {
	index := buildToolCallIndex(messages)
	trigger := TriggerSignal()

	result := make([]canonical.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case canonical.RoleTool:
			content := collectTextLikeParts(msg.Parts, true)
			toolName, toolArguments := "unknown", "{}"
			if entry, ok := index[msg.ToolCallID]; ok {
				toolName, toolArguments = entry[0], entry[1]
			}
			formatted := fmt.Sprintf(
				"Tool execution result:\n- Tool name: %s\n- Tool arguments: %s\n- Execution result:\n<tool_result>\n%s\n</tool_result>",
				toolName, toolArguments, content,
			)
			result = append(result, canonical.Message{
				Role:  canonical.RoleUser,
				Parts: []canonical.Part{canonical.TextPart{Text: formatted}},
			})

		case canonical.RoleAssistant:
			hasToolCalls := false
			for _, part := range msg.Parts {
				if _, ok := part.(canonical.ToolCallPart); ok {
					hasToolCalls = true
					break
				}
			}
			if !hasToolCalls {
				result = append(result, msg)
				continue
			}

			originalText := collectTextLikeParts(msg.Parts, false)
			var formatted strings.Builder
			formatted.WriteString(trigger)
			formatted.WriteString("\n<function_calls>\n")
			for _, part := range msg.Parts {
				call, ok := part.(canonical.ToolCallPart)
				if !ok {
					continue
				}
				fmt.Fprintf(&formatted,
					"<function_call>\n<id>%s</id>\n<tool>%s</tool>\n<args_json>%s</args_json>\n</function_call>\n",
					call.ID, call.Name, WrapCDATA(string(call.Arguments)),
				)
			}
			formatted.WriteString("</function_calls>")

			finalContent := formatted.String()
			if originalText != "" {
				finalContent = originalText + "\n" + finalContent
			}
			result = append(result, canonical.Message{
				Role:  canonical.RoleAssistant,
				Name:  msg.Name,
				Parts: []canonical.Part{canonical.TextPart{Text: strings.TrimSpace(finalContent)}},
			})

		default:
			result = append(result, msg)
		}
	}
	return result
}

func collectTextLikeParts(parts []canonical.Part, includeToolResult bool) string {
	var content strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case canonical.TextPart:
			content.WriteString(p.Text)
		case canonical.ToolResultPart:
			if includeToolResult {
				content.WriteString(p.Content)
			}
		}
	}
	return content.String()
}
