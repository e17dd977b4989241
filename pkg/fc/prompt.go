// Package fc implements the function-calling pipeline: prompt injection,
// the streaming trigger detector, the multi-tier XML parser, the
// JSON-Schema subset validator, and the streaming processor that turns
// post-hoc XML tool calls back into native streaming tool-call events.
package fc

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

const promptCacheCapacity = 64

var (
	triggerOnce   sync.Once
	triggerSignal string

	promptCacheOnce sync.Once
	promptCache     *lru.Cache[string, *PromptArtifacts]
)

// TriggerSignal returns the per-process trigger signal
// (`<Function_XXXX_Start/>`, four random alphanumeric characters). It is
// generated once at first use and stays stable for the process lifetime so
// adversarially-prompted model output cannot predict it, while keeping the
// prompt cache effective.
func TriggerSignal() string {
	triggerOnce.Do(func() {
		const alnum = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
		var chars [4]byte
		for i := range chars {
			chars[i] = alnum[rand.IntN(len(alnum))]
		}
		triggerSignal = "<Function_" + string(chars[:]) + "_Start/>"
	})
	return triggerSignal
}

// PromptArtifacts bundles the generated FC prompt with its pre-serialized
// OpenAI system-message JSON, so wire-level inject paths can splice the
// bytes without re-encoding.
type PromptArtifacts struct {
	Prompt                  string
	OpenAISystemMessageJSON []byte
}

func getPromptCache() *lru.Cache[string, *PromptArtifacts] {
	promptCacheOnce.Do(func() {
		promptCache, _ = lru.New[string, *PromptArtifacts](promptCacheCapacity)
	})
	return promptCache
}

// GenerateFcPrompt generates the FC system prompt for the given tools and
// tool choice. Results are cached by (tools, tool choice, template) in a
// bounded process-wide LRU; equal arguments return byte-identical prompts.
func GenerateFcPrompt(tools []canonical.ToolSpec, choice canonical.ToolChoice, customTemplate string) (string, error) {
	artifacts, err := GenerateFcPromptArtifacts(tools, choice, customTemplate)
	if err != nil {
		return "", err
	}
	return artifacts.Prompt, nil
}

// GenerateFcPromptArtifacts is GenerateFcPrompt plus the pre-encoded
// OpenAI system-message bytes.
func GenerateFcPromptArtifacts(tools []canonical.ToolSpec, choice canonical.ToolChoice, customTemplate string) (*PromptArtifacts, error) {
	cache := getPromptCache()
	key := promptCacheKey(tools, choice, customTemplate)
	if cached, ok := cache.Get(key); ok {
		return cached, nil
	}

	prompt, err := generateFcPromptUncached(tools, choice, customTemplate)
	if err != nil {
		return nil, err
	}
	systemMessage, err := json.Marshal(map[string]string{
		"role":    "system",
		"content": prompt,
	})
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to serialize FC prompt", err)
	}
	artifacts := &PromptArtifacts{
		Prompt:                  prompt,
		OpenAISystemMessageJSON: systemMessage,
	}
	cache.Add(key, artifacts)
	return artifacts, nil
}

func promptCacheKey(tools []canonical.ToolSpec, choice canonical.ToolChoice, customTemplate string) string {
	var b strings.Builder
	b.WriteString(customTemplate)
	b.WriteByte(0)
	fmt.Fprintf(&b, "%d:%s", choice.Mode, choice.Name)
	for _, tool := range tools {
		b.WriteByte(0)
		b.WriteString(tool.Function.Name)
		b.WriteByte(0)
		b.WriteString(tool.Function.Description)
		b.WriteByte(0)
		b.Write(tool.Function.Parameters)
	}
	return b.String()
}

func generateFcPromptUncached(tools []canonical.ToolSpec, choice canonical.ToolChoice, customTemplate string) (string, error) {
	trigger := TriggerSignal()

	toolsList, err := formatToolsList(tools)
	if err != nil {
		return "", err
	}

	var prompt string
	if customTemplate != "" {
		// Interpolate the trigger first so a literal {trigger_signal} inside
		// a tool description is not expanded.
		prompt = strings.ReplaceAll(customTemplate, "{trigger_signal}", trigger)
		prompt = strings.ReplaceAll(prompt, "{tools_list}", toolsList)
	} else {
		prompt = strings.ReplaceAll(defaultPromptTemplate(trigger), "{tools_list}", toolsList)
	}

	switch choice.Mode {
	case canonical.ToolChoiceNone:
		prompt += "\n\nDo NOT call any function."
	case canonical.ToolChoiceRequired:
		prompt += "\n\nYou MUST call at least one function."
	case canonical.ToolChoiceSpecific:
		prompt += "\n\nYou MUST call the function: " + choice.Name
	}
	return prompt, nil
}

// formatToolsList renders the tool declarations into the text block used
// inside the prompt, validating each tool's schema shape along the way.
func formatToolsList(tools []canonical.ToolSpec) (string, error) {
	blocks := make([]string, 0, len(tools))
	for i, tool := range tools {
		fn := tool.Function
		var schema map[string]json.RawMessage
		if len(fn.Parameters) > 0 {
			if err := json.Unmarshal(fn.Parameters, &schema); err != nil {
				return "", gatewayerrors.NewInvalidRequest("Tool '%s': parameters must be an object", fn.Name)
			}
		}

		props, err := decodeProperties(fn.Name, schema["properties"])
		if err != nil {
			return "", err
		}
		required, err := decodeRequired(fn.Name, schema["required"])
		if err != nil {
			return "", err
		}
		for _, key := range required {
			if _, ok := props[key]; !ok {
				return "", gatewayerrors.NewInvalidRequest(
					"Tool '%s': required parameter %q is not defined in properties", fn.Name, key)
			}
		}

		propNames := make([]string, 0, len(props))
		for name := range props {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		summary := "None"
		if len(propNames) > 0 {
			entries := make([]string, 0, len(propNames))
			for _, name := range propNames {
				entries = append(entries, fmt.Sprintf("%s (%s)", name, propType(props[name])))
			}
			summary = strings.Join(entries, ", ")
		}

		var detailLines []string
		for _, name := range propNames {
			detailLines = append(detailLines, formatParamDetail(name, props[name], required)...)
		}
		detailBlock := "(no parameter details)"
		if len(detailLines) > 0 {
			detailBlock = strings.Join(detailLines, "\n")
		}

		descBlock := "None"
		if fn.Description != "" {
			descBlock = "```\n" + fn.Description + "\n```"
		}
		requiredStr := "None"
		if len(required) > 0 {
			requiredStr = strings.Join(required, ", ")
		}

		blocks = append(blocks, fmt.Sprintf(
			"%d. <tool name=%q>\n   Description:\n%s\n   Parameters summary: %s\n   Required parameters: %s\n   Parameter details:\n%s",
			i+1, fn.Name, descBlock, summary, requiredStr, detailBlock,
		))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func decodeProperties(toolName string, raw json.RawMessage) (map[string]map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("Tool '%s': 'properties' must be an object", toolName)
	}
	props := make(map[string]map[string]any, len(generic))
	for name, value := range generic {
		if obj, ok := value.(map[string]any); ok {
			props[name] = obj
		} else {
			props[name] = nil
		}
	}
	return props, nil
}

func decodeRequired(toolName string, raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var generic []any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("Tool '%s': 'required' must be a list", toolName)
	}
	required := make([]string, 0, len(generic))
	for _, item := range generic {
		s, ok := item.(string)
		if !ok {
			return nil, gatewayerrors.NewInvalidRequest("Tool '%s': 'required' entries must be strings", toolName)
		}
		required = append(required, s)
	}
	return required, nil
}

func propType(info map[string]any) string {
	if t, ok := info["type"].(string); ok {
		return t
	}
	return "any"
}

func formatParamDetail(name string, info map[string]any, required []string) []string {
	isRequired := "No"
	for _, r := range required {
		if r == name {
			isRequired = "Yes"
			break
		}
	}
	lines := []string{
		"- " + name + ":",
		"  - type: " + propType(info),
		"  - required: " + isRequired,
	}
	if info == nil {
		return lines
	}

	if desc, ok := info["description"].(string); ok {
		lines = append(lines, "  - description: "+desc)
	}
	if enum, ok := info["enum"]; ok {
		lines = append(lines, "  - enum: "+compactJSON(enum))
	}
	if def, ok := info["default"]; ok {
		lines = append(lines, "  - default: "+compactJSON(def))
	}
	if examples, ok := info["examples"]; ok {
		lines = append(lines, "  - examples: "+compactJSON(examples))
	} else if example, ok := info["example"]; ok {
		lines = append(lines, "  - examples: "+compactJSON(example))
	}

	constraintKeys := []string{
		"minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
		"minLength", "maxLength", "pattern", "format",
		"minItems", "maxItems", "uniqueItems",
	}
	constraints := map[string]any{}
	for _, key := range constraintKeys {
		if v, ok := info[key]; ok {
			constraints[key] = v
		}
	}
	if propType(info) == "array" {
		if items, ok := info["items"].(map[string]any); ok {
			if itemType, ok := items["type"]; ok {
				constraints["items.type"] = itemType
			}
		}
	}
	if len(constraints) > 0 {
		lines = append(lines, "  - constraints: "+compactJSON(constraints))
	}
	return lines
}

func compactJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

// defaultPromptTemplate is the built-in FC instruction prompt. The
// {tools_list} placeholder is filled per request; the trigger signal is
// baked in once per process.
func defaultPromptTemplate(trigger string) string {
	return `
You have access to the following available tools to help solve problems:

{tools_list}

**IMPORTANT CONTEXT NOTES:**
1. You can call MULTIPLE tools in a single response if needed.
2. Even though you can call multiple tools, you MUST respect the user's later constraints and preferences (e.g., the user may request no tools, only one tool, or a specific tool/workflow).
3. The conversation context may already contain tool execution results from previous function calls. Review the conversation history carefully to avoid unnecessary duplicate tool calls.
4. When tool execution results are present in the context, they will be formatted with XML tags like <tool_result>...</tool_result> for easy identification.
5. This is the ONLY format you can use for tool calls, and any deviation will result in failure.

When you need to use tools, you **MUST** strictly follow this format. Do NOT include any extra text, explanations, or dialogue on the first and second lines of the tool call syntax:

1. When starting tool calls, begin on a new line with exactly:
` + trigger + `
No leading or trailing spaces, output exactly as shown above. The trigger signal MUST be on its own line and appear only once. Do not output a trigger signal for each tool call.

2. Starting from the second line, **immediately** follow with the complete <function_calls> XML block.

3. For multiple tool calls, include multiple <function_call> blocks within the same <function_calls> wrapper, not separate blocks. Output the trigger signal only once, then one <function_calls> with all <function_call> children.

4. Do not add any text or explanation after the closing </function_calls> tag.

STRICT ARGUMENT KEY RULES:
- You MUST use parameter keys EXACTLY as defined (case- and punctuation-sensitive). Do NOT rename, add, or remove characters.
- If a key starts with a hyphen (e.g., "-i", "-C"), you MUST keep the leading hyphen in the JSON key. Never convert "-i" to "i" or "-C" to "C".
- The <tool> tag must contain the exact name of a tool from the list. Any other tool name is invalid.
- The <args_json> tag must contain a single JSON object with all required arguments for that tool.
- You MAY wrap the JSON content inside <![CDATA[...]]> to avoid XML escaping issues.

CORRECT Example (multiple tool calls):
...response content (optional)...
` + trigger + `
<function_calls>
    <function_call>
        <tool>Grep</tool>
        <args_json><![CDATA[{"-i": true, "-C": 2, "path": "."}]]></args_json>
    </function_call>
    <function_call>
        <tool>search</tool>
        <args_json><![CDATA[{"keywords": ["Python Document", "how to use python"]}]]></args_json>
    </function_call>
  </function_calls>

INCORRECT Example (extra text + wrong key names — DO NOT DO THIS):
...response content (optional)...
` + trigger + `
I will call the tools for you.
<function_calls>
    <function_call>
        <tool>Grep</tool>
        <args>
            <i>true</i>
            <C>2</C>
            <path>.</path>
        </args>
    </function_call>
</function_calls>

INCORRECT Example (output non-XML format — DO NOT DO THIS):
...response content (optional)...
` + "```json\n{\"files\":[{\"path\":\"system.py\"}]}\n```" + `

Now please be ready to strictly follow the above specifications.
`
}
