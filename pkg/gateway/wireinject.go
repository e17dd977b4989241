package gateway

import (
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/openaichat"
	"github.com/digitallysavvy/go-llm-gateway/pkg/fc"
)

// Simple-inject artifact cache for the OpenAI Chat wire-level inject path.
// Keyed by the raw `tools` and `tool_choice` token bytes so the common
// case (a client re-sending the same tool list) skips structural parsing
// and prompt generation entirely. Set-associative: 4 sets x 4 ways, with
// per-set LRU eviction.
const (
	simpleInjectSetCount       = 4
	simpleInjectSetWays        = 4
	simpleInjectMaxToolsBytes  = 64 * 1024
	simpleInjectMaxChoiceBytes = 4 * 1024
)

type simpleInjectEntry struct {
	toolsToken      string
	toolChoiceToken string
	savedTools      []canonical.ToolSpec
	artifacts       *fc.PromptArtifacts
}

type simpleInjectSet struct {
	mu      sync.Mutex
	entries []simpleInjectEntry
}

var simpleInjectCache [simpleInjectSetCount]simpleInjectSet

func simpleInjectSetIndex(toolsToken, toolChoiceToken string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(toolsToken))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(toolChoiceToken))
	return int(h.Sum64() % simpleInjectSetCount)
}

func simpleInjectCacheable(toolsToken, toolChoiceToken string) bool {
	return len(toolsToken) <= simpleInjectMaxToolsBytes &&
		len(toolChoiceToken) <= simpleInjectMaxChoiceBytes
}

func simpleInjectGet(toolsToken, toolChoiceToken string) ([]canonical.ToolSpec, *fc.PromptArtifacts, bool) {
	set := &simpleInjectCache[simpleInjectSetIndex(toolsToken, toolChoiceToken)]
	set.mu.Lock()
	defer set.mu.Unlock()
	for i := len(set.entries) - 1; i >= 0; i-- {
		entry := set.entries[i]
		if entry.toolsToken == toolsToken && entry.toolChoiceToken == toolChoiceToken {
			if i != len(set.entries)-1 {
				set.entries = append(append(set.entries[:i:i], set.entries[i+1:]...), entry)
			}
			return entry.savedTools, entry.artifacts, true
		}
	}
	return nil, nil, false
}

func simpleInjectPut(toolsToken, toolChoiceToken string, savedTools []canonical.ToolSpec, artifacts *fc.PromptArtifacts) {
	if !simpleInjectCacheable(toolsToken, toolChoiceToken) {
		return
	}
	set := &simpleInjectCache[simpleInjectSetIndex(toolsToken, toolChoiceToken)]
	set.mu.Lock()
	defer set.mu.Unlock()
	for i := range set.entries {
		if set.entries[i].toolsToken == toolsToken && set.entries[i].toolChoiceToken == toolChoiceToken {
			set.entries = append(set.entries[:i], set.entries[i+1:]...)
			break
		}
	}
	if len(set.entries) >= simpleInjectSetWays {
		set.entries = set.entries[1:]
	}
	set.entries = append(set.entries, simpleInjectEntry{
		toolsToken:      toolsToken,
		toolChoiceToken: toolChoiceToken,
		savedTools:      savedTools,
		artifacts:       artifacts,
	})
}

// ApplyWireInjectOpenAI applies FC inject directly to an OpenAI Chat wire
// body without a canonical round-trip. Used by the wire retry shape of
// auto-fallback when upstream and ingress dialects match.
//
// Returns the mutated body and the original tool specs; a nil tool slice
// means no inject was needed (no tools, or tool_choice none).
func ApplyWireInjectOpenAI(body []byte, promptTemplate string) ([]byte, []canonical.ToolSpec, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, err
	}
	toolsRaw, ok := fields["tools"]
	if !ok || len(toolsRaw) == 0 || string(toolsRaw) == "null" {
		return body, nil, nil
	}
	choiceRaw := fields["tool_choice"]

	savedTools, artifacts, err := resolveSimpleInjectArtifacts(toolsRaw, choiceRaw, promptTemplate)
	if err != nil {
		return nil, nil, err
	}
	if savedTools == nil {
		return body, nil, nil
	}

	messages, systemPrompt, err := openaichat.DecodeMessagesJSON(fields["messages"])
	if err != nil {
		return nil, nil, err
	}
	messages = fc.PreprocessMessages(messages)

	systemMessage := artifacts.OpenAISystemMessageJSON
	if systemPrompt != "" {
		combined, err := json.Marshal(map[string]string{
			"role":    "system",
			"content": systemPrompt + "\n" + artifacts.Prompt,
		})
		if err != nil {
			return nil, nil, err
		}
		systemMessage = combined
	}
	messagesJSON, err := openaichat.EncodeMessagesJSON(messages, systemMessage)
	if err != nil {
		return nil, nil, err
	}

	fields["messages"] = messagesJSON
	delete(fields, "tools")
	delete(fields, "tool_choice")

	mutated, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, err
	}
	return mutated, savedTools, nil
}

func resolveSimpleInjectArtifacts(toolsRaw, choiceRaw json.RawMessage, promptTemplate string) ([]canonical.ToolSpec, *fc.PromptArtifacts, error) {
	toolsToken := string(toolsRaw)
	choiceToken := string(choiceRaw)
	cacheable := simpleInjectCacheable(toolsToken, choiceToken)
	if cacheable {
		if savedTools, artifacts, ok := simpleInjectGet(toolsToken, choiceToken); ok {
			return savedTools, artifacts, nil
		}
	}

	choice := canonical.ToolChoice{Mode: canonical.ToolChoiceAuto}
	if len(choiceRaw) > 0 {
		choice = openaichat.DecodeWireToolChoice(choiceRaw)
	}
	if choice.Mode == canonical.ToolChoiceNone {
		return nil, nil, nil
	}
	savedTools, err := openaichat.DecodeToolsJSON(toolsRaw)
	if err != nil {
		return nil, nil, err
	}
	if len(savedTools) == 0 {
		return nil, nil, nil
	}
	artifacts, err := fc.GenerateFcPromptArtifacts(savedTools, choice, promptTemplate)
	if err != nil {
		return nil, nil, err
	}
	if cacheable {
		simpleInjectPut(toolsToken, choiceToken, savedTools, artifacts)
	}
	return savedTools, artifacts, nil
}
