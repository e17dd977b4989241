package openaichat

import (
	"encoding/json"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// Helpers for the wire-level FC inject path: they decode and re-encode
// individual request fields without a full canonical round-trip.

// DecodeToolsJSON decodes a raw `tools` array into canonical tool specs.
func DecodeToolsJSON(raw json.RawMessage) ([]canonical.ToolSpec, error) {
	var tools []wireTool
	if err := json.Unmarshal(raw, &tools); err != nil {
		return nil, gatewayerrors.NewInvalidRequest("malformed tools: %v", err)
	}
	return DecodeWireTools(tools), nil
}

// DecodeMessagesJSON decodes a raw `messages` array into canonical
// messages. The system prompt accumulated from system/developer entries is
// returned separately.
func DecodeMessagesJSON(raw json.RawMessage) ([]canonical.Message, string, error) {
	var wireMessages []wireMessage
	if err := json.Unmarshal(raw, &wireMessages); err != nil {
		return nil, "", gatewayerrors.NewInvalidRequest("malformed messages: %v", err)
	}
	scratch := &canonical.Request{}
	for _, m := range wireMessages {
		if err := decodeMessage(m, scratch); err != nil {
			return nil, "", err
		}
	}
	return scratch.Messages, scratch.SystemPrompt, nil
}

// EncodeMessagesJSON encodes canonical messages back to the OpenAI wire
// `messages` array. systemMessageJSON, when non-empty, is spliced in as
// the first element verbatim (pre-encoded system message bytes).
func EncodeMessagesJSON(messages []canonical.Message, systemMessageJSON []byte) (json.RawMessage, error) {
	encoded := make([]json.RawMessage, 0, len(messages)+1)
	if len(systemMessageJSON) > 0 {
		encoded = append(encoded, systemMessageJSON)
	}
	for i := range messages {
		items, err := encodeMessage(&messages[i])
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			itemJSON, err := json.Marshal(item)
			if err != nil {
				return nil, gatewayerrors.NewTranslation("failed to encode message", err)
			}
			encoded = append(encoded, itemJSON)
		}
	}
	out, err := json.Marshal(encoded)
	if err != nil {
		return nil, gatewayerrors.NewTranslation("failed to encode messages array", err)
	}
	return out, nil
}
