// Package gateway wires the canonical model, the per-dialect codecs, the
// transcoder, and the FC pipeline into per-request unary and streaming
// handlers. The canonical plane is the only path between dialects.
package gateway

import (
	"github.com/google/uuid"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/anthropic"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/gemini"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/openaichat"
	"github.com/digitallysavvy/go-llm-gateway/pkg/codec/openairesponses"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// DecodeIngressRequest decodes a client request body for the given ingress
// API. Gemini carries model and stream flag in the URL, so the caller
// passes them through.
func DecodeIngressRequest(api canonical.IngressAPI, body []byte, geminiModel string, geminiStream bool, requestID uuid.UUID) (*canonical.Request, error) {
	switch api {
	case canonical.IngressOpenAIChat:
		return openaichat.DecodeRequest(body, requestID)
	case canonical.IngressOpenAIResponses:
		return openairesponses.DecodeRequest(body, requestID)
	case canonical.IngressAnthropic:
		return anthropic.DecodeRequest(body, requestID)
	case canonical.IngressGemini:
		return gemini.DecodeRequest(body, geminiModel, geminiStream, requestID)
	default:
		return nil, gatewayerrors.NewInvalidRequest("unknown ingress API")
	}
}

// EncodeProviderRequest encodes a canonical request for the upstream's
// wire dialect. Cross-dialect provider extensions are not re-attached: a
// request decoded from one dialect and encoded for another drops them.
func EncodeProviderRequest(provider canonical.ProviderKind, req *canonical.Request, sameDialect bool) ([]byte, error) {
	encodeReq := req
	if !sameDialect && len(req.Extensions) > 0 {
		stripped := *req
		stripped.Extensions = nil
		encodeReq = &stripped
	}
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return openaichat.EncodeRequest(encodeReq)
	case canonical.ProviderOpenAIResponses:
		return openairesponses.EncodeRequest(encodeReq)
	case canonical.ProviderAnthropic:
		return anthropic.EncodeRequest(encodeReq)
	case canonical.ProviderGemini:
		return gemini.EncodeRequest(encodeReq)
	default:
		return nil, gatewayerrors.NewTranslation("unknown provider kind", nil)
	}
}

// DecodeProviderResponse decodes an upstream unary response body.
func DecodeProviderResponse(provider canonical.ProviderKind, body []byte) (*canonical.Response, error) {
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return openaichat.DecodeResponse(body)
	case canonical.ProviderOpenAIResponses:
		return openairesponses.DecodeResponse(body)
	case canonical.ProviderAnthropic:
		return anthropic.DecodeResponse(body)
	case canonical.ProviderGemini:
		return gemini.DecodeResponse(body)
	default:
		return nil, gatewayerrors.NewTranslation("unknown provider kind", nil)
	}
}

// EncodeIngressResponse encodes a canonical response for the client's
// ingress API under the client-facing model name.
func EncodeIngressResponse(api canonical.IngressAPI, resp *canonical.Response, clientModel string) ([]byte, error) {
	switch api {
	case canonical.IngressOpenAIChat:
		return openaichat.EncodeResponse(resp, clientModel)
	case canonical.IngressOpenAIResponses:
		return openairesponses.EncodeResponse(resp, clientModel)
	case canonical.IngressAnthropic:
		return anthropic.EncodeResponse(resp, clientModel)
	case canonical.IngressGemini:
		return gemini.EncodeResponse(resp, clientModel)
	default:
		return nil, gatewayerrors.NewTranslation("unknown ingress API", nil)
	}
}

// SameDialect reports whether a provider speaks the ingress API's wire
// dialect, treating the Gemini OpenAI-compatible endpoint as OpenAI Chat.
func SameDialect(provider canonical.ProviderKind, api canonical.IngressAPI) bool {
	switch provider {
	case canonical.ProviderOpenAI, canonical.ProviderGeminiOpenAI:
		return api == canonical.IngressOpenAIChat
	case canonical.ProviderOpenAIResponses:
		return api == canonical.IngressOpenAIResponses
	case canonical.ProviderAnthropic:
		return api == canonical.IngressAnthropic
	case canonical.ProviderGemini:
		return api == canonical.IngressGemini
	default:
		return false
	}
}
