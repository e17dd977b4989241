package gateway

import (
	"github.com/digitallysavvy/go-llm-gateway/pkg/internal/jsonscan"
)

// RewriteModelName rewrites the first `"model":"..."` value in a unary
// JSON body to the client-facing model name. Used on the passthrough path
// when routing went through a model alias.
//
// The rewrite is byte-offset based: it scans JSON string tokens from the
// start of the body, skips whitespace around the colon, and splices the
// replacement in place. When the surrounding JSON shape is ambiguous (the
// `model` key has a non-string value, or no `model` key is found outside
// string values) the body is returned unchanged.
func RewriteModelName(body []byte, clientModel string) []byte {
	i := 0
	for i < len(body) {
		if body[i] != '"' {
			i++
			continue
		}
		strEnd, ok := jsonscan.StringEnd(body, i)
		if !ok {
			return body
		}
		inner := body[i+1 : strEnd-1]
		if string(inner) != "model" {
			// Some other string (key or value); skip past it entirely so a
			// "model" substring inside a value cannot match.
			i = strEnd
			continue
		}

		colon := jsonscan.SkipWS(body, strEnd)
		if colon >= len(body) || body[colon] != ':' {
			// "model" was a value, not a key; keep scanning.
			i = strEnd
			continue
		}
		valueStart := jsonscan.SkipWS(body, colon+1)
		if valueStart >= len(body) || body[valueStart] != '"' {
			// Non-string model value: ambiguous, refuse to rewrite.
			return body
		}
		valueEnd, ok := jsonscan.StringEnd(body, valueStart)
		if !ok {
			return body
		}

		out := make([]byte, 0, len(body)+len(clientModel))
		out = append(out, body[:valueStart]...)
		out = jsonscan.AppendJSONString(out, clientModel)
		out = append(out, body[valueEnd:]...)
		return out
	}
	return body
}
