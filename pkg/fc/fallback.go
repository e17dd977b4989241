package fc

import (
	"strings"

	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// ShouldAutoFallbackToInject classifies upstream errors that mean "native
// tool use unsupported", in which case the caller may retry the same
// logical request with FC inject. Only client-class upstream rejections
// qualify; transport failures and server errors never trigger the inject
// fallback.
func ShouldAutoFallbackToInject(err error) bool {
	upstream, ok := gatewayerrors.AsUpstream(err)
	if !ok {
		return false
	}
	if upstream.StatusCode < 400 || upstream.StatusCode >= 500 {
		return false
	}
	message := strings.ToLower(upstream.Message)
	if !strings.Contains(message, "tool") && !strings.Contains(message, "function") {
		return false
	}
	for _, marker := range []string{
		"not support", "unsupported", "not enabled", "not available",
		"unknown field", "unknown parameter", "unexpected field", "invalid",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
