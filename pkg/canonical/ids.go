package canonical

import (
	"strconv"
	"sync/atomic"
)

// callIDCounter is the process-wide monotonic tool-call-id counter. It is
// the only cross-request mutable state in this package.
var callIDCounter atomic.Uint64

// NextCallID returns a fresh synthetic tool-call id of the form
// `call_<hex>`. IDs are unique within the process lifetime.
func NextCallID() string {
	n := callIDCounter.Add(1)
	return "call_" + strconv.FormatUint(n, 16)
}

// NormalizeCallID validates a model-provided tool-call id. Valid ids are
// non-empty, at most 128 bytes, and ASCII alphanumeric plus `_` and `-`.
// Returns the trimmed id and true, or "" and false when invalid (callers
// then generate a fresh id with NextCallID).
func NormalizeCallID(raw string) (string, bool) {
	trimmed := trimASCIISpace(raw)
	if trimmed == "" || len(trimmed) > 128 {
		return "", false
	}
	for i := 0; i < len(trimmed); i++ {
		b := trimmed[i]
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9', b == '_', b == '-':
		default:
			return "", false
		}
	}
	return trimmed, true
}

func trimASCIISpace(s string) string {
	start := 0
	for start < len(s) && isASCIISpace(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isASCIISpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
