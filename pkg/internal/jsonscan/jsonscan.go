// Package jsonscan provides byte-level JSON scanning primitives used by the
// streaming fast-path decoders. The scanners never build a decoded tree;
// they locate keys by substring search and extract values directly from the
// JSON text. Every function returns ok=false on any structural anomaly so
// callers can fall back to full encoding/json deserialization.
package jsonscan

import (
	"bytes"
	"encoding/json"
)

// SkipWS returns the index of the first non-whitespace byte at or after i.
func SkipWS(b []byte, i int) int {
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

// StringEnd scans a JSON string starting at the opening quote and returns
// the index just past the closing quote.
func StringEnd(b []byte, start int) (int, bool) {
	if start >= len(b) || b[start] != '"' {
		return 0, false
	}
	i := start + 1
	for i < len(b) {
		switch b[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1, true
		default:
			i++
		}
	}
	return 0, false
}

// ValueEnd scans any JSON value starting at start and returns the index
// just past its end. Objects and arrays are matched by nesting depth with
// string contents skipped; scalars end at the first delimiter.
func ValueEnd(b []byte, start int) (int, bool) {
	if start >= len(b) {
		return 0, false
	}
	switch b[start] {
	case '"':
		return StringEnd(b, start)
	case '{', '[':
		depth := 0
		i := start
		for i < len(b) {
			switch b[i] {
			case '"':
				end, ok := StringEnd(b, i)
				if !ok {
					return 0, false
				}
				i = end
			case '{', '[':
				depth++
				i++
			case '}', ']':
				depth--
				i++
				if depth == 0 {
					return i, true
				}
			default:
				i++
			}
		}
		return 0, false
	default:
		i := start
		for i < len(b) {
			switch b[i] {
			case ',', '}', ']', ' ', '\t', '\n', '\r':
				return i, true
			default:
				i++
			}
		}
		return i, true
	}
}

// StringAfterKey finds the first occurrence of keyPattern (e.g.
// `"content":`) and decodes the JSON string value that follows it.
func StringAfterKey(b, keyPattern []byte) (string, bool) {
	pos := bytes.Index(b, keyPattern)
	if pos < 0 {
		return "", false
	}
	return StringAfterKeyPos(b, pos, len(keyPattern))
}

// StringAfterKeyPos decodes the JSON string value following a key found at
// keyPos with the given length.
func StringAfterKeyPos(b []byte, keyPos, keyLen int) (string, bool) {
	return stringAfterKeyPosBounded(b, keyPos, keyLen, len(b))
}

// StringAfterKeyIn is StringAfterKey restricted to b[from:to].
func StringAfterKeyIn(b, keyPattern []byte, from, to int) (string, bool) {
	if from < 0 || to > len(b) || from > to {
		return "", false
	}
	rel := bytes.Index(b[from:to], keyPattern)
	if rel < 0 {
		return "", false
	}
	return stringAfterKeyPosBounded(b, from+rel, len(keyPattern), to)
}

func stringAfterKeyPosBounded(b []byte, keyPos, keyLen, searchEnd int) (string, bool) {
	valueStart := SkipWS(b, keyPos+keyLen)
	if valueStart >= searchEnd || b[valueStart] != '"' {
		return "", false
	}
	valueEnd, ok := StringEnd(b, valueStart)
	if !ok || valueEnd > searchEnd {
		return "", false
	}
	inner := b[valueStart+1 : valueEnd-1]
	if bytes.IndexByte(inner, '\\') < 0 {
		return string(inner), true
	}
	var decoded string
	if err := json.Unmarshal(b[valueStart:valueEnd], &decoded); err != nil {
		return "", false
	}
	return decoded, true
}

// UnescapedStringAfterKey returns the raw inner bytes of the string value
// following keyPattern, but only when the string contains no escapes. Used
// for enum-like values (event types, stop reasons).
func UnescapedStringAfterKey(b, keyPattern []byte) ([]byte, bool) {
	pos := bytes.Index(b, keyPattern)
	if pos < 0 {
		return nil, false
	}
	valueStart := SkipWS(b, pos+len(keyPattern))
	if valueStart >= len(b) || b[valueStart] != '"' {
		return nil, false
	}
	valueEnd, ok := StringEnd(b, valueStart)
	if !ok {
		return nil, false
	}
	inner := b[valueStart+1 : valueEnd-1]
	if bytes.IndexByte(inner, '\\') >= 0 {
		return nil, false
	}
	return inner, true
}

// U64AfterKey parses an unsigned decimal value following keyPattern.
func U64AfterKey(b, keyPattern []byte) (uint64, bool) {
	pos := bytes.Index(b, keyPattern)
	if pos < 0 {
		return 0, false
	}
	return u64At(b, pos+len(keyPattern), len(b))
}

// U64AfterKeyIn is U64AfterKey restricted to b[from:to].
func U64AfterKeyIn(b, keyPattern []byte, from, to int) (uint64, bool) {
	if from < 0 || to > len(b) || from > to {
		return 0, false
	}
	rel := bytes.Index(b[from:to], keyPattern)
	if rel < 0 {
		return 0, false
	}
	return u64At(b, from+rel+len(keyPattern), to)
}

func u64At(b []byte, i, end int) (uint64, bool) {
	i = SkipWS(b, i)
	var value uint64
	sawDigit := false
	for i < end && i < len(b) {
		ch := b[i]
		if ch < '0' || ch > '9' {
			break
		}
		digit := uint64(ch - '0')
		if value > (^uint64(0)-digit)/10 {
			return 0, false
		}
		value = value*10 + digit
		sawDigit = true
		i++
	}
	return value, sawDigit
}

// ObjectRangeAfterKey locates the `{...}` object value following
// keyPattern (which may end before the colon, e.g. `"usage"`) and returns
// its [start, end) byte range.
func ObjectRangeAfterKey(b, keyPattern []byte) (int, int, bool) {
	pos := bytes.Index(b, keyPattern)
	if pos < 0 {
		return 0, 0, false
	}
	return ObjectRangeAfterKeyPos(b, pos, len(keyPattern))
}

// ObjectRangeAfterKeyPos is ObjectRangeAfterKey for a key already located.
func ObjectRangeAfterKeyPos(b []byte, keyPos, keyLen int) (int, int, bool) {
	colon := SkipWS(b, keyPos+keyLen)
	if colon >= len(b) || b[colon] != ':' {
		return 0, 0, false
	}
	valueStart := SkipWS(b, colon+1)
	if valueStart >= len(b) || b[valueStart] != '{' {
		return 0, 0, false
	}
	valueEnd, ok := ValueEnd(b, valueStart)
	if !ok {
		return 0, 0, false
	}
	return valueStart, valueEnd, true
}

// RawValueAfterKeyIn returns the raw JSON text of the value following
// keyPattern inside b[from:to]. The key pattern must end before the colon
// (e.g. `"args"`).
func RawValueAfterKeyIn(b, keyPattern []byte, from, to int) (string, bool) {
	if from < 0 || to > len(b) || from > to {
		return "", false
	}
	rel := bytes.Index(b[from:to], keyPattern)
	if rel < 0 {
		return "", false
	}
	colon := SkipWS(b, from+rel+len(keyPattern))
	if colon >= to || b[colon] != ':' {
		return "", false
	}
	valueStart := SkipWS(b, colon+1)
	if valueStart >= to {
		return "", false
	}
	valueEnd, ok := ValueEnd(b, valueStart)
	if !ok || valueEnd > to {
		return "", false
	}
	return string(b[valueStart:valueEnd]), true
}

// AppendJSONString appends s to dst as a quoted, escaped JSON string.
func AppendJSONString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				const hex = "0123456789abcdef"
				dst = append(dst, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
			} else {
				dst = append(dst, c)
			}
		}
	}
	return append(dst, '"')
}
