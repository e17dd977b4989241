package fc

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
	gatewayerrors "github.com/digitallysavvy/go-llm-gateway/pkg/gateway/errors"
)

// ParsedToolCall is a tool call extracted from the model's XML output.
type ParsedToolCall struct {
	// ID is the model-provided call id when present and valid, else "".
	ID string
	// Name is the tool/function name.
	Name string
	// Arguments is the decoded JSON arguments object.
	Arguments any
	// ArgumentsJSON is the raw JSON text of the arguments when the model
	// provided them as JSON; streaming emitters reuse these exact bytes.
	ArgumentsJSON string
}

// ParseFunctionCalls extracts tool calls from model output text.
//
// Reasoning blocks are stripped for parsing purposes only; the last
// trigger occurrence that is followed by a <function_calls> block wins.
// Parsing is three-tier: a byte-level fast scan, a strict XML reader, and
// a permissive case-insensitive scan; the first tier to succeed wins.
func ParseFunctionCalls(text, trigger string) ([]ParsedToolCall, error) {
	if text == "" || trigger == "" {
		return nil, gatewayerrors.NewFcParse("empty input or trigger signal")
	}

	cleaned := removeThinkBlocks(text)

	searchEnd := len(cleaned)
	var callsContent, callsXML string
	found := false
	triggerTail := ""
	for {
		pos := strings.LastIndex(cleaned[:searchEnd], trigger)
		if pos < 0 {
			break
		}
		sub := cleaned[pos:]
		if triggerTail == "" {
			triggerTail = sub
		}
		if xmlBlock, content, ok := findFunctionCallsBlock(sub); ok {
			callsXML, callsContent = xmlBlock, content
			found = true
			break
		}
		if pos == 0 {
			break
		}
		searchEnd = pos
	}
	if triggerTail == "" {
		return nil, gatewayerrors.NewFcParse("trigger signal not followed by function-call payload")
	}

	var results []ParsedToolCall
	var err error
	if found {
		results, err = parseFast(callsContent)
		if err != nil {
			results, err = parseStrictXML(callsXML)
		}
		if err != nil {
			results, err = parsePermissive(callsContent)
		}
	} else {
		results, err = parsePermissive(triggerTail)
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, gatewayerrors.NewFcParse("no valid tool calls found in function_calls block")
	}

	for _, call := range results {
		if call.Name == "" {
			return nil, gatewayerrors.NewFcParse("tool call has empty name")
		}
		if _, ok := call.Arguments.(map[string]any); !ok {
			return nil, gatewayerrors.NewFcParse(
				"tool call '%s' arguments must be a JSON object", call.Name)
		}
	}
	return results, nil
}

func findFunctionCallsBlock(text string) (string, string, bool) {
	openStart := strings.Index(text, fcOpenTag)
	if openStart < 0 {
		return "", "", false
	}
	contentStart := openStart + len(fcOpenTag)
	closeRel := strings.Index(text[contentStart:], fcCloseTag)
	if closeRel < 0 {
		return "", "", false
	}
	contentEnd := contentStart + closeRel
	closeEnd := contentEnd + len(fcCloseTag)
	return text[openStart:closeEnd], text[contentStart:contentEnd], true
}

// ---------------------------------------------------------------------------
// Reasoning-block removal
// ---------------------------------------------------------------------------

// removeThinkBlocks strips all reasoning wrappers (including nested) in a
// single linear pass. An unmatched opening wrapper keeps its tail verbatim.
func removeThinkBlocks(text string) string {
	if !containsReasoningOpen(text) {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))
	i := 0
	depth := 0
	unmatchedStart := -1

	for i < len(text) {
		rel := strings.IndexByte(text[i:], '<')
		if rel < 0 {
			if depth == 0 {
				out.WriteString(text[i:])
			}
			break
		}
		abs := i + rel
		if depth == 0 && abs > i {
			out.WriteString(text[i:abs])
		}

		if openLen := reasoningOpenAt(text[abs:]); openLen > 0 {
			if depth == 0 {
				unmatchedStart = abs
			}
			depth++
			i = abs + openLen
			continue
		}
		if closeLen := reasoningCloseAt(text[abs:]); closeLen > 0 {
			if depth == 0 {
				out.WriteByte('<')
				i = abs + 1
				continue
			}
			depth--
			i = abs + closeLen
			if depth == 0 {
				unmatchedStart = -1
			}
			continue
		}
		if depth == 0 {
			out.WriteByte('<')
		}
		i = abs + 1
	}

	if depth > 0 && unmatchedStart >= 0 {
		out.WriteString(text[unmatchedStart:])
	}
	return out.String()
}

func containsReasoningOpen(text string) bool {
	cursor := 0
	for {
		rel := strings.IndexByte(text[cursor:], '<')
		if rel < 0 {
			return false
		}
		abs := cursor + rel
		if reasoningOpenAt(text[abs:]) > 0 {
			return true
		}
		cursor = abs + 1
	}
}

// ---------------------------------------------------------------------------
// Tier 1: byte-level fast scan
// ---------------------------------------------------------------------------

const (
	functionCallOpen  = "<function_call>"
	functionCallClose = "</function_call>"
	invokeOpen        = "<invoke"
	invokeClose       = "</invoke>"
	parameterOpen     = "<parameter"
	parameterClose    = "</parameter>"
)

func parseFast(callsContent string) ([]ParsedToolCall, error) {
	firstNonWS := 0
	for firstNonWS < len(callsContent) && isXMLSpace(callsContent[firstNonWS]) {
		firstNonWS++
	}

	// Pure <function_call> payloads are the hottest path; only fall back to
	// mixed parsing when an <invoke> shows up too.
	if strings.HasPrefix(callsContent[firstNonWS:], functionCallOpen) {
		cursor := firstNonWS
		var results []ParsedToolCall
		for {
			rel := strings.Index(callsContent[cursor:], functionCallOpen)
			if rel < 0 {
				break
			}
			contentStart := cursor + rel + len(functionCallOpen)
			closeRel := strings.Index(callsContent[contentStart:], functionCallClose)
			if closeRel < 0 {
				return nil, gatewayerrors.NewFcParse("malformed <function_call> block")
			}
			contentEnd := contentStart + closeRel
			block := callsContent[contentStart:contentEnd]

			call, err := parseFunctionCallBlock(block)
			if err != nil {
				return nil, err
			}
			results = append(results, call)
			cursor = contentEnd + len(functionCallClose)
		}
		if len(results) > 0 && !strings.Contains(callsContent[cursor:], invokeOpen) {
			return results, nil
		}
	}

	return parseFastMixed(callsContent)
}

func parseFunctionCallBlock(block string) (ParsedToolCall, error) {
	toolName := strings.TrimSpace(extractTagText(block, "<tool>", "</tool>"))
	if toolName == "" {
		return ParsedToolCall{}, gatewayerrors.NewFcParse("missing <tool> in function_call")
	}
	argsText, hasArgs := extractFirstArgsTagText(block)
	var arguments any
	var argumentsJSON string
	if hasArgs {
		arguments, argumentsJSON = parseArgsJSON(argsText)
	} else {
		arguments, argumentsJSON = emptyArgs()
	}
	return ParsedToolCall{
		ID:            extractFirstCallID(block),
		Name:          toolName,
		Arguments:     arguments,
		ArgumentsJSON: argumentsJSON,
	}, nil
}

func parseFastMixed(callsContent string) ([]ParsedToolCall, error) {
	var results []ParsedToolCall
	cursor := 0
	for {
		rel := strings.IndexByte(callsContent[cursor:], '<')
		if rel < 0 {
			break
		}
		blockStart := cursor + rel

		if strings.HasPrefix(callsContent[blockStart:], functionCallOpen) {
			contentStart := blockStart + len(functionCallOpen)
			closeRel := strings.Index(callsContent[contentStart:], functionCallClose)
			if closeRel < 0 {
				return nil, gatewayerrors.NewFcParse("malformed <function_call> block")
			}
			contentEnd := contentStart + closeRel
			call, err := parseFunctionCallBlock(callsContent[contentStart:contentEnd])
			if err != nil {
				return nil, err
			}
			results = append(results, call)
			cursor = contentEnd + len(functionCallClose)
			continue
		}
		if !strings.HasPrefix(callsContent[blockStart:], invokeOpen) {
			cursor = blockStart + 1
			continue
		}

		tagEndRel := strings.IndexByte(callsContent[blockStart:], '>')
		if tagEndRel < 0 {
			return nil, gatewayerrors.NewFcParse("malformed <invoke> start tag")
		}
		tagEnd := blockStart + tagEndRel
		startTag := callsContent[blockStart : tagEnd+1]
		toolName, ok := extractAttr(startTag, "name")
		if !ok {
			return nil, gatewayerrors.NewFcParse("missing name attribute on <invoke>")
		}
		callID := ""
		if rawID, ok := extractAttr(startTag, "id"); ok {
			callID, _ = canonical.NormalizeCallID(rawID)
		}
		bodyStart := tagEnd + 1
		closeRel := strings.Index(callsContent[bodyStart:], invokeClose)
		if closeRel < 0 {
			return nil, gatewayerrors.NewFcParse("malformed <invoke> block")
		}
		bodyEnd := bodyStart + closeRel
		params, err := parseInvokeParameters(callsContent[bodyStart:bodyEnd])
		if err != nil {
			return nil, err
		}
		results = append(results, ParsedToolCall{
			ID:        callID,
			Name:      toolName,
			Arguments: params,
		})
		cursor = bodyEnd + len(invokeClose)
	}

	if len(results) == 0 {
		return nil, gatewayerrors.NewFcParse("fast XML parse found no function_call blocks")
	}
	return results, nil
}

func parseInvokeParameters(body string) (map[string]any, error) {
	params := map[string]any{}
	cursor := 0
	for {
		rel := strings.Index(body[cursor:], parameterOpen)
		if rel < 0 {
			break
		}
		tagStart := cursor + rel
		tagEndRel := strings.IndexByte(body[tagStart:], '>')
		if tagEndRel < 0 {
			return nil, gatewayerrors.NewFcParse("malformed <parameter> start tag")
		}
		tagEnd := tagStart + tagEndRel
		paramName, ok := extractAttr(body[tagStart:tagEnd+1], "name")
		if !ok {
			cursor = tagEnd + 1
			continue
		}
		valueStart := tagEnd + 1
		closeRel := strings.Index(body[valueStart:], parameterClose)
		if closeRel < 0 {
			return nil, gatewayerrors.NewFcParse("malformed <parameter> block")
		}
		valueEnd := valueStart + closeRel
		raw := UnwrapCDATA(body[valueStart:valueEnd])
		params[paramName] = CoerceJSONValue(DecodeXMLEntities(strings.TrimSpace(raw)))
		cursor = valueEnd + len(parameterClose)
	}
	return params, nil
}

// ---------------------------------------------------------------------------
// Tier 2: strict XML
// ---------------------------------------------------------------------------

// parseStrictXML parses the <function_calls> block with an XML token
// reader. Both call shapes are supported:
//
//	<invoke name="tool"><parameter name="p">v</parameter></invoke>
//	<function_call><tool>t</tool><args_json><![CDATA[{...}]]></args_json></function_call>
//
// Unknown nested tags are tolerated; CDATA contributes to parameter text.
func parseStrictXML(xmlText string) ([]ParsedToolCall, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlText))
	decoder.Strict = false

	var results []ParsedToolCall

	var invokeName string
	var invokeParams map[string]any
	inInvoke := false
	var paramName string
	var paramText strings.Builder
	inParameter := false

	inFunctionCall := false
	var fcToolName, fcCallID, fcArgsJSON string
	var fcArguments any
	var textAccum strings.Builder
	accumTarget := "" // "tool", "args", "id"

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, gatewayerrors.NewFcParse("XML parse error: %v", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "invoke":
				inInvoke = true
				invokeName = xmlAttr(t, "name")
				invokeParams = map[string]any{}
			case "parameter":
				if inInvoke {
					inParameter = true
					paramName = xmlAttr(t, "name")
					paramText.Reset()
				}
			case "function_call":
				inFunctionCall = true
				fcToolName = ""
				fcArgsJSON = ""
				fcArguments = nil
				fcCallID = ""
				if id := xmlAttr(t, "id"); id != "" {
					fcCallID, _ = canonical.NormalizeCallID(id)
				}
			case "tool":
				if inFunctionCall {
					accumTarget = "tool"
					textAccum.Reset()
				}
			case "args_json", "arguments", "parameters":
				if inFunctionCall {
					accumTarget = "args"
					textAccum.Reset()
				}
			case "id", "tool_call_id":
				if inFunctionCall {
					accumTarget = "id"
					textAccum.Reset()
				}
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "parameter":
				if inParameter {
					raw := UnwrapCDATA(paramText.String())
					invokeParams[paramName] = CoerceJSONValue(raw)
					inParameter = false
				}
			case "invoke":
				if inInvoke {
					if invokeName == "" {
						return nil, gatewayerrors.NewFcParse("missing 'name' attribute on <invoke>")
					}
					results = append(results, ParsedToolCall{
						Name:      invokeName,
						Arguments: invokeParams,
					})
					inInvoke = false
				}
			case "tool":
				if inFunctionCall && accumTarget == "tool" {
					fcToolName = strings.TrimSpace(textAccum.String())
					accumTarget = ""
				}
			case "args_json", "arguments", "parameters":
				if inFunctionCall && accumTarget == "args" {
					fcArguments, fcArgsJSON = parseArgsJSON(textAccum.String())
					accumTarget = ""
				}
			case "id", "tool_call_id":
				if inFunctionCall && accumTarget == "id" {
					fcCallID, _ = canonical.NormalizeCallID(textAccum.String())
					accumTarget = ""
				}
			case "function_call":
				if inFunctionCall {
					if fcArguments == nil {
						fcArguments, fcArgsJSON = emptyArgs()
					}
					results = append(results, ParsedToolCall{
						ID:            fcCallID,
						Name:          fcToolName,
						Arguments:     fcArguments,
						ArgumentsJSON: fcArgsJSON,
					})
					inFunctionCall = false
				}
			}

		case xml.CharData:
			if inParameter {
				paramText.Write(t)
			} else if accumTarget != "" {
				textAccum.Write(t)
			}
		}
	}

	if len(results) == 0 {
		return nil, gatewayerrors.NewFcParse("strict XML parse found no tool call elements")
	}
	return results, nil
}

func xmlAttr(el xml.StartElement, name string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Tier 3: permissive scan
// ---------------------------------------------------------------------------

// parsePermissive salvages malformed-but-recognizable output:
// case-insensitive tag matching, single- or double-quoted attributes, any
// of {tool, name} for the function name, any of {args_json, arguments,
// parameters} for arguments, and payloads missing the <function_calls>
// wrapper.
func parsePermissive(text string) ([]ParsedToolCall, error) {
	var results []ParsedToolCall

	cursor := 0
	for {
		block, ok := nextTagBlockFold(text, "function_call", cursor)
		if !ok {
			break
		}
		name := strings.TrimSpace(firstTagBodyFold(block.body, "tool", "name"))
		if name == "" {
			name, _ = extractAttrFold(block.attrs, "name")
		}
		if name != "" {
			callID := ""
			if rawID := firstTagBodyFold(block.body, "id", "tool_call_id"); rawID != "" {
				callID, _ = canonical.NormalizeCallID(rawID)
			}
			if callID == "" {
				if rawID, ok := extractAttrFold(block.attrs, "id"); ok {
					callID, _ = canonical.NormalizeCallID(rawID)
				}
			}
			var arguments any
			var argumentsJSON string
			if argsText := firstTagBodyFold(block.body, "args_json", "arguments", "parameters"); argsText != "" {
				arguments, argumentsJSON = parseArgsJSON(argsText)
			} else {
				arguments, argumentsJSON = emptyArgs()
			}
			results = append(results, ParsedToolCall{
				ID:            callID,
				Name:          name,
				Arguments:     arguments,
				ArgumentsJSON: argumentsJSON,
			})
		}
		cursor = block.nextCursor
	}

	cursor = 0
	for {
		block, ok := nextTagBlockFold(text, "invoke", cursor)
		if !ok {
			break
		}
		name, hasName := extractAttrFold(block.attrs, "name")
		if !hasName {
			cursor = block.nextCursor
			continue
		}
		params := map[string]any{}
		paramCursor := 0
		for {
			paramBlock, ok := nextTagBlockFold(block.body, "parameter", paramCursor)
			if !ok {
				break
			}
			if paramName, ok := extractAttrFold(paramBlock.attrs, "name"); ok {
				raw := UnwrapCDATA(paramBlock.body)
				params[paramName] = CoerceJSONValue(DecodeXMLEntities(strings.TrimSpace(raw)))
			}
			paramCursor = paramBlock.nextCursor
		}
		callID := ""
		if rawID, ok := extractAttrFold(block.attrs, "id"); ok {
			callID, _ = canonical.NormalizeCallID(rawID)
		}
		results = append(results, ParsedToolCall{
			ID:        callID,
			Name:      name,
			Arguments: params,
		})
		cursor = block.nextCursor
	}

	if len(results) == 0 {
		return nil, gatewayerrors.NewFcParse("permissive parse found no tool call elements")
	}
	return results, nil
}

type tagBlock struct {
	attrs      string
	body       string
	nextCursor int
}

func nextTagBlockFold(text, tagName string, from int) (tagBlock, bool) {
	searchFrom := from
	for {
		start, ok := findOpenTagFold(text, tagName, searchFrom)
		if !ok {
			return tagBlock{}, false
		}
		nameEnd := start + 1 + len(tagName)
		openGTRel := strings.IndexByte(text[nameEnd:], '>')
		if openGTRel < 0 {
			searchFrom = start + 1
			continue
		}
		openGT := nameEnd + openGTRel
		bodyStart := openGT + 1
		closeStart, ok := findCloseTagFold(text, tagName, bodyStart)
		if !ok {
			searchFrom = start + 1
			continue
		}
		closeNameEnd := closeStart + 2 + len(tagName)
		closeGTRel := strings.IndexByte(text[closeNameEnd:], '>')
		if closeGTRel < 0 {
			searchFrom = start + 1
			continue
		}
		closeGT := closeNameEnd + closeGTRel
		return tagBlock{
			attrs:      text[nameEnd:openGT],
			body:       text[bodyStart:closeStart],
			nextCursor: closeGT + 1,
		}, true
	}
}

func findOpenTagFold(text, tagName string, from int) (int, bool) {
	cursor := from
	for {
		rel := strings.IndexByte(text[cursor:], '<')
		if rel < 0 {
			return 0, false
		}
		start := cursor + rel
		nameEnd := start + 1 + len(tagName)
		if nameEnd <= len(text) && strings.EqualFold(text[start+1:nameEnd], tagName) {
			if nameEnd == len(text) || isTagNameBoundary(text[nameEnd]) {
				return start, true
			}
		}
		cursor = start + 1
	}
}

func findCloseTagFold(text, tagName string, from int) (int, bool) {
	cursor := from
	for {
		rel := strings.IndexByte(text[cursor:], '<')
		if rel < 0 {
			return 0, false
		}
		start := cursor + rel
		if start+1 >= len(text) || text[start+1] != '/' {
			cursor = start + 1
			continue
		}
		nameEnd := start + 2 + len(tagName)
		if nameEnd <= len(text) && strings.EqualFold(text[start+2:nameEnd], tagName) {
			if nameEnd == len(text) || isTagNameBoundary(text[nameEnd]) {
				return start, true
			}
		}
		cursor = start + 1
	}
}

func isTagNameBoundary(b byte) bool {
	return !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_')
}

func firstTagBodyFold(text string, tags ...string) string {
	best := ""
	bestStart := -1
	for _, tag := range tags {
		start, ok := findOpenTagFold(text, tag, 0)
		if !ok {
			continue
		}
		if bestStart < 0 || start < bestStart {
			if block, ok := nextTagBlockFold(text, tag, 0); ok {
				best = block.body
				bestStart = start
			}
		}
	}
	return best
}

// extractAttr pulls attr="value" or attr='value' out of a start tag;
// the fast tier uses it for well-formed payloads.
func extractAttr(tag, attr string) (string, bool) {
	searchFrom := 0
	for {
		rel := strings.Index(tag[searchFrom:], attr)
		if rel < 0 {
			return "", false
		}
		nameStart := searchFrom + rel
		nameEnd := nameStart + len(attr)
		if nameStart > 0 && isAttrChar(tag[nameStart-1]) {
			searchFrom = nameStart + 1
			continue
		}
		if nameEnd < len(tag) && isAttrChar(tag[nameEnd]) {
			searchFrom = nameStart + 1
			continue
		}
		idx := nameEnd
		for idx < len(tag) && isXMLSpace(tag[idx]) {
			idx++
		}
		if idx >= len(tag) || tag[idx] != '=' {
			searchFrom = nameStart + 1
			continue
		}
		idx++
		for idx < len(tag) && isXMLSpace(tag[idx]) {
			idx++
		}
		if idx >= len(tag) {
			return "", false
		}
		quote := tag[idx]
		if quote != '"' && quote != '\'' {
			searchFrom = nameStart + 1
			continue
		}
		valueStart := idx + 1
		endRel := strings.IndexByte(tag[valueStart:], quote)
		if endRel < 0 {
			return "", false
		}
		return strings.TrimSpace(tag[valueStart : valueStart+endRel]), true
	}
}

// extractAttrFold is extractAttr with case-insensitive attribute names,
// for the permissive tier.
func extractAttrFold(attrs, attr string) (string, bool) {
	lower := strings.ToLower(attrs)
	searchFrom := 0
	for {
		rel := strings.Index(lower[searchFrom:], attr)
		if rel < 0 {
			return "", false
		}
		nameStart := searchFrom + rel
		nameEnd := nameStart + len(attr)
		leftOK := nameStart == 0 || !isWordChar(lower[nameStart-1])
		rightOK := nameEnd >= len(lower) || !isWordChar(lower[nameEnd])
		if !leftOK || !rightOK {
			searchFrom = nameStart + 1
			continue
		}
		idx := nameEnd
		for idx < len(attrs) && isXMLSpace(attrs[idx]) {
			idx++
		}
		if idx >= len(attrs) || attrs[idx] != '=' {
			searchFrom = nameStart + 1
			continue
		}
		idx++
		for idx < len(attrs) && isXMLSpace(attrs[idx]) {
			idx++
		}
		if idx >= len(attrs) {
			return "", false
		}
		quote := attrs[idx]
		if quote != '"' && quote != '\'' {
			searchFrom = nameStart + 1
			continue
		}
		valueStart := idx + 1
		endRel := strings.IndexByte(attrs[valueStart:], quote)
		if endRel < 0 {
			return "", false
		}
		return strings.TrimSpace(attrs[valueStart : valueStart+endRel]), true
	}
}

func isAttrChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' ||
		b == '_' || b == '-' || b == ':'
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

func isXMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ---------------------------------------------------------------------------
// Shared value handling
// ---------------------------------------------------------------------------

func extractTagText(text, open, close string) string {
	start := strings.Index(text, open)
	if start < 0 {
		return ""
	}
	contentStart := start + len(open)
	endRel := strings.Index(text[contentStart:], close)
	if endRel < 0 {
		return ""
	}
	return text[contentStart : contentStart+endRel]
}

func extractFirstArgsTagText(block string) (string, bool) {
	for _, pair := range [][2]string{
		{"<args_json>", "</args_json>"},
		{"<arguments>", "</arguments>"},
		{"<parameters>", "</parameters>"},
	} {
		start := strings.Index(block, pair[0])
		if start < 0 {
			continue
		}
		contentStart := start + len(pair[0])
		endRel := strings.Index(block[contentStart:], pair[1])
		if endRel < 0 {
			continue
		}
		return block[contentStart : contentStart+endRel], true
	}
	return "", false
}

func extractFirstCallID(block string) string {
	trimmed := strings.TrimLeft(block, " \t\n\r")
	for _, pair := range [][2]string{
		{"<id>", "</id>"},
		{"<tool_call_id>", "</tool_call_id>"},
	} {
		if rest, ok := strings.CutPrefix(trimmed, pair[0]); ok {
			end := strings.Index(rest, pair[1])
			if end < 0 {
				return ""
			}
			id, _ := canonical.NormalizeCallID(rest[:end])
			return id
		}
	}
	return ""
}

// UnwrapCDATA extracts and concatenates the inner content of all
// <![CDATA[...]]> sections; text without CDATA passes through unchanged.
// A CDATA open without its close is left verbatim (conservative behavior
// on malformed payloads).
func UnwrapCDATA(text string) string {
	const cdataOpen = "<![CDATA["
	const cdataClose = "]]>"

	if !strings.Contains(text, cdataOpen) {
		return text
	}
	var out strings.Builder
	cursor := 0
	for {
		rel := strings.Index(text[cursor:], cdataOpen)
		if rel < 0 {
			break
		}
		contentStart := cursor + rel + len(cdataOpen)
		closeRel := strings.Index(text[contentStart:], cdataClose)
		if closeRel < 0 {
			return text
		}
		out.WriteString(text[contentStart : contentStart+closeRel])
		cursor = contentStart + closeRel + len(cdataClose)
	}
	return out.String()
}

// WrapCDATA wraps text in a CDATA section, re-escaping any `]]>` inside.
func WrapCDATA(text string) string {
	safe := strings.ReplaceAll(text, "]]>", "]]]]><![CDATA[>")
	return "<![CDATA[" + safe + "]]>"
}

// DecodeXMLEntities decodes the five predefined XML entities.
func DecodeXMLEntities(text string) string {
	if !strings.ContainsRune(text, '&') {
		return text
	}
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&apos;", "'",
	)
	return replacer.Replace(text)
}

// CoerceJSONValue parses values that look like JSON; everything else
// becomes a JSON string.
func CoerceJSONValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if shouldAttemptJSONParse(trimmed) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

func shouldAttemptJSONParse(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	switch trimmed[0] {
	case '{', '[', '-', 't', 'f', 'n':
		return true
	default:
		return trimmed[0] >= '0' && trimmed[0] <= '9'
	}
}

func emptyArgs() (any, string) {
	return map[string]any{}, "{}"
}

// parseArgsJSON decodes an args payload: raw JSON on the fast path, with
// CDATA unwrapping and XML entity decoding when the raw text does not
// parse directly. Unparseable payloads decode as the empty object.
func parseArgsJSON(argsText string) (any, string) {
	trimmed := strings.TrimSpace(argsText)
	if trimmed == "" {
		return emptyArgs()
	}

	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		return parsed, trimmed
	}

	needsCDATA := strings.Contains(trimmed, "<![CDATA[")
	needsEntities := strings.ContainsRune(trimmed, '&')
	if !needsCDATA && !needsEntities {
		return emptyArgs()
	}
	normalized := trimmed
	if needsCDATA {
		normalized = UnwrapCDATA(normalized)
	}
	if needsEntities {
		normalized = DecodeXMLEntities(normalized)
	}
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return emptyArgs()
	}
	if err := json.Unmarshal([]byte(normalized), &parsed); err == nil {
		return parsed, normalized
	}
	return emptyArgs()
}
