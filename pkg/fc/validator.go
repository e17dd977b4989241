package fc

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/digitallysavvy/go-llm-gateway/pkg/canonical"
)

// maxValidationDepth bounds schema recursion against pathological schemas.
const maxValidationDepth = 8

const regexCacheCapacity = 256

var (
	regexCacheOnce sync.Once
	regexCache     *lru.Cache[string, *regexp.Regexp]
)

func getRegexCache() *lru.Cache[string, *regexp.Regexp] {
	regexCacheOnce.Do(func() {
		regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheCapacity)
	})
	return regexCache
}

func cachedRegex(pattern string) *regexp.Regexp {
	cache := getRegexCache()
	if re, ok := cache.Get(pattern); ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		// Cache the failure as nil so repeated bad patterns stay cheap.
		cache.Add(pattern, nil)
		return nil
	}
	cache.Add(pattern, re)
	return re
}

// ValidationError is a single schema violation with the JSON path where it
// occurred.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) String() string {
	return e.Path + ": " + e.Message
}

// JoinValidationErrors renders a list of violations as one message.
func JoinValidationErrors(errs []ValidationError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "; ")
}

// ValidateToolCall validates one parsed call against the tool specs:
// the name must match a known tool and the arguments must satisfy the
// tool's parameter schema. Returns nil when valid.
func ValidateToolCall(name string, arguments any, tools []canonical.ToolSpec) []ValidationError {
	var tool *canonical.ToolSpec
	for i := range tools {
		if tools[i].Function.Name == name {
			tool = &tools[i]
			break
		}
	}
	if tool == nil {
		allowed := make([]string, 0, len(tools))
		for _, t := range tools {
			allowed = append(allowed, t.Function.Name)
		}
		return []ValidationError{{
			Path:    name,
			Message: fmt.Sprintf("unknown tool %q. Allowed tools: %v", name, allowed),
		}}
	}

	if _, ok := arguments.(map[string]any); !ok {
		return []ValidationError{{
			Path:    name,
			Message: fmt.Sprintf("arguments must be a JSON object, got %s", jsonTypeName(arguments)),
		}}
	}

	var schema any
	if len(tool.Function.Parameters) > 0 {
		if err := json.Unmarshal(tool.Function.Parameters, &schema); err != nil {
			return []ValidationError{{Path: name, Message: "tool schema is not valid JSON"}}
		}
	}
	if schemaIsPermissiveObject(schema) {
		return nil
	}
	return validateValue(arguments, schema, name, 0)
}

// ValidateToolCalls validates every parsed call, collecting all errors.
func ValidateToolCalls(calls []ParsedToolCall, tools []canonical.ToolSpec) []ValidationError {
	var all []ValidationError
	for _, call := range calls {
		all = append(all, ValidateToolCall(call.Name, call.Arguments, tools)...)
	}
	return all
}

// schemaIsPermissiveObject short-circuits validation for schemas that
// accept any object: type "object" (or absent), empty properties/required,
// additionalProperties true or absent, and no other constraint keys.
func schemaIsPermissiveObject(schema any) bool {
	obj, ok := schema.(map[string]any)
	if !ok {
		return false
	}
	if t, ok := obj["type"].(string); ok && t != "object" {
		return false
	}
	if props, ok := obj["properties"].(map[string]any); ok && len(props) > 0 {
		return false
	}
	if required, ok := obj["required"].([]any); ok && len(required) > 0 {
		return false
	}
	if additional, ok := obj["additionalProperties"]; ok {
		if b, isBool := additional.(bool); !isBool || !b {
			return false
		}
	}
	for key := range obj {
		switch key {
		case "type", "properties", "required", "additionalProperties", "title", "description":
		default:
			return false
		}
	}
	return true
}

func validateValue(value, schema any, path string, depth int) []ValidationError {
	if depth > maxValidationDepth {
		return nil
	}
	schemaObj, ok := schema.(map[string]any)
	if !ok {
		return nil
	}

	if errs, handled := validateCombinators(value, schemaObj, path, depth); handled {
		return errs
	}

	var errs []ValidationError
	if stop := validateConstEnum(value, schemaObj, path, &errs); stop {
		return errs
	}

	if schemaType, ok := schemaObj["type"]; ok {
		if stop := validateType(schemaType, value, path, &errs); stop {
			return errs
		}
	} else if hasImplicitObjectType(schemaObj) {
		if _, isObj := value.(map[string]any); !isObj {
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("expected type 'object', got '%s'", jsonTypeName(value)),
			})
			return errs
		}
	}

	validateStringConstraints(value, schemaObj, path, &errs)
	validateNumericConstraints(value, schemaObj, path, &errs)
	validateObjectConstraints(value, schemaObj, path, depth, &errs)
	validateArrayConstraints(value, schemaObj, path, depth, &errs)
	return errs
}

func validateCombinators(value any, schemaObj map[string]any, path string, depth int) ([]ValidationError, bool) {
	if allOf, ok := schemaObj["allOf"].([]any); ok {
		var errs []ValidationError
		for i, sub := range allOf {
			errs = append(errs, validateValue(value, orEmptySchema(sub),
				fmt.Sprintf("%s.allOf[%d]", path, i), depth+1)...)
		}
		return errs, true
	}
	if anyOf, ok := schemaObj["anyOf"].([]any); ok {
		for _, sub := range anyOf {
			if len(validateValue(value, orEmptySchema(sub), path, depth+1)) == 0 {
				return nil, true
			}
		}
		return []ValidationError{{Path: path, Message: "value does not satisfy anyOf options"}}, true
	}
	if oneOf, ok := schemaObj["oneOf"].([]any); ok {
		matched := 0
		for _, sub := range oneOf {
			if len(validateValue(value, orEmptySchema(sub), path, depth+1)) == 0 {
				matched++
			}
		}
		if matched != 1 {
			return []ValidationError{{
				Path:    path,
				Message: fmt.Sprintf("value must satisfy exactly one oneOf option (matched %d)", matched),
			}}, true
		}
		return nil, true
	}
	return nil, false
}

func orEmptySchema(sub any) any {
	if sub == nil {
		return map[string]any{}
	}
	return sub
}

func validateConstEnum(value any, schemaObj map[string]any, path string, errs *[]ValidationError) bool {
	if constVal, ok := schemaObj["const"]; ok {
		if !jsonEqual(value, constVal) {
			*errs = append(*errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("expected const=%s, got %s", compactJSON(constVal), compactJSON(value)),
			})
			return true
		}
	}
	if enumVals, ok := schemaObj["enum"].([]any); ok {
		for _, candidate := range enumVals {
			if jsonEqual(value, candidate) {
				return false
			}
		}
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected one of %s, got %s", compactJSON(enumVals), compactJSON(value)),
		})
		return true
	}
	return false
}

func hasImplicitObjectType(schemaObj map[string]any) bool {
	_, hasProps := schemaObj["properties"]
	_, hasRequired := schemaObj["required"]
	_, hasAdditional := schemaObj["additionalProperties"]
	return hasProps || hasRequired || hasAdditional
}

func validateType(schemaType, value any, path string, errs *[]ValidationError) bool {
	switch t := schemaType.(type) {
	case string:
		if !typeOK(t, value) {
			*errs = append(*errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("expected type '%s', got '%s'", t, jsonTypeName(value)),
			})
			return true
		}
	case []any:
		for _, candidate := range t {
			if ts, ok := candidate.(string); ok && typeOK(ts, value) {
				return false
			}
		}
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected type in %s, got '%s'", compactJSON(t), jsonTypeName(value)),
		})
		return true
	}
	return false
}

func validateStringConstraints(value any, schemaObj map[string]any, path string, errs *[]ValidationError) {
	text, ok := value.(string)
	if !ok {
		return
	}
	if minLen, ok := numberField(schemaObj, "minLength"); ok && float64(len(text)) < minLen {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("string shorter than minLength=%g", minLen),
		})
	}
	if maxLen, ok := numberField(schemaObj, "maxLength"); ok && float64(len(text)) > maxLen {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("string longer than maxLength=%g", maxLen),
		})
	}
	if pattern, ok := schemaObj["pattern"].(string); ok {
		if re := cachedRegex(pattern); re != nil && !re.MatchString(text) {
			*errs = append(*errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("string does not match pattern %q", pattern),
			})
		}
	}
}

func validateNumericConstraints(value any, schemaObj map[string]any, path string, errs *[]ValidationError) {
	n, ok := value.(float64)
	if !ok {
		return
	}
	if minVal, ok := numberField(schemaObj, "minimum"); ok && n < minVal {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %g is less than minimum %g", n, minVal),
		})
	}
	if maxVal, ok := numberField(schemaObj, "maximum"); ok && n > maxVal {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("value %g is greater than maximum %g", n, maxVal),
		})
	}
}

func validateObjectConstraints(value any, schemaObj map[string]any, path string, depth int, errs *[]ValidationError) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}
	properties, _ := schemaObj["properties"].(map[string]any)

	if required, ok := schemaObj["required"].([]any); ok {
		for _, item := range required {
			key, ok := item.(string)
			if !ok {
				continue
			}
			if _, present := obj[key]; !present {
				*errs = append(*errs, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("missing required property %q", key),
				})
			}
		}
	}

	additional, hasAdditional := schemaObj["additionalProperties"]
	for key, item := range obj {
		if propSchema, ok := properties[key]; ok {
			*errs = append(*errs, validateValue(item, propSchema, path+"."+key, depth+1)...)
			continue
		}
		if !hasAdditional {
			continue
		}
		switch a := additional.(type) {
		case bool:
			if !a {
				*errs = append(*errs, ValidationError{
					Path:    path,
					Message: fmt.Sprintf("unexpected property %q", key),
				})
			}
		case map[string]any:
			*errs = append(*errs, validateValue(item, a, path+"."+key, depth+1)...)
		}
	}
}

func validateArrayConstraints(value any, schemaObj map[string]any, path string, depth int, errs *[]ValidationError) {
	arr, ok := value.([]any)
	if !ok {
		return
	}
	items, ok := schemaObj["items"].(map[string]any)
	if !ok {
		return
	}
	for i, item := range arr {
		*errs = append(*errs, validateValue(item, items, fmt.Sprintf("%s[%d]", path, i), depth+1)...)
	}
}

func numberField(obj map[string]any, key string) (float64, bool) {
	n, ok := obj[key].(float64)
	return n, ok
}

func typeOK(schemaType string, value any) bool {
	switch schemaType {
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		n, ok := value.(float64)
		return ok && n == math.Trunc(n)
	case "number":
		_, ok := value.(float64)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func jsonTypeName(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		if v == math.Trunc(v) {
			return "integer"
		}
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
