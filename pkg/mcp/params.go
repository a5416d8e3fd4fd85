package mcp

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseActionInput turns the free-form action input a model produced into
// structured tool parameters. Models emit anything from strict JSON to
// loose "key: value" lines, so parsing cascades, first hit wins:
//
//  1. JSON object
//  2. other JSON values, wrapped as {"input": value}
//  3. YAML carrying real structure (arrays or nested maps)
//  4. key-value pairs ("key: value" / "key=value", comma or newline separated)
//  5. the raw string as {"input": string}
//
// Empty input yields an empty map for parameterless tools.
func ParseActionInput(input string) (map[string]any, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return map[string]any{}, nil
	}

	if result, ok := tryParseJSON(input); ok {
		return result, nil
	}
	if result, ok := tryParseYAML(input); ok {
		return result, nil
	}
	if result, ok := tryParseKeyValue(input); ok {
		return result, nil
	}
	return map[string]any{"input": input}, nil
}

// tryParseJSON accepts any valid JSON value; non-objects are wrapped under
// "input". The first byte gates the attempt so prose never pays for a full
// unmarshal.
func tryParseJSON(input string) (map[string]any, bool) {
	if !startsLikeJSON(input) {
		return nil, false
	}

	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}
	if m, ok := raw.(map[string]any); ok {
		return m, true
	}
	return map[string]any{"input": raw}, true
}

func startsLikeJSON(s string) bool {
	if s == "" {
		return false
	}
	switch b := s[0]; {
	case b == '{' || b == '[' || b == '"' || b == '-':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == 't' || b == 'f' || b == 'n':
		return true
	}
	return false
}

// tryParseYAML accepts only maps with complex values. Flat "key: value"
// lines belong to the key-value parser; treating them as YAML would also
// swallow plain prose that happens to contain a colon.
func tryParseYAML(input string) (map[string]any, bool) {
	var result map[string]any
	if err := yaml.Unmarshal([]byte(input), &result); err != nil {
		return nil, false
	}
	if len(result) == 0 || !hasComplexValues(result) {
		return nil, false
	}
	return result, true
}

func hasComplexValues(m map[string]any) bool {
	for _, v := range m {
		switch v.(type) {
		case []any, map[string]any:
			return true
		}
	}
	return false
}

// tryParseKeyValue parses "key: value" or "key=value" pairs separated by
// commas or newlines. All pairs must parse or the whole input is rejected
// and falls through to the raw-string fallback. Values containing commas
// mis-split here, which is why rejection falls through rather than erroring.
func tryParseKeyValue(input string) (map[string]any, bool) {
	parts := splitKeyValueParts(input)
	if len(parts) == 0 {
		return nil, false
	}

	result := make(map[string]any, len(parts))
	for _, part := range parts {
		key, value, ok := parseKeyValuePair(part)
		if !ok {
			return nil, false
		}
		result[key] = coerceValue(value)
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

func splitKeyValueParts(input string) []string {
	raw := strings.Split(strings.ReplaceAll(input, "\n", ","), ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func parseKeyValuePair(part string) (key, value string, ok bool) {
	for _, sep := range []string{":", "="} {
		idx := strings.Index(part, sep)
		if idx <= 0 {
			continue
		}
		k := strings.TrimSpace(part[:idx])
		if isValidKey(k) {
			return k, strings.TrimSpace(part[idx+1:]), true
		}
	}
	return "", "", false
}

// isValidKey requires a simple identifier-looking key; a "key" with spaces
// is prose, not a parameter name.
func isValidKey(k string) bool {
	return k != "" && !strings.Contains(k, " ")
}

// coerceValue maps unquoted scalar strings onto JSON-compatible types:
// booleans, null ("null"/"none"), integers, then floats. NaN and infinity
// stay strings since JSON cannot carry them. Everything else passes
// through unchanged.
func coerceValue(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return s
		}
		return f
	}
	return s
}
