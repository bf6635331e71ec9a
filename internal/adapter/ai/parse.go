package ai

import (
	"encoding/json"
	"strings"

	"github.com/socialops/oversight-agent/internal/domain"
)

// rawLimit caps how much of an unparseable response is preserved for
// debugging.
const rawLimit = 500

// parseOutput normalizes a model response into structured output. Three
// shapes are accepted in order: bare JSON, a fenced code block, and the first
// balanced object embedded in prose. Anything else sets ParseFailed.
func parseOutput(raw string) domain.InferenceResult {
	trimmed := strings.TrimSpace(raw)

	if out, ok := tryDecode(trimmed); ok {
		return domain.InferenceResult{Output: out, Raw: trimmed}
	}
	if block := fencedBlock(trimmed); block != "" {
		if out, ok := tryDecode(block); ok {
			return domain.InferenceResult{Output: out, Raw: trimmed}
		}
	}
	if obj := firstBalancedObject(trimmed); obj != "" {
		if out, ok := tryDecode(obj); ok {
			return domain.InferenceResult{Output: out, Raw: trimmed}
		}
	}
	return domain.InferenceResult{
		Output:      map[string]any{"error": "json_parse_failed"},
		Raw:         truncate(trimmed, rawLimit),
		ParseFailed: true,
	}
}

func tryDecode(s string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, false
	}
	return out, true
}

// fencedBlock extracts the body of the first ``` fence, tolerating a language
// tag on the opening line.
func fencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if firstLine == "json" || firstLine == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// firstBalancedObject scans for the first top-level {...} span, respecting
// string literals and escapes.
func firstBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
