package agents

import (
	"errors"
	"strings"
)

// ErrMalformedResponse indicates the LLM returned output that could not be
// parsed into the expected structure. Callers fall back to an explicit
// degraded result rather than guessing.
var ErrMalformedResponse = errors.New("malformed llm response")

// stripCodeFences removes markdown code fences LLMs often wrap output in
// despite prompt instructions.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	// Remove opening fence line (e.g. "```json\n" or "```\n")
	if idx := strings.Index(text, "\n"); idx != -1 {
		text = text[idx+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// extractJSON pulls the outermost JSON object or array out of a completion,
// tolerating prose before and after it.
func extractJSON(text string) (string, error) {
	text = stripCodeFences(text)

	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	// Whichever opener appears first is the outermost structure.
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		if end := strings.LastIndexByte(text, ']'); end > arrStart {
			return text[arrStart : end+1], nil
		}
	} else if objStart != -1 {
		if end := strings.LastIndexByte(text, '}'); end > objStart {
			return text[objStart : end+1], nil
		}
	}

	return "", ErrMalformedResponse
}
