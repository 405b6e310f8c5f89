package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseJSON decodes a model reply that should contain a JSON document,
// tolerating code fences and surrounding prose.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// StripFence removes a surrounding markdown code fence from plain-text replies.
func StripFence(raw string) string {
	return trimCodeFence(raw)
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 && !strings.ContainsAny(trimmed[:nl], " {[") {
		// Drop the language tag line, e.g. ```json.
		trimmed = trimmed[nl+1:]
	}
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
