package decider

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// rotationSchema constrains model output to the four accepted angles.
const rotationSchema = `{"type":"object","properties":{"rotation":{"type":"string","enum":["0","90","180","270"]}},"required":["rotation"]}`

// thinkingPrefix matches the progress preamble some model runners print
// before their answer.
var thinkingPrefix = regexp.MustCompile(`(?i)^thinking\.+\s*`)

type rotationPayload struct {
	Rotation any `json:"rotation"`
}

// parseRotation extracts the rotation field from model output. The value may
// be encoded as a string or an integer.
func parseRotation(content string) (Angle, error) {
	cleaned := thinkingPrefix.ReplaceAllString(strings.TrimSpace(content), "")
	var payload rotationPayload
	if err := decodeJSON(cleaned, &payload); err != nil {
		return 0, err
	}
	return ParseAngle(payload.Rotation)
}

// decodeJSON decodes a JSON object, tolerating code fences and text around it.
func decodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, snippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" || trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	const limit = 160
	if runes := []rune(clean); len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
