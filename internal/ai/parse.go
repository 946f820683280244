package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParseJSONResponse extracts JSON from model output. It tries the whole text, then
// the widest span opened by whichever of { or [ comes first, then the other one.
func ParseJSONResponse(text string) (json.RawMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), true
	}

	spans := [][2]string{{"{", "}"}, {"[", "]"}}
	obj, arr := strings.Index(text, "{"), strings.Index(text, "[")
	if arr >= 0 && (obj < 0 || arr < obj) {
		spans[0], spans[1] = spans[1], spans[0]
	}
	for _, sp := range spans {
		if raw, ok := span(text, sp[0], sp[1]); ok {
			return raw, true
		}
	}
	return nil, false
}

func span(text, openTok, closeTok string) (json.RawMessage, bool) {
	start := strings.Index(text, openTok)
	end := strings.LastIndex(text, closeTok)
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

var (
	fencedJSON      = regexp.MustCompile("```json\\s*[\\s\\S]*?```")
	proposedActions = regexp.MustCompile(`\{[\s\S]*"proposed_actions"[\s\S]*\}`)
)

// StripJSONBlocks removes fenced json blocks and any embedded proposed_actions
// object, leaving the prose part of a chat answer.
func StripJSONBlocks(text string) string {
	out := fencedJSON.ReplaceAllString(text, "")
	out = strings.TrimSpace(out)
	out = proposedActions.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
