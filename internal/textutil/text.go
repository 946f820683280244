// Package textutil normalizes email text before it is placed into prompts.
package textutil

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

const zeroWidthChars = "\u200b\u200c\u200d\ufeff\u00ad\u2060\u180e"

var (
	zwnjEntity    = regexp.MustCompile(`(?i)&(?:zwnj|zwj|#8203|#8204|#8205|#65279);`)
	scriptBlock   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlock    = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlTag       = regexp.MustCompile(`(?s)<[^>]+>`)
	inlineSpace   = regexp.MustCompile(`[ \t]+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
	anyWhitespace = regexp.MustCompile(`\s+`)
	angleAddr     = regexp.MustCompile(`<([^>]+)>`)
	bareAddr      = regexp.MustCompile(`[\w.-]+@[\w.-]+`)
)

// CleanText unescapes entities, strips zero-width characters and markup, and collapses
// horizontal whitespace and runs of blank lines.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	s := html.UnescapeString(raw)
	s = zwnjEntity.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(zeroWidthChars, r) {
			return -1
		}
		return r
	}, s)
	s = scriptBlock.ReplaceAllString(s, "")
	s = styleBlock.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, " ")
	s = inlineSpace.ReplaceAllString(s, " ")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// HTMLToText flattens an HTML body to a single line of text.
func HTMLToText(body string) string {
	s := scriptBlock.ReplaceAllString(body, "")
	s = styleBlock.ReplaceAllString(s, "")
	s = htmlComment.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = anyWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// TruncateText limits text to maxChars runes. A cut text loses its trailing partial
// word and gets "..." appended.
func TruncateText(text string, maxChars int) string {
	if maxChars < 0 {
		maxChars = 0
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	cut := string([]rune(text)[:maxChars])
	if i := strings.LastIndex(cut, " "); i >= 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// ParseEmailAddress extracts the bare address from a From header value.
func ParseEmailAddress(from string) string {
	if from == "" {
		return ""
	}
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	if m := bareAddr.FindString(from); m != "" {
		return m
	}
	return strings.TrimSpace(from)
}
