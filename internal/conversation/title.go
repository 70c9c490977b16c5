package conversation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTitle is used when no useful title can be derived.
const DefaultTitle = "New Conversation"

const maxTitleRunes = 50

var titlePrefixes = []string{
	"can you", "could you", "please", "i need", "i want", "help me",
	"analyze", "check", "show me", "tell me", "what", "how", "why",
}

// GenerateTitle derives a conversation title from its first message: one
// leading filler phrase is dropped, the first letter is capitalized, and
// long titles are cut to 50 characters with an ellipsis.
func GenerateTitle(message string) string {
	title := strings.TrimSpace(message)

	for _, p := range titlePrefixes {
		if hasPrefixFold(title, p) {
			title = strings.TrimSpace(title[len(p):])
			break
		}
	}

	runes := []rune(title)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	if len(runes) > maxTitleRunes {
		runes = append(runes[:maxTitleRunes-3], []rune("...")...)
	}
	if len(runes) < 3 {
		return DefaultTitle
	}
	return string(runes)
}

// hasPrefixFold reports whether s starts with the ASCII prefix p, ignoring
// case. The match covers exactly len(p) bytes of s.
func hasPrefixFold(s, p string) bool {
	if len(s) < len(p) {
		return false
	}
	if len(s) > len(p) && !utf8.RuneStart(s[len(p)]) {
		return false
	}
	return strings.EqualFold(s[:len(p)], p)
}
