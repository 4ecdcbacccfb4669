package telegram

import (
	"strings"
	"unicode/utf8"
)

const MaxMessageLen = 4096

// SplitMessage splits text into chunks of at most maxLen runes, preferring
// newline boundaries in the second half of a chunk.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			parts = append(parts, string(runes))
			break
		}
		splitAt := maxLen
		if nl := strings.LastIndex(string(runes[:maxLen]), "\n"); nl >= 0 {
			if at := utf8.RuneCountInString(string(runes[:maxLen])[:nl]) + 1; at > maxLen/2 {
				splitAt = at
			}
		}
		parts = append(parts, string(runes[:splitAt]))
		runes = runes[splitAt:]
	}
	return parts
}

// truncate cuts text to maxLen runes, marking the cut.
func truncate(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	const marker = "\n\n... (truncated)"
	return string([]rune(text)[:maxLen-utf8.RuneCountInString(marker)]) + marker
}
