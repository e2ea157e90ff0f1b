package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// CountTokens provides a rough token count estimate: the larger of the
// word-based (~4/3 tokens per word) and character-based (~4 chars per token)
// estimates, so long identifiers and code are not undercounted.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := utf8.RuneCountInString(text) / 4
	return max(byWords, byChars, 1)
}
