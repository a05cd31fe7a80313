package ingest

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 1000

// ChunkText packs whitespace-delimited tokens into chunks of at most maxLen
// characters, joined by single spaces. A token longer than maxLen is the
// only thing ever split, and it is split into maxLen pieces.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultChunkSize
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)

		// Only a token over the cap is split, into maxLen pieces with
		// the remainder packed like any other token.
		if wordLen > maxLen {
			flush()
			runes := []rune(word)
			for len(runes) > maxLen {
				chunks = append(chunks, string(runes[:maxLen]))
				runes = runes[maxLen:]
			}
			word = string(runes)
			wordLen = len(runes)
		}

		needed := wordLen
		if curLen > 0 {
			needed += curLen + 1
		}
		if needed > maxLen {
			flush()
			needed = wordLen
		}

		if curLen > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curLen = needed
	}
	flush()

	return chunks
}
