package textutil

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations never end a sentence even when followed by a space.
var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {}, "cf": {}, "approx": {},
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "st": {}, "no": {}, "fig": {},
}

// SplitSentences yields trimmed, non-empty sentences of text in order. A run
// of '.', '!' or '?' ends a sentence only when it is followed, after any
// closing quotes or brackets, by whitespace or the end of text. Periods after
// known abbreviations do not split. The sequence is restartable: each range
// scans text again.
func SplitSentences(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		for i := 0; i < len(text); i++ {
			c := text[i]
			if c != '.' && c != '!' && c != '?' {
				continue
			}
			end := i + 1
			for end < len(text) && isTerminator(text[end]) {
				end++
			}
			end = skipClosers(text, end)
			if end < len(text) {
				r, _ := utf8.DecodeRuneInString(text[end:])
				if !unicode.IsSpace(r) {
					i = end - 1
					continue
				}
			}
			if c == '.' && end-i == 1 && isAbbreviation(text[start:i]) {
				continue
			}
			if s := strings.TrimSpace(text[start:end]); s != "" {
				if !yield(s) {
					return
				}
			}
			start = end
			i = end - 1
		}
		if s := strings.TrimSpace(text[start:]); s != "" {
			yield(s)
		}
	}
}

// Sentences collects SplitSentences into a slice.
func Sentences(text string) []string {
	var out []string
	for s := range SplitSentences(text) {
		out = append(out, s)
	}
	return out
}

func isTerminator(c byte) bool { return c == '.' || c == '!' || c == '?' }

func skipClosers(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch r {
		case '"', '\'', ')', ']', '”', '’', '»', '*', '_', '`':
			i += size
		default:
			return i
		}
	}
	return i
}

func isAbbreviation(prefix string) bool {
	word := prefix
	if idx := strings.LastIndexFunc(prefix, unicode.IsSpace); idx >= 0 {
		word = prefix[idx+1:]
	}
	word = strings.TrimLeft(word, "(\"'")
	_, ok := abbreviations[strings.ToLower(word)]
	return ok
}
