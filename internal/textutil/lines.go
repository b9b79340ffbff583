package textutil

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("^[ ]{0,3}(`{3,}|~{3,})")

// Line is one line of a markdown body with its block context resolved.
type Line struct {
	Text      string
	IsFence   bool // opening or closing fence delimiter
	InCode    bool // inside a fenced block, delimiters excluded
	IsBlank   bool
	IsComment bool // nothing but HTML comment text
}

// Prose reports whether the line is ordinary text that may be rewritten.
func (l Line) Prose() bool {
	return !l.IsFence && !l.InCode && !l.IsBlank && !l.IsComment
}

// Tokenize splits md into lines and marks fenced regions and comment-only
// lines. A closing fence must use the same character as its opener and be at
// least as long. An unclosed fence runs to the end of the body.
func Tokenize(md string) []Line {
	raw := strings.Split(md, "\n")
	lines := make([]Line, 0, len(raw))

	var open string
	inComment := false
	for _, text := range raw {
		ln := Line{Text: text, IsBlank: strings.TrimSpace(text) == ""}
		if m := fencePattern.FindStringSubmatch(text); m != nil {
			switch {
			case open == "":
				open = m[1]
				ln.IsFence = true
				lines = append(lines, ln)
				continue
			case m[1][0] == open[0] && len(m[1]) >= len(open) && strings.TrimSpace(text[len(m[0]):]) == "":
				open = ""
				ln.IsFence = true
				lines = append(lines, ln)
				continue
			}
		}
		if open != "" {
			ln.InCode = true
			lines = append(lines, ln)
			continue
		}
		if !ln.IsBlank {
			rest, still := stripCommentSpans(text, inComment)
			ln.IsComment = strings.TrimSpace(rest) == "" && (inComment || strings.Contains(text, "<!--"))
			inComment = still
		}
		lines = append(lines, ln)
	}
	return lines
}

// Join reassembles tokenized lines into a body.
func Join(lines []Line) string {
	parts := make([]string, len(lines))
	for i, ln := range lines {
		parts[i] = ln.Text
	}
	return strings.Join(parts, "\n")
}

// stripCommentSpans removes <!-- ... --> spans from s. inComment carries an
// unterminated span over from a previous line; the returned flag reports
// whether s ends inside one.
func stripCommentSpans(s string, inComment bool) (string, bool) {
	var b strings.Builder
	for {
		if inComment {
			end := strings.Index(s, "-->")
			if end < 0 {
				return b.String(), true
			}
			s = s[end+3:]
			inComment = false
			continue
		}
		start := strings.Index(s, "<!--")
		if start < 0 {
			b.WriteString(s)
			return b.String(), false
		}
		b.WriteString(s[:start])
		s = s[start+4:]
		inComment = true
	}
}

// NormalizeWhitespace collapses runs of whitespace into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var listPrefix = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)

// StripListPrefix drops a leading bullet or ordered-list marker.
func StripListPrefix(s string) string {
	return listPrefix.ReplaceAllString(s, "")
}
