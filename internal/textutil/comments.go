package textutil

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const updateMarkerFormat = "<!-- issuesense: updated %s -->"

var updateMarkerPattern = regexp.MustCompile(`<!--\s*issuesense:\s*updated\s+(\S+)\s*-->`)

// StripHTMLComments removes <!-- ... --> spans outside fenced code blocks.
// Lines left empty by the removal are dropped; fenced content is untouched.
func StripHTMLComments(md string) string {
	lines := Tokenize(md)
	out := make([]string, 0, len(lines))
	inComment := false
	for _, ln := range lines {
		if ln.IsFence || ln.InCode {
			out = append(out, ln.Text)
			continue
		}
		text, still := stripCommentSpans(ln.Text, inComment)
		if text != ln.Text && strings.TrimSpace(text) == "" {
			inComment = still
			continue
		}
		inComment = still
		out = append(out, text)
	}
	return strings.Join(out, "\n")
}

// UpdateComments is the result of StripPluginUpdateComments.
type UpdateComments struct {
	Cleaned string
	// Latest is the most recent marker found, empty when Count is zero.
	Latest string
	Count  int
}

// StripPluginUpdateComments removes the bot's "updated at" markers while
// remembering the most recent one. Count is zero for a body the bot never
// touched.
func StripPluginUpdateComments(md string) UpdateComments {
	var res UpdateComments
	var latestAt time.Time

	lines := Tokenize(md)
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		if ln.IsFence || ln.InCode {
			out = append(out, ln.Text)
			continue
		}
		matches := updateMarkerPattern.FindAllStringSubmatch(ln.Text, -1)
		if len(matches) == 0 {
			out = append(out, ln.Text)
			continue
		}
		for _, m := range matches {
			res.Count++
			at, err := time.Parse(time.RFC3339, m[1])
			if err != nil {
				if latestAt.IsZero() {
					res.Latest = m[0]
				}
				continue
			}
			if !at.Before(latestAt) {
				latestAt = at
				res.Latest = m[0]
			}
		}
		text := updateMarkerPattern.ReplaceAllString(ln.Text, "")
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, strings.TrimRight(text, " \t"))
	}

	res.Cleaned = strings.Join(out, "\n")
	if res.Count > 0 {
		res.Cleaned = strings.TrimRight(res.Cleaned, " \t\r\n")
	}
	return res
}

// UpdateMarker renders the marker comment for t.
func UpdateMarker(t time.Time) string {
	return fmt.Sprintf(updateMarkerFormat, t.UTC().Format(time.RFC3339))
}

// AppendPluginUpdateComment replaces any previous markers with marker at the
// end of md.
func AppendPluginUpdateComment(md, marker string) string {
	cleaned := strings.TrimRight(StripPluginUpdateComments(md).Cleaned, " \t\r\n")
	if cleaned == "" {
		return marker
	}
	return cleaned + "\n\n" + marker
}

// CleanMarkdown strips comments and surrounding whitespace, leaving the text
// that is worth embedding.
func CleanMarkdown(md string) string {
	return strings.TrimSpace(StripHTMLComments(md))
}
