// Package footnote places and removes similarity footnotes in markdown bodies.
//
// A reference "[^NN^]" is attached to the line that best matches an anchor
// sentence and a definition line is appended at the end of the body. Numbers
// continue after the highest existing reference and are never reassigned.
package footnote

import (
	"cmp"
	"slices"
	"strings"

	"github.com/mohammad-safakhou/issuesense/internal/textutil"
)

// DefaultMinSimilarity is the proximity floor a line must exceed.
const DefaultMinSimilarity = 0.6

// Match is one related document to footnote.
type Match struct {
	// Anchor is the sentence of the related document to align against.
	Anchor   string
	Score    float64
	Severity Severity
	Relation string
	Title    string
	URL      string
}

type Options struct {
	MinSimilarity float64
}

var tokenize = textutil.Tokenize

// Place inserts a reference and a definition for every match. Matches are
// numbered in ascending score order so the strongest one is listed last.
// Each reference goes after exact occurrences of its anchor, else at the end
// of the closest line, else with the other orphans on the first prose line.
func Place(body string, matches []Match, opts Options) string {
	if len(matches) == 0 {
		return body
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}

	ordered := slices.Clone(matches)
	slices.SortStableFunc(ordered, func(a, b Match) int { return cmp.Compare(a.Score, b.Score) })

	lines := tokenize(body)
	next := MaxIndex(body) + 1
	defs := make([]string, 0, len(ordered))
	var orphans []string
	for _, m := range ordered {
		ref := Reference(next)
		defs = append(defs, Definition(next, m))
		next++

		if placed, split := placeExact(lines, m.Anchor, ref); placed {
			if split {
				lines = tokenize(textutil.Join(lines))
			}
			continue
		}
		if placeNearest(lines, m.Anchor, ref, opts.MinSimilarity) {
			continue
		}
		orphans = append(orphans, ref)
	}
	if len(orphans) > 0 {
		lines = placeOrphans(lines, strings.Join(orphans, ""))
	}

	out := strings.TrimRight(textutil.Join(lines), " \t\r\n")
	if out != "" {
		out += "\n\n"
	}
	return out + strings.Join(defs, "\n")
}

// placeExact appends ref after every occurrence of anchor on prose lines. An
// occurrence directly followed by a fence token gets a line break after the
// reference so the fence starts its own line; split reports that case.
func placeExact(lines []textutil.Line, anchor, ref string) (placed, split bool) {
	if strings.TrimSpace(anchor) == "" {
		return false, false
	}
	for i, ln := range lines {
		if !prose(ln) || !strings.Contains(ln.Text, anchor) {
			continue
		}
		var b strings.Builder
		rest := ln.Text
		for {
			idx := strings.Index(rest, anchor)
			if idx < 0 {
				b.WriteString(rest)
				break
			}
			end := idx + len(anchor)
			b.WriteString(rest[:end])
			b.WriteString(ref)
			rest = rest[end:]
			if strings.HasPrefix(rest, "```") || strings.HasPrefix(rest, "~~~") {
				b.WriteString("\n")
				split = true
			}
		}
		lines[i].Text = b.String()
		placed = true
	}
	return placed, split
}

// placeNearest appends ref to the prose line most similar to anchor, scoring
// each line and each sentence within it.
func placeNearest(lines []textutil.Line, anchor, ref string, floor float64) bool {
	target := normalize(anchor)
	if target == "" {
		return false
	}
	best, bestScore := -1, floor
	for i, ln := range lines {
		if !prose(ln) {
			continue
		}
		text := normalize(ln.Text)
		score := textutil.NormalizedSimilarity(text, target)
		for s := range textutil.SplitSentences(text) {
			score = max(score, textutil.NormalizedSimilarity(s, target))
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return false
	}
	lines[best].Text = strings.TrimRight(lines[best].Text, " \t") + ref
	return true
}

func placeOrphans(lines []textutil.Line, refs string) []textutil.Line {
	blank := true
	for i, ln := range lines {
		blank = blank && ln.IsBlank
		if ln.IsBlank || ln.IsComment || ln.IsFence || ln.InCode || IsDefinition(ln.Text) {
			continue
		}
		lines[i].Text = strings.TrimRight(ln.Text, " \t") + refs
		return lines
	}
	if blank {
		return []textutil.Line{{Text: refs}}
	}
	return append(lines, textutil.Line{Text: refs})
}

// prose reports whether ln is text a reference may attach to. Definition
// lines left by the other footnote family are not.
func prose(ln textutil.Line) bool {
	return ln.Prose() && !IsDefinition(ln.Text)
}

// normalize strips references, list markers and redundant whitespace.
func normalize(s string) string {
	s = referencePattern.ReplaceAllString(s, "")
	return textutil.StripListPrefix(textutil.NormalizeWhitespace(s))
}

// Remove deletes every definition line written by this package and the
// references that point at them. Other footnotes are left alone.
func Remove(body string) string {
	return remove(body, SeverityCaution, SeverityWarning, SeverityInfo)
}

// RemoveDuplicates deletes only the duplicate footnotes (❗ and ⚠) written
// by dedupe, keeping annotations.
func RemoveDuplicates(body string) string {
	return remove(body, SeverityCaution, SeverityWarning)
}

// RemoveAnnotations deletes only the ℹ footnotes written by /annotate.
func RemoveAnnotations(body string) string {
	return remove(body, SeverityInfo)
}

func remove(body string, sevs ...Severity) string {
	lines := tokenize(body)
	owned := make(map[string]struct{})
	kept := make([]textutil.Line, 0, len(lines))
	for _, ln := range lines {
		if !ln.InCode && !ln.IsFence {
			m := definitionPattern.FindStringSubmatch(strings.TrimSpace(ln.Text))
			if m != nil && slices.Contains(sevs, Severity(m[2])) {
				owned[m[1]] = struct{}{}
				continue
			}
		}
		kept = append(kept, ln)
	}
	if len(owned) == 0 {
		return body
	}

	for i, ln := range kept {
		if ln.InCode || ln.IsFence {
			continue
		}
		kept[i].Text = referencePattern.ReplaceAllStringFunc(ln.Text, func(ref string) string {
			if _, ok := owned[ref[2:len(ref)-2]]; ok {
				return ""
			}
			return ref
		})
	}
	return strings.TrimRight(textutil.Join(kept), " \t\r\n")
}

// Align returns the sentence of candidate that best matches any sentence of
// body, or "" when either side has no prose.
func Align(candidate, body string) string {
	targets := proseSentences(body)
	if len(targets) == 0 {
		return ""
	}
	best, bestScore := "", -1.0
	for _, s := range proseSentences(Remove(candidate)) {
		for _, t := range targets {
			if score := textutil.NormalizedSimilarity(s, t); score > bestScore {
				best, bestScore = s, score
			}
		}
	}
	return best
}

func proseSentences(md string) []string {
	var out []string
	for _, ln := range tokenize(md) {
		if !prose(ln) {
			continue
		}
		text := textutil.StripListPrefix(strings.TrimSpace(referencePattern.ReplaceAllString(ln.Text, "")))
		for s := range textutil.SplitSentences(text) {
			out = append(out, s)
		}
	}
	return out
}
