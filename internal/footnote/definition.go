package footnote

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Severity is the leading glyph of a definition line.
type Severity string

const (
	SeverityCaution Severity = "❗"
	SeverityWarning Severity = "⚠"
	SeverityInfo    Severity = "ℹ"
)

var (
	referencePattern  = regexp.MustCompile(`\[\^(\d+)\^\]`)
	definitionPattern = regexp.MustCompile(`^\[\^(\d+)\^\]: (❗|⚠|ℹ) \d{1,3}% .+ - \[.*\]\(\S*\)$`)
	titleEscaper      = strings.NewReplacer(`[`, `\[`, `]`, `\]`, "\n", " ", "\r", "")
)

// Reference renders the inline marker for footnote n.
func Reference(n int) string {
	return fmt.Sprintf("[^%02d^]", n)
}

// Definition renders the trailing definition line for footnote n.
func Definition(n int, m Match) string {
	sev := m.Severity
	if sev == "" {
		sev = SeverityWarning
	}
	relation := m.Relation
	if relation == "" {
		relation = "similar"
	}
	return fmt.Sprintf("[^%02d^]: %s %d%% %s - [%s](%s)", n, sev, percent(m.Score), relation, titleEscaper.Replace(m.Title), m.URL)
}

// IsDefinition reports whether line is a definition written by this package.
func IsDefinition(line string) bool {
	return definitionPattern.MatchString(strings.TrimSpace(line))
}

func percent(score float64) int {
	p := int(math.Round(score * 100))
	return min(max(p, 0), 100)
}

// MaxIndex returns the highest footnote number referenced outside code, or 0.
func MaxIndex(body string) int {
	highest := 0
	for _, ln := range tokenize(body) {
		if ln.InCode || ln.IsFence {
			continue
		}
		for _, m := range referencePattern.FindAllStringSubmatch(ln.Text, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return highest
}
