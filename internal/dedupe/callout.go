package dedupe

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

const calloutHeader = ">This issue was closed as a duplicate of:"

var linkEscaper = strings.NewReplacer(`[`, `\[`, `]`, `\]`, "\n", " ", "\r", "")

// callout renders the caution block listing the issues this one duplicates.
func callout(docs []models.Document) string {
	lines := []string{textutil.CalloutMarker, calloutHeader}
	for _, d := range docs {
		title := d.Title
		if title == "" {
			title = d.ID
		}
		lines = append(lines, fmt.Sprintf(">- [%s](%s)", linkEscaper.Replace(title), d.URL))
	}
	return strings.Join(lines, "\n")
}

func prependCallout(body string, docs []models.Document) string {
	block := callout(docs)
	if strings.TrimSpace(body) == "" {
		return block
	}
	return block + "\n\n" + body
}
