package embedding

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/mohammad-safakhou/issuesense/internal/footnote"
	"github.com/mohammad-safakhou/issuesense/internal/textutil"
	"github.com/mohammad-safakhou/issuesense/models"
)

// ErrNoSource means a document has nothing worth embedding.
var ErrNoSource = errors.New("no embeddable text")

const (
	// MaxSourceBytes caps the text sent to the embedding model.
	MaxSourceBytes = 24000

	// Markdown whose visible text is under this share of its length is
	// embedded as plaintext.
	minTextRatio = 0.5
)

// Source picks the text to embed for doc: the markdown with bot markers,
// the caution callout, bot footnotes and comments removed, or its plaintext
// rendering when that markdown is mostly markup or too long, else the
// title. Documents without markdown are never embedded.
func Source(doc models.Document) (string, error) {
	if doc.Markdown == nil {
		return "", ErrNoSource
	}
	raw := textutil.StripCautionCallout(textutil.StripPluginUpdateComments(*doc.Markdown).Cleaned)
	cleaned := textutil.CleanMarkdown(footnote.Remove(raw))
	if cleaned == "" {
		if title := strings.TrimSpace(doc.Title); title != "" {
			return title, nil
		}
		return "", ErrNoSource
	}

	plain, err := textutil.Plaintext(cleaned)
	if err == nil && plain != "" && (len(cleaned) > MaxSourceBytes || float64(len(plain)) < minTextRatio*float64(len(cleaned))) {
		return truncate(plain, MaxSourceBytes), nil
	}
	return truncate(cleaned, MaxSourceBytes), nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n])
}
