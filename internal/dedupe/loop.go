package dedupe

import (
	"github.com/mohammad-safakhou/issuesense/internal/footnote"
	"github.com/mohammad-safakhou/issuesense/internal/textutil"
)

// stripBotAnnotations returns body without update markers, the caution
// callout and this bot's footnotes.
func stripBotAnnotations(body string) string {
	return footnote.Remove(stripDedupeAnnotations(body))
}

// stripDedupeAnnotations removes what a dedupe pass writes and keeps the
// footnotes left by /annotate.
func stripDedupeAnnotations(body string) string {
	return footnote.RemoveDuplicates(textutil.StripCautionCallout(textutil.StripPluginUpdateComments(body).Cleaned))
}

// IsSelfTriggeredEdit reports whether the change from before to after only
// touched what the bot itself writes.
func IsSelfTriggeredEdit(before, after string) bool {
	return normalizeForCompare(before) == normalizeForCompare(after)
}

func normalizeForCompare(body string) string {
	return textutil.NormalizeWhitespace(stripBotAnnotations(body))
}

// sameBody compares two bodies ignoring update markers.
func sameBody(a, b string) bool {
	return textutil.StripPluginUpdateComments(a).Cleaned == textutil.StripPluginUpdateComments(b).Cleaned
}
