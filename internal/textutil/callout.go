package textutil

import "strings"

// CalloutMarker opens the caution block the bot prepends to closed duplicates.
const CalloutMarker = ">[!CAUTION]"

// StripCautionCallout removes a leading caution block and the blank lines
// that followed it. A marker inside fenced code is left alone.
func StripCautionCallout(body string) string {
	lines := Tokenize(body)
	i := 0
	for i < len(lines) && lines[i].IsBlank {
		i++
	}
	if i >= len(lines) || lines[i].InCode || strings.TrimSpace(lines[i].Text) != CalloutMarker {
		return body
	}
	i++
	for i < len(lines) && !lines[i].IsFence && strings.HasPrefix(strings.TrimSpace(lines[i].Text), ">") {
		i++
	}
	for i < len(lines) && lines[i].IsBlank {
		i++
	}
	return Join(lines[i:])
}
