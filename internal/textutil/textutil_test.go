package textutil

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditDistance(t *testing.T) {
	t.Parallel()
	cases := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
		{"flaw", "lawn", 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EditDistance(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestNormalizedSimilarity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, NormalizedSimilarity("", "x"))
	assert.Equal(t, 0.0, NormalizedSimilarity("x", ""))
	assert.Equal(t, 1.0, NormalizedSimilarity("abc", "abc"))
	assert.InDelta(t, 1-3.0/7.0, NormalizedSimilarity("kitten", "sitting"), 1e-9)
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "First one. Second one! Third?", []string{"First one.", "Second one!", "Third?"}},
		{"quotes", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
		{"abbreviation", "Use a tool, e.g. make. Done.", []string{"Use a tool, e.g. make.", "Done."}},
		{"etc", "Logs, traces etc. are attached. Done.", []string{"Logs, traces etc. are attached.", "Done."}},
		{"decimals and paths", "Upgrade to 1.2.3 in main.go now. Thanks", []string{"Upgrade to 1.2.3 in main.go now.", "Thanks"}},
		{"ellipsis", "Wait... what?! ok", []string{"Wait...", "what?!", "ok"}},
		{"blank", "   ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sentences(tc.in))
		})
	}
}

func TestSplitSentencesRestartable(t *testing.T) {
	t.Parallel()
	seq := SplitSentences("One. Two. Three.")
	var first []string
	for s := range seq {
		first = append(first, s)
		if len(first) == 2 {
			break
		}
	}
	var second []string
	for s := range seq {
		second = append(second, s)
	}
	assert.Equal(t, []string{"One.", "Two."}, first)
	assert.Equal(t, []string{"One.", "Two.", "Three."}, second)
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	md := "intro\n\n```go\nx := 1\n~~~\n```\n<!-- note -->\n- item"
	lines := Tokenize(md)
	require.Len(t, lines, 8)
	assert.True(t, lines[0].Prose())
	assert.True(t, lines[1].IsBlank)
	assert.True(t, lines[2].IsFence)
	assert.True(t, lines[3].InCode)
	assert.True(t, lines[4].InCode, "tilde does not close a backtick fence")
	assert.True(t, lines[5].IsFence)
	assert.True(t, lines[6].IsComment)
	assert.True(t, lines[7].Prose())
	assert.Equal(t, md, Join(lines))
}

func TestStripHTMLCommentsFenceSafe(t *testing.T) {
	t.Parallel()
	fenced := "```html\n<!-- keep me -->\n<div></div>\n```"
	tilde := "~~~~\n<!-- and me\n-->\n~~~~"
	md := "before <!-- gone --> after\n" + fenced + "\n<!-- multi\nline -->\n" + tilde + "\nend"

	got := StripHTMLComments(md)

	assert.Contains(t, got, fenced)
	assert.Contains(t, got, tilde)
	assert.Contains(t, got, "before  after")
	assert.NotContains(t, got, "gone")
	assert.NotContains(t, got, "multi")
	assert.True(t, strings.HasSuffix(got, "\nend"))
}

func TestStripPluginUpdateComments(t *testing.T) {
	t.Parallel()
	older := UpdateMarker(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := UpdateMarker(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	md := "Body text\n" + newer + "\n\n```\n" + older + "\n```\n\n" + older

	res := StripPluginUpdateComments(md)

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, newer, res.Latest)
	assert.Equal(t, "Body text\n\n```\n"+older+"\n```", res.Cleaned)

	untouched := StripPluginUpdateComments("plain body\n")
	assert.Zero(t, untouched.Count)
	assert.Empty(t, untouched.Latest)
	assert.Equal(t, "plain body\n", untouched.Cleaned)
}

func TestAppendPluginUpdateComment(t *testing.T) {
	t.Parallel()
	m1 := UpdateMarker(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m2 := UpdateMarker(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	once := AppendPluginUpdateComment("Body\n", m1)
	assert.Equal(t, "Body\n\n"+m1, once)

	twice := AppendPluginUpdateComment(once, m2)
	assert.Equal(t, "Body\n\n"+m2, twice)

	assert.Equal(t, m1, AppendPluginUpdateComment("", m1))
}

func TestPlaintext(t *testing.T) {
	t.Parallel()
	got, err := Plaintext("# Title\n\nSome **bold** text & [a link](https://example.com).\n\n- one\n- two")
	require.NoError(t, err)
	assert.Equal(t, "Title Some bold text & a link. one two", got)
}

func TestStripCautionCallout(t *testing.T) {
	t.Parallel()
	body := "Body text\n\n> quoted by a human"
	with := "\n>[!CAUTION]\n>This issue was closed as a duplicate of:\n>- [A](u1)\n\n" + body
	assert.Equal(t, body, StripCautionCallout(with))
	assert.Equal(t, body, StripCautionCallout(body))

	fenced := "```\n>[!CAUTION]\n>x\n```\nafter"
	assert.Equal(t, fenced, StripCautionCallout(fenced))
	notFirst := "intro\n\n>[!CAUTION]\n>x"
	assert.Equal(t, notFirst, StripCautionCallout(notFirst))
}

func TestContentHashIgnoresWhitespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ContentHash("a  b\nc"), ContentHash(" a b c "))
	assert.NotEqual(t, ContentHash("a b c"), ContentHash("a b d"))
}
