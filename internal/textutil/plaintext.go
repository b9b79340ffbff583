package textutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func stripAllPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// Plaintext renders markdown to HTML and strips every tag, leaving the
// visible text with whitespace collapsed.
func Plaintext(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	text := html.UnescapeString(stripAllPolicy().Sanitize(buf.String()))
	return NormalizeWhitespace(text), nil
}

// ContentHash fingerprints the whitespace-normalised text.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(NormalizeWhitespace(s)))
	return hex.EncodeToString(sum[:])
}
