package fetch

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var DefaultBlockingPhrases = []string{
	"subscribe to read",
	"sign in",
	"sign up",
	"log in to read",
	"membership required",
}

// Truncation decides whether text looks like a paywalled or cut-off page.
type Truncation struct {
	// MinLength in runes; zero means 500.
	MinLength int
	// Phrases are matched case-insensitively; nil means DefaultBlockingPhrases.
	Phrases []string
}

// Likely reports whether text is empty, shorter than MinLength, or contains
// a blocking phrase.
func (t Truncation) Likely(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	minLen := t.MinLength
	if minLen <= 0 {
		minLen = 500
	}
	if utf8.RuneCountInString(text) < minLen {
		return true
	}
	phrases := t.Phrases
	if phrases == nil {
		phrases = DefaultBlockingPhrases
	}
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsLikelyTruncated applies the client's truncation settings to text.
func (c *Client) IsLikelyTruncated(text string) bool {
	return c.Truncation.Likely(text)
}

func (c *Client) truncatedBody(contentType, body string) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "html") {
		return false
	}
	return c.Truncation.Likely(VisibleText(body))
}

// VisibleText returns the body text of an HTML document with scripts,
// styles and templates removed.
func VisibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}
