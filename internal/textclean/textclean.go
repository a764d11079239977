// Package textclean normalizes extracted article text before chunking and
// synthesis. Normalize is pure and idempotent.
package textclean

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^advertisement$`),
	regexp.MustCompile(`(?i)^sponsored content$`),
	regexp.MustCompile(`(?i)^sign up for our newsletter.*`),
	regexp.MustCompile(`(?i)^subscribe to .*`),
	regexp.MustCompile(`(?i)^related (stories|articles).*`),
	regexp.MustCompile(`(?i)^read (more|next):.*`),
	regexp.MustCompile(`(?i)^share this (story|article).*`),
	regexp.MustCompile(`(?i)^follow us on .*`),
	regexp.MustCompile(`(?i)^comments?$`),
}

// UTF-8 text that was decoded as Windows-1252 somewhere upstream.
var mojibake = strings.NewReplacer(
	"â€™", "’",
	"â€˜", "‘",
	"â€œ", "“",
	"â€\u009d", "”",
	"â€“", "–",
	"â€”", "—",
	"â€¦", "…",
	"Ã©", "é",
	"Ã¨", "è",
	"Ã¼", "ü",
	"Ã¶", "ö",
	"Ã¤", "ä",
	"Â\u00a0", " ",
)

var invisible = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
	"\r\n", "\n",
	"\r", "\n",
)

// Normalize maps raw extracted text to cleaned text: entity and encoding
// repairs, NFKC, whitespace collapsing, boilerplate line removal and blank
// line normalization.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// Repeat until a fixed point: nested entities ("&amp;amp;") peel one
	// level per pass. Every productive pass consumes an entity, a mojibake
	// sequence or an invisible rune, so len(raw) passes always suffice.
	text := raw
	for i := 0; i <= len(raw); i++ {
		next := decodeOnce(text)
		if next == text {
			break
		}
		text = next
	}
	return normalizeLines(text)
}

func decodeOnce(s string) string {
	s = html.UnescapeString(s)
	s = mojibake.Replace(s)
	s = norm.NFKC.String(s)
	s = invisible.Replace(s)
	return s
}

func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, raw := range lines {
		line := collapseLine(raw)
		if line == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if isBoilerplate(line) {
			continue
		}
		if len(out) > 0 {
			prev := out[len(out)-1]
			switch {
			case strings.HasPrefix(line, "## ") && prev != "":
				out = append(out, "")
			case strings.HasPrefix(line, "- ") && prev != "" && !strings.HasPrefix(prev, "- "):
				out = append(out, "")
			}
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// collapseLine trims the line and turns every run of whitespace into a
// single ASCII space.
func collapseLine(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isBoilerplate(line string) bool {
	for _, re := range boilerplatePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Collapse joins all whitespace-separated fields of s with single spaces.
// Chunk reassembly is compared modulo Collapse.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
