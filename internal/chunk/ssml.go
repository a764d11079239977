package chunk

import (
	"regexp"
	"strings"
)

var pronunciations = map[string]string{
	"rss":  "R S S",
	"saas": "sass",
	"ai":   "A I",
	"http": "H T T P",
}

var acronym = regexp.MustCompile(`(?i)\b(RSS|SaaS|AI|HTTP)\b`)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// SSML renders text as a <speak> document for the Google backend. Blank
// lines become medium breaks and a few acronyms get spoken aliases.
func SSML(text string, breakAfter bool) string {
	body := acronym.ReplaceAllStringFunc(xmlEscaper.Replace(text), func(m string) string {
		return `<sub alias="` + pronunciations[strings.ToLower(m)] + `">` + m + `</sub>`
	})
	body = strings.ReplaceAll(body, "\r", " ")
	body = strings.ReplaceAll(body, "\n\n", ` <break strength="medium"/> `)
	body = strings.Join(strings.Fields(body), " ")

	var b strings.Builder
	b.Grow(len(body) + 48)
	b.WriteString("<speak>")
	b.WriteString(body)
	if breakAfter {
		b.WriteString(`<break time="500ms"/>`)
	}
	b.WriteString("</speak>")
	return b.String()
}
