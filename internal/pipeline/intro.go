package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// NarrationIntro is the spoken preamble read before the article body.
func NarrationIntro(title, author, sourceURL string, published *time.Time) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	phrases := []string{fmt.Sprintf("Today's feature is %q.", title)}
	if host := sourceHost(sourceURL); host != "" {
		phrases = append(phrases, fmt.Sprintf("It comes to us from %s.", host))
	}
	if a := strings.TrimSpace(author); a != "" && !strings.EqualFold(a, "unknown") && !strings.EqualFold(a, "n/a") {
		phrases = append(phrases, fmt.Sprintf("Written by %s.", a))
	}
	if published != nil && !published.IsZero() {
		phrases = append(phrases, fmt.Sprintf("Originally published on %s.", published.Format("January 2, 2006")))
	}
	phrases = append(phrases, "Take a moment to get comfortable. Here is the article.")
	return strings.Join(phrases, " ")
}

func sourceHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	return strings.Replace(u.Host, "www.", "", 1)
}

// ParsePublished reads the many date shapes found in article metadata.
func ParsePublished(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
