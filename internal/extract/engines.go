package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Engine names, also used as metric labels and in persisted results.
const (
	EngineReadability = "readability"
	EngineArticle     = "article"
	EngineParagraphs  = "paragraphs"
	EnginePlaintext   = "plaintext"
)

var (
	errNoContent    = errors.New("no content")
	errInsufficient = errors.New("insufficient text")
)

// Page is the input to every engine.
type Page struct {
	URL  string
	HTML string
}

// Engine turns a page into a candidate. Engines return raw text; the
// cascade normalizes it.
type Engine interface {
	Name() string
	Extract(ctx context.Context, page Page) (Candidate, error)
}

// Heuristics tunes the paragraphs and plaintext engines.
type Heuristics struct {
	MinParagraphChars int
	SkipPhrases       []string
	MinTotalChars     int
	PlaintextMinChars int
}

// DefaultHeuristics returns the deployed thresholds.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		MinParagraphChars: 40,
		SkipPhrases:       []string{"copyright", "all rights reserved", "photo", "advertisement", "sign up"},
		MinTotalChars:     500,
		PlaintextMinChars: 280,
	}
}

// DefaultEngines returns the engines in their fixed priority order.
func DefaultEngines(h Heuristics) []Engine {
	return []Engine{
		readabilityEngine{h: h},
		articleEngine{},
		paragraphsEngine{h: h},
		plaintextEngine{h: h},
	}
}

type readabilityEngine struct{ h Heuristics }

func (readabilityEngine) Name() string { return EngineReadability }

func (e readabilityEngine) Extract(_ context.Context, page Page) (Candidate, error) {
	u, err := url.Parse(page.URL)
	if err != nil {
		return Candidate{}, fmt.Errorf("parse url: %w", err)
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(page.HTML), u)
	if err != nil {
		return Candidate{}, err
	}
	text := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
		// Readability already chose the content, so only the skip phrases
		// and paragraph length apply here, not the total minimum.
		text = strings.Join(collectParagraphs(doc, e.h), "\n\n")
	}
	if text == "" {
		text = article.TextContent
	}
	if strings.TrimSpace(text) == "" {
		return Candidate{}, errNoContent
	}
	md := Metadata{
		Title:    article.Title,
		Author:   article.Byline,
		ImageURL: article.Image,
		SiteName: article.SiteName,
	}
	if article.PublishedTime != nil {
		md.PublishedAt = article.PublishedTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return Candidate{Text: text, Metadata: md}, nil
}

type paragraphsEngine struct{ h Heuristics }

func (paragraphsEngine) Name() string { return EngineParagraphs }

func (e paragraphsEngine) Extract(_ context.Context, page Page) (Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return Candidate{}, err
	}
	md := fallbackMetadata(doc)
	paragraphs := collectParagraphs(doc, e.h)
	if len(paragraphs) == 0 {
		return Candidate{}, errNoContent
	}
	text := strings.Join(paragraphs, "\n\n")
	if len(text) < e.h.MinTotalChars {
		return Candidate{}, fmt.Errorf("%w: %d chars", errInsufficient, len(text))
	}
	return Candidate{Text: text, Metadata: md}, nil
}

// collectParagraphs gathers headings, list items and long enough paragraphs
// from the first <article>, <main> and <body>, dropping duplicates.
func collectParagraphs(doc *goquery.Document, h Heuristics) []string {
	doc.Find("script, style, noscript, template, header, footer, nav, aside").Remove()

	var containers []*goquery.Selection
	for _, sel := range []string{"article", "main", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			containers = append(containers, s)
		}
	}
	if len(containers) == 0 {
		containers = append(containers, doc.Selection)
	}

	seen := make(map[string]bool)
	var out []string
	for _, container := range containers {
		container.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
			text := strings.Join(strings.Fields(s.Text()), " ")
			if text == "" {
				return
			}
			var candidate string
			switch goquery.NodeName(s) {
			case "h1", "h2", "h3":
				candidate = "## " + text
			case "li":
				candidate = "- " + text
			default:
				if len(text) < h.MinParagraphChars || containsAny(strings.ToLower(text), h.SkipPhrases) {
					return
				}
				candidate = text
			}
			if seen[candidate] {
				return
			}
			seen[candidate] = true
			out = append(out, candidate)
		})
	}
	return out
}

type plaintextEngine struct{ h Heuristics }

func (plaintextEngine) Name() string { return EnginePlaintext }

var tagPattern = regexp.MustCompile(`<[^>]+>`)

func (e plaintextEngine) Extract(_ context.Context, page Page) (Candidate, error) {
	var md Metadata
	text := ""
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML)); err == nil {
		md = fallbackMetadata(doc)
		doc.Find("script, style, noscript, template").Remove()
		var lines []string
		for _, n := range doc.Find("body").Nodes {
			textLines(n, &lines)
		}
		text = strings.Join(lines, "\n")
	}
	if strings.TrimSpace(text) == "" {
		text = tagPattern.ReplaceAllString(page.HTML, " ")
	}
	if len(strings.TrimSpace(text)) < e.h.PlaintextMinChars {
		return Candidate{}, fmt.Errorf("%w: %d chars", errInsufficient, len(strings.TrimSpace(text)))
	}
	return Candidate{Text: text, Metadata: md}, nil
}

// textLines appends every non-blank text node under n, trimmed.
func textLines(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*lines = append(*lines, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		textLines(c, lines)
	}
}
