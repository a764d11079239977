package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
)

// Metadata describes the article, not the extraction.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Fill returns m with empty fields taken from other.
func (m Metadata) Fill(other Metadata) Metadata {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return strings.TrimSpace(a)
		}
		return strings.TrimSpace(b)
	}
	return Metadata{
		Title:       pick(m.Title, other.Title),
		Author:      pick(m.Author, other.Author),
		PublishedAt: pick(m.PublishedAt, other.PublishedAt),
		ImageURL:    pick(m.ImageURL, other.ImageURL),
		SiteName:    pick(m.SiteName, other.SiteName),
		Description: pick(m.Description, other.Description),
	}
}

// OpenGraph reads og: and article: properties from the page.
func OpenGraph(htmlText string) Metadata {
	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(strings.NewReader(htmlText)); err != nil {
		return Metadata{}
	}
	md := Metadata{
		Title:       og.Title,
		SiteName:    og.SiteName,
		Description: og.Description,
	}
	if len(og.Images) > 0 && og.Images[0] != nil {
		md.ImageURL = og.Images[0].URL
	}
	if og.Article != nil {
		if og.Article.PublishedTime != nil {
			md.PublishedAt = og.Article.PublishedTime.UTC().Format(time.RFC3339)
		}
		var names []string
		for _, a := range og.Article.Authors {
			if a = strings.TrimSpace(a); a != "" {
				names = append(names, a)
			}
		}
		md.Author = strings.Join(names, ", ")
	}
	return md
}

// fallbackMetadata reads plain HTML signals: <meta name=author>, the first
// <h1>, then <title>.
func fallbackMetadata(doc *goquery.Document) Metadata {
	var md Metadata
	if v, ok := doc.Find(`meta[name="author"]`).First().Attr("content"); ok {
		md.Author = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[property="article:published_time"], meta[name="date"], meta[itemprop="datePublished"]`).First().Attr("content"); ok {
		md.PublishedAt = strings.TrimSpace(v)
	}
	if v, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		md.Description = strings.TrimSpace(v)
	}
	md.Title = strings.Join(strings.Fields(doc.Find("h1").First().Text()), " ")
	if md.Title == "" {
		md.Title = strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
	}
	return md
}

// PageMetadata combines OpenGraph data with plain HTML fallbacks.
func PageMetadata(htmlText string) Metadata {
	md := OpenGraph(htmlText)
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText)); err == nil {
		md = md.Fill(fallbackMetadata(doc))
	}
	return md
}
