package extract

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestArticleEngine_PrefersMainOverBody(t *testing.T) {
	html := `<!doctype html>
    <html>
      <head><title>Test Page</title></head>
      <body>
        <nav>Nav should be ignored</nav>
        <main>
          <h1>Main Heading</h1>
          <p>This is the main content paragraph.</p>
        </main>
        <footer>Footer text</footer>
      </body>
    </html>`

	cand, err := articleEngine{}.Extract(context.Background(), Page{URL: "https://example.com/a", HTML: html})
	if err != nil {
		t.Fatal(err)
	}
	if cand.Metadata.Title != "Test Page" {
		t.Fatalf("expected title 'Test Page', got %q", cand.Metadata.Title)
	}
	if !strings.Contains(cand.Text, "## Main Heading") {
		t.Fatalf("expected heading marker, got %q", cand.Text)
	}
	if !strings.Contains(cand.Text, "This is the main content paragraph.") {
		t.Fatalf("expected to contain main paragraph")
	}
	if strings.Contains(cand.Text, "Nav should be ignored") || strings.Contains(cand.Text, "Footer text") {
		t.Fatalf("did not expect nav or footer text in %q", cand.Text)
	}
}

func TestArticleEngine_FallbackToBodyAndSkipsConsent(t *testing.T) {
	html := `<html><head><title>No Main</title></head>
      <body>
        <div class="cookie-banner">We use cookies</div>
        <h2>Body Heading</h2>
        <p>Body <em>paragraph</em> text</p>
        <ul><li>First item</li><li>Second item</li></ul>
      </body></html>`

	cand, err := articleEngine{}.Extract(context.Background(), Page{HTML: html})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"## Body Heading", "Body paragraph text", "- First item", "- Second item"} {
		if !strings.Contains(cand.Text, want) {
			t.Fatalf("missing %q in %q", want, cand.Text)
		}
	}
	if strings.Contains(cand.Text, "cookies") {
		t.Fatalf("consent banner leaked: %q", cand.Text)
	}
}

func TestParagraphsEngine_FiltersShortAndSkipPhrases(t *testing.T) {
	long := strings.Repeat("A sentence long enough to count as a paragraph. ", 3)
	var b strings.Builder
	b.WriteString(`<html><head><meta name="author" content="Jane Doe"></head><body><article><h1>Headline</h1>`)
	for i := 0; i < 5; i++ {
		b.WriteString(fmt.Sprintf("<p>Part %d. %s</p>", i, long))
	}
	b.WriteString("<p>Too short.</p>")
	b.WriteString("<p>Photo: a long caption that mentions the photographer by name here.</p>")
	b.WriteString("<p>Part 0. " + long + "</p>") // duplicate
	b.WriteString("</article><footer><p>" + long + " footer</p></footer></body></html>")

	cand, err := paragraphsEngine{h: DefaultHeuristics()}.Extract(context.Background(), Page{HTML: b.String()})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(cand.Text, "Too short") || strings.Contains(cand.Text, "Photo:") || strings.Contains(cand.Text, "footer") {
		t.Fatalf("unexpected text: %q", cand.Text)
	}
	if got := strings.Count(cand.Text, "Part 0."); got != 1 {
		t.Fatalf("expected duplicate paragraph once, got %d", got)
	}
	if !strings.HasPrefix(cand.Text, "## Headline") {
		t.Fatalf("expected heading first: %q", cand.Text)
	}
	if cand.Metadata.Author != "Jane Doe" || cand.Metadata.Title != "Headline" {
		t.Fatalf("metadata: %+v", cand.Metadata)
	}
}

func TestParagraphsEngine_InsufficientTotal(t *testing.T) {
	html := `<html><body><p>` + strings.Repeat("word ", 20) + `</p></body></html>`
	if _, err := (paragraphsEngine{h: DefaultHeuristics()}).Extract(context.Background(), Page{HTML: html}); err == nil {
		t.Fatal("expected insufficient text error")
	}
}

func TestPlaintextEngine(t *testing.T) {
	html := `<html><head><title>T</title><script>var hidden = 1;</script></head><body><div>` +
		strings.Repeat("Plain body words here. ", 20) + `</div><span>tail</span></body></html>`
	cand, err := plaintextEngine{h: DefaultHeuristics()}.Extract(context.Background(), Page{HTML: html})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(cand.Text, "hidden") || !strings.Contains(cand.Text, "tail") {
		t.Fatalf("unexpected text: %q", cand.Text)
	}
	if _, err := (plaintextEngine{h: DefaultHeuristics()}).Extract(context.Background(), Page{HTML: "<p>tiny</p>"}); err == nil {
		t.Fatal("expected minimum length error")
	}
}

func TestReadabilityEngine_LongArticle(t *testing.T) {
	para := "The expedition reached the trench at dawn and the crew prepared the submersible for its first dive of the season. "
	var b strings.Builder
	b.WriteString(`<html><head><title>Deep Dive - Ocean News</title></head><body><nav><a href="/">Home</a></nav><article><h1>Deep Dive</h1>`)
	for i := 0; i < 12; i++ {
		b.WriteString("<p>" + para + para + "</p>")
	}
	b.WriteString(`</article><footer>About us</footer></body></html>`)

	cand, err := readabilityEngine{h: DefaultHeuristics()}.Extract(context.Background(), Page{URL: "https://news.example.com/deep", HTML: b.String()})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(cand.Text, "The expedition reached the trench") {
		t.Fatalf("readability text missing body: %q", cand.Text)
	}
	if strings.Contains(cand.Text, "About us") {
		t.Fatalf("footer leaked")
	}
}

func TestReadingTime(t *testing.T) {
	cases := map[string]int{
		"":                           1,
		"one two":                    1,
		strings.Repeat("w ", 400):    2,
		strings.Repeat("w ", 1000):   5,
		strings.Repeat("w ", 1099):   5,
	}
	for in, want := range cases {
		if got := ReadingTime(in); got != want {
			t.Fatalf("ReadingTime(%d words) = %d, want %d", len(strings.Fields(in)), got, want)
		}
	}
}

func TestDomain(t *testing.T) {
	cases := map[string]string{
		"https://www.NYTimes.com/2024/a.html": "nytimes.com",
		"http://example.com:8080/x":           "example.com",
		"::bad":                               "",
	}
	for in, want := range cases {
		if got := Domain(in); got != want {
			t.Fatalf("Domain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPageMetadata_OpenGraphThenFallbacks(t *testing.T) {
	html := `<html><head>
	  <meta property="og:type" content="article">
	  <meta property="og:title" content="OG Title">
	  <meta property="og:site_name" content="Ocean News">
	  <meta property="og:image" content="https://img.example.com/a.jpg">
	  <meta name="author" content="Ann Author">
	  <title>HTML Title</title></head><body><h1>Heading</h1></body></html>`
	md := PageMetadata(html)
	if md.Title != "OG Title" || md.SiteName != "Ocean News" || md.ImageURL != "https://img.example.com/a.jpg" {
		t.Fatalf("og metadata: %+v", md)
	}
	if md.Author != "Ann Author" {
		t.Fatalf("author fallback: %+v", md)
	}

	md = PageMetadata(`<html><head><title>Only Title</title></head><body></body></html>`)
	if md.Title != "Only Title" {
		t.Fatalf("title fallback: %+v", md)
	}
}

func TestOpenGraph_ArticleAuthors(t *testing.T) {
	html := `<html><head>
	  <meta property="og:type" content="article">
	  <meta property="og:title" content="Kelp Forests">
	  <meta property="article:author" content=" Ann Author ">
	  <meta property="article:author" content="">
	  <meta property="article:author" content="Bo Writer">
	  </head><body></body></html>`
	md := OpenGraph(html)
	if md.Author != "Ann Author, Bo Writer" {
		t.Fatalf("author = %q", md.Author)
	}
}
