package extract

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

// articleEngine walks the parsed DOM, preferring <main> or <article> and
// falling back to <body>. Headings become "## " lines and list items "- "
// lines; navigation, footers and consent banners are skipped.
type articleEngine struct{}

func (articleEngine) Name() string { return EngineArticle }

func (articleEngine) Extract(_ context.Context, page Page) (Candidate, error) {
	root, err := html.Parse(strings.NewReader(page.HTML))
	if err != nil {
		return Candidate{}, err
	}
	content := findFirst(root, "main")
	if content == nil {
		content = findFirst(root, "article")
	}
	if content == nil {
		content = findFirst(root, "body")
	}
	if content == nil {
		return Candidate{}, errNoContent
	}
	var b strings.Builder
	collectText(&b, content, false)
	return Candidate{
		Text:     b.String(),
		Metadata: Metadata{Title: strings.TrimSpace(findTitle(root))},
	}, nil
}

func findTitle(n *html.Node) string {
	head := findFirst(n, "head")
	if head == nil {
		return ""
	}
	t := findFirst(head, "title")
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		if isBoilerplateContainer(n) {
			return
		}
		switch strings.ToLower(n.Data) {
		case "script", "style", "noscript", "template", "nav", "header", "footer", "aside", "iframe", "form", "button", "figure":
			return
		case "pre":
			inPre = true
			b.WriteString("\n\n")
		case "br":
			b.WriteString("\n")
		case "p", "div", "section", "blockquote", "ul", "ol", "table", "tr":
			b.WriteString("\n")
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n## ")
		case "li":
			b.WriteString("\n- ")
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.Join(strings.Fields(data), " ")
			if data != "" && hasLeadingSpace(n.Data) {
				data = " " + data
			}
			if data != "" && hasTrailingSpace(n.Data) {
				data += " "
			}
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote", "ul", "ol", "table":
			b.WriteString("\n\n")
		case "li", "tr", "div", "section":
			b.WriteString("\n")
		}
	}
}

func hasLeadingSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func hasTrailingSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}

// isBoilerplateContainer returns true if the element looks like a
// cookie/consent banner, share bar or newsletter box.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		if containsAny(val, []string{"cookie", "consent", "gdpr", "newsletter", "share-bar", "social-share"}) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
