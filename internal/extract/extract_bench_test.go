package extract

import (
	"context"
	"strings"
	"testing"
)

func BenchmarkCascade(b *testing.B) {
	c := NewCascade(DefaultEngines(DefaultHeuristics()), Config{})
	small := "<html><head><title>t</title></head><body><main><p>a</p></main></body></html>"
	medium := makeHTML(50, 60)
	large := makeHTML(200, 200)

	for _, tc := range []struct {
		name string
		html string
	}{{"small", small}, {"medium", medium}, {"large", large}} {
		b.Run(tc.name, func(b *testing.B) {
			page := Page{URL: "https://bench.example/a", HTML: tc.html}
			for i := 0; i < b.N; i++ {
				_, _ = c.Run(context.Background(), page)
			}
		})
	}
}

func makeHTML(paras int, itemsPerList int) string {
	builder := new(strings.Builder)
	builder.WriteString("<html><head><title>demo</title></head><body><main>")
	for i := 0; i < paras; i++ {
		builder.WriteString("<h2>Heading</h2><p>")
		builder.WriteString(sampleText)
		builder.WriteString("</p>")
	}
	builder.WriteString("<ul>")
	for i := 0; i < itemsPerList; i++ {
		builder.WriteString("<li>")
		builder.WriteString(sampleText)
		builder.WriteString("</li>")
	}
	builder.WriteString("</ul></main></body></html>")
	return builder.String()
}

const sampleText = "Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua."
