package fetch

import (
	"strings"
	"testing"
)

func TestHeaderProfiles_DefaultOrderAndLimit(t *testing.T) {
	c := &Client{}
	got := c.HeaderProfiles()
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	want := []Profile{
		{Referer: "https://news.google.com/", AcceptLanguage: "en-US,en;q=0.9"},
		{Referer: "https://news.google.com/", AcceptLanguage: "en-GB,en;q=0.8"},
		{Referer: "https://news.google.com/", AcceptLanguage: "en;q=0.7"},
		{Referer: "https://www.facebook.com/", AcceptLanguage: "en-US,en;q=0.9"},
		{Referer: "https://www.facebook.com/", AcceptLanguage: "en-GB,en;q=0.8"},
		{Referer: "https://www.facebook.com/", AcceptLanguage: "en;q=0.7"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("profile %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHeaderProfiles_DedupAndTail(t *testing.T) {
	c := &Client{
		AcceptLanguages:    []string{"fi", "fi"},
		Referers:           []string{"https://r/"},
		HybridProfileLimit: 10,
	}
	got := c.HeaderProfiles()
	want := []Profile{
		{Referer: "https://r/", AcceptLanguage: "fi"},
		{AcceptLanguage: "fi"},
		{Referer: "https://r/"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("profile %d = %+v", i, got[i])
		}
	}
	if (&Client{HybridProfileLimit: -1}).HeaderProfiles() != nil {
		t.Fatal("negative limit disables profiles")
	}
}

func TestTruncation_Likely(t *testing.T) {
	tr := Truncation{MinLength: 20}
	cases := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"short", true},
		{strings.Repeat("a", 25), false},
		{strings.Repeat("a", 25) + " Subscribe to read the rest", true},
		{strings.Repeat("ä", 20), false},
	}
	for _, tc := range cases {
		if got := tr.Likely(tc.in); got != tc.want {
			t.Fatalf("Likely(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if !(Truncation{}).Likely(strings.Repeat("x", 499)) {
		t.Fatal("default minimum is 500")
	}
}

func TestVisibleText(t *testing.T) {
	got := VisibleText("<html><head><style>p{}</style></head><body><script>var x</script><p>Hello</p>\n<p>world</p></body></html>")
	if got != "Hello world" {
		t.Fatalf("VisibleText = %q", got)
	}
}
