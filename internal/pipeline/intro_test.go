package pipeline

import (
	"testing"
	"time"
)

func TestNarrationIntro(t *testing.T) {
	published := time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name, title, author, url string
		published              *time.Time
		want                   string
	}{
		{
			"everything", "The Quiet Reef", "Ada Diver", "https://www.example.com/reef", &published,
			`Today's feature is "The Quiet Reef". It comes to us from example.com. Written by Ada Diver. ` +
				`Originally published on March 5, 2024. Take a moment to get comfortable. Here is the article.`,
		},
		{
			"unknown author and no date", "", "Unknown", "https://news.example.org/a", nil,
			`Today's feature is "Untitled". It comes to us from news.example.org. ` +
				`Take a moment to get comfortable. Here is the article.`,
		},
		{
			"n/a author", "Tides", "N/A", "", nil,
			`Today's feature is "Tides". Take a moment to get comfortable. Here is the article.`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NarrationIntro(tc.title, tc.author, tc.url, tc.published); got != tc.want {
				t.Fatalf("got  %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestParsePublished(t *testing.T) {
	cases := map[string]string{
		"2024-03-05T10:00:00Z":            "2024-03-05",
		"2024-03-05":                      "2024-03-05",
		"Tue, 05 Mar 2024 10:00:00 +0000": "2024-03-05",
		"March 5, 2024":                   "2024-03-05",
	}
	for in, want := range cases {
		got := ParsePublished(in)
		if got == nil || got.Format("2006-01-02") != want {
			t.Errorf("ParsePublished(%q) = %v, want %s", in, got, want)
		}
	}
	for _, in := range []string{"", "   ", "not a date"} {
		if got := ParsePublished(in); got != nil {
			t.Errorf("ParsePublished(%q) = %v, want nil", in, got)
		}
	}
}
