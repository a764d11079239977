package app

import (
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 60

func slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = "article"
	}
	return s
}

// outputBase returns the extension-less output path for one URL. The name
// is a slug of the title (or the URL path) plus a short hash of the URL, so
// reruns overwrite their own files and distinct URLs never collide.
func outputBase(outDir, rawURL, title string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = u.Host + " " + u.Path
		} else {
			name = rawURL
		}
	}
	hash := computeSHA256Hex(strings.TrimSpace(rawURL))
	return filepath.Join(outDir, slugify(name)+"-"+hash[:12])
}
