package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_PrintsAttempts(t *testing.T) {
	page := `<html><head><title>Harbor Notes</title><meta property="og:title" content="Harbor Notes"></head><body><article>` +
		strings.Repeat("<p>"+strings.Repeat("Gulls circle the harbor while the ferry loads. ", 8)+"</p>", 8) +
		"</article></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var out bytes.Buffer
	code := run([]string{
		"-env", filepath.Join(dir, "none.env"),
		"-cache.dir", "",
		"-out", filepath.Join(dir, "out"),
		"-archive.disable",
		srv.URL + "/harbor",
	}, &out, &bytes.Buffer{})
	if code != 0 {
		t.Fatalf("exit = %d\n%s", code, out.String())
	}
	s := out.String()
	for _, want := range []string{"title: Harbor Notes", "via: direct", "readability", "FETCHING"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
}
