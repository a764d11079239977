package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/zissou/internal/cache"
	"github.com/hyperifyio/zissou/internal/failure"
)

func longArticle() string {
	return "<html><body><article><p>" + strings.Repeat("The reef is quiet this morning. ", 40) + "</p></article></body></html>"
}

func testClient() *Client {
	return &Client{
		UserAgent:         "zissou-test",
		MaxRetries:        3,
		BackoffFactor:     time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		PerRequestTimeout: 2 * time.Second,
	}
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(longArticle()))
	}))
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != 200 || res.Attempts != 1 || res.HTML == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.PossiblyTruncated {
		t.Fatalf("long article flagged as truncated")
	}
	if got := res.RequestHeaders.Get("User-Agent"); got != "zissou-test" {
		t.Fatalf("User-Agent = %q", got)
	}
	if res.RequestHeaders.Get("Cache-Control") != "no-cache" {
		t.Fatalf("missing Cache-Control")
	}
}

func TestFetch_503RetriedWithIncreasingBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient()
	var waits []time.Duration
	c.OnBackoff = func(_ int, wait time.Duration) { waits = append(waits, wait) }
	res, err := c.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected failure")
	}
	if failure.KindOf(err) != failure.KindFetch || failure.CodeOf(err) != failure.FetchHTTPStatus {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
	if res.Attempts != 4 {
		t.Fatalf("Attempts = %d", res.Attempts)
	}
	if len(waits) != 3 {
		t.Fatalf("waits = %v", waits)
	}
	for i := 1; i < len(waits); i++ {
		if waits[i] <= waits[i-1] {
			t.Fatalf("backoff not strictly increasing: %v", waits)
		}
	}
}

func TestFetch_RetryThenSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(longArticle()))
	}))
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("Attempts = %d", res.Attempts)
	}
}

func TestFetch_RetryAfterReplacesBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(longArticle()))
	}))
	defer srv.Close()

	c := testClient()
	var waits []time.Duration
	c.OnBackoff = func(_ int, wait time.Duration) { waits = append(waits, wait) }
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if len(waits) != 1 || waits[0] != c.MaxBackoff {
		t.Fatalf("Retry-After should be capped at MaxBackoff, waits=%v", waits)
	}
}

func TestFetch_4xxNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().Fetch(context.Background(), srv.URL)
	if failure.CodeOf(err) != failure.FetchHTTPStatus || failure.IsTransient(err) {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestFetch_RotatesHeadersByAttempt(t *testing.T) {
	var mu sync.Mutex
	var langs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		langs = append(langs, r.Header.Get("Accept-Language"))
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient()
	c.MaxRetries = 2
	_, _ = c.Fetch(context.Background(), srv.URL)
	want := DefaultAcceptLanguages
	if len(langs) != 3 {
		t.Fatalf("langs = %v", langs)
	}
	for i := range langs {
		if langs[i] != want[i] {
			t.Fatalf("attempt %d Accept-Language = %q, want %q", i+1, langs[i], want[i])
		}
	}
}

func TestFetch_ProfileHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://news.google.com/" || r.Header.Get("Accept-Language") != "en;q=0.7" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(longArticle()))
	}))
	defer srv.Close()

	p := Profile{Referer: "https://news.google.com/", AcceptLanguage: "en;q=0.7"}
	if _, err := testClient().FetchWithProfile(context.Background(), srv.URL, p); err != nil {
		t.Fatal(err)
	}
}

func TestFetch_Conditional304_UsesCache(t *testing.T) {
	var calls int32
	etag := `"abc123"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/html")
		if n == 1 {
			w.Header().Set("ETag", etag)
			_, _ = w.Write([]byte("first"))
			return
		}
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		fmt.Fprintln(w, "unexpected")
	}))
	defer srv.Close()

	c := testClient()
	c.Cache = &cache.HTTPCache{Dir: t.TempDir()}

	r1, err := c.Fetch(context.Background(), srv.URL)
	if err != nil || r1.HTML != "first" {
		t.Fatalf("first fetch: %q %v", r1.HTML, err)
	}
	if !r1.PossiblyTruncated {
		t.Fatalf("tiny body should be flagged as truncated")
	}
	r2, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if r2.HTML != "first" || !r2.FromCache {
		t.Fatalf("expected cached body, got %+v", r2)
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"file:///etc/hosts", "ftp://example.com/x", "not a url", "https://"} {
		_, err := testClient().Fetch(context.Background(), u)
		if failure.CodeOf(err) != failure.FetchInvalidURL {
			t.Fatalf("%q: expected fetch-invalid-url, got %v", u, err)
		}
	}
}

func TestFetch_ContentTypeGating(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := testClient()
	_, err := c.Fetch(context.Background(), srv.URL)
	if failure.CodeOf(err) != failure.FetchUnsupportedContent {
		t.Fatalf("expected unsupported content, got %v", err)
	}
	c.AllowJSON = true
	res, err := c.Fetch(context.Background(), srv.URL)
	if err != nil || res.HTML != `{"ok":true}` {
		t.Fatalf("AllowJSON fetch: %q %v", res.HTML, err)
	}
	if res.PossiblyTruncated {
		t.Fatalf("JSON bodies are not checked for truncation")
	}
}

func TestFetch_RedirectLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testClient()
	c.RedirectMaxHops = 1
	_, err := c.Fetch(context.Background(), srv.URL)
	if err == nil || failure.IsTransient(err) {
		t.Fatalf("expected permanent redirect error, got %v", err)
	}
}

func TestFetch_FinalURLAfterRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/story", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(longArticle()))
	}))
	defer srv.Close()

	res, err := testClient().Fetch(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if res.FinalURL != srv.URL+"/story" {
		t.Fatalf("FinalURL = %q", res.FinalURL)
	}
}

func TestFetch_MaxConcurrent(t *testing.T) {
	var inFlight, maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr <= prev || atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := testClient()
	c.MaxConcurrent = 2

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Fetch(context.Background(), srv.URL)
		}()
	}
	close(start)
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", maxObserved)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"soon", 0},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tc := range cases {
		if got := parseRetryAfter(tc.in, now); got != tc.want {
			t.Fatalf("parseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
