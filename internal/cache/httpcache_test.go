package cache

import (
	"context"
	"testing"
	"time"
)

func TestHTTPCache_SaveLoad(t *testing.T) {
	c := &HTTPCache{Dir: t.TempDir()}
	ctx := context.Background()
	entry := HTTPEntry{URL: "https://example.com/a", FinalURL: "https://example.com/a/", ContentType: "text/html", ETag: `"v1"`}
	if err := c.Save(ctx, entry, []byte("<p>hi</p>")); err != nil {
		t.Fatalf("save: %v", err)
	}
	meta, err := c.LoadMeta(ctx, entry.URL)
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.ETag != `"v1"` || meta.FinalURL != "https://example.com/a/" || meta.SavedAt.IsZero() {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	body, err := c.LoadBody(ctx, entry.URL)
	if err != nil || string(body) != "<p>hi</p>" {
		t.Fatalf("body = %q, %v", body, err)
	}
	if _, err := c.LoadMeta(ctx, "https://example.com/missing"); err == nil {
		t.Fatal("expected miss")
	}
}

func TestHTTPCache_PurgeByAge(t *testing.T) {
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	ctx := context.Background()
	old := HTTPEntry{URL: "https://example.com/old", SavedAt: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := HTTPEntry{URL: "https://example.com/fresh"}
	if err := c.Save(ctx, old, []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(ctx, fresh, []byte("fresh")); err != nil {
		t.Fatal(err)
	}
	removed, err := PurgeHTTPCacheByAge(dir, 24*time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	if _, err := c.LoadBody(ctx, old.URL); err == nil {
		t.Fatal("old body should be gone")
	}
	if _, err := c.LoadBody(ctx, fresh.URL); err != nil {
		t.Fatalf("fresh body: %v", err)
	}
}

func TestClearDir(t *testing.T) {
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	if err := c.Save(context.Background(), HTTPEntry{URL: "https://x"}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := ClearDir(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadBody(context.Background(), "https://x"); err == nil {
		t.Fatal("expected empty cache after clear")
	}
	if err := ClearDir("  "); err == nil {
		t.Fatal("expected error for blank dir")
	}
}
