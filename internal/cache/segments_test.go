package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSegmentCache_SaveGet(t *testing.T) {
	c := &SegmentCache{Dir: t.TempDir()}
	ctx := context.Background()
	key := SegmentKey("google", "en-US-Neural2-F", "MP3", "<speak>hi</speak>")
	if _, ok, err := c.Get(ctx, key); ok || err != nil {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := c.Save(ctx, key, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || len(got) != 3 {
		t.Fatalf("get: %v ok=%v len=%d", err, ok, len(got))
	}
}

func TestSegmentKey_VariesByVoiceAndEncoding(t *testing.T) {
	a := SegmentKey("google", "v1", "MP3", "text")
	if a == SegmentKey("google", "v2", "MP3", "text") || a == SegmentKey("google", "v1", "LINEAR16", "text") {
		t.Fatal("keys must differ")
	}
	if SegmentKey("ab", "c", "", "") == SegmentKey("a", "bc", "", "") {
		t.Fatal("parts must be delimited")
	}
}

func TestSegmentCache_SkipsEmptyAudio(t *testing.T) {
	c := &SegmentCache{Dir: t.TempDir()}
	if err := c.Save(context.Background(), "k", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(context.Background(), "k"); ok {
		t.Fatal("empty audio must not be cached")
	}
}

func TestEnforceSegmentLimits(t *testing.T) {
	dir := t.TempDir()
	c := &SegmentCache{Dir: dir}
	ctx := context.Background()
	keys := []string{"a", "b", "c"}
	base := time.Now().Add(-time.Hour)
	for i, k := range keys {
		if err := c.Save(ctx, k, []byte("0123456789")); err != nil {
			t.Fatal(err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(filepath.Join(dir, k+segmentExt), mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	// A hit makes "a" the most recently used.
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatal("expected hit")
	}
	removed, err := EnforceSegmentLimits(dir, 0, 2)
	if err != nil || removed != 1 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatal("expected b evicted")
	}
	removed, err = EnforceSegmentLimits(dir, 10, 0)
	if err != nil || removed != 1 {
		t.Fatalf("byte limit: removed=%d err=%v", removed, err)
	}
}

func TestPurgeSegmentsByAge(t *testing.T) {
	dir := t.TempDir()
	c := &SegmentCache{Dir: dir}
	if err := c.Save(context.Background(), "old", []byte("x")); err != nil {
		t.Fatal(err)
	}
	mt := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old"+segmentExt), mt, mt); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(context.Background(), "new", []byte("y")); err != nil {
		t.Fatal(err)
	}
	removed, err := PurgeSegmentsByAge(dir, 24*time.Hour)
	if err != nil || removed != 1 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
}
