package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

const segmentExt = ".seg"

// SegmentCache stores synthesized audio for one chunk. Entries are keyed by
// everything that changes the audio: backend, voice, encoding and payload.
type SegmentCache struct {
	Dir         string
	StrictPerms bool
}

// SegmentKey builds the cache key for one synthesis request.
func SegmentKey(backend, voice, encoding, payload string) string {
	return digest(backend, voice, encoding, payload)
}

func (c *SegmentCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	return ensureDir(c.Dir, c.StrictPerms)
}

func (c *SegmentCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+segmentExt)
}

// Get returns cached audio if present. A hit refreshes the entry's mtime so
// EnforceSegmentLimits evicts least recently used entries first.
func (c *SegmentCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.ensureDir(); err != nil {
		return nil, false, err
	}
	p := c.pathFor(key)
	b, err := os.ReadFile(p)
	if err != nil || len(b) == 0 {
		return nil, false, nil
	}
	now := time.Now()
	_ = os.Chtimes(p, now, now)
	return b, true, nil
}

// Save writes audio to the cache. Empty audio is never stored.
func (c *SegmentCache) Save(_ context.Context, key string, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	if err := c.ensureDir(); err != nil {
		return err
	}
	return writeAtomic(c.pathFor(key), audio, fileMode(c.StrictPerms))
}
