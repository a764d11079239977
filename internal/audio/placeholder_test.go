package audio

import (
	"testing"
	"time"
)

func TestPlaceholder_StitchesCleanly(t *testing.T) {
	for _, enc := range []Encoding{Linear16, MP3} {
		a, err := Placeholder(enc, time.Second)
		if err != nil {
			t.Fatalf("%s: %v", enc, err)
		}
		if got, ok := Sniff(a); !ok || got != enc {
			t.Fatalf("%s sniffed as %q", enc, got)
		}
		art, err := Stitch([][]byte{a, a}, enc, Options{Normalize: true})
		if err != nil {
			t.Fatalf("%s stitch: %v", enc, err)
		}
		if !art.Normalized {
			t.Fatalf("%s: normalize requested but not applied", enc)
		}
		if art.Duration < 1900*time.Millisecond || art.Duration > 2100*time.Millisecond {
			t.Fatalf("%s duration = %v", enc, art.Duration)
		}
	}
	if _, err := Placeholder(OggOpus, time.Second); err == nil {
		t.Fatal("ogg placeholder should be refused")
	}
}
