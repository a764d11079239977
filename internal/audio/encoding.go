// Package audio joins per-chunk synthesis output into one artifact and
// evens out loudness between segments.
package audio

import (
	"fmt"
	"strings"
)

// Encoding names a synthesis output format using the Cloud TTS enum names.
type Encoding string

const (
	MP3      Encoding = "MP3"
	OggOpus  Encoding = "OGG_OPUS"
	Linear16 Encoding = "LINEAR16"
)

// Encodings lists the supported encodings.
var Encodings = []Encoding{MP3, OggOpus, Linear16}

// ParseEncoding accepts the enum names case-insensitively, plus the file
// extensions mp3, ogg, opus and wav.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MP3":
		return MP3, nil
	case "OGG_OPUS", "OGG", "OPUS":
		return OggOpus, nil
	case "LINEAR16", "WAV", "PCM":
		return Linear16, nil
	}
	return "", fmt.Errorf("unsupported audio encoding %q", s)
}

// ContentType is the MIME type of a finished artifact.
func (e Encoding) ContentType() string {
	switch e {
	case OggOpus:
		return "audio/ogg"
	case Linear16:
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}

// Extension is the file extension without the dot.
func (e Encoding) Extension() string {
	switch e {
	case OggOpus:
		return "ogg"
	case Linear16:
		return "wav"
	default:
		return "mp3"
	}
}

// Sniff guesses the encoding of a payload from its leading bytes.
func Sniff(b []byte) (Encoding, bool) {
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return Linear16, true
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return OggOpus, true
	case len(b) >= 3 && string(b[0:3]) == "ID3":
		return MP3, true
	case len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return MP3, true
	}
	return "", false
}
