package audio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/failure"
)

// Artifact is the finished narration.
type Artifact struct {
	Data        []byte
	Encoding    Encoding
	ContentType string
	Extension   string
	Duration    time.Duration
	Segments    int
	// Normalized reports whether a loudness pass ran. Ogg/Opus is chained
	// as-is because levelling it would need a decode and re-encode.
	Normalized bool
}

// Options tunes Stitch.
type Options struct {
	// Normalize evens out loudness between segments.
	Normalize bool
	// TargetDBFS is the RMS target for LINEAR16 segments. Zero means the
	// median segment level. MP3 segments always align to the median gain.
	TargetDBFS float64
}

// maxGainDB bounds the boost applied to a quiet WAV segment.
const maxGainDB = 20

// Stitch joins segments, which must all be enc, into one artifact.
func Stitch(segments [][]byte, enc Encoding, opts Options) (Artifact, error) {
	art := Artifact{Encoding: enc, ContentType: enc.ContentType(), Extension: enc.Extension(), Segments: len(segments)}
	if len(segments) == 0 {
		return art, invalid("no segments")
	}
	for i, seg := range segments {
		got, ok := Sniff(seg)
		if !ok {
			return art, invalid(fmt.Sprintf("segment %d has an unrecognized format", i))
		}
		if got != enc {
			return art, failure.New(failure.KindStitch, failure.StitchFormatMismatch, "audio.stitch",
				fmt.Sprintf("segment %d is %s, want %s", i, got, enc))
		}
	}

	var (
		err  error
		secs float64
	)
	switch enc {
	case Linear16:
		art.Data, secs, err = stitchWAV(segments, opts)
		art.Normalized = opts.Normalize
	case MP3:
		art.Data, secs, err = stitchMP3(segments, opts)
		art.Normalized = opts.Normalize
	case OggOpus:
		if opts.Normalize {
			log.Debug().Int("segments", len(segments)).Msg("ogg/opus segments chained without loudness normalization")
		}
		art.Data, secs, err = stitchOgg(segments)
	default:
		return art, failure.New(failure.KindStitch, failure.StitchFormatMismatch, "audio.stitch",
			fmt.Sprintf("unsupported encoding %q", enc))
	}
	if err != nil {
		return art, err
	}
	art.Duration = time.Duration(secs * float64(time.Second))
	return art, nil
}

// Join concatenates payloads of one encoding without loudness changes.
func Join(enc Encoding, parts ...[]byte) ([]byte, error) {
	if len(parts) == 1 {
		return parts[0], nil
	}
	art, err := Stitch(parts, enc, Options{})
	if err != nil {
		return nil, err
	}
	return art.Data, nil
}

func stitchWAV(segments [][]byte, opts Options) ([]byte, float64, error) {
	files := make([]wavFile, len(segments))
	for i, seg := range segments {
		w, err := parseWAV(seg)
		if err != nil {
			return nil, 0, err
		}
		if i > 0 && w.format != files[0].format {
			return nil, 0, failure.New(failure.KindStitch, failure.StitchFormatMismatch, "audio.stitch",
				fmt.Sprintf("segment %d format %+v differs from %+v", i, w.format, files[0].format))
		}
		files[i] = w
	}
	format := files[0].format

	if opts.Normalize && format.pcm16() {
		levels := make([]float64, len(files))
		voiced := make([]bool, len(files))
		var measured []float64
		for i, f := range files {
			levels[i], voiced[i] = levelDBFS(f.data)
			if voiced[i] {
				measured = append(measured, levels[i])
			}
		}
		if len(measured) > 0 {
			target := opts.TargetDBFS
			if target == 0 {
				target = median(measured)
			}
			for i := range files {
				if !voiced[i] {
					continue
				}
				diff := math.Min(target-levels[i], maxGainDB)
				if math.Abs(diff) < 0.1 {
					continue
				}
				files[i].data = applyGain(files[i].data, math.Pow(10, diff/20))
			}
			log.Debug().Float64("target_dbfs", target).Int("segments", len(files)).Msg("wav loudness normalized")
		}
	}

	var size int
	for _, f := range files {
		size += len(f.data)
	}
	data := make([]byte, 0, size)
	for _, f := range files {
		data = append(data, f.data...)
	}
	return encodeWAV(format, data), float64(len(data)) / float64(format.ByteRate), nil
}

func stitchMP3(segments [][]byte, opts Options) ([]byte, float64, error) {
	parsed := make([][]mp3Frame, len(segments))
	rate := 0
	for i, seg := range segments {
		frames, err := parseMP3(seg)
		if err != nil {
			return nil, 0, fmt.Errorf("segment %d: %w", i, err)
		}
		for _, f := range frames {
			if rate == 0 {
				rate = f.sampleRate
			}
			if f.sampleRate != rate {
				return nil, 0, failure.New(failure.KindStitch, failure.StitchFormatMismatch, "audio.stitch",
					fmt.Sprintf("segment %d sample rate %d differs from %d", i, f.sampleRate, rate))
			}
		}
		parsed[i] = frames
	}

	if opts.Normalize && len(parsed) > 1 {
		means := make([]float64, len(parsed))
		for i, frames := range parsed {
			means[i] = meanGain(frames)
		}
		ref := median(means)
		for i, frames := range parsed {
			delta := int(math.Round(ref - means[i]))
			if delta == 0 {
				continue
			}
			for _, f := range frames {
				f.shiftGain(delta)
			}
		}
		log.Debug().Float64("median_gain", ref).Int("segments", len(parsed)).Msg("mp3 global gain aligned")
	}

	var (
		out     []byte
		samples int
	)
	for _, frames := range parsed {
		for _, f := range frames {
			out = append(out, f.data...)
			samples += f.samples
		}
	}
	return out, float64(samples) / float64(rate), nil
}

// stitchOgg chains the segments' logical streams, giving every stream a
// distinct serial number.
func stitchOgg(segments [][]byte) ([]byte, float64, error) {
	var (
		out   []byte
		all   []oggPage
		next  uint32
		first = true
	)
	for i, seg := range segments {
		pages, err := parseOgg(seg)
		if err != nil {
			return nil, 0, fmt.Errorf("segment %d: %w", i, err)
		}
		if first {
			next = pages[0].serial
			first = false
		}
		remap := map[uint32]uint32{}
		for j := range pages {
			serial, ok := remap[pages[j].serial]
			if !ok {
				serial = next
				next++
				remap[pages[j].serial] = serial
			}
			if serial != pages[j].serial {
				pages[j].setSerial(serial)
			}
			out = append(out, pages[j].data...)
		}
		all = append(all, pages...)
	}
	return out, oggDuration(all), nil
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func invalid(msg string) error {
	return failure.New(failure.KindStitch, failure.StitchInvalidAudio, "audio.stitch", msg)
}
