// Package chunk splits normalized text into pieces that fit a synthesis
// request, measured in UTF-8 bytes.
package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/failure"
)

// Chunk is one synthesis unit. Bytes is len(Text) and never exceeds the
// limit it was split with. Markup holds the request payload when a
// FragmentBuilder produced one; BreakAfter is what it was built with.
type Chunk struct {
	Index      int
	Bytes      int
	Text       string
	Markup     string
	BreakAfter bool
}

// Payload returns the text to send to a backend and whether it is markup.
func (c Chunk) Payload() (string, bool) {
	if c.Markup != "" {
		return c.Markup, true
	}
	return c.Text, false
}

// Limits describes the synthesis request budget.
type Limits struct {
	RequestLimit int
	SafetyMargin int
	MaxChunk     int
	MinChunk     int
}

// DefaultLimits matches the Google Cloud TTS request limit of 5000 bytes.
func DefaultLimits() Limits {
	return Limits{RequestLimit: 5000, SafetyMargin: 400, MaxChunk: 4800, MinChunk: 600}
}

// Effective returns the chunk size to split with.
func (l Limits) Effective() int {
	return max(l.MinChunk, min(l.MaxChunk, max(256, l.RequestLimit-l.SafetyMargin)))
}

var blockSep = regexp.MustCompile(`(?:\r?\n\s*){2,}`)

// Split packs text into chunks of at most maxBytes. Paragraph blocks are
// packed greedily and joined with a blank line; a block that does not fit
// is split at sentence ends, then at words, then at rune boundaries.
func Split(text string, maxBytes int) ([]Chunk, error) {
	if maxBytes < utf8.UTFMax {
		return nil, failure.New(failure.KindChunking, failure.ChunkingUnsplittable, "chunk.split",
			"byte limit is smaller than one UTF-8 rune")
	}
	var parts []string
	acc := ""
	flush := func() {
		if acc != "" {
			parts = append(parts, acc)
			acc = ""
		}
	}
	for _, block := range blocks(text) {
		if len(block) <= maxBytes {
			switch {
			case acc == "":
				acc = block
			case len(acc)+2+len(block) <= maxBytes:
				acc += "\n\n" + block
			default:
				flush()
				acc = block
			}
			continue
		}
		flush()
		parts = append(parts, splitSentences(block, maxBytes)...)
	}
	flush()

	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, Chunk{Index: len(chunks), Bytes: len(p), Text: p})
	}
	return chunks, nil
}

func blocks(text string) []string {
	var out []string
	for _, b := range blockSep.Split(text, -1) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// sentences splits after '.', '!' or '?' when followed by whitespace. The
// punctuation stays with the sentence it ends.
func sentences(block string) []string {
	var out []string
	start := 0
	for i := 0; i < len(block); i++ {
		c := block[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(block) {
			r, size := utf8.DecodeRuneInString(block[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if j == i+1 || j >= len(block) {
			continue
		}
		if s := strings.TrimSpace(block[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(block[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func splitSentences(block string, maxBytes int) []string {
	var out []string
	acc := ""
	for _, s := range sentences(block) {
		if len(s) > maxBytes {
			if acc != "" {
				out = append(out, acc)
				acc = ""
			}
			out = append(out, splitWords(s, maxBytes)...)
			continue
		}
		switch {
		case acc == "":
			acc = s
		case len(acc)+1+len(s) <= maxBytes:
			acc += " " + s
		default:
			out = append(out, acc)
			acc = s
		}
	}
	if acc != "" {
		out = append(out, acc)
	}
	return out
}

func splitWords(sentence string, maxBytes int) []string {
	var out []string
	acc := ""
	for _, w := range strings.Fields(sentence) {
		if acc != "" && len(acc)+1+len(w) <= maxBytes {
			acc += " " + w
			continue
		}
		if acc != "" {
			out = append(out, acc)
			acc = ""
		}
		if len(w) <= maxBytes {
			acc = w
			continue
		}
		out = append(out, splitRunes(w, maxBytes)...)
	}
	if acc != "" {
		out = append(out, acc)
	}
	return out
}

// splitRunes cuts s into pieces of at most maxBytes on rune boundaries.
func splitRunes(s string, maxBytes int) []string {
	var out []string
	start := 0
	for i, r := range s {
		if i+utf8.RuneLen(r)-start > maxBytes {
			out = append(out, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// FragmentBuilder renders chunk text as a request payload. breakAfter is set
// for the last chunk of a section that should end with a pause.
type FragmentBuilder func(text string, breakAfter bool) string

// Fragments splits text at limits.Effective() and renders each chunk with
// build. When a rendered payload exceeds RequestLimit the split target
// shrinks in steps of max(128, target/5) until it reaches the floor.
func Fragments(text string, build FragmentBuilder, breakAfter bool, limits Limits) ([]Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	target := limits.Effective()
	floor := max(128, min(target, limits.MinChunk))
	for {
		chunks, err := Split(text, target)
		if err != nil {
			return nil, err
		}
		oversize := 0
		for i := range chunks {
			brk := breakAfter && i == len(chunks)-1
			markup := build(chunks[i].Text, brk)
			if limits.RequestLimit > 0 && len(markup) > limits.RequestLimit {
				oversize = len(markup)
				break
			}
			chunks[i].Markup = markup
			chunks[i].BreakAfter = brk
		}
		if oversize == 0 {
			return chunks, nil
		}
		if target <= floor {
			return nil, failure.New(failure.KindChunking, failure.ChunkingUnsplittable, "chunk.fragments",
				"rendered fragment exceeds the request limit even at the minimum chunk size")
		}
		prior := target
		target = max(floor, target-max(128, target/5))
		log.Warn().Int("from", prior).Int("to", target).Int("markup_bytes", oversize).Msg("reducing chunk size after markup expansion")
	}
}

// Reindex renumbers chunks from zero. Used after concatenating sections.
func Reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

// Halve splits text into two non-empty halves, preferring the whitespace
// nearest the middle and falling back to the nearest rune boundary. Text of
// at most minBytes is not split.
func Halve(text string, minBytes int) (string, string, error) {
	text = strings.TrimSpace(text)
	if len(text) <= minBytes || utf8.RuneCountInString(text) < 2 {
		return "", "", failure.New(failure.KindChunking, failure.ChunkingUnsplittable, "chunk.halve",
			"chunk is already at the minimum size")
	}
	mid := len(text) / 2
	for d := 0; d <= mid; d++ {
		for _, i := range []int{mid - d, mid + d} {
			if i <= 0 || i >= len(text) || !isASCIISpace(text[i]) {
				continue
			}
			left, right := strings.TrimSpace(text[:i]), strings.TrimSpace(text[i:])
			if left != "" && right != "" {
				return left, right, nil
			}
		}
	}
	for mid > 0 && !utf8.RuneStart(text[mid]) {
		mid--
	}
	if mid == 0 {
		_, size := utf8.DecodeRuneInString(text)
		mid = size
	}
	return text[:mid], text[mid:], nil
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
