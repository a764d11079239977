package synth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/cache"
	"github.com/hyperifyio/zissou/internal/chunk"
	"github.com/hyperifyio/zissou/internal/failure"
)

type classedErr struct{ class Class }

func (e classedErr) Error() string { return "fake " + e.class.String() }

// fakeBackend fails the first failures[text] calls for a payload with
// failClass, rejects payloads over maxBytes as too long and otherwise
// returns audio derived from the payload.
type fakeBackend struct {
	mu        sync.Mutex
	calls     map[string]int
	requests  []Request
	failures  map[string]int
	failClass Class
	maxBytes  int
	empty     bool
	delay     func() time.Duration
	render    func(payload string) []byte
}

func newFake() *fakeBackend {
	return &fakeBackend{calls: map[string]int{}, failures: map[string]int{}, failClass: ClassTransient}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if f.delay != nil {
		time.Sleep(f.delay())
	}
	f.mu.Lock()
	f.calls[req.Text]++
	n := f.calls[req.Text]
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.maxBytes > 0 && len(req.Text) > f.maxBytes {
		return nil, classedErr{ClassTooLong}
	}
	if n <= f.failures[req.Text] {
		return nil, classedErr{f.failClass}
	}
	if f.empty {
		return nil, nil
	}
	if f.render != nil {
		return f.render(req.Text), nil
	}
	return []byte("audio:" + req.Text), nil
}

func (f *fakeBackend) Classify(err error) Class {
	var ce classedErr
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassUnknown
}

func (f *fakeBackend) callCount(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func textChunks(texts ...string) []chunk.Chunk {
	out := make([]chunk.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunk.Chunk{Index: i, Bytes: len(t), Text: t}
	}
	return out
}

func newClient(b Backend) *Client {
	return &Client{
		Backend:        b,
		Voice:          "captains-log",
		Encoding:       audio.MP3,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Workers:        2,
	}
}

func TestSynthesizeAll_TransientFailuresRetriedLocally(t *testing.T) {
	fb := newFake()
	fb.failures["second"] = 2
	segs, err := newClient(fb).SynthesizeAll(context.Background(), textChunks("first", "second", "third"))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %d", len(segs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if string(segs[i].Audio) != "audio:"+want || segs[i].Index != i {
			t.Fatalf("segment %d = %q", i, segs[i].Audio)
		}
	}
	if fb.callCount("second") != 3 {
		t.Fatalf("second chunk calls = %d, want 3", fb.callCount("second"))
	}
	if fb.callCount("first") != 1 || fb.callCount("third") != 1 {
		t.Fatalf("other chunks re-invoked: first=%d third=%d", fb.callCount("first"), fb.callCount("third"))
	}
}

func TestSynthesizeAll_PermanentErrorFailsFast(t *testing.T) {
	fb := newFake()
	fb.failClass = ClassPermanent
	fb.failures["bad"] = 10
	_, err := newClient(fb).SynthesizeAll(context.Background(), textChunks("bad"))
	if failure.CodeOf(err) != failure.SynthesisInvalidInput {
		t.Fatalf("code = %q (%v)", failure.CodeOf(err), err)
	}
	if failure.IsTransient(err) {
		t.Fatalf("permanent error marked transient")
	}
	if fb.callCount("bad") != 1 {
		t.Fatalf("calls = %d", fb.callCount("bad"))
	}
}

func TestSynthesizeAll_ExhaustedRetries(t *testing.T) {
	cases := []struct {
		class Class
		code  failure.Code
	}{
		{ClassTransient, failure.SynthesisTransient},
		{ClassQuota, failure.SynthesisQuotaExceeded},
		{ClassUnknown, failure.SynthesisTransient},
	}
	for _, tc := range cases {
		t.Run(tc.class.String(), func(t *testing.T) {
			fb := newFake()
			fb.failClass = tc.class
			fb.failures["x"] = 10
			_, err := newClient(fb).SynthesizeAll(context.Background(), textChunks("x"))
			if failure.CodeOf(err) != tc.code {
				t.Fatalf("code = %q (%v)", failure.CodeOf(err), err)
			}
			if fb.callCount("x") != 3 {
				t.Fatalf("calls = %d, want 3", fb.callCount("x"))
			}
		})
	}
}

func TestSynthesizeAll_EmptyAudio(t *testing.T) {
	fb := newFake()
	fb.empty = true
	_, err := newClient(fb).SynthesizeAll(context.Background(), textChunks("quiet"))
	if failure.CodeOf(err) != failure.SynthesisEmptyAudio {
		t.Fatalf("code = %q", failure.CodeOf(err))
	}
	if fb.callCount("quiet") != 1 {
		t.Fatalf("calls = %d", fb.callCount("quiet"))
	}
}

func TestSynthesizeAll_PreservesOrderWithWorkers(t *testing.T) {
	fb := newFake()
	rng := rand.New(rand.NewSource(1))
	var mu sync.Mutex
	fb.delay = func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Intn(5)) * time.Millisecond
	}
	var texts []string
	for i := 0; i < 12; i++ {
		texts = append(texts, fmt.Sprintf("chunk-%02d", i))
	}
	c := newClient(fb)
	c.Workers = 4
	segs, err := c.SynthesizeAll(context.Background(), textChunks(texts...))
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != len(texts) {
		t.Fatalf("segment count %d != chunk count %d", len(segs), len(texts))
	}
	for i, s := range segs {
		if string(s.Audio) != "audio:"+texts[i] {
			t.Fatalf("segment %d out of order: %q", i, s.Audio)
		}
	}
}

// wavOf wraps payload bytes as 8 kHz mono PCM so halves can be joined.
func wavOf(payload string) []byte {
	data := []byte(payload)
	if len(data)%2 == 1 {
		data = append(data, ' ')
	}
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(data)))
	out = append(out, "WAVEfmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint32(out, 8000)
	out = binary.LittleEndian.AppendUint32(out, 16000)
	out = binary.LittleEndian.AppendUint16(out, 2)
	out = binary.LittleEndian.AppendUint16(out, 16)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(data)))
	return append(out, data...)
}

func TestSynthesizeAll_HalvesTooLongChunks(t *testing.T) {
	fb := newFake()
	fb.maxBytes = 60
	fb.render = wavOf
	text := strings.TrimSpace(strings.Repeat("narration words ", 12))
	c := newClient(fb)
	c.Encoding = audio.Linear16
	c.MinChunkBytes = 16
	segs, err := c.SynthesizeAll(context.Background(), textChunks(text))
	if err != nil {
		t.Fatal(err)
	}
	if segs[0].Parts < 4 {
		t.Fatalf("parts = %d, want at least 4", segs[0].Parts)
	}
	if enc, ok := audio.Sniff(segs[0].Audio); !ok || enc != audio.Linear16 {
		t.Fatalf("joined segment is not WAV")
	}
	if got := strings.Count(string(segs[0].Audio), "RIFF"); got != 1 {
		t.Fatalf("joined segment has %d RIFF headers", got)
	}
	for _, word := range []string{"narration", "words"} {
		if !strings.Contains(string(segs[0].Audio), word) {
			t.Fatalf("joined audio lost %q", word)
		}
	}
}

func TestSynthesizeAll_HalvesRebuildMarkup(t *testing.T) {
	fb := newFake()
	fb.maxBytes = 200
	fb.render = wavOf
	text := strings.TrimSpace(strings.Repeat("Sentence about the sea. ", 10))
	ch := chunk.Chunk{Index: 0, Bytes: len(text), Text: text, Markup: chunk.SSML(text, true), BreakAfter: true}
	c := newClient(fb)
	c.Encoding = audio.Linear16
	c.Rebuild = chunk.SSML
	c.MinChunkBytes = 32
	if _, err := c.SynthesizeAll(context.Background(), []chunk.Chunk{ch}); err != nil {
		t.Fatal(err)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var accepted []Request
	for _, r := range fb.requests {
		if !r.SSML || !strings.HasPrefix(r.Text, "<speak>") {
			t.Fatalf("half sent without markup: %q", r.Text)
		}
		if len(r.Text) <= fb.maxBytes {
			accepted = append(accepted, r)
		}
	}
	if len(accepted) < 2 {
		t.Fatalf("accepted requests = %d", len(accepted))
	}
	last := accepted[len(accepted)-1].Text
	if !strings.HasSuffix(last, `<break time="500ms"/></speak>`) {
		t.Fatalf("last half lost its trailing break: %q", last)
	}
	if strings.Contains(accepted[0].Text, `<break time="500ms"/>`) {
		t.Fatalf("first half carries the trailing break: %q", accepted[0].Text)
	}
}

func TestSynthesizeAll_TooLongAtFloorFails(t *testing.T) {
	fb := newFake()
	fb.maxBytes = 2
	c := newClient(fb)
	c.MinChunkBytes = 64
	_, err := c.SynthesizeAll(context.Background(), textChunks("short but rejected"))
	if failure.CodeOf(err) != failure.SynthesisInvalidInput {
		t.Fatalf("code = %q (%v)", failure.CodeOf(err), err)
	}
}

func TestSynthesizeAll_UsesSegmentCache(t *testing.T) {
	fb := newFake()
	c := newClient(fb)
	c.Cache = &cache.SegmentCache{Dir: t.TempDir()}
	if _, err := c.SynthesizeAll(context.Background(), textChunks("cached words")); err != nil {
		t.Fatal(err)
	}
	segs, err := c.SynthesizeAll(context.Background(), textChunks("cached words"))
	if err != nil {
		t.Fatal(err)
	}
	if !segs[0].FromCache || string(segs[0].Audio) != "audio:cached words" {
		t.Fatalf("segment = %+v", segs[0])
	}
	if fb.callCount("cached words") != 1 {
		t.Fatalf("backend calls = %d", fb.callCount("cached words"))
	}
	c.Voice = "documentary"
	if _, err := c.SynthesizeAll(context.Background(), textChunks("cached words")); err != nil {
		t.Fatal(err)
	}
	if fb.callCount("cached words") != 2 {
		t.Fatalf("voice change should miss the cache")
	}
}

func TestSynthesizeAll_RejectsEmptyInput(t *testing.T) {
	if _, err := newClient(newFake()).SynthesizeAll(context.Background(), nil); failure.CodeOf(err) != failure.SynthesisInvalidInput {
		t.Fatalf("code = %q", failure.CodeOf(err))
	}
}

func TestResolveVoice(t *testing.T) {
	a := ResolveVoice("random", "https://example.com/a")
	if a != ResolveVoice("", "https://example.com/a") {
		t.Fatalf("random pick not deterministic")
	}
	if _, ok := VoiceProfiles[a]; !ok {
		t.Fatalf("picked unknown voice %q", a)
	}
	if got := ResolveVoice("Documentary", ""); got != "documentary" {
		t.Fatalf("named voice = %q", got)
	}
	if got := ResolveVoice("nope", ""); got != DefaultVoice {
		t.Fatalf("unknown voice = %q", got)
	}
	if Profile("first-mate").LanguageCode() != "en-GB" {
		t.Fatalf("language code = %q", Profile("first-mate").LanguageCode())
	}
}
