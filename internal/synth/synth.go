package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/cache"
	"github.com/hyperifyio/zissou/internal/chunk"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/metrics"
)

// Segment is the audio for one chunk.
type Segment struct {
	Index    int
	Audio    []byte
	Encoding audio.Encoding
	// Parts counts backend calls joined into Audio after halving.
	Parts     int
	FromCache bool
}

// Client synthesizes chunks through one shared Backend.
type Client struct {
	Backend  Backend
	Voice    string
	Encoding audio.Encoding

	// MaxAttempts per request, including the first. Zero means 3.
	MaxAttempts int
	// InitialBackoff doubles per retry up to MaxBackoff. Zero means 500ms
	// and 8s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Workers bounds concurrent backend calls. Zero means 2.
	Workers int
	// MinChunkBytes stops halving. Zero means 128.
	MinChunkBytes int
	// Rebuild renders halves of a markup chunk. Nil sends halves as plain
	// text.
	Rebuild chunk.FragmentBuilder

	Cache *cache.SegmentCache
}

// SynthesizeAll returns one segment per chunk in input order. The first
// chunk that cannot be synthesized fails the call and cancels the rest.
func (c *Client) SynthesizeAll(ctx context.Context, chunks []chunk.Chunk) ([]Segment, error) {
	if c.Backend == nil {
		return nil, failure.New(failure.KindSynthesis, failure.SynthesisInvalidInput, "synth.all", "no backend configured")
	}
	if len(chunks) == 0 {
		return nil, failure.New(failure.KindSynthesis, failure.SynthesisInvalidInput, "synth.all", "no chunks to synthesize")
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 2
	}
	segments := make([]Segment, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ch := range chunks {
		g.Go(func() error {
			seg, err := c.synthesizeChunk(gctx, ch)
			if err != nil {
				return err
			}
			segments[i] = seg
			if i == 0 || i == len(chunks)-1 || (i+1)%5 == 0 {
				log.Info().Int("chunk", i+1).Int("of", len(chunks)).Int("bytes", ch.Bytes).
					Int("audio_bytes", len(seg.Audio)).Msg("chunk synthesized")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return segments, nil
}

// synthesizeChunk calls the backend for ch, halving it when the backend
// rejects the input as too long.
func (c *Client) synthesizeChunk(ctx context.Context, ch chunk.Chunk) (Segment, error) {
	payload, markup := ch.Payload()
	data, cached, class, err := c.request(ctx, ch.Index, payload, markup)
	if err == nil {
		return Segment{Index: ch.Index, Audio: data, Encoding: c.Encoding, Parts: 1, FromCache: cached}, nil
	}
	if class != ClassTooLong {
		return Segment{}, err
	}
	minBytes := c.MinChunkBytes
	if minBytes <= 0 {
		minBytes = 128
	}
	left, right, herr := chunk.Halve(ch.Text, minBytes)
	if herr != nil {
		return Segment{}, err
	}
	log.Warn().Int("chunk", ch.Index).Int("bytes", ch.Bytes).Int("left", len(left)).Int("right", len(right)).
		Msg("backend rejected chunk as too long; halving")
	halves := []chunk.Chunk{c.half(ch, left, false), c.half(ch, right, ch.BreakAfter)}
	seg := Segment{Index: ch.Index, Encoding: c.Encoding}
	var parts [][]byte
	for _, h := range halves {
		s, err := c.synthesizeChunk(ctx, h)
		if err != nil {
			return Segment{}, err
		}
		parts = append(parts, s.Audio)
		seg.Parts += s.Parts
	}
	joined, err := audio.Join(c.Encoding, parts...)
	if err != nil {
		return Segment{}, err
	}
	seg.Audio = joined
	return seg, nil
}

func (c *Client) half(parent chunk.Chunk, text string, breakAfter bool) chunk.Chunk {
	h := chunk.Chunk{Index: parent.Index, Bytes: len(text), Text: text, BreakAfter: breakAfter}
	if parent.Markup != "" && c.Rebuild != nil {
		h.Markup = c.Rebuild(text, breakAfter)
	}
	return h
}

// request performs one logical call with cache lookup and retries. It
// returns the class of the last error.
func (c *Client) request(ctx context.Context, index int, payload string, markup bool) ([]byte, bool, Class, error) {
	name := c.Backend.Name()
	key := cache.SegmentKey(name, c.Voice, string(c.Encoding), payload)
	if c.Cache != nil {
		if data, ok, err := c.Cache.Get(ctx, key); err == nil && ok {
			metrics.SynthCacheHits.Inc()
			return data, true, ClassUnknown, nil
		}
	}

	req := Request{Text: payload, SSML: markup, Voice: c.Voice, Encoding: c.Encoding}
	var (
		data    []byte
		attempt int
		class   Class
	)
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		out, err := c.Backend.Synthesize(ctx, req)
		if err == nil && len(out) == 0 {
			err = errEmptyAudio
		}
		if err == nil {
			metrics.SynthRequests.WithLabelValues(name, "ok").Inc()
			data = out
			return nil
		}
		fe := &failure.Error{Kind: failure.KindSynthesis, Op: "synth.chunk", Err: err}
		if errors.Is(err, errEmptyAudio) {
			class, fe.Code = ClassPermanent, failure.SynthesisEmptyAudio
		} else {
			class = c.Backend.Classify(err)
			fe.Code = class.Code()
		}
		metrics.SynthRequests.WithLabelValues(name, class.String()).Inc()
		fe.Msg = fmt.Sprintf("chunk %d attempt %d: %v", index, attempt, err)
		fe.Transient = class.Retryable()
		if !class.Retryable() {
			log.Error().Int("chunk", index).Int("attempt", attempt).Str("class", class.String()).Err(err).
				Msg("permanent synthesis error")
			return fe
		}
		log.Warn().Int("chunk", index).Int("attempt", attempt).Str("class", class.String()).Err(err).
			Msg("retryable synthesis error")
		return retry.RetryableError(fe)
	})
	if err != nil {
		if _, ok := failure.As(err); !ok {
			fe := failure.Wrap(failure.KindSynthesis, failure.SynthesisTransient, "synth.chunk", err)
			fe.Transient = true
			err = fe
		}
		return nil, false, class, err
	}
	if c.Cache != nil {
		if err := c.Cache.Save(ctx, key, data); err != nil {
			log.Debug().Err(err).Int("chunk", index).Msg("segment cache save failed")
		}
	}
	return data, false, class, nil
}

func (c *Client) backoff() retry.Backoff {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	base := c.InitialBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := c.MaxBackoff
	if ceiling <= 0 {
		ceiling = 8 * time.Second
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.WithCappedDuration(ceiling, retry.NewExponential(base)))
}
