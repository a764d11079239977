// Package pipeline runs one article URL through fetch, extraction, archive
// recovery, normalization, chunking, synthesis and stitching.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/archive"
	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/chunk"
	"github.com/hyperifyio/zissou/internal/extract"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/fetch"
	"github.com/hyperifyio/zissou/internal/metrics"
	"github.com/hyperifyio/zissou/internal/synth"
	"github.com/hyperifyio/zissou/internal/textclean"
)

// State is a pipeline phase.
type State string

const (
	Fetching     State = "FETCHING"
	Extracting   State = "EXTRACTING"
	Recovering   State = "RECOVERING"
	Normalizing  State = "NORMALIZING"
	Chunking     State = "CHUNKING"
	Synthesizing State = "SYNTHESIZING"
	Stitching    State = "STITCHING"
	Done         State = "DONE"
	Failed       State = "FAILED"
	// Skipped is never set by Run; batch callers use it for URLs that were
	// not started.
	Skipped      State = "SKIPPED"
)

// FetchedVia values besides the archive service names.
const (
	ViaDirect       = "direct"
	ViaDirectHybrid = "direct-hybrid"
)

// PhaseTiming records one phase. Code is set when the phase failed or, for
// recovery, ended with a non-fatal archive code.
type PhaseTiming struct {
	Phase   State         `json:"phase"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Code    failure.Code  `json:"code,omitempty"`
}

// Result is everything one run produced. On failure it holds the phases and
// fields reached so far.
type Result struct {
	RunID    string `json:"run_id"`
	URL      string `json:"url"`
	FinalURL string `json:"final_url,omitempty"`

	Title       string     `json:"title,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	SiteName    string     `json:"site_name,omitempty"`
	Description string     `json:"description,omitempty"`

	Text               string `json:"-"`
	Intro              string `json:"intro,omitempty"`
	ReadingTimeMinutes int    `json:"reading_time_minutes"`

	Engine             string            `json:"engine,omitempty"`
	EngineAttempts     []extract.Attempt `json:"engine_attempts,omitempty"`
	FetchedVia         string            `json:"fetched_via,omitempty"`
	FetchProfile       *fetch.Profile    `json:"fetch_profile,omitempty"`
	ArchiveAttempted   bool              `json:"archive_attempted"`
	ArchiveSnapshotURL string            `json:"archive_snapshot_url,omitempty"`
	ArchiveError       string            `json:"archive_error,omitempty"`

	Chunks []chunk.Chunk   `json:"-"`
	Audio  *audio.Artifact `json:"-"`
	Voice  string          `json:"voice,omitempty"`

	Phases []PhaseTiming `json:"phases"`
	State  State         `json:"state"`
}

// Extractor is the cascade seen by the pipeline.
type Extractor interface {
	Run(ctx context.Context, page extract.Page) (extract.Selection, error)
}

// Recoverer is archive recovery seen by the pipeline.
type Recoverer interface {
	Recover(ctx context.Context, rawURL string, direct extract.Selection) archive.Outcome
}

// Pipeline holds the shared, concurrency-safe components. Run may be called
// from many goroutines.
type Pipeline struct {
	Fetcher   *fetch.Client
	Extractor Extractor
	// Recoverer is optional; nil disables archive lookups.
	Recoverer Recoverer
	// Synth is copied per run with the resolved voice.
	Synth *synth.Client

	Limits chunk.Limits
	// SSML renders chunks as markup with an intro section; otherwise plain
	// text chunks are sent.
	SSML  bool
	Intro bool
	// Voice is a profile name, "random" or empty.
	Voice  string
	Stitch audio.Options
	// SkipAudio stops after normalization.
	SkipAudio bool

	// FallbackMinLength lets texts from SkipArchiveEngines bypass recovery.
	// Zero means 1500.
	FallbackMinLength  int
	SkipArchiveEngines []string
	// HybridSuccessThreshold ends header-profile refetching early. Zero
	// means 500.
	HybridSuccessThreshold int
}

// DefaultSkipArchiveEngines are trusted to return the full text when it is
// long enough.
var DefaultSkipArchiveEngines = []string{extract.EngineReadability, extract.EngineArticle}

type run struct {
	p      *Pipeline
	res    *Result
	logger zerolog.Logger
}

// Run processes rawURL. The caller's context only carries values; each
// network call is bounded by its own timeout instead.
func (p *Pipeline) Run(ctx context.Context, rawURL string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := &Result{RunID: uuid.NewString(), URL: rawURL}
	r := &run{p: p, res: res, logger: log.With().Str("run", res.RunID).Str("url", rawURL).Logger()}
	r.logger.Info().Msg("pipeline started")
	started := time.Now()

	err := r.execute(ctx)
	if err != nil {
		res.State = Failed
		code := failure.CodeOf(err)
		metrics.Runs.WithLabelValues("failed", string(code)).Inc()
		r.logger.Error().Err(err).Str("code", string(code)).Dur("elapsed", time.Since(started)).Msg("pipeline failed")
		return res, err
	}
	res.State = Done
	metrics.Runs.WithLabelValues("done", "").Inc()
	r.logger.Info().Str("engine", res.Engine).Str("fetched_via", res.FetchedVia).Int("chunks", len(res.Chunks)).
		Dur("elapsed", time.Since(started)).Msg("pipeline finished")
	return res, nil
}

// phase runs fn as state, recording its timing and failure code.
func (r *run) phase(state State, fn func() error) error {
	r.res.State = state
	pt := PhaseTiming{Phase: state, Started: time.Now()}
	err := fn()
	pt.Elapsed = time.Since(pt.Started)
	if err != nil {
		pt.Code = failure.CodeOf(err)
	}
	r.res.Phases = append(r.res.Phases, pt)
	metrics.ObservePhase(string(state), pt.Elapsed)
	r.logger.Debug().Str("phase", string(state)).Dur("elapsed", pt.Elapsed).Str("code", string(pt.Code)).Msg("phase finished")
	return err
}

func (r *run) execute(ctx context.Context) error {
	p, res := r.p, r.res

	var page fetch.Result
	if err := r.phase(Fetching, func() (err error) {
		page, err = p.Fetcher.Fetch(ctx, res.URL)
		return err
	}); err != nil {
		return err
	}
	res.FinalURL = page.FinalURL
	res.FetchedVia = ViaDirect

	var sel extract.Selection
	if err := r.phase(Extracting, func() (err error) {
		sel, err = p.Extractor.Run(ctx, extract.Page{URL: resolvedURL(page, res.URL), HTML: page.HTML})
		return err
	}); err != nil {
		return err
	}
	res.EngineAttempts = sel.Attempts

	if r.needsRecovery(page, sel) {
		_ = r.phase(Recovering, func() error {
			var code failure.Code
			sel, code = r.recover(ctx, sel)
			if code != "" {
				return failure.New(failure.KindArchive, code, "pipeline.recover", res.ArchiveError)
			}
			return nil
		})
	}
	r.adopt(sel)

	if err := r.phase(Normalizing, func() error {
		res.Text = textclean.Normalize(sel.Text)
		if res.Text == "" {
			return failure.New(failure.KindExtraction, failure.ExtractionEmpty, "pipeline.normalize",
				"no text left after normalization").WithURL(res.URL)
		}
		res.ReadingTimeMinutes = extract.ReadingTime(res.Text)
		return nil
	}); err != nil {
		return err
	}
	if p.SkipAudio {
		return nil
	}

	if err := r.phase(Chunking, r.chunk); err != nil {
		return err
	}

	var segments []synth.Segment
	if err := r.phase(Synthesizing, func() (err error) {
		segments, err = r.synthesize(ctx)
		return err
	}); err != nil {
		return err
	}

	return r.phase(Stitching, func() error {
		data := make([][]byte, len(segments))
		for i, s := range segments {
			data[i] = s.Audio
		}
		art, err := audio.Stitch(data, r.encoding(), p.Stitch)
		if err != nil {
			return err
		}
		res.Audio = &art
		return nil
	})
}

// needsRecovery reports whether the direct text should be improved upon.
func (r *run) needsRecovery(page fetch.Result, sel extract.Selection) bool {
	minLen := r.p.FallbackMinLength
	if minLen <= 0 {
		minLen = 1500
	}
	skip := r.p.SkipArchiveEngines
	if skip == nil {
		skip = DefaultSkipArchiveEngines
	}
	for _, e := range skip {
		if sel.Engine == e && sel.Length >= minLen {
			return false
		}
	}
	return page.PossiblyTruncated || sel.Short || r.p.Fetcher.IsLikelyTruncated(sel.Text)
}

// resolvedURL is where the page actually came from after redirects. Domain
// overrides and the per-domain engine memory key on it.
func resolvedURL(page fetch.Result, requested string) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	return requested
}

// recover tries hybrid header profiles against the origin, then archive
// snapshots. It returns the best selection and a non-fatal archive code.
func (r *run) recover(ctx context.Context, direct extract.Selection) (extract.Selection, failure.Code) {
	p, res := r.p, r.res
	best := direct
	threshold := p.HybridSuccessThreshold
	if threshold <= 0 {
		threshold = 500
	}

	for _, profile := range p.Fetcher.HeaderProfiles() {
		page, err := p.Fetcher.FetchWithProfile(ctx, res.URL, profile)
		if err != nil {
			r.logger.Debug().Err(err).Str("referer", profile.Referer).Str("language", profile.AcceptLanguage).
				Msg("hybrid refetch failed")
			continue
		}
		sel, err := p.Extractor.Run(ctx, extract.Page{URL: resolvedURL(page, res.URL), HTML: page.HTML})
		if err != nil || sel.Length <= best.Length || p.Fetcher.IsLikelyTruncated(sel.Text) {
			continue
		}
		best = sel
		res.FetchedVia = ViaDirectHybrid
		res.FetchProfile = &profile
		res.FinalURL = page.FinalURL
		r.logger.Info().Str("referer", profile.Referer).Str("language", profile.AcceptLanguage).
			Int("chars", sel.Length).Msg("hybrid refetch improved text")
		if sel.Length >= threshold {
			return best, ""
		}
	}

	if p.Recoverer == nil {
		return best, ""
	}
	out := p.Recoverer.Recover(ctx, res.URL, best)
	res.ArchiveAttempted = out.Attempted
	if out.Recovered() {
		res.FetchedVia = out.FetchedVia
		res.ArchiveSnapshotURL = out.SnapshotURL
		res.FetchProfile = nil
	}
	if out.Err != nil {
		res.ArchiveError = out.Err.Error()
		r.logger.Warn().Err(out.Err).Msg("archive recovery did not improve text")
		return out.Selection, failure.CodeOf(out.Err)
	}
	return out.Selection, ""
}

// adopt copies the selection's engine and metadata onto the result.
func (r *run) adopt(sel extract.Selection) {
	res := r.res
	res.Engine = sel.Engine
	res.EngineAttempts = sel.Attempts
	m := sel.Metadata
	res.Title = m.Title
	res.Author = m.Author
	res.PublishedAt = ParsePublished(m.PublishedAt)
	res.ImageURL = m.ImageURL
	res.SiteName = m.SiteName
	res.Description = m.Description
}

func (r *run) chunk() error {
	p, res := r.p, r.res
	limits := p.Limits
	if limits == (chunk.Limits{}) {
		limits = chunk.DefaultLimits()
	}
	if !p.SSML {
		chunks, err := chunk.Split(res.Text, limits.Effective())
		if err != nil {
			return err
		}
		res.Chunks = chunks
		return nil
	}

	var chunks []chunk.Chunk
	if p.Intro {
		res.Intro = NarrationIntro(res.Title, res.Author, res.URL, res.PublishedAt)
		intro, err := chunk.Fragments(res.Intro, chunk.SSML, true, limits)
		if err != nil {
			return err
		}
		chunks = append(chunks, intro...)
	}
	body, err := chunk.Fragments(res.Text, chunk.SSML, false, limits)
	if err != nil {
		return err
	}
	res.Chunks = chunk.Reindex(append(chunks, body...))
	return nil
}

func (r *run) encoding() audio.Encoding {
	if r.p.Synth != nil && r.p.Synth.Encoding != "" {
		return r.p.Synth.Encoding
	}
	return audio.MP3
}

func (r *run) synthesize(ctx context.Context) ([]synth.Segment, error) {
	if r.p.Synth == nil {
		return nil, failure.New(failure.KindSynthesis, failure.SynthesisInvalidInput, "pipeline.synthesize", "no synthesis client")
	}
	if r.p.Synth.Backend == nil {
		return nil, failure.New(failure.KindSynthesis, failure.SynthesisInvalidInput, "pipeline.synthesize", "no synthesis backend")
	}
	client := *r.p.Synth
	client.Encoding = r.encoding()
	client.Voice = synth.ResolveVoice(r.p.Voice, r.res.URL)
	if r.p.SSML {
		client.Rebuild = chunk.SSML
	}
	r.res.Voice = client.Voice
	r.logger.Info().Str("voice", client.Voice).Str("backend", client.Backend.Name()).Int("chunks", len(r.res.Chunks)).
		Msg("synthesis started")

	segments, err := client.SynthesizeAll(ctx, r.res.Chunks)
	if err != nil {
		return nil, err
	}
	if len(segments) != len(r.res.Chunks) {
		return nil, failure.New(failure.KindSynthesis, failure.SynthesisEmptyAudio, "pipeline.synthesize",
			fmt.Sprintf("got %d segments for %d chunks", len(segments), len(r.res.Chunks)))
	}
	return segments, nil
}
