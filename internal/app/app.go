package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/zissou/internal/archive"
	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/cache"
	"github.com/hyperifyio/zissou/internal/chunk"
	"github.com/hyperifyio/zissou/internal/extract"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/fetch"
	"github.com/hyperifyio/zissou/internal/metrics"
	"github.com/hyperifyio/zissou/internal/pipeline"
	"github.com/hyperifyio/zissou/internal/synth"
)

// openAIInputLimit is the /audio/speech input cap in characters; bytes are
// a safe upper bound.
const openAIInputLimit = 4096

type App struct {
	cfg     Config
	pipe    *pipeline.Pipeline
	segDir  string
	closers []func() error
	metrics *http.Server
}

// ErrRunsFailed is returned by Run when at least one URL failed or was
// skipped by cancellation. The report is still written and returned.
var ErrRunsFailed = errors.New("one or more URLs failed")

// New validates cfg and wires the pipeline components.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	a.prepareCache()

	client := newHTTPClient(0)
	fetcher := &fetch.Client{
		HTTPClient:         client,
		UserAgent:          cfg.UserAgent,
		MaxRetries:         cfg.MaxRetries,
		BackoffFactor:      cfg.BackoffFactor,
		MaxBackoff:         cfg.MaxBackoff,
		PerRequestTimeout:  cfg.RequestTimeout,
		AcceptLanguages:    cfg.AcceptLanguages,
		Accepts:            cfg.Accepts,
		Referers:           cfg.Referers,
		HybridProfileLimit: cfg.HybridProfileLimit,
		Truncation:         fetch.Truncation{MinLength: cfg.TruncationMinLen, Phrases: cfg.BlockingPhrases},
		BypassCache:        cfg.BypassHTTPCache,
	}
	if cfg.CacheDir != "" {
		fetcher.Cache = &cache.HTTPCache{Dir: filepath.Join(cfg.CacheDir, "http"), StrictPerms: cfg.CacheStrictPerms}
	}
	cascade := extract.NewCascade(extract.DefaultEngines(extract.DefaultHeuristics()), extract.Config{
		MinViableLength: cfg.SuccessThreshold,
		DomainTTL:       cfg.DomainTTL,
		DomainCacheSize: cfg.DomainCacheSize,
		IsTruncated:     fetcher.IsLikelyTruncated,
	})

	a.pipe = &pipeline.Pipeline{
		Fetcher:                fetcher,
		Extractor:              cascade,
		Limits:                 a.limits(),
		SSML:                   !cfg.PlainText,
		Intro:                  !cfg.NoIntro,
		Voice:                  cfg.Voice,
		Stitch:                 audio.Options{Normalize: cfg.Normalize, TargetDBFS: cfg.TargetDBFS},
		SkipAudio:              cfg.TextOnly,
		FallbackMinLength:      cfg.FallbackMinLength,
		HybridSuccessThreshold: cfg.SuccessThreshold,
	}
	if !cfg.DisableArchive {
		archiveFetcher := &fetch.Client{
			HTTPClient:        client,
			UserAgent:         cfg.UserAgent,
			MaxRetries:        1,
			BackoffFactor:     cfg.BackoffFactor,
			MaxBackoff:        cfg.MaxBackoff,
			PerRequestTimeout: cfg.ArchiveTimeout,
			Truncation:        fetcher.Truncation,
			AllowJSON:         true,
		}
		a.pipe.Recoverer = archive.New(archiveFetcher, cascade, archive.Config{
			ArchiveTodayBase: cfg.ArchiveTodayBase,
			WaybackAPI:       cfg.WaybackAPI,
			RequestInterval:  cfg.ArchiveInterval,
			PerSourceTimeout: cfg.ArchiveTimeout,
			Budget:           cfg.ArchiveBudget,
		})
	}
	if !cfg.TextOnly {
		backend, err := a.backend(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		enc, _ := audio.ParseEncoding(cfg.Encoding)
		sc := &synth.Client{
			Backend:        backend,
			Encoding:       enc,
			MaxAttempts:    cfg.MaxAttempts,
			InitialBackoff: cfg.InitialBackoff,
			Workers:        cfg.Workers,
			MinChunkBytes:  a.limits().MinChunk,
		}
		if a.segDir != "" {
			sc.Cache = &cache.SegmentCache{Dir: a.segDir, StrictPerms: cfg.CacheStrictPerms}
		}
		a.pipe.Synth = sc
	}
	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// prepareCache applies -cache.clear, -cache.maxAge and the segment limits.
// Failures are logged; a broken cache never blocks a run.
func (a *App) prepareCache() {
	dir := a.cfg.CacheDir
	if dir == "" {
		return
	}
	a.segDir = filepath.Join(dir, "segments")
	if a.cfg.CacheClear {
		if err := cache.ClearDir(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("cache clear failed")
		}
	}
	if a.cfg.CacheMaxAge > 0 {
		httpRemoved, err := cache.PurgeHTTPCacheByAge(dir, a.cfg.CacheMaxAge)
		if err != nil {
			log.Warn().Err(err).Msg("http cache purge failed")
		}
		segRemoved, err := cache.PurgeSegmentsByAge(dir, a.cfg.CacheMaxAge)
		if err != nil {
			log.Warn().Err(err).Msg("segment cache purge failed")
		}
		log.Info().Int("http", httpRemoved).Int("segments", segRemoved).Dur("max_age", a.cfg.CacheMaxAge).Msg("cache purged")
	}
	a.enforceSegmentLimits()
}

func (a *App) enforceSegmentLimits() {
	if a.segDir == "" || (a.cfg.CacheMaxBytes == 0 && a.cfg.CacheMaxSegments == 0) {
		return
	}
	n, err := cache.EnforceSegmentLimits(a.segDir, a.cfg.CacheMaxBytes, a.cfg.CacheMaxSegments)
	if err != nil {
		log.Warn().Err(err).Msg("segment cache eviction failed")
		return
	}
	if n > 0 {
		log.Info().Int("evicted", n).Msg("segment cache trimmed")
	}
}

func (a *App) limits() chunk.Limits {
	l := chunk.Limits{
		RequestLimit: a.cfg.RequestByteLimit,
		SafetyMargin: a.cfg.SafetyMargin,
		MaxChunk:     a.cfg.MaxChunkBytes,
		MinChunk:     a.cfg.MinChunkBytes,
	}
	if strings.EqualFold(a.cfg.Backend, BackendOpenAI) && (l.RequestLimit == 0 || l.RequestLimit > openAIInputLimit) {
		l.RequestLimit = openAIInputLimit
		l.MaxChunk = min(l.MaxChunk, openAIInputLimit-l.SafetyMargin)
		l.MinChunk = min(l.MinChunk, l.MaxChunk)
	}
	return l
}

func (a *App) backend(ctx context.Context) (synth.Backend, error) {
	switch strings.ToLower(a.cfg.Backend) {
	case BackendOpenAI:
		b := synth.NewOpenAIBackend(a.cfg.OpenAIKey, a.cfg.OpenAIBaseURL, newHTTPClient(2*time.Minute))
		if a.cfg.OpenAIModel != "" {
			b.Model = a.cfg.OpenAIModel
		}
		return b, nil
	default:
		g, err := synth.NewGoogleBackend(ctx)
		if err != nil {
			return nil, failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.backend", err)
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	}
}

func (a *App) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.metrics", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}

func (a *App) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Debug().Err(err).Msg("close failed")
		}
	}
}

// urls merges positional URLs with the -input list, dropping duplicates.
func (a *App) urls() ([]string, error) {
	all := append([]string(nil), a.cfg.URLs...)
	if a.cfg.InputPath != "" {
		listed, err := ReadURLList(a.cfg.InputPath)
		if err != nil {
			return nil, failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.input", err)
		}
		all = append(all, listed...)
	}
	seen := make(map[string]bool, len(all))
	out := all[:0]
	for _, u := range all {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, failure.New(failure.KindConfig, failure.ConfigInvalid, "app.input", "no URLs to process")
	}
	return out, nil
}

// Run processes every URL under MaxConcurrentRuns and writes report.json.
// URLs not yet started when ctx is canceled are recorded as skipped; runs
// already in flight finish. It returns ErrRunsFailed when any URL failed or
// was skipped; other errors mean nothing could be processed.
func (a *App) Run(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now().UTC(), Version: BuildVersion}
	urls, err := a.urls()
	if err != nil {
		return report, err
	}
	if err := os.MkdirAll(a.cfg.OutDir, 0o755); err != nil {
		return report, failure.Wrap(failure.KindStorage, failure.StorageWrite, "app.outdir", err)
	}

	limit := a.cfg.MaxConcurrentRuns
	if limit <= 0 {
		limit = 1
	}
	report.Total = len(urls)
	report.Outcomes = make([]ReportEntry, len(urls))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				report.Outcomes[i] = ReportEntry{URL: u, Status: pipeline.Skipped, Code: failure.RunCanceled, Error: err.Error()}
				return nil
			}
			report.Outcomes[i] = a.process(ctx, u)
			return nil
		})
	}
	_ = g.Wait()
	a.enforceSegmentLimits()

	for _, o := range report.Outcomes {
		switch o.Status {
		case pipeline.Failed:
			report.Failed++
		case pipeline.Skipped:
			report.Skipped++
		}
	}
	report.Elapsed = time.Since(report.Started)
	if err := writeJSON(filepath.Join(a.cfg.OutDir, "report.json"), report); err != nil {
		return report, failure.Wrap(failure.KindStorage, failure.StorageWrite, "app.report", err)
	}
	log.Info().Int("total", report.Total).Int("failed", report.Failed).Int("skipped", report.Skipped).Dur("elapsed", report.Elapsed).Msg("batch finished")
	if report.Failed > 0 || report.Skipped > 0 {
		return report, ErrRunsFailed
	}
	return report, nil
}

// Inspect runs fetch, extraction and recovery for rawURL without synthesis
// and without writing anything to OutDir.
func (a *App) Inspect(ctx context.Context, rawURL string) (*pipeline.Result, error) {
	p := *a.pipe
	p.SkipAudio = true
	return p.Run(ctx, rawURL)
}

// process runs one URL and persists whatever it produced.
func (a *App) process(ctx context.Context, rawURL string) ReportEntry {
	res, runErr := a.pipe.Run(ctx, rawURL)
	entry := ReportEntry{URL: rawURL, Status: res.State, Title: res.Title, Engine: res.Engine, FetchedVia: res.FetchedVia}
	base := outputBase(a.cfg.OutDir, rawURL, res.Title)
	entry.Output = base

	files, err := a.writeOutputs(base, res, runErr)
	entry.Files = files
	if runErr == nil && err != nil {
		runErr = err
		entry.Status = pipeline.Failed
	}
	if runErr != nil {
		entry.Code = failure.CodeOf(runErr)
		entry.Error = runErr.Error()
		log.Warn().Str("url", rawURL).Str("code", string(entry.Code)).Err(runErr).Msg("url failed")
	}
	return entry
}

// writeOutputs writes <base>.<ext>, <base>.txt, <base>.json and optionally
// <base>.pdf. The JSON sidecar is written even for failed runs.
func (a *App) writeOutputs(base string, res *pipeline.Result, runErr error) ([]string, error) {
	var files []string
	storageErr := func(op string, err error) error {
		return failure.Wrap(failure.KindStorage, failure.StorageWrite, op, err).WithURL(res.URL)
	}

	var audioFile string
	if res.Audio != nil {
		audioFile = base + "." + res.Audio.Extension
		if err := os.WriteFile(audioFile, res.Audio.Data, 0o644); err != nil {
			return files, storageErr("app.write.audio", err)
		}
		files = append(files, audioFile)
	}
	if res.Text != "" {
		txt := base + ".txt"
		body := res.Text + "\n"
		if res.Intro != "" {
			body = res.Intro + "\n\n" + body
		}
		if err := os.WriteFile(txt, []byte(body), 0o644); err != nil {
			return files, storageErr("app.write.text", err)
		}
		files = append(files, txt)
		if a.cfg.WritePDF {
			pdf := base + ".pdf"
			if err := writeTranscriptPDF(res, pdf); err != nil {
				return files, storageErr("app.write.pdf", err)
			}
			files = append(files, pdf)
		}
	}
	if audioFile != "" {
		audioFile = filepath.Base(audioFile)
	}
	meta := base + ".json"
	if err := writeJSON(meta, buildManifest(res, runErr, audioFile)); err != nil {
		return files, storageErr("app.write.meta", fmt.Errorf("%s: %w", meta, err))
	}
	return append(files, meta), nil
}
