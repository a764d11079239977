// Package archive recovers article text from public web archives when the
// direct fetch looks truncated or paywalled.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/zissou/internal/extract"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/fetch"
	"github.com/hyperifyio/zissou/internal/metrics"
)

// Service labels, also used as Outcome.FetchedVia.
const (
	ServiceArchiveToday = "archive.today"
	ServiceWayback      = "wayback"
)

// Limiter keys. The Wayback availability API and its snapshots are spaced
// independently.
const (
	keyArchiveToday    = "archive_today"
	keyWaybackAPI      = "wayback_api"
	keyWaybackSnapshot = "wayback_snapshot"
)

const (
	DefaultArchiveTodayBase = "https://archive.today"
	DefaultWaybackAPI       = "https://archive.org/wayback/available"
)

// minAttemptBudget is the least remaining budget worth starting a source with.
const minAttemptBudget = 250 * time.Millisecond

// Config tunes a Recoverer. Zero values take the deployed defaults.
type Config struct {
	ArchiveTodayBase string
	WaybackAPI       string
	// RequestInterval spaces requests per service key. Zero means 2s;
	// negative disables spacing.
	RequestInterval time.Duration
	// PerSourceTimeout bounds one source (lookup, snapshot and extraction).
	// Zero means 8s.
	PerSourceTimeout time.Duration
	// Budget bounds the whole recovery. Zero means 20s.
	Budget time.Duration
	// FailureTTL suppresses new attempts for a URL that recently failed
	// every source. Zero means 24h; negative disables the memo.
	FailureTTL       time.Duration
	FailureCacheSize int
}

// Outcome is the result of one recovery. Selection is always usable: it is
// the direct selection when no snapshot improved on it.
type Outcome struct {
	Selection extract.Selection
	// FetchedVia names the service the winning text came from, empty when
	// the direct selection stands.
	FetchedVia  string
	SnapshotURL string
	// Attempted is false when recovery was skipped entirely.
	Attempted bool
	// Sources lists the services that were tried, in order.
	Sources []string
	// Err is non-fatal: archive-unavailable or archive-timeout.
	Err error
}

// Recovered reports whether a snapshot replaced the direct selection.
func (o Outcome) Recovered() bool { return o.FetchedVia != "" }

// Recoverer looks an article up on archive.today, then the Wayback Machine,
// and re-runs the extractor cascade on each snapshot. It is safe for
// concurrent use.
type Recoverer struct {
	fetcher *fetch.Client
	cascade *extract.Cascade
	cfg     Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	failures *expirable.LRU[string, string]
}

// New builds a Recoverer. fetcher must accept JSON bodies (AllowJSON) for the
// Wayback availability lookup.
func New(fetcher *fetch.Client, cascade *extract.Cascade, cfg Config) *Recoverer {
	if cfg.ArchiveTodayBase == "" {
		cfg.ArchiveTodayBase = DefaultArchiveTodayBase
	}
	if cfg.WaybackAPI == "" {
		cfg.WaybackAPI = DefaultWaybackAPI
	}
	if cfg.RequestInterval == 0 {
		cfg.RequestInterval = 2 * time.Second
	}
	if cfg.PerSourceTimeout <= 0 {
		cfg.PerSourceTimeout = 8 * time.Second
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 20 * time.Second
	}
	if cfg.FailureTTL == 0 {
		cfg.FailureTTL = 24 * time.Hour
	}
	if cfg.FailureCacheSize <= 0 {
		cfg.FailureCacheSize = 256
	}
	r := &Recoverer{
		fetcher:  fetcher,
		cascade:  cascade,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
	if cfg.FailureTTL > 0 {
		r.failures = expirable.NewLRU[string, string](cfg.FailureCacheSize, nil, cfg.FailureTTL)
	}
	return r
}

type source struct {
	name   string
	lookup func(ctx context.Context, rawURL string) (fetch.Result, error)
}

// errNoSnapshot marks a source that answered but has nothing archived.
var errNoSnapshot = errors.New("no snapshot")

// Recover tries each archive source in order within Budget and returns the
// longest of the direct and snapshot selections. It stops at the first
// snapshot that is viable and not truncated.
func (r *Recoverer) Recover(ctx context.Context, rawURL string, direct extract.Selection) Outcome {
	out := Outcome{Selection: direct}
	logger := log.With().Str("url", rawURL).Logger()

	if reason, ok := r.recentFailure(rawURL); ok {
		metrics.ArchiveLookups.WithLabelValues("any", "skipped").Inc()
		logger.Info().Str("reason", reason).Msg("archive recovery skipped after recent failure")
		out.Err = failure.New(failure.KindArchive, failure.ArchiveUnavailable, "archive.recover",
			"recent archive failure: "+reason).WithURL(rawURL)
		return out
	}
	out.Attempted = true

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Budget)
	defer cancel()

	sources := []source{
		{name: ServiceArchiveToday, lookup: r.archiveToday},
		{name: ServiceWayback, lookup: r.wayback},
	}
	logger.Info().Dur("budget", r.cfg.Budget).Msg("archive recovery started")

	timedOut := false
	for _, src := range sources {
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= minAttemptBudget {
			logger.Info().Str("service", src.name).Msg("archive budget exhausted")
			timedOut = true
			break
		}
		out.Sources = append(out.Sources, src.name)
		sel, snapshotURL, err := r.attempt(ctx, src, rawURL)
		if err != nil {
			outcome := "error"
			switch {
			case errors.Is(err, errNoSnapshot):
				outcome = "miss"
			case isTimeout(err):
				outcome = "timeout"
				timedOut = true
			}
			metrics.ArchiveLookups.WithLabelValues(src.name, outcome).Inc()
			logger.Info().Str("service", src.name).Str("status", outcome).Err(err).Msg("archive source failed")
			continue
		}
		if sel.Length <= out.Selection.Length {
			metrics.ArchiveLookups.WithLabelValues(src.name, "not_longer").Inc()
			logger.Info().Str("service", src.name).Int("chars", sel.Length).
				Int("direct_chars", direct.Length).Msg("archive snapshot not longer than current text")
			continue
		}
		out.Selection = sel
		out.FetchedVia = src.name
		out.SnapshotURL = snapshotURL
		if !sel.Short && !r.fetcher.IsLikelyTruncated(sel.Text) {
			metrics.ArchiveLookups.WithLabelValues(src.name, "recovered").Inc()
			break
		}
		metrics.ArchiveLookups.WithLabelValues(src.name, "truncated").Inc()
		logger.Info().Str("service", src.name).Int("chars", sel.Length).Msg("archive snapshot still looks truncated")
	}

	if out.Recovered() {
		r.clearFailure(rawURL)
		logger.Info().Str("service", out.FetchedVia).Str("snapshot", out.SnapshotURL).
			Int("chars", out.Selection.Length).Msg("archive recovery succeeded")
		return out
	}

	code, reason := failure.ArchiveUnavailable, "no_snapshot"
	if timedOut {
		code, reason = failure.ArchiveTimeout, "timeout"
	}
	r.recordFailure(rawURL, reason)
	out.Err = failure.New(failure.KindArchive, code, "archive.recover",
		fmt.Sprintf("no archive snapshot improved the text (tried %s)", strings.Join(out.Sources, ", "))).WithURL(rawURL)
	logger.Info().Str("code", string(code)).Msg("archive recovery finished without improvement")
	return out
}

// attempt runs one source under PerSourceTimeout and extracts its snapshot.
func (r *Recoverer) attempt(ctx context.Context, src source, rawURL string) (extract.Selection, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PerSourceTimeout)
	defer cancel()

	res, err := src.lookup(ctx, rawURL)
	if err != nil {
		return extract.Selection{}, "", err
	}
	snapshotURL := res.FinalURL
	if snapshotURL == "" {
		snapshotURL = res.URL
	}
	sel, err := r.cascade.Run(ctx, extract.Page{URL: rawURL, HTML: res.HTML})
	if err != nil {
		return extract.Selection{}, snapshotURL, err
	}
	return sel, snapshotURL, nil
}

func (r *Recoverer) archiveToday(ctx context.Context, rawURL string) (fetch.Result, error) {
	if err := r.wait(ctx, keyArchiveToday); err != nil {
		return fetch.Result{}, err
	}
	target := strings.TrimRight(r.cfg.ArchiveTodayBase, "/") + "/latest/" + rawURL
	log.Debug().Str("service", ServiceArchiveToday).Str("url", rawURL).Msg("archive request")
	return r.fetcher.Fetch(ctx, target)
}

func (r *Recoverer) wayback(ctx context.Context, rawURL string) (fetch.Result, error) {
	if err := r.wait(ctx, keyWaybackAPI); err != nil {
		return fetch.Result{}, err
	}
	api := strings.TrimRight(r.cfg.WaybackAPI, "/") + "?url=" + url.QueryEscape(rawURL)
	log.Debug().Str("service", ServiceWayback).Str("url", rawURL).Msg("wayback availability request")
	res, err := r.fetcher.Fetch(ctx, api)
	if err != nil {
		return fetch.Result{}, err
	}
	snapshotURL, err := SnapshotURL(res.HTML)
	if err != nil {
		return fetch.Result{}, err
	}
	if err := r.wait(ctx, keyWaybackSnapshot); err != nil {
		return fetch.Result{}, err
	}
	log.Debug().Str("service", ServiceWayback).Str("snapshot", snapshotURL).Msg("wayback snapshot request")
	return r.fetcher.Fetch(ctx, snapshotURL)
}

// SnapshotURL reads archived_snapshots.closest.url from a Wayback
// availability payload.
func SnapshotURL(payload string) (string, error) {
	if !gjson.Valid(payload) {
		return "", fmt.Errorf("wayback: invalid availability payload")
	}
	closest := gjson.Get(payload, "archived_snapshots.closest")
	if avail := closest.Get("available"); avail.Exists() && !avail.Bool() {
		return "", errNoSnapshot
	}
	u := strings.TrimSpace(closest.Get("url").String())
	if u == "" {
		return "", errNoSnapshot
	}
	return u, nil
}

func (r *Recoverer) wait(ctx context.Context, key string) error {
	if r.cfg.RequestInterval < 0 {
		return nil
	}
	r.mu.Lock()
	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.cfg.RequestInterval), 1)
		r.limiters[key] = l
	}
	r.mu.Unlock()
	if err := l.Wait(ctx); err != nil {
		// Wait refuses early when the deadline would pass before the token.
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return nil
}

func (r *Recoverer) recentFailure(rawURL string) (string, bool) {
	if r.failures == nil {
		return "", false
	}
	return r.failures.Get(rawURL)
}

func (r *Recoverer) recordFailure(rawURL, reason string) {
	if r.failures != nil {
		r.failures.Add(rawURL, reason)
	}
}

func (r *Recoverer) clearFailure(rawURL string) {
	if r.failures != nil {
		r.failures.Remove(rawURL)
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || failure.CodeOf(err) == failure.FetchTimeout
}
