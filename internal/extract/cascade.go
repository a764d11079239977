// Package extract runs several independent extraction engines over a page
// and selects the best candidate.
package extract

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/metrics"
	"github.com/hyperifyio/zissou/internal/textclean"
)

// Candidate is one engine's normalized output.
type Candidate struct {
	Engine string
	Text   string
	// Length is the rune count of Text.
	Length int
	// Score is Length relative to the viability threshold; >= 1 is viable.
	Score    float64
	Metadata Metadata
}

// Attempt status values.
const (
	StatusSuccess   = "success"
	StatusTruncated = "truncated"
	StatusShort     = "short"
	StatusEmpty     = "empty"
	StatusError     = "error"
)

// Attempt records one engine run.
type Attempt struct {
	Engine  string        `json:"engine"`
	Status  string        `json:"status"`
	Chars   int           `json:"chars"`
	Elapsed time.Duration `json:"elapsed"`
	Error   string        `json:"error,omitempty"`
}

// Selection is the cascade's answer for one page.
type Selection struct {
	Candidate
	// Short is set when no candidate reached the viability threshold and the
	// longest non-empty one was returned instead.
	Short    bool
	Domain   string
	Attempts []Attempt
}

// Config tunes a Cascade. Zero values take the deployed defaults.
type Config struct {
	MinViableLength int
	DomainTTL       time.Duration
	DomainCacheSize int
	// Overrides maps a registrable domain to engines that should win ties
	// there. Nil means DefaultOverrides.
	Overrides map[string][]string
	// IsTruncated, when set, keeps a viable but paywalled-looking winner from
	// being remembered as the domain's preferred engine.
	IsTruncated func(string) bool
}

// DefaultOverrides lists sites where a particular engine is known to do best.
var DefaultOverrides = map[string][]string{
	"nytimes.com":     {EngineArticle, EngineReadability},
	"theguardian.com": {EngineReadability, EngineArticle},
	"theatlantic.com": {EngineArticle, EngineParagraphs, EngineReadability},
	"newyorker.com":   {EngineArticle, EngineReadability, EngineParagraphs},
	"wired.com":       {EngineReadability, EngineArticle},
}

// Cascade runs every engine and picks the longest viable candidate. Ties go
// to the engine earlier in the effective order: the domain's last winner,
// then its override, then the fixed order. A Cascade is safe for concurrent
// use.
type Cascade struct {
	engines     []Engine
	minViable   int
	overrides   map[string][]string
	domains     *expirable.LRU[string, string]
	isTruncated func(string) bool
}

// NewCascade builds a cascade over engines in priority order.
func NewCascade(engines []Engine, cfg Config) *Cascade {
	if cfg.MinViableLength <= 0 {
		cfg.MinViableLength = 500
	}
	if cfg.DomainTTL <= 0 {
		cfg.DomainTTL = 6 * time.Hour
	}
	if cfg.DomainCacheSize <= 0 {
		cfg.DomainCacheSize = 256
	}
	if cfg.Overrides == nil {
		cfg.Overrides = DefaultOverrides
	}
	return &Cascade{
		engines:     engines,
		minViable:   cfg.MinViableLength,
		overrides:   cfg.Overrides,
		domains:     expirable.NewLRU[string, string](cfg.DomainCacheSize, nil, cfg.DomainTTL),
		isTruncated: cfg.IsTruncated,
	}
}

// Run extracts page with every engine. It fails with extraction-empty only
// when no engine produced any text.
func (c *Cascade) Run(ctx context.Context, page Page) (Selection, error) {
	domain := Domain(page.URL)
	order := c.order(domain)
	sel := Selection{Domain: domain}

	var candidates []Candidate
	for _, e := range order {
		if err := ctx.Err(); err != nil {
			return sel, failure.Wrap(failure.KindExtraction, failure.ExtractionEmpty, "extract.run", err).WithURL(page.URL)
		}
		start := time.Now()
		cand, err := runEngine(ctx, e, page)
		attempt := Attempt{Engine: e.Name(), Elapsed: time.Since(start)}
		if err == nil {
			cand.Engine = e.Name()
			cand.Text = textclean.Normalize(cand.Text)
			cand.Length = utf8.RuneCountInString(cand.Text)
			cand.Score = float64(cand.Length) / float64(c.minViable)
		}
		switch {
		case err != nil:
			attempt.Status = StatusError
			attempt.Error = err.Error()
		case cand.Length == 0:
			attempt.Status = StatusEmpty
		case cand.Length < c.minViable:
			attempt.Status = StatusShort
		case c.isTruncated != nil && c.isTruncated(cand.Text):
			attempt.Status = StatusTruncated
		default:
			attempt.Status = StatusSuccess
		}
		attempt.Chars = cand.Length
		sel.Attempts = append(sel.Attempts, attempt)
		metrics.ExtractorAttempts.WithLabelValues(attempt.Engine, attempt.Status).Inc()
		log.Debug().Str("url", page.URL).Str("engine", attempt.Engine).Str("status", attempt.Status).
			Int("chars", attempt.Chars).Dur("elapsed", attempt.Elapsed).Str("error", attempt.Error).Msg("extractor attempt")
		if err == nil && cand.Length > 0 {
			candidates = append(candidates, cand)
		}
	}

	if len(candidates) == 0 {
		msg := "no engine produced text"
		for _, a := range sel.Attempts {
			if a.Error != "" {
				msg = fmt.Sprintf("no engine produced text (%s: %s)", a.Engine, a.Error)
				break
			}
		}
		return sel, failure.New(failure.KindExtraction, failure.ExtractionEmpty, "extract.run", msg).WithURL(page.URL)
	}

	best := -1
	for i, cand := range candidates {
		if cand.Length >= c.minViable && (best < 0 || cand.Length > candidates[best].Length) {
			best = i
		}
	}
	if best < 0 {
		sel.Short = true
		best = 0
		for i, cand := range candidates {
			if cand.Length > candidates[best].Length {
				best = i
			}
		}
	}
	sel.Candidate = candidates[best]
	sel.Metadata = sel.Metadata.Fill(PageMetadata(page.HTML))

	fullSuccess := !sel.Short && (c.isTruncated == nil || !c.isTruncated(sel.Text))
	if fullSuccess {
		metrics.ExtractorWins.WithLabelValues(sel.Engine).Inc()
		if domain != "" {
			c.domains.Add(domain, sel.Engine)
		}
	}
	log.Info().Str("url", page.URL).Str("engine", sel.Engine).Int("chars", sel.Length).
		Bool("short", sel.Short).Bool("full_success", fullSuccess).Msg("extractor selection")
	return sel, nil
}

// Preferred returns the engine remembered for domain, if any.
func (c *Cascade) Preferred(domain string) (string, bool) {
	return c.domains.Get(domain)
}

// order returns the engines with the remembered winner first, then the
// domain override, then the fixed order.
func (c *Cascade) order(domain string) []Engine {
	var priority []string
	if last, ok := c.domains.Get(domain); ok {
		priority = append(priority, last)
	}
	priority = append(priority, overrideFor(c.overrides, domain)...)

	byName := make(map[string]Engine, len(c.engines))
	for _, e := range c.engines {
		byName[e.Name()] = e
	}
	seen := make(map[string]bool, len(c.engines))
	out := make([]Engine, 0, len(c.engines))
	for _, name := range priority {
		if e, ok := byName[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, e)
		}
	}
	for _, e := range c.engines {
		if !seen[e.Name()] {
			seen[e.Name()] = true
			out = append(out, e)
		}
	}
	return out
}

func overrideFor(overrides map[string][]string, domain string) []string {
	if domain == "" {
		return nil
	}
	if o, ok := overrides[domain]; ok {
		return o
	}
	for key, o := range overrides {
		if strings.HasSuffix(domain, "."+key) {
			return o
		}
	}
	return nil
}

// runEngine converts an engine panic into an error.
func runEngine(ctx context.Context, e Engine, page Page) (cand Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return e.Extract(ctx, page)
}

// Domain returns the lower-cased host of rawURL without a leading "www.".
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ReadingTime estimates minutes at 200 words per minute, at least 1.
func ReadingTime(text string) int {
	words := len(strings.Fields(text))
	return max(1, int(math.Round(float64(words)/200)))
}
