// Package fetch retrieves article HTML with bounded retries, rotating
// request headers and truncation detection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/hyperifyio/zissou/internal/cache"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/metrics"
)

const DefaultUserAgent = "Mozilla/5.0 (compatible; ZissouBot/1.0; +https://github.com/zissou)"

var (
	DefaultAcceptLanguages = []string{"en-US,en;q=0.9", "en-GB,en;q=0.8", "en;q=0.7"}
	DefaultAccepts         = []string{
		"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"text/html;q=0.9,*/*;q=0.8",
	}
	DefaultReferers = []string{"https://news.google.com/", "https://www.facebook.com/"}
)

// Result is one completed fetch.
type Result struct {
	URL             string
	FinalURL        string
	StatusCode      int
	HTML            string
	ContentType     string
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	// Attempts counts HTTP attempts including the successful one.
	Attempts int
	// PossiblyTruncated applies the truncation test to the visible text of
	// the response body.
	PossiblyTruncated bool
	FromCache         bool
}

// Client wraps http.Client with per-request timeouts and retry on transient
// failures (network errors, timeouts, 429 and 5xx).
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxRetries excludes the initial attempt.
	MaxRetries int
	// BackoffFactor is the first wait; each further wait doubles.
	BackoffFactor time.Duration
	// MaxBackoff caps every wait, Retry-After included.
	MaxBackoff        time.Duration
	PerRequestTimeout time.Duration

	AcceptLanguages []string
	Accepts         []string
	// Referers and HybridProfileLimit shape HeaderProfiles.
	Referers           []string
	HybridProfileLimit int

	Truncation Truncation

	// AllowJSON admits application/json and text/plain bodies, used for
	// archive availability lookups.
	AllowJSON bool
	// MaxBodyBytes caps the response body. Zero means 8 MiB.
	MaxBodyBytes int64

	// Optional on-disk cache for HTTP GET bodies and headers.
	Cache *cache.HTTPCache
	// BypassCache skips conditional requests but still stores the response.
	BypassCache bool

	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
	// MaxConcurrent limits in-flight requests per client. Zero is unlimited.
	MaxConcurrent int

	// OnBackoff observes each wait before it is slept.
	OnBackoff func(retry int, wait time.Duration)

	limiter     chan struct{}
	limiterOnce sync.Once
}

var errTooManyRedirects = errors.New("too many redirects")

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Fetch retrieves rawURL with the default rotating headers.
func (c *Client) Fetch(ctx context.Context, rawURL string) (Result, error) {
	return c.FetchWithProfile(ctx, rawURL, Profile{})
}

// FetchWithProfile retrieves rawURL with profile's headers layered over the
// rotating defaults.
func (c *Client) FetchWithProfile(ctx context.Context, rawURL string, profile Profile) (Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !isHTTPScheme(u) || u.Host == "" {
		return Result{URL: rawURL}, failure.New(failure.KindFetch, failure.FetchInvalidURL, "fetch.get",
			fmt.Sprintf("unsupported URL %q", rawURL)).WithURL(rawURL)
	}
	target := u.String()

	var cached *cache.HTTPEntry
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, target); err == nil {
			cached = meta
		}
	}

	var (
		res       Result
		attempt   int
		hint      time.Duration
		lastError error
	)
	err = retry.Do(ctx, c.backoff(&hint), func(ctx context.Context) error {
		attempt++
		hint = 0
		r, retryAfter, err := c.tryOnce(ctx, target, attempt, profile, cached)
		if err == nil {
			metrics.FetchAttempts.WithLabelValues("ok").Inc()
			res = r
			return nil
		}
		lastError = err
		if !failure.IsTransient(err) {
			metrics.FetchAttempts.WithLabelValues("permanent").Inc()
			return err
		}
		metrics.FetchAttempts.WithLabelValues("transient").Inc()
		hint = retryAfter
		log.Debug().Str("url", target).Int("attempt", attempt).Err(err).Msg("transient fetch failure")
		return retry.RetryableError(err)
	})
	if err != nil {
		if _, ok := failure.As(err); !ok {
			// The caller's context ended between attempts.
			code := failure.FetchTimeout
			if lastError != nil {
				code = failure.CodeOf(lastError)
			}
			err = failure.Wrap(failure.KindFetch, code, "fetch.get", err).WithURL(target)
		}
		log.Warn().Str("url", target).Int("attempts", attempt).Err(err).Msg("fetch failed")
		return Result{URL: target, Attempts: attempt}, err
	}
	res.Attempts = attempt
	return res, nil
}

// backoff yields BackoffFactor·2^n capped at MaxBackoff, for MaxRetries
// retries. A non-zero *hint (from Retry-After) replaces the computed wait.
func (c *Client) backoff(hint *time.Duration) retry.Backoff {
	base := c.BackoffFactor
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	ceiling := c.MaxBackoff
	if ceiling <= 0 {
		ceiling = 8 * time.Second
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := retry.WithMaxRetries(uint64(retries), retry.WithCappedDuration(ceiling, retry.NewExponential(base)))
	n := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		wait, stop := b.Next()
		if stop {
			return 0, true
		}
		n++
		if *hint > 0 {
			wait = min(*hint, ceiling)
		}
		if c.OnBackoff != nil {
			c.OnBackoff(n, wait)
		}
		return wait, false
	})
}

func (c *Client) tryOnce(ctx context.Context, target string, attempt int, profile Profile, cached *cache.HTTPEntry) (Result, time.Duration, error) {
	c.acquire()
	defer c.release()

	parent := ctx
	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{}, 0, failure.Wrap(failure.KindFetch, failure.FetchInvalidURL, "fetch.get", err).WithURL(target)
	}
	c.applyHeaders(req.Header, attempt, profile)
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return Result{}, 0, classifyTransportError(parent, target, err)
	}
	defer resp.Body.Close()

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	res := Result{
		URL:             target,
		FinalURL:        finalURL,
		StatusCode:      resp.StatusCode,
		ContentType:     resp.Header.Get("Content-Type"),
		RequestHeaders:  req.Header.Clone(),
		ResponseHeaders: resp.Header.Clone(),
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil && c.Cache != nil:
		body, err := c.Cache.LoadBody(ctx, target)
		if err != nil {
			return res, 0, failure.Wrap(failure.KindFetch, failure.FetchNetwork, "fetch.cache", err).WithURL(target)
		}
		res.HTML = string(body)
		res.ContentType = cached.ContentType
		if cached.FinalURL != "" {
			res.FinalURL = cached.FinalURL
		}
		res.FromCache = true
		res.PossiblyTruncated = c.truncatedBody(res.ContentType, res.HTML)
		return res, 0, nil
	case isTransientStatus(resp.StatusCode):
		fe := failure.New(failure.KindFetch, failure.FetchHTTPStatus, "fetch.get", fmt.Sprintf("HTTP %d", resp.StatusCode)).WithURL(target)
		fe.Transient = true
		return res, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), fe
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return res, 0, failure.New(failure.KindFetch, failure.FetchHTTPStatus, "fetch.get", fmt.Sprintf("HTTP %d", resp.StatusCode)).WithURL(target)
	}

	if !c.allowedContentType(res.ContentType) {
		return res, 0, failure.New(failure.KindFetch, failure.FetchUnsupportedContent, "fetch.get",
			fmt.Sprintf("unsupported content type %q", res.ContentType)).WithURL(target)
	}
	limit := c.MaxBodyBytes
	if limit <= 0 {
		limit = 8 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return res, 0, classifyTransportError(parent, target, fmt.Errorf("read body: %w", err))
	}
	clipped := int64(len(body)) > limit
	if clipped {
		body = body[:limit]
		log.Warn().Str("url", target).Int64("limit", limit).Msg("response body clipped")
	}
	res.HTML = string(body)
	res.PossiblyTruncated = clipped || c.truncatedBody(res.ContentType, res.HTML)

	if c.Cache != nil && resp.StatusCode == http.StatusOK {
		entry := cache.HTTPEntry{
			URL:          target,
			FinalURL:     res.FinalURL,
			ContentType:  res.ContentType,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := c.Cache.Save(ctx, entry, body); err != nil {
			log.Debug().Err(err).Str("url", target).Msg("http cache save failed")
		}
	}
	return res, 0, nil
}

func (c *Client) applyHeaders(h http.Header, attempt int, profile Profile) {
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	h.Set("User-Agent", ua)
	h.Set("Accept-Language", rotate(orDefault(c.AcceptLanguages, DefaultAcceptLanguages), attempt))
	h.Set("Accept", rotate(orDefault(c.Accepts, DefaultAccepts), attempt))
	h.Set("Cache-Control", "no-cache")
	profile.apply(h)
}

func rotate(options []string, attempt int) string {
	return options[(attempt-1)%len(options)]
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// classifyTransportError maps a client error to a failure. Errors caused by
// the caller's own context are not retried.
func classifyTransportError(parent context.Context, target string, err error) error {
	if errors.Is(err, errTooManyRedirects) {
		return failure.Wrap(failure.KindFetch, failure.FetchHTTPStatus, "fetch.get", err).WithURL(target)
	}
	if parent.Err() != nil {
		return failure.Wrap(failure.KindFetch, failure.FetchTimeout, "fetch.get", err).WithURL(target)
	}
	code := failure.FetchNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		code = failure.FetchTimeout
	}
	fe := failure.Wrap(failure.KindFetch, code, "fetch.get", err).WithURL(target)
	fe.Transient = true
	return fe
}

func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

// parseRetryAfter accepts delta-seconds or an HTTP date. It returns zero
// when the header is absent, malformed or in the past.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	hops := c.RedirectMaxHops
	if hops <= 0 {
		hops = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= hops {
			return errTooManyRedirects
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *Client) allowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml") {
		return true
	}
	if c.AllowJSON {
		return strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/plain")
	}
	return false
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	c.limiter <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
