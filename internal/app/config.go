package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/fetch"
	"github.com/hyperifyio/zissou/internal/synth"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoogle = "google"
	BackendOpenAI = "openai"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Inputs and outputs
	URLs      []string
	InputPath string
	OutDir    string
	TextOnly  bool
	WritePDF  bool

	// Fetch
	UserAgent          string
	RequestTimeout     time.Duration
	MaxRetries         int
	BackoffFactor      time.Duration
	MaxBackoff         time.Duration
	AcceptLanguages    []string
	Accepts            []string
	Referers           []string
	HybridProfileLimit int
	TruncationMinLen   int
	BlockingPhrases    []string

	// Extraction
	SuccessThreshold  int
	DomainTTL         time.Duration
	DomainCacheSize   int
	FallbackMinLength int

	// Archive recovery
	DisableArchive   bool
	ArchiveTodayBase string
	WaybackAPI       string
	// ArchiveInterval spaces requests per archive service; negative
	// disables spacing.
	ArchiveInterval time.Duration
	ArchiveTimeout  time.Duration
	ArchiveBudget   time.Duration

	// Synthesis
	Backend          string
	RequestByteLimit int
	SafetyMargin     int
	MaxChunkBytes    int
	MinChunkBytes    int
	MaxAttempts      int
	InitialBackoff   time.Duration
	Encoding         string
	Voice            string
	Workers          int
	PlainText        bool
	NoIntro          bool
	Normalize        bool
	// TargetDBFS of zero levels segments to their median loudness.
	TargetDBFS    float64
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	// Cache
	CacheDir         string
	CacheClear       bool
	CacheMaxAge      time.Duration
	CacheStrictPerms bool
	CacheMaxBytes    int64
	CacheMaxSegments int
	BypassHTTPCache  bool

	MaxConcurrentRuns int
	MetricsAddr       string
	Verbose           bool
	LogJSON           bool
	ShowVersion       bool
}

// DefaultConfig returns the deployed defaults.
func DefaultConfig() Config {
	return Config{
		OutDir:             "out",
		UserAgent:          fetch.DefaultUserAgent,
		RequestTimeout:     10 * time.Second,
		MaxRetries:         3,
		BackoffFactor:      500 * time.Millisecond,
		MaxBackoff:         8 * time.Second,
		AcceptLanguages:    append([]string(nil), fetch.DefaultAcceptLanguages...),
		Accepts:            append([]string(nil), fetch.DefaultAccepts...),
		Referers:           append([]string(nil), fetch.DefaultReferers...),
		HybridProfileLimit: 6,
		TruncationMinLen:   500,
		BlockingPhrases:    append([]string(nil), fetch.DefaultBlockingPhrases...),
		SuccessThreshold:   500,
		DomainTTL:          6 * time.Hour,
		DomainCacheSize:    256,
		FallbackMinLength:  1500,
		ArchiveTodayBase:   "https://archive.today",
		WaybackAPI:         "https://archive.org/wayback/available",
		ArchiveInterval:    2 * time.Second,
		ArchiveTimeout:     8 * time.Second,
		ArchiveBudget:      20 * time.Second,
		Backend:            BackendGoogle,
		RequestByteLimit:   5000,
		SafetyMargin:       400,
		MaxChunkBytes:      4800,
		MinChunkBytes:      600,
		MaxAttempts:        3,
		InitialBackoff:     500 * time.Millisecond,
		Encoding:           string(audio.MP3),
		Voice:              synth.DefaultVoice,
		Workers:            2,
		Normalize:          true,
		TargetDBFS:         -14,
		OpenAIModel:        "tts-1",
		CacheDir:           ".zissou-cache",
		CacheMaxSegments:   5000,
		MaxConcurrentRuns:  2,
	}
}

// ValidateConfig rejects settings the pipeline cannot run with.
func ValidateConfig(cfg Config) error {
	invalid := func(format string, args ...any) error {
		return failure.New(failure.KindConfig, failure.ConfigInvalid, "app.config", fmt.Sprintf(format, args...))
	}
	if len(cfg.URLs) == 0 && strings.TrimSpace(cfg.InputPath) == "" {
		return invalid("no URLs given (pass them as arguments or with -input)")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		return invalid("output directory is required")
	}
	for name, v := range map[string]int{
		"fetch max retries":     cfg.MaxRetries,
		"request byte limit":    cfg.RequestByteLimit,
		"safety margin":         cfg.SafetyMargin,
		"max chunk bytes":       cfg.MaxChunkBytes,
		"min chunk bytes":       cfg.MinChunkBytes,
		"max attempts":          cfg.MaxAttempts,
		"workers":               cfg.Workers,
		"success threshold":     cfg.SuccessThreshold,
		"fallback min length":   cfg.FallbackMinLength,
		"max concurrent runs":   cfg.MaxConcurrentRuns,
		"truncation min length": cfg.TruncationMinLen,
		"cache max segments":    cfg.CacheMaxSegments,
	} {
		if v < 0 {
			return invalid("%s must not be negative (got %d)", name, v)
		}
	}
	if cfg.CacheMaxBytes < 0 {
		return invalid("cache max bytes must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"request timeout": cfg.RequestTimeout,
		"backoff factor":  cfg.BackoffFactor,
		"max backoff":     cfg.MaxBackoff,
		"archive timeout": cfg.ArchiveTimeout,
		"archive budget":  cfg.ArchiveBudget,
		"initial backoff": cfg.InitialBackoff,
		"domain ttl":      cfg.DomainTTL,
		"cache max age":   cfg.CacheMaxAge,
	} {
		if d < 0 {
			return invalid("%s must not be negative (got %s)", name, d)
		}
	}
	if cfg.MinChunkBytes > 0 && cfg.MaxChunkBytes > 0 && cfg.MinChunkBytes > cfg.MaxChunkBytes {
		return invalid("min chunk bytes %d exceeds max chunk bytes %d", cfg.MinChunkBytes, cfg.MaxChunkBytes)
	}
	if cfg.SafetyMargin >= cfg.RequestByteLimit && cfg.RequestByteLimit > 0 {
		return invalid("safety margin %d leaves no room in request limit %d", cfg.SafetyMargin, cfg.RequestByteLimit)
	}
	if !cfg.TextOnly {
		if _, err := audio.ParseEncoding(cfg.Encoding); err != nil {
			return invalid("%v", err)
		}
		switch strings.ToLower(cfg.Backend) {
		case BackendGoogle:
		case BackendOpenAI:
			if strings.TrimSpace(cfg.OpenAIKey) == "" && strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
				return invalid("openai backend needs OPENAI_API_KEY or a base URL")
			}
		default:
			return invalid("unknown TTS backend %q", cfg.Backend)
		}
	}
	return nil
}
