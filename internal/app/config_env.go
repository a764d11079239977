package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hyperifyio/zissou/internal/failure"
)

// ApplyEnvOverrides overrides cfg with every environment variable that is
// set. It runs after the config file and before flags. Malformed numbers
// fail with config-invalid rather than being ignored.
func ApplyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	e := envReader{}

	e.str(&cfg.UserAgent, "PARSER_USER_AGENT")
	e.seconds(&cfg.RequestTimeout, "PARSER_REQUEST_TIMEOUT_SECONDS")
	e.int(&cfg.MaxRetries, "FETCH_MAX_RETRIES")
	e.seconds(&cfg.BackoffFactor, "FETCH_BACKOFF_FACTOR")
	e.seconds(&cfg.MaxBackoff, "FETCH_MAX_BACKOFF_SECONDS")
	e.list(&cfg.AcceptLanguages, "FETCH_ACCEPT_LANGUAGE_OPTIONS", "|")
	e.list(&cfg.Accepts, "FETCH_ACCEPT_OPTIONS", "|")
	e.list(&cfg.Referers, "FETCH_HYBRID_REFERERS", ",")
	e.int(&cfg.HybridProfileLimit, "FETCH_HYBRID_PROFILE_LIMIT")
	e.int(&cfg.TruncationMinLen, "PARSER_TRUNCATION_MIN_LENGTH")
	e.list(&cfg.BlockingPhrases, "TRUNCATION_BLOCKING_PHRASES", ",")

	e.str(&cfg.ArchiveTodayBase, "ARCHIVE_TODAY_BASE_URL")
	e.str(&cfg.WaybackAPI, "WAYBACK_API_URL")
	e.seconds(&cfg.ArchiveInterval, "ARCHIVE_REQUEST_INTERVAL_SECONDS")
	e.seconds(&cfg.ArchiveTimeout, "ARCHIVE_TIMEOUT_SECONDS")
	e.seconds(&cfg.ArchiveBudget, "ARCHIVE_BUDGET_SECONDS")
	e.bool(&cfg.DisableArchive, "ARCHIVE_DISABLE")

	e.int(&cfg.SuccessThreshold, "EXTRACTOR_SUCCESS_THRESHOLD")
	e.seconds(&cfg.DomainTTL, "EXTRACTOR_DOMAIN_PREFERENCE_TTL_SECONDS")
	e.int(&cfg.DomainCacheSize, "EXTRACTOR_DOMAIN_CACHE_SIZE")
	e.int(&cfg.FallbackMinLength, "PARSER_FALLBACK_MIN_LENGTH")

	e.str(&cfg.Backend, "TTS_BACKEND")
	e.int(&cfg.RequestByteLimit, "TTS_REQUEST_BYTE_LIMIT")
	e.int(&cfg.SafetyMargin, "TTS_SAFETY_MARGIN_BYTES")
	e.int(&cfg.MaxChunkBytes, "TTS_MAX_CHUNK_BYTES")
	e.int(&cfg.MinChunkBytes, "TTS_MIN_CHUNK_BYTES")
	e.int(&cfg.MaxAttempts, "TTS_MAX_ATTEMPTS")
	e.seconds(&cfg.InitialBackoff, "TTS_RETRY_INITIAL_BACKOFF")
	e.str(&cfg.Encoding, "TTS_AUDIO_ENCODING")
	e.str(&cfg.Voice, "TTS_VOICE")
	e.int(&cfg.Workers, "TTS_WORKERS")
	e.bool(&cfg.Normalize, "TTS_NORMALIZE_AUDIO")
	e.float(&cfg.TargetDBFS, "TTS_NORMALIZE_TARGET_DBFS")

	e.str(&cfg.OpenAIKey, "OPENAI_API_KEY")
	e.str(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	e.str(&cfg.OpenAIModel, "OPENAI_TTS_MODEL")

	e.str(&cfg.CacheDir, "CACHE_DIR")
	e.seconds(&cfg.CacheMaxAge, "CACHE_MAX_AGE")
	e.bool(&cfg.CacheClear, "CACHE_CLEAR")
	e.bool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	e.int(&cfg.CacheMaxSegments, "CACHE_MAX_SEGMENTS")

	e.int(&cfg.MaxConcurrentRuns, "MAX_CONCURRENT_RUNS")
	e.str(&cfg.MetricsAddr, "METRICS_ADDR")
	e.bool(&cfg.Verbose, "VERBOSE")

	return e.err
}

// envReader keeps the first parse error.
type envReader struct{ err error }

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.env", fmt.Errorf("%s=%q: %w", key, v, err))
	}
}

func (e *envReader) str(dst *string, key string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(dst *int, key string) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(dst *float64, key string) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// seconds accepts fractional seconds ("0.5") or a Go duration ("500ms").
func (e *envReader) seconds(dst *time.Duration, key string) {
	if v, ok := e.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) bool(dst *bool, key string) {
	if v, ok := e.lookup(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.fail(key, v, fmt.Errorf("not a boolean"))
		}
	}
}

func (e *envReader) list(dst *[]string, key, sep string) {
	if v, ok := e.lookup(key); ok {
		*dst = splitList(v, sep)
	}
}

// splitList splits s on sep, dropping blanks.
func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
