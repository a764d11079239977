package app

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperifyio/zissou/internal/failure"
)

// listFlag is a separator-joined string list flag.
type listFlag struct {
	dst *[]string
	sep string
}

func (l listFlag) String() string {
	if l.dst == nil {
		return ""
	}
	return strings.Join(*l.dst, l.sep)
}

func (l listFlag) Set(s string) error {
	*l.dst = splitList(s, l.sep)
	return nil
}

// BindFlags registers every configuration flag on fs with cfg's current
// values as defaults.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.InputPath, "input", cfg.InputPath, "File of URLs, one per line; '#' starts a comment")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "Directory for audio, transcripts and report.json")
	fs.BoolVar(&cfg.TextOnly, "text-only", cfg.TextOnly, "Stop after extraction and normalization; write transcripts only")
	fs.BoolVar(&cfg.WritePDF, "pdf", cfg.WritePDF, "Also write a printable transcript PDF per URL")

	fs.StringVar(&cfg.UserAgent, "fetch.ua", cfg.UserAgent, "User-Agent for article requests")
	fs.DurationVar(&cfg.RequestTimeout, "fetch.timeout", cfg.RequestTimeout, "Per-request timeout")
	fs.IntVar(&cfg.MaxRetries, "fetch.retries", cfg.MaxRetries, "Retries after the first attempt on transient failures")
	fs.DurationVar(&cfg.BackoffFactor, "fetch.backoff", cfg.BackoffFactor, "First retry wait; doubles per retry")
	fs.DurationVar(&cfg.MaxBackoff, "fetch.maxBackoff", cfg.MaxBackoff, "Cap for any retry wait, Retry-After included")
	fs.Var(listFlag{&cfg.AcceptLanguages, "|"}, "fetch.languages", "Accept-Language values rotated per attempt, '|' separated")
	fs.Var(listFlag{&cfg.Referers, ","}, "fetch.referers", "Referers tried on hybrid re-fetches, comma separated")
	fs.IntVar(&cfg.HybridProfileLimit, "fetch.hybridProfiles", cfg.HybridProfileLimit, "Max header profiles tried on a truncated page (negative disables)")
	fs.IntVar(&cfg.TruncationMinLen, "fetch.truncationMin", cfg.TruncationMinLen, "Visible text below this many characters counts as truncated")
	fs.BoolVar(&cfg.BypassHTTPCache, "fetch.noCache", cfg.BypassHTTPCache, "Skip conditional requests against the HTTP cache")

	fs.IntVar(&cfg.SuccessThreshold, "extract.threshold", cfg.SuccessThreshold, "Minimum characters for a viable extraction")
	fs.IntVar(&cfg.FallbackMinLength, "extract.fallbackMin", cfg.FallbackMinLength, "Readability/article text at least this long skips recovery")

	fs.BoolVar(&cfg.DisableArchive, "archive.disable", cfg.DisableArchive, "Never consult archive services")
	fs.StringVar(&cfg.ArchiveTodayBase, "archive.today", cfg.ArchiveTodayBase, "archive.today base URL")
	fs.StringVar(&cfg.WaybackAPI, "archive.wayback", cfg.WaybackAPI, "Wayback availability API URL")
	fs.DurationVar(&cfg.ArchiveInterval, "archive.interval", cfg.ArchiveInterval, "Minimum spacing between requests to one archive service")
	fs.DurationVar(&cfg.ArchiveTimeout, "archive.timeout", cfg.ArchiveTimeout, "Timeout per archive source")
	fs.DurationVar(&cfg.ArchiveBudget, "archive.budget", cfg.ArchiveBudget, "Total time allowed for archive recovery")

	fs.StringVar(&cfg.Backend, "tts.backend", cfg.Backend, "Speech backend: google or openai")
	fs.StringVar(&cfg.Encoding, "tts.encoding", cfg.Encoding, "Audio encoding: MP3, OGG_OPUS or LINEAR16")
	fs.StringVar(&cfg.Voice, "tts.voice", cfg.Voice, "Voice profile name, or 'random'")
	fs.IntVar(&cfg.Workers, "tts.workers", cfg.Workers, "Concurrent synthesis requests per URL")
	fs.IntVar(&cfg.MaxAttempts, "tts.attempts", cfg.MaxAttempts, "Attempts per synthesis request")
	fs.DurationVar(&cfg.InitialBackoff, "tts.backoff", cfg.InitialBackoff, "First synthesis retry wait")
	fs.IntVar(&cfg.RequestByteLimit, "tts.requestLimit", cfg.RequestByteLimit, "Backend request limit in bytes")
	fs.IntVar(&cfg.SafetyMargin, "tts.safetyMargin", cfg.SafetyMargin, "Bytes reserved below the request limit")
	fs.IntVar(&cfg.MaxChunkBytes, "tts.maxChunk", cfg.MaxChunkBytes, "Largest chunk in bytes")
	fs.IntVar(&cfg.MinChunkBytes, "tts.minChunk", cfg.MinChunkBytes, "Smallest chunk target in bytes")
	fs.BoolVar(&cfg.PlainText, "tts.plain", cfg.PlainText, "Send plain text instead of SSML")
	fs.BoolVar(&cfg.NoIntro, "tts.noIntro", cfg.NoIntro, "Skip the spoken introduction")
	fs.BoolVar(&cfg.Normalize, "tts.normalize", cfg.Normalize, "Level segment loudness when stitching")
	fs.Float64Var(&cfg.TargetDBFS, "tts.targetDBFS", cfg.TargetDBFS, "Loudness target for LINEAR16 audio (0 levels to the median)")
	fs.StringVar(&cfg.OpenAIBaseURL, "openai.base", cfg.OpenAIBaseURL, "OpenAI-compatible base URL")
	fs.StringVar(&cfg.OpenAIKey, "openai.key", cfg.OpenAIKey, "OpenAI API key")
	fs.StringVar(&cfg.OpenAIModel, "openai.model", cfg.OpenAIModel, "OpenAI speech model")

	fs.StringVar(&cfg.CacheDir, "cache.dir", cfg.CacheDir, "Cache directory; empty disables caching")
	fs.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", cfg.CacheMaxAge, "Purge cache entries older than this before the run; 0 disables")
	fs.BoolVar(&cfg.CacheClear, "cache.clear", cfg.CacheClear, "Clear the cache directory before the run")
	fs.BoolVar(&cfg.CacheStrictPerms, "cache.strictPerms", cfg.CacheStrictPerms, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.Int64Var(&cfg.CacheMaxBytes, "cache.maxBytes", cfg.CacheMaxBytes, "Evict old audio segments beyond this many bytes; 0 disables")
	fs.IntVar(&cfg.CacheMaxSegments, "cache.maxSegments", cfg.CacheMaxSegments, "Evict old audio segments beyond this count; 0 disables")

	fs.IntVar(&cfg.MaxConcurrentRuns, "runs", cfg.MaxConcurrentRuns, "URLs processed concurrently")
	fs.StringVar(&cfg.MetricsAddr, "metrics.addr", cfg.MetricsAddr, "Serve Prometheus /metrics on this address during the run")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.BoolVar(&cfg.LogJSON, "log.json", cfg.LogJSON, "Log JSON lines instead of console output")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version information and exit")
}

// LoadConfig builds the configuration from args. Precedence is flags, then
// environment (after dotenv files named by -env), then the -config file,
// then defaults. Positional arguments are URLs.
func LoadConfig(name string, args []string, stderr io.Writer) (Config, error) {
	// First pass only discovers -config and -env.
	var scratch Config
	var configPath, envPaths string
	first := flag.NewFlagSet(name, flag.ContinueOnError)
	first.SetOutput(io.Discard)
	BindFlags(first, &scratch)
	first.StringVar(&configPath, "config", "", "")
	first.StringVar(&envPaths, "env", ".env", "")
	if err := first.Parse(args); err != nil {
		// Report usage errors from the real pass below.
		configPath, envPaths = "", ".env"
	}

	if err := LoadEnvFiles(splitList(envPaths, ",")...); err != nil {
		return Config{}, failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.env", err)
	}
	cfg := DefaultConfig()
	if configPath != "" {
		fc, err := LoadConfigFile(configPath)
		if err != nil {
			return Config{}, failure.Wrap(failure.KindConfig, failure.ConfigInvalid, "app.config", err)
		}
		ApplyFileConfig(&cfg, fc)
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	BindFlags(fs, &cfg)
	fs.String("config", "", "YAML or JSON config file")
	fs.String("env", ".env", "Comma-separated dotenv files to load")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.URLs = append(cfg.URLs, fs.Args()...)
	return cfg, nil
}

// ReadURLList reads one URL per line, skipping blanks and '#' comments.
func ReadURLList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return urls, nil
}
