package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig is the YAML/JSON configuration schema. Nested sections map
// onto flag prefixes.
type FileConfig struct {
	Input    string `yaml:"input" json:"input"`
	Out      string `yaml:"out" json:"out"`
	TextOnly bool   `yaml:"textOnly" json:"textOnly"`
	PDF      bool   `yaml:"pdf" json:"pdf"`
	Verbose  bool   `yaml:"verbose" json:"verbose"`

	Fetch struct {
		UserAgent          string        `yaml:"userAgent" json:"userAgent"`
		Timeout            time.Duration `yaml:"timeout" json:"timeout"`
		MaxRetries         *int          `yaml:"maxRetries" json:"maxRetries"`
		BackoffFactor      time.Duration `yaml:"backoffFactor" json:"backoffFactor"`
		MaxBackoff         time.Duration `yaml:"maxBackoff" json:"maxBackoff"`
		AcceptLanguages    []string      `yaml:"acceptLanguages" json:"acceptLanguages"`
		Accepts            []string      `yaml:"accepts" json:"accepts"`
		Referers           []string      `yaml:"referers" json:"referers"`
		HybridProfileLimit *int          `yaml:"hybridProfileLimit" json:"hybridProfileLimit"`
		TruncationMinLen   int           `yaml:"truncationMinLength" json:"truncationMinLength"`
		BlockingPhrases    []string      `yaml:"blockingPhrases" json:"blockingPhrases"`
	} `yaml:"fetch" json:"fetch"`

	Extract struct {
		SuccessThreshold  int           `yaml:"successThreshold" json:"successThreshold"`
		DomainTTL         time.Duration `yaml:"domainTTL" json:"domainTTL"`
		DomainCacheSize   int           `yaml:"domainCacheSize" json:"domainCacheSize"`
		FallbackMinLength int           `yaml:"fallbackMinLength" json:"fallbackMinLength"`
	} `yaml:"extract" json:"extract"`

	Archive struct {
		Disable      bool          `yaml:"disable" json:"disable"`
		ArchiveToday string        `yaml:"archiveToday" json:"archiveToday"`
		Wayback      string        `yaml:"wayback" json:"wayback"`
		Interval     time.Duration `yaml:"interval" json:"interval"`
		Timeout      time.Duration `yaml:"timeout" json:"timeout"`
		Budget       time.Duration `yaml:"budget" json:"budget"`
	} `yaml:"archive" json:"archive"`

	TTS struct {
		Backend          string        `yaml:"backend" json:"backend"`
		RequestByteLimit int           `yaml:"requestByteLimit" json:"requestByteLimit"`
		SafetyMargin     int           `yaml:"safetyMargin" json:"safetyMargin"`
		MaxChunkBytes    int           `yaml:"maxChunkBytes" json:"maxChunkBytes"`
		MinChunkBytes    int           `yaml:"minChunkBytes" json:"minChunkBytes"`
		MaxAttempts      int           `yaml:"maxAttempts" json:"maxAttempts"`
		InitialBackoff   time.Duration `yaml:"initialBackoff" json:"initialBackoff"`
		Encoding         string        `yaml:"encoding" json:"encoding"`
		Voice            string        `yaml:"voice" json:"voice"`
		Workers          int           `yaml:"workers" json:"workers"`
		PlainText        bool          `yaml:"plainText" json:"plainText"`
		NoIntro          bool          `yaml:"noIntro" json:"noIntro"`
		Normalize        *bool         `yaml:"normalize" json:"normalize"`
		TargetDBFS       *float64      `yaml:"targetDBFS" json:"targetDBFS"`
	} `yaml:"tts" json:"tts"`

	OpenAI struct {
		BaseURL string `yaml:"base" json:"base"`
		Key     string `yaml:"key" json:"key"`
		Model   string `yaml:"model" json:"model"`
	} `yaml:"openai" json:"openai"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxSegments int           `yaml:"maxSegments" json:"maxSegments"`
	} `yaml:"cache" json:"cache"`

	MaxConcurrentRuns int    `yaml:"maxConcurrentRuns" json:"maxConcurrentRuns"`
	MetricsAddr       string `yaml:"metricsAddr" json:"metricsAddr"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value set in fc onto cfg. It runs before
// the environment and flags, which override it.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	setList := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = append([]string(nil), v...)
		}
	}
	setBool := func(dst *bool, v bool) {
		if v {
			*dst = true
		}
	}

	setStr(&cfg.InputPath, fc.Input)
	setStr(&cfg.OutDir, fc.Out)
	setBool(&cfg.TextOnly, fc.TextOnly)
	setBool(&cfg.WritePDF, fc.PDF)
	setBool(&cfg.Verbose, fc.Verbose)

	f := fc.Fetch
	setStr(&cfg.UserAgent, f.UserAgent)
	setDur(&cfg.RequestTimeout, f.Timeout)
	if f.MaxRetries != nil {
		cfg.MaxRetries = *f.MaxRetries
	}
	setDur(&cfg.BackoffFactor, f.BackoffFactor)
	setDur(&cfg.MaxBackoff, f.MaxBackoff)
	setList(&cfg.AcceptLanguages, f.AcceptLanguages)
	setList(&cfg.Accepts, f.Accepts)
	setList(&cfg.Referers, f.Referers)
	if f.HybridProfileLimit != nil {
		cfg.HybridProfileLimit = *f.HybridProfileLimit
	}
	setInt(&cfg.TruncationMinLen, f.TruncationMinLen)
	setList(&cfg.BlockingPhrases, f.BlockingPhrases)

	e := fc.Extract
	setInt(&cfg.SuccessThreshold, e.SuccessThreshold)
	setDur(&cfg.DomainTTL, e.DomainTTL)
	setInt(&cfg.DomainCacheSize, e.DomainCacheSize)
	setInt(&cfg.FallbackMinLength, e.FallbackMinLength)

	a := fc.Archive
	setBool(&cfg.DisableArchive, a.Disable)
	setStr(&cfg.ArchiveTodayBase, a.ArchiveToday)
	setStr(&cfg.WaybackAPI, a.Wayback)
	setDur(&cfg.ArchiveInterval, a.Interval)
	setDur(&cfg.ArchiveTimeout, a.Timeout)
	setDur(&cfg.ArchiveBudget, a.Budget)

	t := fc.TTS
	setStr(&cfg.Backend, t.Backend)
	setInt(&cfg.RequestByteLimit, t.RequestByteLimit)
	setInt(&cfg.SafetyMargin, t.SafetyMargin)
	setInt(&cfg.MaxChunkBytes, t.MaxChunkBytes)
	setInt(&cfg.MinChunkBytes, t.MinChunkBytes)
	setInt(&cfg.MaxAttempts, t.MaxAttempts)
	setDur(&cfg.InitialBackoff, t.InitialBackoff)
	setStr(&cfg.Encoding, t.Encoding)
	setStr(&cfg.Voice, t.Voice)
	setInt(&cfg.Workers, t.Workers)
	setBool(&cfg.PlainText, t.PlainText)
	setBool(&cfg.NoIntro, t.NoIntro)
	if t.Normalize != nil {
		cfg.Normalize = *t.Normalize
	}
	if t.TargetDBFS != nil {
		cfg.TargetDBFS = *t.TargetDBFS
	}

	setStr(&cfg.OpenAIBaseURL, fc.OpenAI.BaseURL)
	setStr(&cfg.OpenAIKey, fc.OpenAI.Key)
	setStr(&cfg.OpenAIModel, fc.OpenAI.Model)

	c := fc.Cache
	setStr(&cfg.CacheDir, c.Dir)
	setDur(&cfg.CacheMaxAge, c.MaxAge)
	setBool(&cfg.CacheClear, c.Clear)
	setBool(&cfg.CacheStrictPerms, c.StrictPerms)
	if c.MaxBytes > 0 {
		cfg.CacheMaxBytes = c.MaxBytes
	}
	setInt(&cfg.CacheMaxSegments, c.MaxSegments)

	setInt(&cfg.MaxConcurrentRuns, fc.MaxConcurrentRuns)
	setStr(&cfg.MetricsAddr, fc.MetricsAddr)
}
