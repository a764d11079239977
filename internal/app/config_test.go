package app

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperifyio/zissou/internal/failure"
)

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "zissou.yaml")
	yml := `
out: from-file
tts:
  voice: documentary
  workers: 3
  encoding: OGG_OPUS
archive:
  budget: 30s
fetch:
  maxRetries: 0
  referers: ["https://file.example/"]
`
	if err := os.WriteFile(cfgPath, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TTS_WORKERS=5\nTTS_VOICE=first-mate\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TTS_WORKERS", "")
	t.Setenv("TTS_VOICE", "")

	cfg, err := LoadConfig("zissou", []string{
		"-config", cfgPath,
		"-env", envPath,
		"-tts.voice", "sensual-female",
		"https://example.com/a", "https://example.com/b",
	}, io.Discard)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Voice != "sensual-female" {
		t.Errorf("flag should win: voice = %q", cfg.Voice)
	}
	if cfg.Workers != 5 {
		t.Errorf("env should beat file: workers = %d", cfg.Workers)
	}
	if cfg.OutDir != "from-file" || cfg.Encoding != "OGG_OPUS" || cfg.ArchiveBudget != 30*time.Second {
		t.Errorf("file values not applied: out=%q enc=%q budget=%s", cfg.OutDir, cfg.Encoding, cfg.ArchiveBudget)
	}
	if cfg.MaxRetries != 0 || len(cfg.Referers) != 1 {
		t.Errorf("explicit zero and lists from file: retries=%d referers=%q", cfg.MaxRetries, cfg.Referers)
	}
	if cfg.MaxChunkBytes != 4800 || cfg.Backend != BackendGoogle {
		t.Errorf("defaults lost: max chunk %d backend %q", cfg.MaxChunkBytes, cfg.Backend)
	}
	if len(cfg.URLs) != 2 || cfg.URLs[1] != "https://example.com/b" {
		t.Errorf("urls = %q", cfg.URLs)
	}
}

func TestLoadConfig_BadFlag(t *testing.T) {
	if _, err := LoadConfig("zissou", []string{"-no-such-flag"}, io.Discard); err == nil {
		t.Fatal("expected an error for an unknown flag")
	}
}

func TestValidateConfig(t *testing.T) {
	base := DefaultConfig()
	base.URLs = []string{"https://example.com/a"}
	if err := ValidateConfig(base); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	cases := map[string]func(*Config){
		"no urls":            func(c *Config) { c.URLs = nil },
		"negative workers":   func(c *Config) { c.Workers = -1 },
		"min over max chunk": func(c *Config) { c.MinChunkBytes, c.MaxChunkBytes = 5000, 4000 },
		"margin over limit":  func(c *Config) { c.SafetyMargin = c.RequestByteLimit },
		"unknown encoding":   func(c *Config) { c.Encoding = "FLAC" },
		"unknown backend":    func(c *Config) { c.Backend = "polly" },
		"openai without key": func(c *Config) { c.Backend = BackendOpenAI },
		"negative timeout":   func(c *Config) { c.RequestTimeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			if err := ValidateConfig(cfg); failure.CodeOf(err) != failure.ConfigInvalid {
				t.Fatalf("err = %v", err)
			}
		})
	}

	textOnly := base
	textOnly.TextOnly = true
	textOnly.Backend = "polly"
	if err := ValidateConfig(textOnly); err != nil {
		t.Fatalf("text-only runs ignore synthesis settings: %v", err)
	}
}

func TestReadURLList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	body := "# weekend reading\nhttps://example.com/a\n\n  https://example.com/b  \n# done\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	urls, err := ReadURLList(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 2 || urls[0] != "https://example.com/a" || urls[1] != "https://example.com/b" {
		t.Fatalf("urls = %q", urls)
	}
}

func TestOutputBase(t *testing.T) {
	a := outputBase("out", "https://example.com/reef", "The Quiet Reef: Part 1")
	if filepath.Dir(a) != "out" || filepath.Base(a)[:len("the-quiet-reef-part-1-")] != "the-quiet-reef-part-1-" {
		t.Fatalf("base = %q", a)
	}
	if b := outputBase("out", "https://example.com/reef", "The Quiet Reef: Part 1"); a != b {
		t.Fatalf("not stable: %q vs %q", a, b)
	}
	if c := outputBase("out", "https://example.com/other", "The Quiet Reef: Part 1"); a == c {
		t.Fatalf("distinct urls collided: %q", c)
	}
	if d := outputBase("out", "https://example.com/2024/tides", ""); filepath.Base(d)[:len("example-com-2024-tides-")] != "example-com-2024-tides-" {
		t.Fatalf("untitled base = %q", d)
	}
}
