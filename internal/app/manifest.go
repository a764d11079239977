package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"
	"unicode/utf8"

	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/pipeline"
)

// computeSHA256Hex returns a lowercase hex-encoded SHA-256 of the given text.
func computeSHA256Hex(text string) string {
	return sha256Hex([]byte(text))
}

func sha256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// articleManifest is the <name>.json sidecar written next to each output.
type articleManifest struct {
	*pipeline.Result

	TextSHA256  string        `json:"text_sha256,omitempty"`
	TextChars   int           `json:"text_chars"`
	AudioFile   string        `json:"audio_file,omitempty"`
	AudioSHA256 string        `json:"audio_sha256,omitempty"`
	AudioBytes  int           `json:"audio_bytes,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Encoding    string        `json:"encoding,omitempty"`
	Normalized  bool          `json:"loudness_normalized"`
	ChunkCount  int           `json:"chunk_count"`
	Error       string        `json:"error,omitempty"`
	Code        failure.Code  `json:"code,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
	Version     string        `json:"version"`
}

func buildManifest(res *pipeline.Result, runErr error, audioFile string) articleManifest {
	m := articleManifest{
		Result:      res,
		TextChars:   utf8.RuneCountInString(res.Text),
		ChunkCount:  len(res.Chunks),
		GeneratedAt: time.Now().UTC(),
		Version:     BuildVersion,
	}
	if res.Text != "" {
		m.TextSHA256 = computeSHA256Hex(res.Text)
	}
	if res.Audio != nil {
		m.AudioFile = audioFile
		m.AudioSHA256 = sha256Hex(res.Audio.Data)
		m.AudioBytes = len(res.Audio.Data)
		m.Duration = res.Audio.Duration
		m.Encoding = string(res.Audio.Encoding)
		m.Normalized = res.Audio.Normalized
	}
	if runErr != nil {
		m.Error = runErr.Error()
		m.Code = failure.CodeOf(runErr)
	}
	return m
}

// ReportEntry is one URL's line in report.json.
type ReportEntry struct {
	URL        string         `json:"url"`
	Status     pipeline.State `json:"status"`
	Code       failure.Code   `json:"code,omitempty"`
	Error      string         `json:"error,omitempty"`
	Title      string         `json:"title,omitempty"`
	Engine     string         `json:"engine,omitempty"`
	FetchedVia string         `json:"fetched_via,omitempty"`
	Output     string         `json:"output,omitempty"`
	Files      []string       `json:"files,omitempty"`
}

// Report summarizes a batch. Failed counts entries with status FAILED and
// Skipped those never started because the batch was canceled.
type Report struct {
	Started  time.Time     `json:"started"`
	Elapsed  time.Duration `json:"elapsed"`
	Version  string        `json:"version"`
	Total    int           `json:"total"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Outcomes []ReportEntry `json:"outcomes"`
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
