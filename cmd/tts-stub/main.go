// Command tts-stub serves an OpenAI-compatible /v1/audio/speech endpoint that
// returns placeholder audio sized to the input, for exercising zissou without
// a real speech backend.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/audio"
)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// wordDuration approximates narration pace at roughly 170 words a minute.
const wordDuration = 350 * time.Millisecond

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8082"
	}
	flag.StringVar(&addr, "addr", addr, "Listen address")
	failEvery := flag.Int("fail-every", 0, "Answer every Nth speech request with 503 (0 never)")
	flag.Parse()

	log.Info().Str("addr", addr).Int("failEvery", *failEvery).Msg("tts-stub listening")
	if err := http.ListenAndServe(addr, newHandler(*failEvery)); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}

func newHandler(failEvery int) http.Handler {
	var requests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "tts-1", "object": "model"}, {"id": "tts-1-hd", "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := requests.Add(1)
		if failEvery > 0 && n%int64(failEvery) == 0 {
			http.Error(w, `{"error":{"message":"stub overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"invalid JSON body"}}`, http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Input) == "" {
			http.Error(w, `{"error":{"message":"input is required"}}`, http.StatusBadRequest)
			return
		}
		enc := audio.MP3
		switch strings.ToLower(req.ResponseFormat) {
		case "", "mp3":
		case "wav":
			enc = audio.Linear16
		default:
			http.Error(w, `{"error":{"message":"unsupported response_format"}}`, http.StatusBadRequest)
			return
		}
		d := time.Duration(len(strings.Fields(req.Input))) * wordDuration
		if req.Speed > 0 {
			d = time.Duration(float64(d) / req.Speed)
		}
		body, err := audio.Placeholder(enc, d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Debug().Str("voice", req.Voice).Str("format", string(enc)).Dur("duration", d).Msg("speech")
		w.Header().Set("Content-Type", enc.ContentType())
		_, _ = w.Write(body)
	})
	return mux
}
