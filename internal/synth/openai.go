package synth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/zissou/internal/audio"
)

// speechAPI mirrors the CreateSpeech method of *openai.Client so any
// OpenAI-compatible server can be used.
type speechAPI interface {
	CreateSpeech(ctx context.Context, request openai.CreateSpeechRequest) (openai.RawResponse, error)
}

// OpenAIBackend calls an OpenAI-compatible /audio/speech endpoint. SSML is
// not supported there, so markup is flattened to text.
type OpenAIBackend struct {
	API   speechAPI
	Model string
	// Speed is passed through when non-zero.
	Speed float64
}

// NewOpenAIBackend builds a backend for baseURL (empty means the public API).
func NewOpenAIBackend(apiKey, baseURL string, httpClient *http.Client) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIBackend{API: openai.NewClientWithConfig(cfg), Model: string(openai.TTSModel1)}
}

func (o *OpenAIBackend) Name() string { return "openai" }

var openAIVoices = map[string]bool{
	"alloy": true, "echo": true, "fable": true, "onyx": true, "nova": true, "shimmer": true,
}

// openAIVoice accepts native voice names and maps profile names by gender.
func openAIVoice(name string) openai.SpeechVoice {
	if openAIVoices[name] {
		return openai.SpeechVoice(name)
	}
	if Profile(name).Gender == male {
		return openai.VoiceOnyx
	}
	return openai.VoiceNova
}

func openAIFormat(e audio.Encoding) openai.SpeechResponseFormat {
	switch e {
	case audio.OggOpus:
		return openai.SpeechResponseFormat("opus")
	case audio.Linear16:
		return openai.SpeechResponseFormat("wav")
	default:
		return openai.SpeechResponseFormat("mp3")
	}
}

func (o *OpenAIBackend) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := req.Text
	if req.SSML {
		text = FlattenSSML(text)
	}
	model := o.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	resp, err := o.API.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openAIVoice(req.Voice),
		ResponseFormat: openAIFormat(req.Encoding),
		Speed:          o.Speed,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, errEmptyAudio
	}
	return data, nil
}

// Classify maps HTTP status codes from the API error types.
func (o *OpenAIBackend) Classify(err error) Class {
	if c, ok := classifyCommon(err); ok {
		return c
	}
	status, msg := 0, strings.ToLower(err.Error())
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		msg = strings.ToLower(apiErr.Message)
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return ClassQuota
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassTransient
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassPermission
	case status == http.StatusRequestEntityTooLarge:
		return ClassTooLong
	case status >= 400:
		if tooLongMessage(msg) || strings.Contains(msg, "maximum") {
			return ClassTooLong
		}
		return ClassPermanent
	}
	return ClassUnknown
}

var ssmlTag = regexp.MustCompile(`<[^>]+>`)

// FlattenSSML drops markup and unescapes entities, keeping paragraph breaks
// as single spaces.
func FlattenSSML(s string) string {
	s = ssmlTag.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}
