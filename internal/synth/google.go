package synth

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperifyio/zissou/internal/audio"
)

// speechClient is the part of *texttospeech.Client the backend uses.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
}

// GoogleBackend calls Cloud Text-to-Speech. Request.Voice is a profile name
// from VoiceProfiles.
type GoogleBackend struct {
	client speechClient
	close  func() error
}

// NewGoogleBackend dials Cloud TTS with application default credentials.
func NewGoogleBackend(ctx context.Context) (*GoogleBackend, error) {
	c, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &GoogleBackend{client: c, close: c.Close}, nil
}

func (g *GoogleBackend) Name() string { return "google" }

// Close releases the underlying connection.
func (g *GoogleBackend) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

func (g *GoogleBackend) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	profile := Profile(req.Voice)
	input := &texttospeechpb.SynthesisInput{InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text}}
	if req.SSML {
		input = &texttospeechpb.SynthesisInput{InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: req.Text}}
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: profile.LanguageCode(),
			Name:         profile.Name,
			SsmlGender:   profile.Gender,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: googleEncoding(req.Encoding),
			SpeakingRate:  profile.SpeakingRate,
			Pitch:         profile.Pitch,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, errEmptyAudio
	}
	return resp.GetAudioContent(), nil
}

func googleEncoding(e audio.Encoding) texttospeechpb.AudioEncoding {
	switch e {
	case audio.OggOpus:
		return texttospeechpb.AudioEncoding_OGG_OPUS
	case audio.Linear16:
		return texttospeechpb.AudioEncoding_LINEAR16
	default:
		return texttospeechpb.AudioEncoding_MP3
	}
}

// Classify maps gRPC codes first, then well-known messages.
func (g *GoogleBackend) Classify(err error) Class {
	if c, ok := classifyCommon(err); ok {
		return c
	}
	msg := strings.ToLower(err.Error())
	if st, ok := status.FromError(err); ok {
		msg = strings.ToLower(st.Message())
		switch st.Code() {
		case codes.InvalidArgument:
			if tooLongMessage(msg) {
				return ClassTooLong
			}
			return ClassPermanent
		case codes.FailedPrecondition:
			return ClassPermanent
		case codes.PermissionDenied, codes.Unauthenticated:
			return ClassPermission
		case codes.ResourceExhausted:
			return ClassQuota
		case codes.DeadlineExceeded, codes.Unavailable, codes.Aborted, codes.Internal:
			return ClassTransient
		}
	}
	switch {
	case tooLongMessage(msg):
		return ClassTooLong
	case strings.Contains(msg, "invalid ssml"), strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "audio content is empty"):
		return ClassPermanent
	case strings.Contains(msg, "quota"):
		return ClassQuota
	case strings.Contains(msg, "exceeded"), strings.Contains(msg, "backend error"):
		return ClassTransient
	}
	return ClassUnknown
}

func tooLongMessage(msg string) bool {
	return strings.Contains(msg, "must be less than") || strings.Contains(msg, "too long") ||
		strings.Contains(msg, "longer than")
}
