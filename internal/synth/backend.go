// Package synth turns text chunks into audio segments through a speech
// backend, with retries, halving of oversized input and a worker pool.
package synth

import (
	"context"
	"errors"
	"net"

	"github.com/hyperifyio/zissou/internal/audio"
	"github.com/hyperifyio/zissou/internal/failure"
)

// Request is one backend call.
type Request struct {
	Text string
	// SSML marks Text as a <speak> document.
	SSML     bool
	Voice    string
	Encoding audio.Encoding
}

// Backend is a speech service. One instance is shared by every chunk of a
// run and must be safe for concurrent use.
type Backend interface {
	Name() string
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	Classify(err error) Class
}

// Class is a backend error classification.
type Class int

const (
	// ClassUnknown errors are retried like transient ones.
	ClassUnknown Class = iota
	ClassTransient
	// ClassQuota is a rate or quota rejection; retried.
	ClassQuota
	ClassPermanent
	ClassPermission
	// ClassTooLong means the input exceeded the request limit. The chunk is
	// halved instead of retried.
	ClassTooLong
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassPermanent:
		return "permanent"
	case ClassPermission:
		return "permission"
	case ClassTooLong:
		return "too-long"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same request may succeed later.
func (c Class) Retryable() bool {
	return c == ClassUnknown || c == ClassTransient || c == ClassQuota
}

// Code maps the class to a failure code.
func (c Class) Code() failure.Code {
	switch c {
	case ClassQuota:
		return failure.SynthesisQuotaExceeded
	case ClassPermanent, ClassTooLong:
		return failure.SynthesisInvalidInput
	case ClassPermission:
		return failure.SynthesisPermission
	default:
		return failure.SynthesisTransient
	}
}

// errEmptyAudio is returned when a backend answers without audio.
var errEmptyAudio = errors.New("audio content is empty")

// classifyCommon handles errors every backend shares: context expiry and
// network failures.
func classifyCommon(err error) (Class, bool) {
	var ne net.Error
	switch {
	case errors.Is(err, errEmptyAudio):
		return ClassPermanent, true
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient, true
	case errors.As(err, &ne):
		return ClassTransient, true
	}
	return ClassUnknown, false
}
