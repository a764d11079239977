// Package failure defines the typed error returned by every pipeline stage.
// Callers persist Code onto their own task/item records; Msg is for humans.
package failure

import (
	"errors"
	"fmt"
)

// Kind groups codes by the component that produced them.
type Kind string

const (
	KindFetch      Kind = "fetch"
	KindExtraction Kind = "extraction"
	KindArchive    Kind = "archive"
	KindChunking   Kind = "chunking"
	KindSynthesis  Kind = "synthesis"
	KindStitch     Kind = "stitch"
	KindStorage    Kind = "storage"
	KindConfig     Kind = "config"
	KindRun        Kind = "run"
)

// Code is a stable, machine-readable failure identifier.
type Code string

const (
	FetchTimeout            Code = "fetch-timeout"
	FetchHTTPStatus         Code = "fetch-http-status"
	FetchNetwork            Code = "fetch-network"
	FetchInvalidURL         Code = "fetch-invalid-url"
	FetchUnsupportedContent Code = "fetch-unsupported-content"

	ExtractionEmpty Code = "extraction-empty"

	ArchiveUnavailable Code = "archive-unavailable"
	ArchiveTimeout     Code = "archive-timeout"

	ChunkingUnsplittable Code = "chunking-unsplittable"

	SynthesisInvalidInput  Code = "synthesis-invalid-input"
	SynthesisQuotaExceeded Code = "synthesis-quota-exceeded"
	SynthesisTransient     Code = "synthesis-transient"
	SynthesisPermission    Code = "synthesis-permission"
	SynthesisEmptyAudio    Code = "synthesis-empty-audio"

	StitchFormatMismatch Code = "stitch-format-mismatch"
	StitchInvalidAudio   Code = "stitch-invalid-audio"

	StorageWrite  Code = "storage-write"
	ConfigInvalid Code = "config-invalid"

	// RunCanceled marks a URL that never started because the batch was
	// canceled.
	RunCanceled Code = "run-canceled"
)

// Error carries a Kind and Code alongside the usual wrapped cause.
type Error struct {
	Kind Kind
	Code Code
	// Op names the operation that failed, e.g. "fetch.get" or "synth.chunk".
	Op  string
	URL string
	Msg string
	// Transient reports whether retrying the same step could succeed.
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s (%s)", msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error without a cause.
func New(kind Kind, code Code, op, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: msg}
}

// Wrap builds an Error around err. The message defaults to err's text.
func Wrap(kind Kind, code Code, op string, err error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: err}
}

// WithURL returns e with URL set; handy at call sites that know the source.
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// CodeOf returns the Code of the first *Error in err's chain, or "" when err
// carries none.
func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return ""
}

// IsTransient reports whether err is marked transient.
func IsTransient(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Transient
	}
	return false
}
