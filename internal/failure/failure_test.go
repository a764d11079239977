package failure

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_WrapAndInspect(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("pipeline: %w", Wrap(KindFetch, FetchNetwork, "fetch.get", cause).WithURL("https://example.com"))

	if got := CodeOf(err); got != FetchNetwork {
		t.Fatalf("CodeOf = %q, want %q", got, FetchNetwork)
	}
	if got := KindOf(err); got != KindFetch {
		t.Fatalf("KindOf = %q, want %q", got, KindFetch)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
	fe, ok := As(err)
	if !ok || fe.URL != "https://example.com" {
		t.Fatalf("As: ok=%v url=%q", ok, fe.URL)
	}
	if !strings.Contains(err.Error(), "fetch-network") || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestError_PlainErrorsHaveNoCode(t *testing.T) {
	err := errors.New("boom")
	if CodeOf(err) != "" || KindOf(err) != "" || IsTransient(err) {
		t.Fatalf("plain error should not carry failure metadata")
	}
}

func TestError_TransientFlag(t *testing.T) {
	e := New(KindSynthesis, SynthesisTransient, "synth.chunk", "backend unavailable")
	e.Transient = true
	if !IsTransient(fmt.Errorf("wrapped: %w", e)) {
		t.Fatalf("expected transient")
	}
	if e.Error() != "synth.chunk: backend unavailable (synthesis-transient)" {
		t.Fatalf("unexpected message: %q", e.Error())
	}
}
