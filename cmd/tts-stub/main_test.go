package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperifyio/zissou/internal/audio"
)

func post(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestSpeech_Formats(t *testing.T) {
	srv := httptest.NewServer(newHandler(0))
	defer srv.Close()

	resp, b := post(t, srv, `{"model":"tts-1","input":"one two three four","voice":"onyx"}`)
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("status %d type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if enc, ok := audio.Sniff(b); !ok || enc != audio.MP3 {
		t.Fatalf("body sniffed as %q", enc)
	}

	_, b = post(t, srv, `{"input":"one two","response_format":"wav"}`)
	if enc, _ := audio.Sniff(b); enc != audio.Linear16 {
		t.Fatalf("wav body sniffed as %q", enc)
	}

	if resp, _ := post(t, srv, `{"input":"x","response_format":"opus"}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("opus status = %d", resp.StatusCode)
	}
	if resp, _ := post(t, srv, `{"input":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty input status = %d", resp.StatusCode)
	}
}

func TestSpeech_FailEvery(t *testing.T) {
	srv := httptest.NewServer(newHandler(2))
	defer srv.Close()
	first, _ := post(t, srv, `{"input":"hello"}`)
	second, _ := post(t, srv, `{"input":"hello"}`)
	if first.StatusCode != 200 || second.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("statuses %d %d", first.StatusCode, second.StatusCode)
	}
}
