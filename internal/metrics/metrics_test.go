package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	ExtractorWins.WithLabelValues("readability").Inc()
	ObservePhase("fetching", 120*time.Millisecond)

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		`zissou_extractor_wins_total{engine="readability"}`,
		`zissou_phase_duration_seconds_bucket{phase="fetching"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in exposition", want)
		}
	}
}
