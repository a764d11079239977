// Package metrics holds the Prometheus collectors shared by the pipeline
// stages. Collectors live on a private registry served by Handler.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zissou"

var registry = prom.NewRegistry()

var (
	FetchAttempts = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "HTTP fetch attempts by outcome (ok, transient, permanent).",
	}, []string{"outcome"})

	ExtractorAttempts = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "extractor_attempts_total",
		Help:      "Extraction engine runs by engine and status (success, short, empty, error).",
	}, []string{"engine", "status"})

	ExtractorWins = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "extractor_wins_total",
		Help:      "Times an engine's candidate was selected.",
	}, []string{"engine"})

	ArchiveLookups = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "archive_lookups_total",
		Help:      "Archive snapshot lookups by service and outcome.",
	}, []string{"service", "outcome"})

	SynthRequests = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "synth_requests_total",
		Help:      "Synthesis backend calls by backend and outcome.",
	}, []string{"backend", "outcome"})

	SynthCacheHits = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Name:      "synth_cache_hits_total",
		Help:      "Segments served from the on-disk segment cache.",
	})

	PhaseSeconds = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Wall time per pipeline phase.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"phase"})

	Runs = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Completed pipeline runs by status and failure code.",
	}, []string{"status", "code"})
)

func init() {
	registry.MustRegister(
		FetchAttempts,
		ExtractorAttempts,
		ExtractorWins,
		ArchiveLookups,
		SynthRequests,
		SynthCacheHits,
		PhaseSeconds,
		Runs,
	)
}

// ObservePhase records the duration of one pipeline phase.
func ObservePhase(phase string, d time.Duration) {
	PhaseSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and for embedding into another
// exposition endpoint.
func Registry() *prom.Registry { return registry }
