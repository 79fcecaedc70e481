// Package metrics provides Prometheus instrumentation for the exchange
// service: attempt and match counters, race and cleanup counters, and the
// size of the pending index.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StartsTotal counts exchange attempts accepted by the service.
	StartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_starts_total",
		Help: "Total number of exchange attempts started",
	})

	// MatchesTotal counts confirmed matches, labeled by kind ("bump" or
	// "pair") and pair confidence.
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_matches_total",
		Help: "Total number of confirmed matches",
	}, []string{"kind", "confidence"})

	// LostRacesTotal counts claims that found their keys already taken by
	// another instance.
	LostRacesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_lost_races_total",
		Help: "Claims lost to a concurrent claimer",
	})

	// StaleCandidatesTotal counts index entries whose record had expired.
	StaleCandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exchange_stale_candidates_total",
		Help: "Pending index entries removed because their record expired",
	})

	// StoreErrorsTotal counts transient store failures by operation.
	StoreErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_store_errors_total",
		Help: "Transient key-value store failures",
	}, []string{"op"})

	// PendingSessions tracks the size of the pending index.
	PendingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "exchange_pending",
		Help: "Current number of sessions in the pending index",
	})

	// MatchDelta records the timestamp gap of bump matches in milliseconds.
	MatchDelta = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "exchange_match_delta_ms",
		Help:    "Timestamp gap between the two reports of a bump match",
		Buckets: []float64{10, 25, 50, 100, 150, 200, 300, 400, 500},
	})

	// ResponsesTotal counts accept/reject decisions.
	ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "exchange_responses_total",
		Help: "Accept/reject decisions recorded on matches",
	}, []string{"decision"})
)

func init() {
	prometheus.MustRegister(
		StartsTotal,
		MatchesTotal,
		LostRacesTotal,
		StaleCandidatesTotal,
		StoreErrorsTotal,
		PendingSessions,
		MatchDelta,
		ResponsesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
