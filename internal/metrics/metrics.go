// Package metrics exports search and round counters in Prometheus format
// from a dedicated registry.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

const namespace = "hashminer"

// Recorder owns the collectors. Its methods are safe for concurrent use and
// a nil *Recorder records nothing.
type Recorder struct {
	reg      *prometheus.Registry
	searches *prometheus.CounterVec
	hashes   prometheus.Counter
	duration prometheus.Histogram
	rounds   prometheus.Counter
}

// New registers the collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches finished, by how they ended.",
		}, []string{"status"}),
		hashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashes_total",
			Help:      "SHA-256 digests computed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Wall time of a search.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Driver rounds that ended without a match.",
		}),
	}
	r.reg.MustRegister(
		r.searches, r.hashes, r.duration, r.rounds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	// expose every status at zero so dashboards see the series before traffic
	for _, s := range []mining.Status{mining.StatusFound, mining.StatusExhausted, mining.StatusCancelled} {
		r.searches.WithLabelValues(s.String())
	}
	return r
}

// Registry returns the registry backing Handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// GaugeFunc registers a gauge read from f on every scrape. Callers use it
// for state they already own, such as hashminer_running and
// hashminer_searches_in_flight.
func (r *Recorder) GaugeFunc(name, help string, f func() float64) {
	if r == nil {
		return
	}
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f))
}

// SearchFinished records a search that ran to an outcome.
func (r *Recorder) SearchFinished(status mining.Status, hashes uint64, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.searches.WithLabelValues(status.String()).Inc()
	r.hashes.Add(float64(hashes))
	r.duration.Observe(elapsed.Seconds())
}

// RoundCompleted counts a driver round that ended without a match.
func (r *Recorder) RoundCompleted(uint64, time.Duration) {
	if r == nil {
		return
	}
	r.rounds.Inc()
}

// BoolGauge adapts a predicate for GaugeFunc.
func BoolGauge(f func() bool) func() float64 {
	return func() float64 {
		if f() {
			return 1
		}
		return 0
	}
}
