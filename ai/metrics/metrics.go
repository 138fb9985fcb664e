// Package metrics exports Prometheus metrics for the conversation
// pipeline.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krapivin/consultbot/ai/orchestrator"
)

// Exporter collects turn-level metrics and serves them in Prometheus
// exposition format.
type Exporter struct {
	registry *prometheus.Registry

	turnLatency *prometheus.HistogramVec
	turnsTotal  *prometheus.CounterVec
	leadsTotal  prometheus.Counter
}

func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	e := &Exporter{
		registry: registry,
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consultbot_turn_duration_seconds",
			Help:    "End-to-end latency of one conversation turn.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		}, []string{"intent"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consultbot_turns_total",
			Help: "Processed conversation turns by routed intent.",
		}, []string{"intent"}),
		leadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "consultbot_leads_created_total",
			Help: "Leads captured during conversation turns.",
		}),
	}
	registry.MustRegister(e.turnLatency, e.turnsTotal, e.leadsTotal)
	return e
}

// Handler serves the scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one completed turn.
func (e *Exporter) ObserveTurn(intent string, leadCreated bool, d time.Duration) {
	e.turnLatency.WithLabelValues(intent).Observe(d.Seconds())
	e.turnsTotal.WithLabelValues(intent).Inc()
	if leadCreated {
		e.leadsTotal.Inc()
	}
}

// Turner matches the orchestrator's turn surface.
type Turner interface {
	ProcessTurn(ctx context.Context, in *orchestrator.Incoming) *orchestrator.Reply
}

type instrumentedTurner struct {
	next     Turner
	exporter *Exporter
}

// InstrumentTurner wraps a turner so every processed turn is observed,
// whichever transport it arrived on.
func (e *Exporter) InstrumentTurner(next Turner) Turner {
	return &instrumentedTurner{next: next, exporter: e}
}

func (t *instrumentedTurner) ProcessTurn(ctx context.Context, in *orchestrator.Incoming) *orchestrator.Reply {
	start := time.Now()
	reply := t.next.ProcessTurn(ctx, in)
	t.exporter.ObserveTurn(string(reply.Intent), reply.LeadCreated, time.Since(start))
	return reply
}
