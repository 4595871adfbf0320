// ABOUTME: Prometheus collector for conversational turns
// ABOUTME: Counts turns by result, times them, and tallies engine events and history writes

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/history"
)

const namespace = "concierge"

// Event kinds used as the "kind" label of engine_events_total.
const (
	KindProgress = "progress"
	KindFinal    = "final"
	KindError    = "error"
)

// Collector records turn metrics on its own registry.
type Collector struct {
	registry       *prometheus.Registry
	turns          *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	engineEvents   *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
}

// New creates a Collector. Go runtime and process collectors are registered
// alongside the turn metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Turns handled, by result.",
			},
			[]string{"result"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Time from receiving user text to returning the outcome.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"result"},
		),
		engineEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_events_total",
				Help:      "Events consumed from agent engines, by kind.",
			},
			[]string{"kind"},
		),
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_records_total",
				Help:      "Records appended to interaction histories, by role.",
			},
			[]string{"role"},
		),
	}

	c.registry.MustRegister(
		c.turns,
		c.turnDuration,
		c.engineEvents,
		c.recordsWritten,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// TurnCompleted records the result and duration of one turn.
func (c *Collector) TurnCompleted(result string, elapsed time.Duration) {
	c.turns.WithLabelValues(result).Inc()
	c.turnDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// EngineEvent counts one consumed engine event.
func (c *Collector) EngineEvent(ev *agent.Event) {
	kind := KindProgress
	switch {
	case ev.Err != nil:
		kind = KindError
	case ev.Final:
		kind = KindFinal
	}
	c.engineEvents.WithLabelValues(kind).Inc()
}

// RecordWritten counts one history append.
func (c *Collector) RecordWritten(role history.Role) {
	c.recordsWritten.WithLabelValues(string(role)).Inc()
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
