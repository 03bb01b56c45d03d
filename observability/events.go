package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	events   *prometheus.CounterVec
	entities *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed application events
// and entity creation.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "resengine",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Committed component events segmented by type.",
			}, []string{"type"}),
			entities: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "resengine",
				Subsystem: "events",
				Name:      "entities_created_total",
				Help:      "Committed entities segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(eventRegistry.events, eventRegistry.entities)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		normalized = "unknown"
	}
	m.events.WithLabelValues(normalized).Inc()
}

// RecordEntity increments the counter for an entity kind such as "vault".
func (m *eventMetrics) RecordEntity(kind string) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(strings.ToLower(strings.TrimSpace(kind))).Inc()
}
