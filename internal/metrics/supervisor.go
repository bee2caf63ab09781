// Package metrics exposes Prometheus metrics for the supervision engine.
// It observes the event bus; nothing here reaches into worker records.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/taskmaster/internal/events"
)

var (
	spawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmaster",
		Subsystem: "supervisor",
		Name:      "spawns_total",
		Help:      "Child processes spawned, per program",
	}, []string{"program"})

	exitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmaster",
		Subsystem: "supervisor",
		Name:      "exits_total",
		Help:      "Child exits observed, per program and kind",
	}, []string{"program", "kind"})

	workersInState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taskmaster",
		Subsystem: "supervisor",
		Name:      "workers",
		Help:      "Workers currently in each lifecycle state",
	}, []string{"program", "state"})

	reloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taskmaster",
		Subsystem: "supervisor",
		Name:      "reloads_total",
		Help:      "Configuration reloads applied",
	})
)

// Observe subscribes the metric collectors to the event bus. Returns an
// unsubscribe function.
func Observe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.WorkerSpawnedEvent) {
			spawnsTotal.WithLabelValues(e.Program).Inc()
		}),
		bus.Subscribe(func(e events.WorkerExitedEvent) {
			exitsTotal.WithLabelValues(e.Program, e.Kind).Inc()
		}),
		bus.Subscribe(func(e events.WorkerStateChangedEvent) {
			workersInState.WithLabelValues(e.Program, e.From).Dec()
			workersInState.WithLabelValues(e.Program, e.To).Inc()
		}),
		bus.Subscribe(func(e events.ConfigReloadedEvent) {
			reloadsTotal.Inc()
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
