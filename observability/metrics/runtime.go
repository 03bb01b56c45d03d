package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeMetrics tracks bytecode runtime activity.
type RuntimeMetrics struct {
	compiles    *prometheus.CounterVec
	invocations *prometheus.CounterVec
}

var (
	runtimeOnce     sync.Once
	runtimeRegistry *RuntimeMetrics
)

func Runtime() *RuntimeMetrics {
	runtimeOnce.Do(func() {
		runtimeRegistry = &RuntimeMetrics{
			compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "resengine_vm_module_compiles_total",
				Help: "Module compilation requests by cache result.",
			}, []string{"cache"}),
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "resengine_vm_invocations_total",
				Help: "Guest invocations by runtime and result.",
			}, []string{"runtime", "result"}),
		}
		prometheus.MustRegister(runtimeRegistry.compiles, runtimeRegistry.invocations)
	})
	return runtimeRegistry
}

// RecordCompile counts a compile request served from the cache (hit) or by
// compiling the module.
func (m *RuntimeMetrics) RecordCompile(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.compiles.WithLabelValues(result).Inc()
}

// RecordInvocation counts one guest invocation. result is "ok", "trap" or
// "fault".
func (m *RuntimeMetrics) RecordInvocation(runtime, result string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(runtime, result).Inc()
}
