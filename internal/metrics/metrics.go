package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitestock"

// Ledger collects allocation and ingestion outcomes.
type Ledger struct {
	allocations *prometheus.CounterVec
	duration    prometheus.Histogram
	ingestions  *prometheus.CounterVec
	conflicts   prometheus.Counter
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Material allocations by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Time spent serving one allocation, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_ingestions_total",
			Help:      "Stock deliveries by mode (created or merged).",
		}, []string{"mode"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflicts_total",
			Help:      "Concurrent-modification conflicts reported by the store.",
		}),
	}
	reg.MustRegister(m.allocations, m.duration, m.ingestions, m.conflicts)
	return m
}

func (m *Ledger) ObserveAllocation(outcome string, took time.Duration) {
	m.allocations.WithLabelValues(outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Ledger) IncIngestion(mode string) {
	m.ingestions.WithLabelValues(mode).Inc()
}

func (m *Ledger) IncConflict() {
	m.conflicts.Inc()
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler exposes reg on a fiber route.
func Handler(reg *prometheus.Registry) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}
