package observability

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tokenledger"

// Metrics counts ledger operations and the tokens they move.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	tokens     *prometheus.CounterVec
}

// NewMetrics registers the ledger collectors on a fresh registry, alongside the Go and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	metrics := &Metrics{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome.",
		}, []string{"operation", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tokens_total",
			Help:      "Tokens moved by successful ledger operations.",
		}, []string{"operation"}),
	}
	for _, collector := range []prometheus.Collector{
		metrics.operations,
		metrics.tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// LogOperation implements ledger.OperationLogger.
func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	metrics.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		return
	}
	moved := entry.Amount.Int64()
	if moved < 0 {
		moved = -moved
	}
	if moved > 0 {
		metrics.tokens.WithLabelValues(entry.Operation).Add(float64(moved))
	}
}

// Handler exposes the registry in the Prometheus text format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}
