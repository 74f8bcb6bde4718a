package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Model operation Prometheus metrics.
var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redmap",
			Name:      "operations_total",
			Help:      "Total number of model operations",
		},
		[]string{"model", "op", "status"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "redmap",
			Name:      "operation_duration_seconds",
			Help:      "Model operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"model", "op"},
	)

	searchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redmap",
			Name:      "search_results_total",
			Help:      "Total number of documents returned by search operations",
		},
		[]string{"model"},
	)

	indexMigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "redmap",
			Name:      "index_migrations_total",
			Help:      "Total number of index migration actions",
		},
		[]string{"index", "action"}, // "create" / "recreate" / "skip"
	)
)

func init() {
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(operationDuration)
	prometheus.MustRegister(searchResultsTotal)
	prometheus.MustRegister(indexMigrationsTotal)
}

// ObserveOperation records duration and outcome of a model operation.
func ObserveOperation(model, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	operationsTotal.WithLabelValues(model, op, status).Inc()
	operationDuration.WithLabelValues(model, op).Observe(time.Since(start).Seconds())
}

// ObserveSearchResults records the number of documents returned by a search.
func ObserveSearchResults(model string, n int) {
	searchResultsTotal.WithLabelValues(model).Add(float64(n))
}

// ObserveMigration records an index migration action.
func ObserveMigration(index, action string) {
	indexMigrationsTotal.WithLabelValues(index, action).Inc()
}
