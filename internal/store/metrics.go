package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/kittclouds/kidtrack/internal/store")

var (
	transactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidtrack",
		Subsystem: "store",
		Name:      "transactions_total",
		Help:      "Outermost write transactions, labeled by outcome (commit or rollback).",
	}, []string{"outcome"})

	notificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kidtrack",
		Subsystem: "store",
		Name:      "notifications_total",
		Help:      "Table change notifications queued for observers.",
	})

	schemaResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kidtrack",
		Subsystem: "store",
		Name:      "schema_resets_total",
		Help:      "Destructive schema rebuilds performed because no migration path existed.",
	})

	// cached: the shared statement was compiled; fresh: a contended caller
	// compiled a private copy
	statementPreparesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kidtrack",
		Subsystem: "store",
		Name:      "statement_prepares_total",
		Help:      "Statements compiled by the statement cache, labeled by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(transactionsTotal, notificationsTotal, schemaResetsTotal, statementPreparesTotal)
}
