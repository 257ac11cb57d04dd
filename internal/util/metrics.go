package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntitiesRegisteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entities_registered_total",
		Help: "Total number of registered entities",
	}, []string{"role"})

	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_products_created_total",
		Help: "Total number of products created",
	})

	TransactionsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_issued_total",
		Help: "Total number of transactions issued",
	}, []string{"status"})

	WritesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_writes_rejected_total",
		Help: "Total number of rejected ledger writes",
	}, []string{"operation", "reason"})

	SignatureChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_signature_checks_total",
		Help: "Total number of signature checks against stored transactions",
	}, []string{"result"})

	LedgerWriteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_write_latency_seconds",
		Help:    "Latency of ledger writes including the journal",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_events_publish_failed_total",
		Help: "Total number of ledger events that could not be published",
	}, []string{"event_type"})

	AuditEventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audit_events_consumed_total",
		Help: "Total number of ledger events recorded by the audit worker",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
