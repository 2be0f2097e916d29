package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchaseOrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockroom",
		Name:      "purchase_orders_created_total",
		Help:      "Purchase orders created, by initial status.",
	}, []string{"status"})

	ReceivingLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockroom",
		Name:      "receiving_lines_total",
		Help:      "Purchase order lines processed at receiving, by reason.",
	}, []string{"reason"})

	BatchesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockroom",
		Name:      "batches_recorded_total",
		Help:      "Inventory batches inserted.",
	})

	ImportRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockroom",
		Name:      "import_rows_total",
		Help:      "Inventory import rows, by result.",
	}, []string{"result"})

	SequenceLockFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockroom",
		Name:      "sequence_lock_failures_total",
		Help:      "Sequence assignments that gave up waiting for the lock.",
	}, []string{"sequence"})
)
