package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts transfer state transitions by status
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transfers_total",
			Help: "Total number of transfer state transitions",
		},
		[]string{"status"},
	)

	// TransferAmount tracks the amount of USDC transferred
	TransferAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cctp_transfer_amount_usdc",
			Help:    "Amount of USDC per transfer",
			Buckets: []float64{0.01, 0.1, 1, 10, 100, 1000, 10000, 100000},
		},
	)

	// AttestationRequestsTotal counts attestation API lookups by outcome
	AttestationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_attestation_requests_total",
			Help: "Total number of attestation API requests",
		},
		[]string{"path", "result"},
	)

	// AttestationLatency tracks attestation API round-trip time
	AttestationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cctp_attestation_latency_seconds",
			Help:    "Attestation API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ActivePollers tracks the number of running polling tasks
	ActivePollers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cctp_active_pollers",
			Help: "Number of active attestation polling tasks",
		},
	)

	// TransactionsSent counts chain transactions by operation and status
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_transactions_sent_total",
			Help: "Total number of chain transactions sent",
		},
		[]string{"operation", "status"},
	)

	// ErrorsTotal counts errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cctp_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
