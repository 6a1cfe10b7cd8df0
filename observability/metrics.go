package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiquin",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by result.",
		},
		[]string{"op", "result"},
	)
	ledgerPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiquin",
			Subsystem: "ledger",
			Name:      "paid_octas_total",
			Help:      "Octas accounted as paid out, by transfer kind.",
		},
		[]string{"kind"},
	)
	complianceChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiquin",
			Subsystem: "compliance",
			Name:      "checks_total",
			Help:      "Compliance gate decisions.",
		},
		[]string{"result"},
	)
	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiquin",
			Subsystem: "settlement",
			Name:      "transfers_total",
			Help:      "On-chain transfer state changes.",
		},
		[]string{"status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiquin",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiquin",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ledgerOps, ledgerPaid, complianceChecks, settlements, httpRequests, httpDuration)
	})
}

func RecordLedgerOp(op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	ledgerOps.WithLabelValues(op, result).Inc()
}

func RecordPaid(kind string, amount int64) {
	RegisterMetrics()
	ledgerPaid.WithLabelValues(kind).Add(float64(amount))
}

func RecordCompliance(result string) {
	RegisterMetrics()
	complianceChecks.WithLabelValues(result).Inc()
}

func RecordSettlement(status string) {
	RegisterMetrics()
	settlements.WithLabelValues(status).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
