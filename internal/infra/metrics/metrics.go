package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venuebook_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GatewayCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_gateway_callbacks_total",
			Help: "Payment provider callbacks by method and outcome",
		},
		[]string{"provider", "method", "outcome"},
	)

	LedgerRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_ledger_records_total",
			Help: "Ledger record calls split into first-seen and replayed transactions",
		},
		[]string{"provider", "new"},
	)

	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_booking_transitions_total",
			Help: "Booking state machine requests by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	ReconciliationWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuebook_reconciliation_warnings_total",
			Help: "Payments that need operator attention",
		},
		[]string{"kind"},
	)
)

// Recorder adapts the package counters to the recorder ports of the app and
// gateway packages.
type Recorder struct{}

func (Recorder) RecordTransition(event, outcome string) {
	BookingTransitionsTotal.WithLabelValues(event, outcome).Inc()
}

func (Recorder) RecordLedger(provider string, isNew bool) {
	LedgerRecordsTotal.WithLabelValues(provider, strconv.FormatBool(isNew)).Inc()
}

func (Recorder) RecordCallback(provider, method, outcome string) {
	GatewayCallbacksTotal.WithLabelValues(provider, method, outcome).Inc()
}

func (Recorder) RecordWarning(kind string) {
	ReconciliationWarningsTotal.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// Middleware records every request under its route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
