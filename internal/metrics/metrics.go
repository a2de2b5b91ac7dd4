// Package metrics holds the Prometheus collectors shared by the API and workers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Total HTTP requests partitioned by method, route, and status code
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	// Request duration in seconds partitioned by method, route, and status code
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// StreamMessages counts ingestion messages by stream and outcome (acked, failed, dead_lettered)
	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_stream_messages_total",
			Help: "Stream messages handled by ingestion consumers",
		},
		[]string{"stream", "outcome"},
	)

	// StreamReadErrors counts transport level read failures
	StreamReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_stream_read_errors_total",
			Help: "Failed reads from ingestion streams",
		},
		[]string{"stream"},
	)

	// DispatchSends counts vendor send attempts by outcome (sent, failed)
	DispatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_sends_total",
			Help: "Vendor send attempts made by the dispatcher",
		},
		[]string{"outcome"},
	)

	// ReceiptsSubmitted counts receipts accepted or rejected by the aggregator
	ReceiptsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_receipts_submitted_total",
			Help: "Delivery receipts offered to the aggregator",
		},
		[]string{"result"},
	)

	// ReceiptsApplied counts receipts that moved a log out of PENDING
	ReceiptsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_receipts_applied_total",
			Help: "Delivery receipts applied to communication logs",
		},
		[]string{"status"},
	)

	// ReceiptQueueDepth is the number of receipts waiting to be flushed
	ReceiptQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_receipt_queue_depth",
			Help: "Receipts buffered in the aggregator",
		},
	)

	// FlushDuration observes receipt batch flush latency
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_receipt_flush_duration_seconds",
			Help:    "Receipt batch flush latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// ReceiptsDropped counts receipts given up on after repeated apply failures
	ReceiptsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_receipts_dropped_total",
			Help: "Delivery receipts dropped after repeated apply failures",
		},
	)

	// CampaignsCompleted counts RUNNING to COMPLETED transitions
	CampaignsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_completed_total",
			Help: "Campaigns that reached COMPLETED",
		},
	)
)

// Middleware records request count and latency per route template
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(rec.status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
