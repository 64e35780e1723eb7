package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motonotify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_events_published_total",
			Help: "Domain events published on the bus by type",
		},
		[]string{"event_type"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_events_dropped_total",
			Help: "Events dropped by a handler pipeline stage",
		},
		[]string{"stage"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_notifications_created_total",
			Help: "Notifications created by channel and category",
		},
		[]string{"channel", "category"},
	)

	gatingDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_gating_denied_total",
			Help: "Notification creations denied by the gating policy, by reason",
		},
		[]string{"reason"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "motonotify_deliveries_total",
			Help: "Delivery attempts by channel and outcome (sent, retry, failed)",
		},
		[]string{"channel", "outcome"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "motonotify_delivery_latency_seconds",
			Help:    "Time from notification creation to successful send",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"channel"},
	)

	sweepBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "motonotify_sweep_batch_size",
			Help:    "Pending notifications picked up per retry sweep tick",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEventPublished counts one published domain event.
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped counts an event dropped by the named pipeline stage.
func RecordEventDropped(stage string) {
	eventsDropped.WithLabelValues(stage).Inc()
}

// RecordNotificationCreated counts one created notification.
func RecordNotificationCreated(channel, category string) {
	notificationsCreated.WithLabelValues(channel, category).Inc()
}

// RecordGatingDenied counts one gating denial.
func RecordGatingDenied(reason string) {
	gatingDenied.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one delivery attempt outcome.
func RecordDelivery(channel, outcome string) {
	deliveries.WithLabelValues(channel, outcome).Inc()
}

// RecordDeliveryLatency records creation-to-sent latency for a channel.
func RecordDeliveryLatency(channel string, latency time.Duration) {
	deliveryLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

// RecordSweepBatch records how many rows one sweep tick picked up.
func RecordSweepBatch(n int) {
	sweepBatchSize.Observe(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
