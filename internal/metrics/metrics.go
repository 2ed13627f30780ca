// Package metrics registers the Prometheus collectors of the tracker.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ChatMessages counts persisted chat messages by room kind and surface
	// ("rest" or "ws").
	ChatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_chat_messages_total",
			Help: "Chat messages persisted.",
		},
		[]string{"kind", "surface"},
	)

	ChatPersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_chat_persist_failures_total",
			Help: "Chat messages that failed to persist and were not broadcast.",
		},
		[]string{"kind"},
	)

	ChatDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_chat_deliveries_total",
		Help: "Chat events queued to live subscribers.",
	})

	ChatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_chat_evictions_total",
		Help: "Subscribers dropped because their send buffer was full.",
	})

	ChatSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_chat_subscribers",
		Help: "Live chat subscribers across all rooms.",
	})

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_notifications_created_total",
			Help: "Notifications written, by subject kind.",
		},
		[]string{"kind"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_notification_failures_total",
			Help: "Notification generation runs that produced nothing because of an error.",
		},
		[]string{"kind"},
	)
)

// HTTP records request count and latency. route maps a served request to a
// low-cardinality label; it runs after the handler so routers can report the
// matched pattern.
func HTTP(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := NewStatusWriter(w)
			next.ServeHTTP(rw, r)

			label := route(r)
			httpRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(rw.Status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

// StatusWriter captures the response status code.
type StatusWriter struct {
	http.ResponseWriter
	status int
}

func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	if sw, ok := w.(*StatusWriter); ok {
		return sw
	}
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *StatusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Status() int { return w.status }

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
