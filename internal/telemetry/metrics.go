package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subalive",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "subalive",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// 100us .. ~1.6s; alive calls are local.
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "subalive",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Sender side ----
	HeartbeatsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subalive",
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat calls issued by the master, by result (ok, unreachable, error).",
		},
		[]string{"result"},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "subalive",
			Name:      "heartbeat_send_duration_seconds",
			Help:      "Round trip time of heartbeat calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	// ---- Receiver side ----
	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subalive",
			Name:      "heartbeats_received_total",
			Help:      "Heartbeat calls accepted by the slave.",
		},
	)

	CounterAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "subalive",
			Name:      "counter_anomalies_total",
			Help:      "Heartbeats whose counter did not follow the previous one.",
		},
	)

	LastHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "subalive",
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the last accepted heartbeat.",
		},
	)

	ReceiverState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "subalive",
			Name:      "receiver_state",
			Help:      "Receiver lifecycle state (0 running, 1 shutting down, 2 terminated).",
		},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "subalive",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "subalive",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		HeartbeatsSent, SendDuration,
		HeartbeatsReceived, CounterAnomalies, LastHeartbeat, ReceiverState,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(healthz)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		observe(op, sw.status, start)
	})
}

// InstrumentFiber is the fiber flavour of Instrument. The status class is
// taken from the returned *fiber.Error when the handler fails.
func InstrumentFiber(op string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		observe(op, status, start)
		return err
	}
}

func observe(op string, status int, start time.Time) {
	class := strconv.Itoa(status/100) + "xx"
	RequestsTotal.WithLabelValues(op, class).Inc()
	RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
