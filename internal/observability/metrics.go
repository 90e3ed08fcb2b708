package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "healthmon"

var (
	registerOnce sync.Once

	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "snapshots_total",
			Help:      "Health snapshots queued, by event.",
		},
		[]string{"event"},
	)
	framesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "frames_sent_total",
			Help:      "Health frames fully written to the collector.",
		},
	)
	sendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_failures_total",
			Help:      "Health frame writes that failed.",
		},
	)
	acks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "acks_total",
			Help:      "Acks received, by whether a queued record matched.",
		},
		[]string{"matched"},
	)
	recordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "records_dropped_total",
			Help:      "Health records removed without an ack.",
		},
		[]string{"reason"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "reconnects_total",
			Help:      "Forced transport reconnects.",
		},
		[]string{"reason"},
	)
	inboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "frames_total",
			Help:      "Valid inbound frames, by message type.",
		},
		[]string{"type"},
	)
	inboundMalformed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbound",
			Name:      "malformed_total",
			Help:      "Inbound frames whose message could not be decoded.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "outcomes_total",
			Help:      "Finished commands, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Time from execution start to outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Records waiting in a durable queue.",
		},
		[]string{"queue"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests to the status listener.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
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
		prometheus.MustRegister(
			snapshots, framesSent, sendFailures, acks, recordsDropped, reconnects,
			inboundFrames, inboundMalformed, commands, commandDuration,
			queueDepth, httpRequests, httpDuration,
		)
	})
}

func RecordSnapshot(event string) {
	RegisterMetrics()
	snapshots.WithLabelValues(event).Inc()
}

func RecordFrameSent() {
	RegisterMetrics()
	framesSent.Inc()
}

func RecordSendFailure() {
	RegisterMetrics()
	sendFailures.Inc()
}

func RecordAck(matched bool) {
	RegisterMetrics()
	acks.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

func RecordDropped(reason string) {
	RegisterMetrics()
	recordsDropped.WithLabelValues(reason).Inc()
}

func RecordReconnect(reason string) {
	RegisterMetrics()
	reconnects.WithLabelValues(reason).Inc()
}

func RecordInbound(msgType string) {
	RegisterMetrics()
	inboundFrames.WithLabelValues(msgType).Inc()
}

func RecordMalformed() {
	RegisterMetrics()
	inboundMalformed.Inc()
}

func RecordCommand(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(kind, outcome).Inc()
	commandDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func SetQueueDepth(queue string, n int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(queue).Set(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
