package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "missionctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	brokerConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Broker connection attempts by result.",
		},
		[]string{"result"},
	)
	brokerPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Broker publishes by queue and result.",
		},
		[]string{"queue", "success"},
	)
	missionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commander",
			Name:      "missions_created_total",
			Help:      "Missions accepted by the commander.",
		},
	)
	statusReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commander",
			Name:      "status_reports_total",
			Help:      "Status reports consumed by the commander, by result.",
		},
		[]string{"result"},
	)
	tokensIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_issued_total",
			Help:      "Status-report tokens issued.",
		},
	)
	storeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "fallbacks_total",
			Help:      "Status store operations served without the durable tier.",
		},
		[]string{"op"},
	)
	missionsExecuting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "soldier",
			Name:      "missions_executing",
			Help:      "Missions currently in the execution phase.",
		},
	)
	missionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "soldier",
			Name:      "missions_finished_total",
			Help:      "Missions finished by terminal status.",
		},
		[]string{"status"},
	)
	reportsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "soldier",
			Name:      "reports_dropped_total",
			Help:      "Status reports not published for lack of a token or broker.",
		},
	)
)

const (
	ReportApplied   = "applied"
	ReportRejected  = "rejected"
	ReportMalformed = "malformed"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			brokerConnects,
			brokerPublishes,
			missionsCreated,
			statusReports,
			tokensIssued,
			storeFallbacks,
			missionsExecuting,
			missionsFinished,
			reportsDropped,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectAttempt(ok bool) {
	RegisterMetrics()
	result := "failure"
	if ok {
		result = "success"
	}
	brokerConnects.WithLabelValues(result).Inc()
}

func RecordPublish(queue string, ok bool) {
	RegisterMetrics()
	brokerPublishes.WithLabelValues(queue, strconv.FormatBool(ok)).Inc()
}

func RecordMissionCreated() {
	RegisterMetrics()
	missionsCreated.Inc()
}

func RecordStatusReport(result string) {
	RegisterMetrics()
	statusReports.WithLabelValues(result).Inc()
}

func RecordTokenIssued() {
	RegisterMetrics()
	tokensIssued.Inc()
}

func RecordStoreFallback(op string) {
	RegisterMetrics()
	storeFallbacks.WithLabelValues(op).Inc()
}

func MissionStarted() {
	RegisterMetrics()
	missionsExecuting.Inc()
}

func MissionFinished(status string) {
	RegisterMetrics()
	missionsExecuting.Dec()
	missionsFinished.WithLabelValues(status).Inc()
}

func RecordReportDropped() {
	RegisterMetrics()
	reportsDropped.Inc()
}
