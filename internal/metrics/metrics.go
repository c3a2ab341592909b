package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "HTTP response size in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 5),
	}, []string{"method", "path"})

	// outbound calls to the data, command and inference services
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total number of requests sent to collaborator services",
	}, []string{"service", "method", "status"})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Collaborator request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method"})

	// orchestration metrics
	ExportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exports_total",
		Help: "Total number of sensor data exports by inference layer and outcome",
	}, []string{"layer", "outcome"})

	ExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_duration_seconds",
		Help:    "Sensor data export duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms .. ~40s
	}, []string{"layer"})

	PollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inference_poll_attempts",
		Help:    "Number of polls needed to resolve a cloud prediction task",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	HeuristicActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heuristic_actions_total",
		Help: "Heuristic results handled, by decoded action",
	}, []string{"action"})

	// DB metrics
	DBQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Database query duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DBActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_active_connections",
		Help: "Number of active database connections",
	})

	DBIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "db_idle_connections",
		Help: "Number of idle database connections",
	})

	// MQTT export workers
	WorkerExportsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_exports_received_total",
		Help: "Total number of exports received over MQTT",
	})

	WorkerExportsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_exports_processed_total",
		Help: "Total number of MQTT exports successfully processed",
	})

	WorkerExportsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_exports_failed_total",
		Help: "Total number of MQTT exports failed during processing",
	})

	WorkerExportsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_exports_dropped_total",
		Help: "Total number of MQTT exports dropped because the queue was full or undecodable",
	})

	WorkerActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worker_active",
		Help: "Current number of active export workers",
	})
)
