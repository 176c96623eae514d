package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aquaflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Telemetry cycle metrics
	CyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_cycles_total",
			Help: "Total number of telemetry cycles executed",
		},
	)

	CyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_cycles_skipped_total",
			Help: "Total number of cycles skipped because the sensor list could not be loaded",
		},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aquaflow_cycle_duration_seconds",
			Help:    "Time taken to process one full telemetry cycle",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ReadingsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_readings_generated_total",
			Help: "Total number of synthetic readings generated",
		},
		[]string{"kind"},
	)

	ReadingsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_readings_failed_total",
			Help: "Total number of readings that failed to persist",
		},
	)

	FaultsInjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_faults_injected_total",
			Help: "Total number of synthetic fault signatures injected",
		},
		[]string{"kind"},
	)

	// Anomaly / alert metrics
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_detections_total",
			Help: "Total number of anomaly candidate detections",
		},
		[]string{"metric", "severity"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_alerts_created_total",
			Help: "Total number of alerts opened",
		},
		[]string{"metric", "severity"},
	)

	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
		[]string{"metric"},
	)

	AlertsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_alerts_throttled_total",
			Help: "Total number of alert creations suppressed by the announce throttle",
		},
	)

	AlertsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquaflow_alerts_open",
			Help: "Current number of open alerts",
		},
	)

	// Automation metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_automation_dispatch_total",
			Help: "Total number of automation webhook dispatch attempts",
		},
		[]string{"status"}, // status: success, failed
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aquaflow_automation_dispatch_duration_seconds",
			Help:    "Time taken to dispatch an automation webhook",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	RulesSkippedCooldown = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_automation_cooldown_skips_total",
			Help: "Total number of rule evaluations skipped by cooldown",
		},
	)

	// Offline monitor metrics
	OfflineScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_offline_scans_total",
			Help: "Total number of offline monitor scans",
		},
	)

	OfflineScansSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_offline_scans_skipped_total",
			Help: "Total number of offline scans skipped because a scan was still running",
		},
	)

	SensorsOffline = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_sensors_marked_offline_total",
			Help: "Total number of sensors marked offline",
		},
	)

	// Event bus metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_events_published_total",
			Help: "Total number of events published to the bus",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_events_dropped_total",
			Help: "Total number of events dropped because a subscriber was full",
		},
		[]string{"type"},
	)

	// Kafka sink metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_kafka_publish_total",
			Help: "Total number of events published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aquaflow_kafka_publish_duration_seconds",
			Help:    "Time taken to publish an event batch to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
