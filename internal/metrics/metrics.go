package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2e_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "m2e_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"}, // snapshot, rejection, error
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_mqtt_messages_received_total",
			Help: "Total number of MQTT position messages received",
		},
		[]string{"format"}, // json, nmea
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_mqtt_parse_errors_total",
			Help: "Total number of MQTT payload parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "m2e_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Метрики трекинга
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_tracking_samples_ingested_total",
			Help: "Total number of raw position samples routed to sessions",
		},
	)

	SamplesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_tracking_samples_accepted_total",
			Help: "Number of samples that passed the plausibility filter and were credited",
		},
	)

	SamplesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_tracking_samples_rejected_total",
			Help: "Number of samples discarded, by reason",
		},
		[]string{"reason"}, // implausible_speed, non_monotonic_time, malformed, poor_accuracy, below_min_movement, session_idle
	)

	DistanceCreditedKm = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_tracking_distance_credited_km_total",
			Help: "Total validated distance credited across all sessions, in kilometers",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "m2e_tracking_sessions_active",
			Help: "Current number of sessions in the active state",
		},
	)

	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_tracking_sessions_started_total",
			Help: "Total number of started tracking sessions",
		},
	)

	SessionsStopped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "m2e_tracking_sessions_stopped_total",
			Help: "Total number of stopped tracking sessions",
		},
	)

	SessionDistanceKm = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "m2e_tracking_session_distance_km",
			Help:    "Distribution of final session distances in kilometers",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100},
		},
	)

	// Метрики начисления наград
	RewardDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_reward_dispatches_total",
			Help: "Total number of reward dispatch attempts, by outcome",
		},
		[]string{"status"}, // success, error, skipped
	)

	// Redis метрики
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2e_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "m2e_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)

	// MySQL метрики (история сессий)
	MySQLBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2e_mysql_batch_size",
			Help:    "Size of MySQL batch inserts",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"entity_type"}, // sessions, track_points
	)

	MySQLBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "m2e_mysql_batch_duration_seconds",
			Help:    "Duration of MySQL batch operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"entity_type"},
	)

	MySQLQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "m2e_mysql_queue_size",
			Help: "Current size of MySQL writer queues",
		},
		[]string{"queue_type"},
	)

	MySQLWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "m2e_mysql_write_errors_total",
			Help: "Total number of MySQL write errors",
		},
		[]string{"entity_type"},
	)

	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "m2e_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "m2e_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
