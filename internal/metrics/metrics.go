package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Broadcaster Metrics
var (
	// BroadcasterConnectedClients tracks the number of connected overlay sockets
	BroadcasterConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_connected_clients",
			Help: "Number of connected overlay WebSocket clients",
		},
	)

	// BroadcasterEventsTotal counts play events handed to the broadcaster by source
	BroadcasterEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcaster_events_total",
			Help: "Play events broadcast by source (webhook, simulate)",
		},
		[]string{"source"},
	)

	// BroadcasterDeliveriesTotal counts per-client message enqueues
	BroadcasterDeliveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_deliveries_total",
			Help: "Play event messages queued to individual clients",
		},
	)

	BroadcasterSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_slow_clients_evicted_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// BroadcasterDeadClientsPruned counts clients removed by the liveness check
	BroadcasterDeadClientsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_dead_clients_pruned_total",
			Help: "Clients terminated after missing consecutive pings",
		},
	)

	BroadcasterCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcaster_command_channel_depth",
			Help: "Pending commands in the broadcaster actor channel",
		},
	)

	BroadcasterPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_panics_total",
			Help: "Recovered panics in the broadcaster actor",
		},
	)

	BroadcasterStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcaster_stop_timeouts_total",
			Help: "Broadcaster shutdowns that exceeded the stop timeout",
		},
	)
)

// WebSocket Metrics
var (
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Overlay WebSocket connection attempts by result",
		},
		[]string{"result"},
	)

	// WebSocketMessageSendDuration tracks time to write one frame to a client
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time to write a message to a WebSocket client",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Ping frames that could not be written",
		},
	)
)

// Webhook Metrics
var (
	// WebhookRequestsTotal counts EventSub deliveries by message type and outcome
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_webhook_requests_total",
			Help: "EventSub webhook deliveries by message type and outcome",
		},
		[]string{"message_type", "outcome"},
	)

	// WebhookRejectedTotal counts deliveries refused before routing
	WebhookRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_webhook_rejected_total",
			Help: "EventSub webhook deliveries rejected by reason",
		},
		[]string{"reason"},
	)

	WebhookDuplicatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_webhook_duplicates_total",
			Help: "EventSub deliveries dropped as duplicate message ids",
		},
	)

	WebhookProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventsub_webhook_duration_seconds",
			Help:    "EventSub webhook handling duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)
)

// Twitch API Metrics
var (
	TwitchAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twitch_api_requests_total",
			Help: "Outbound Twitch API calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	TwitchAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "twitch_api_duration_seconds",
			Help:    "Outbound Twitch API call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

// Reward Store Metrics
var (
	RewardMappings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reward_mappings",
			Help: "Number of reward to media mappings currently loaded",
		},
	)

	// RewardLookupsTotal counts lookups by result (hit, miss)
	RewardLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_lookups_total",
			Help: "Reward to media lookups by result",
		},
		[]string{"result"},
	)

	RewardStoreReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_store_reloads_total",
			Help: "Reward file reloads by result",
		},
		[]string{"result"},
	)
)

// Dedup Metrics
var (
	DedupCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_entries",
			Help: "Message ids held by the in-memory de-duplicator",
		},
	)

	DedupEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dedup_cache_evictions_total",
			Help: "Expired message ids evicted from the in-memory de-duplicator",
		},
	)
)
