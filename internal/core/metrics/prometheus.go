package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records hub metrics with Prometheus
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	websocketConnections prometheus.Gauge
	websocketMessages    *prometheus.CounterVec

	// Device metrics
	deviceCommands       *prometheus.CounterVec
	deviceCommandLatency *prometheus.HistogramVec
	adapterEvents        *prometheus.CounterVec
	streamSubscriptions  prometheus.Gauge
}

// NewCollector registers and returns the hub metrics collector
func NewCollector(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Collector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicehub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devicehub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devicehub_websocket_connections",
				Help: "Currently connected WebSocket clients",
			},
		),
		websocketMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicehub_websocket_messages_total",
				Help: "WebSocket messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		deviceCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicehub_device_commands_total",
				Help: "Device commands by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		),
		deviceCommandLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devicehub_device_command_duration_seconds",
				Help:    "Device command round-trip duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"protocol"},
		),
		adapterEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devicehub_adapter_events_total",
				Help: "Adapter events by protocol and kind",
			},
			[]string{"protocol", "kind"},
		),
		streamSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devicehub_stream_subscriptions",
				Help: "Active device stream subscriptions",
			},
		),
	}
}

// RecordHTTPRequest records one completed HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// WebSocketConnected tracks a new client connection
func (c *Collector) WebSocketConnected() { c.websocketConnections.Inc() }

// WebSocketDisconnected tracks a client disconnect
func (c *Collector) WebSocketDisconnected() { c.websocketConnections.Dec() }

// RecordWebSocketMessage counts one message in a direction
func (c *Collector) RecordWebSocketMessage(direction, messageType string) {
	c.websocketMessages.WithLabelValues(direction, messageType).Inc()
}

// RecordDeviceCommand records a routed command and its latency
func (c *Collector) RecordDeviceCommand(protocol string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.deviceCommands.WithLabelValues(protocol, outcome).Inc()
	c.deviceCommandLatency.WithLabelValues(protocol).Observe(duration.Seconds())
}

// RecordAdapterEvent counts one adapter event
func (c *Collector) RecordAdapterEvent(protocol, kind string) {
	c.adapterEvents.WithLabelValues(protocol, kind).Inc()
}

// SetStreamSubscriptions sets the active stream subscription count
func (c *Collector) SetStreamSubscriptions(n int) {
	c.streamSubscriptions.Set(float64(n))
}
