package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	openRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_open_rooms",
			Help: "Number of rooms with at least one participant",
		},
	)

	roomParticipants = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signaling_participants",
			Help: "Number of participants currently joined to a room",
		},
	)

	relayedSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_relayed_total",
			Help: "Targeted offer/answer/candidate messages relayed",
		},
		[]string{"type"},
	)

	broadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signaling_broadcast_total",
			Help: "Room broadcast events fanned out",
		},
		[]string{"type"},
	)

	staleEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "signaling_stale_dropped_total",
			Help: "Events referencing an unknown room, participant or link",
		},
	)
)

// RecordHTTPMetrics records one handled HTTP request.
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())
}

func IncrementWSActiveConnections() { wsActiveConnections.Inc() }

func DecrementWSActiveConnections() { wsActiveConnections.Dec() }

func SetOpenRooms(count int) { openRooms.Set(float64(count)) }

func SetParticipants(count int) { roomParticipants.Set(float64(count)) }

func IncrementRelayedSignals(eventType string) {
	relayedSignals.WithLabelValues(eventType).Inc()
}

func IncrementBroadcastEvents(eventType string) {
	broadcastEvents.WithLabelValues(eventType).Inc()
}

func IncrementStaleEventsDropped() { staleEventsDropped.Inc() }
