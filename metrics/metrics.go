// Package metrics holds the prometheus collectors shared by the client
// and the development server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcomes.
const (
	OutcomeConfirmed   = "confirmed"
	OutcomeOverwritten = "overwritten"
	OutcomeUnconfirmed = "unconfirmed"
	OutcomeReverted    = "reverted"
)

var (
	// GatewayRequests counts outbound API calls by endpoint and result kind.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_gateway_requests_total",
		Help: "Total outbound API requests by endpoint and result",
	}, []string{"method", "endpoint", "result"})

	// GatewayLatency records outbound API latency.
	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tovplay_gateway_request_duration_seconds",
		Help:    "Outbound API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	// ReconcileOutcomes counts relationship actions by how the server
	// answer compared with the optimistic state.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_relationship_reconcile_total",
		Help: "Relationship actions by action and reconcile outcome",
	}, []string{"action", "outcome"})

	// CommunityAttempts counts community membership checks by result.
	CommunityAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_community_check_attempts_total",
		Help: "Community membership check attempts by result",
	}, []string{"result"})

	// RealtimeMessages counts websocket messages received by type.
	RealtimeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_realtime_messages_total",
		Help: "Websocket messages received by type",
	}, []string{"type"})

	// HTTPRequests counts devserver requests by route, method and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "status"})

	// HTTPDuration records devserver request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tovplay_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	// WSConnections is the gauge of open devserver websocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tovplay_ws_connections",
		Help: "Number of open websocket connections",
	})

	// RelationshipMutations counts devserver relationship writes by action.
	RelationshipMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tovplay_relationship_mutations_total",
		Help: "Relationship mutations applied by the server",
	}, []string{"action"})
)

// ObserveGateway records one outbound call.
func ObserveGateway(method, endpoint, result string, start time.Time) {
	GatewayRequests.WithLabelValues(method, endpoint, result).Inc()
	GatewayLatency.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}

// ObserveHTTP records one served request.
func ObserveHTTP(route, method string, status int, start time.Time) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
}
