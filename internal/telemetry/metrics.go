/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_api_request_duration_seconds",
		Help:    "Control API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_api_requests_total",
		Help: "Control API requests served.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_api_active_connections",
		Help: "Control API requests in flight.",
	})
)

// Leadership metrics
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_leader_election_status",
		Help: "1 when this node holds the leader lease.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_leader_election_changes_total",
		Help: "Leadership acquisitions and losses.",
	})
)

// Playback metrics
var (
	PlaybackInstances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_playback_instances",
		Help: "Cached playback instances by pool.",
	}, []string{"state"})

	PendingTransitionStarts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_playback_pending_transition_starts",
		Help: "Transition starts waiting for their playables.",
	})

	PlaybackCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_playback_commands_total",
		Help: "Playback server commands executed.",
	}, []string{"action", "result"})

	PlaybackCommandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_playback_commands_dropped_total",
		Help: "Pending playback commands dropped after their timeout.",
	}, []string{"action"})

	PlaybackClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_playback_clients_connected",
		Help: "Playback clients with a live ping.",
	})
)

// Transition metrics
var (
	TransitionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grimnir_transitions_active",
		Help: "Transitions not yet finished.",
	}, []string{"scope"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_transitions_total",
		Help: "Transitions completed by outcome.",
	}, []string{"scope", "result"})
)

// Frame loop metrics
var (
	FrameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grimnir_frame_duration_seconds",
		Help:    "Time spent running one frame of tickers.",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.08},
	})

	FrameTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_frame_ticks_total",
		Help: "Frames executed by the frame loop.",
	})

	FrameOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grimnir_frame_overruns_total",
		Help: "Frames that took longer than the frame interval.",
	})
)

// Event bus metrics
var (
	EventBusMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_eventbus_messages_total",
		Help: "Cluster messages by transport and direction.",
	}, []string{"transport", "direction"})

	EventBusErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_eventbus_errors_total",
		Help: "Cluster transport failures.",
	}, []string{"transport"})
)

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "grimnir_database_query_duration_seconds",
		Help:    "Database operation duration by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grimnir_database_errors_total",
		Help: "Failed database operations.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grimnir_database_connections_active",
		Help: "Open database connections.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
