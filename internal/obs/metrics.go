package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections      = promauto.NewGauge(prometheus.GaugeOpts{Name: "matchbox_active_connections", Help: "Open endpoint connections"})
	PendingSessions        = promauto.NewGauge(prometheus.GaugeOpts{Name: "matchbox_pending_sessions", Help: "Session records waiting for a partner"})
	ConfirmedSessions      = promauto.NewGauge(prometheus.GaugeOpts{Name: "matchbox_confirmed_sessions", Help: "Session records whose keys agree"})
	MismatchedSessions     = promauto.NewGauge(prometheus.GaugeOpts{Name: "matchbox_mismatched_sessions", Help: "Session records whose keys disagree"})
	DeclarationsTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchbox_declarations_total", Help: "Declarations by outcome"}, []string{"outcome"})
	CommandsRelayedTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "matchbox_commands_relayed_total", Help: "Command payloads forwarded to a partner"})
	CommandsDroppedTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchbox_commands_dropped_total", Help: "Command payloads dropped, by reason"}, []string{"reason"})
	DemotionsTotal         = promauto.NewCounter(prometheus.CounterOpts{Name: "matchbox_demotions_total", Help: "Partner records dropped back to pending"})
	RateLimitedTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchbox_rate_limited_total", Help: "Rate limiter rejections by kind"}, []string{"kind"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "matchbox_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "matchbox_session_duration_seconds", Help: "Confirmed session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
