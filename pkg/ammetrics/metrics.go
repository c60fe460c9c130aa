// Prometheus metrics for the master
package ammetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amon_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status_code"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amon_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amon_events_total",
			Help: "Events processed by the alarm engine",
		},
		[]string{"result"}, // fault/clear/dropped/error
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amon_notifications_total",
			Help: "Notifications sent, by medium",
		},
		[]string{"medium", "result"}, // ok/error/skipped
	)

	AlarmsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amon_alarms_opened_total",
			Help: "Alarms opened by the alarm engine",
		},
	)

	MaintenancesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amon_maintenances_created_total",
			Help: "Maintenance windows created",
		},
	)

	MaintenanceSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amon_maintenance_suppressed_total",
			Help: "Faults recorded as maintenance faults instead of notifying",
		},
	)

	MaintenancesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amon_maintenances_expired_total",
			Help: "Maintenance windows removed by the expiry reaper",
		},
	)

	ReaperLagSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "amon_reaper_lag_seconds",
			Help:    "Delay between a maintenance window's end and its removal",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
		},
	)

	ReaperErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "amon_reaper_errors_total",
			Help: "Storage errors encountered by the expiry reaper",
		},
	)
)

const (
	ResultOk      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultFault   = "fault"
	ResultClear   = "clear"
	ResultDropped = "dropped"
)
