// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PositionsIngested counts accepted position reports.
	PositionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_positions_ingested_total",
		Help: "Number of position reports accepted by the live store.",
	})

	// PositionsRejected counts reports rejected by validation.
	PositionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_positions_rejected_total",
		Help: "Number of position reports rejected as invalid.",
	})

	// StatusTransitions counts live status transitions by new status.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_status_transitions_total",
		Help: "Number of live status transitions, labeled by the new status.",
	}, []string{"status"})

	// Scans counts attendance scans by type.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_attendance_scans_total",
		Help: "Number of attendance scans processed, labeled by scan type.",
	}, []string{"type"})

	// NotificationsDispatched counts events handed to the notification pool.
	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_notifications_dispatched_total",
		Help: "Number of notification events dispatched, labeled by kind.",
	}, []string{"kind"})

	// NotificationSendFailures counts push deliveries that errored.
	NotificationSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_notification_send_failures_total",
		Help: "Number of web push sends that failed.",
	})
)
