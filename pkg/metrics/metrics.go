// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for alert destination delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for NotificationsTotal.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
)

var (
	// NotificationsTotal counts delivery attempts per destination type and outcome.
	// Outcome is "success", "skipped" or the failure kind (request, network, status,
	// serialization, render, panic).
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_notifications_total",
		Help: "Total number of alert notification delivery attempts",
	}, []string{"type", "outcome"})

	// NotificationDuration tracks how long a single webhook delivery takes
	NotificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alert_notification_duration_seconds",
		Help:    "Duration of alert notification delivery in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// WebhookResponses counts webhook HTTP responses by status code
	WebhookResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alert_webhook_responses_total",
		Help: "Total number of webhook HTTP responses by status code",
	}, []string{"type", "code"})

	// DispatchesTotal tracks the number of alert transitions received for dispatch
	DispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_dispatches_total",
		Help: "Total number of alert state transitions dispatched",
	})

	// DestinationsConfigured tracks the number of configured destination instances
	DestinationsConfigured = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alert_destinations_configured",
		Help: "Number of configured destination instances",
	})

	// CircuitBreakerState tracks the breaker state per destination (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alert_circuit_breaker_state",
		Help: "Circuit breaker state per destination instance (0=closed, 1=half-open, 2=open)",
	}, []string{"destination"})

	// HistoryWritesTotal tracks delivery records queued for InfluxDB
	HistoryWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_history_writes_total",
		Help: "Total number of delivery records written to the history store",
	})

	// HistoryWriteErrors tracks asynchronous InfluxDB write failures
	HistoryWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_history_write_errors_total",
		Help: "Total number of delivery history write errors",
	})
)
