// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat pipeline.
//
// # Description
//
// Metrics cover the streaming chat surface: request counters by status,
// latency to first chunk, stream duration, active stream gauge, quota
// denials, and client disconnects. Exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mashura"

const chatSubsystem = "chat"

// ChatMetrics holds the Prometheus metrics for streaming chat operations.
// Initialize once at startup via InitMetrics.
type ChatMetrics struct {
	// RequestsTotal counts chat requests by terminal status.
	// Labels: status (completed, denied, not_found, generation_error,
	// persistence_error, disconnected, invalid)
	RequestsTotal *prometheus.CounterVec

	// TimeToFirstChunkSeconds measures latency from request receipt to the
	// first chunk on the wire.
	TimeToFirstChunkSeconds prometheus.Histogram

	// StreamDurationSeconds measures total stream duration by status.
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open chat streams.
	ActiveStreams prometheus.Gauge

	// QuotaDenialsTotal counts admissions denied by the usage governor.
	// Labels: identity_kind (user, guest)
	QuotaDenialsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients that went away mid-stream.
	ClientDisconnectsTotal prometheus.Counter

	// KeepAlivesTotal counts heartbeat comment frames sent.
	KeepAlivesTotal prometheus.Counter

	// GuestEvictionsTotal counts guest conversations removed by the idle
	// sweeper.
	GuestEvictionsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ChatMetrics

// InitMetrics creates and registers all chat metrics. Call once at startup.
func InitMetrics() *ChatMetrics {
	m := &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "requests_total",
				Help:      "Chat requests by terminal status.",
			},
			[]string{"status"},
		),
		TimeToFirstChunkSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Latency from request receipt to first streamed chunk.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total duration of a chat stream.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_streams",
				Help:      "Currently open chat streams.",
			},
		),
		QuotaDenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "quota_denials_total",
				Help:      "Admissions denied by the usage governor.",
			},
			[]string{"identity_kind"},
		),
		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Clients that disconnected mid-stream.",
			},
		),
		KeepAlivesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "keepalives_total",
				Help:      "Heartbeat comment frames sent.",
			},
		),
		GuestEvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "guest_evictions_total",
				Help:      "Guest conversations evicted by the idle sweeper.",
			},
		),
	}

	DefaultMetrics = m
	return m
}

// RecordRequest increments the request counter for a terminal status.
func (m *ChatMetrics) RecordRequest(status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordQuotaDenial increments the denial counter for an identity kind.
func (m *ChatMetrics) RecordQuotaDenial(kind string) {
	if m == nil {
		return
	}
	m.QuotaDenialsTotal.WithLabelValues(kind).Inc()
}

// StreamStarted bumps the active stream gauge.
func (m *ChatMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded drops the active stream gauge and records the duration.
func (m *ChatMetrics) StreamEnded(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordTimeToFirstChunk observes first-chunk latency.
func (m *ChatMetrics) RecordTimeToFirstChunk(seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.Observe(seconds)
}

// RecordClientDisconnect counts a mid-stream disconnect.
func (m *ChatMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}

// RecordKeepAlive counts one heartbeat frame.
func (m *ChatMetrics) RecordKeepAlive() {
	if m == nil {
		return
	}
	m.KeepAlivesTotal.Inc()
}

// RecordGuestEvictions adds sweeper evictions.
func (m *ChatMetrics) RecordGuestEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.GuestEvictionsTotal.Add(float64(n))
}
