// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides the Prometheus metrics of the workgraph
// service.
//
// # Description
//
// Metrics cover:
//   - HTTP requests by route and status, with latency
//   - Items created by kind and layout saves by result
//   - Open WebSocket connections and editors per presence snapshot
//   - Patches relayed and dropped, and frames dropped for slow subscribers
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe on a nil *Metrics, which records nothing.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "workgraph"

// LayoutResult labels the outcome of a layout save.
type LayoutResult string

const (
	LayoutSaved    LayoutResult = "saved"
	LayoutConflict LayoutResult = "conflict"
	LayoutInvalid  LayoutResult = "invalid"
	LayoutError    LayoutResult = "error"
)

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	// RequestsTotal counts HTTP requests. Labels: route, method, status.
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures HTTP latency. Labels: route, method.
	RequestDurationSeconds *prometheus.HistogramVec

	// ItemsCreatedTotal counts items created by the linker. Labels: kind.
	ItemsCreatedTotal *prometheus.CounterVec

	// LayoutSavesTotal counts layout saves. Labels: result.
	LayoutSavesTotal *prometheus.CounterVec

	// WebSocketConnections is the number of open live channels.
	WebSocketConnections prometheus.Gauge

	// SnapshotEditors observes the editor count of each presence snapshot.
	SnapshotEditors prometheus.Histogram

	// PatchesRelayedTotal counts relayed patches.
	PatchesRelayedTotal prometheus.Counter

	// PatchRecipientsTotal counts patch deliveries.
	PatchRecipientsTotal prometheus.Counter

	// PatchesDroppedTotal counts patches not relayed. Labels: reason.
	PatchesDroppedTotal *prometheus.CounterVec

	// FramesDroppedTotal counts frames skipped because a subscriber's
	// outbound queue was full.
	FramesDroppedTotal prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Target registry. prometheus.DefaultRegisterer in production, a
//     fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if the same registry already holds these collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route", "method"},
		),

		ItemsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "graph",
				Name:      "items_created_total",
				Help:      "Total graph items created by kind",
			},
			[]string{"kind"},
		),

		LayoutSavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "layout",
				Name:      "saves_total",
				Help:      "Total layout saves by result",
			},
			[]string{"result"},
		),

		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "live",
				Name:      "connections",
				Help:      "Number of open WebSocket connections",
			},
		),

		SnapshotEditors: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "presence",
				Name:      "snapshot_editors",
				Help:      "Editors per published presence snapshot",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),

		PatchesRelayedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "patch",
				Name:      "relayed_total",
				Help:      "Total patches relayed",
			},
		),

		PatchRecipientsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "patch",
				Name:      "recipients_total",
				Help:      "Total patch deliveries to subscribers",
			},
		),

		PatchesDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "patch",
				Name:      "dropped_total",
				Help:      "Total patches not relayed by reason",
			},
			[]string{"reason"},
		),

		FramesDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "live",
				Name:      "frames_dropped_total",
				Help:      "Total frames dropped for slow subscribers",
			},
		),
	}
}

// =============================================================================
// Recording helpers
// =============================================================================

// Middleware records request counts and latency by matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// ItemCreated counts one created item of kind.
func (m *Metrics) ItemCreated(kind string) {
	if m == nil {
		return
	}
	m.ItemsCreatedTotal.WithLabelValues(kind).Inc()
}

// LayoutSave counts one layout save outcome.
func (m *Metrics) LayoutSave(result LayoutResult) {
	if m == nil {
		return
	}
	m.LayoutSavesTotal.WithLabelValues(string(result)).Inc()
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}

// EditorsChanged implements presence.Observer.
func (m *Metrics) EditorsChanged(_ int64, editors int) {
	if m == nil {
		return
	}
	m.SnapshotEditors.Observe(float64(editors))
}

// PatchRelayed implements presence.Observer.
func (m *Metrics) PatchRelayed(recipients int) {
	if m == nil {
		return
	}
	m.PatchesRelayedTotal.Inc()
	m.PatchRecipientsTotal.Add(float64(recipients))
}

// PatchDropped implements presence.Observer.
func (m *Metrics) PatchDropped(reason string) {
	if m == nil {
		return
	}
	m.PatchesDroppedTotal.WithLabelValues(reason).Inc()
}

// FrameDropped implements presence.Observer.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDroppedTotal.Inc()
}
