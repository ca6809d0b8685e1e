// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("workgraph.graph")
	meter  = otel.Meter("workgraph.graph")
)

var (
	assembleLatency metric.Float64Histogram
	assembleTotal   metric.Int64Counter
	nodesAssembled  metric.Int64Histogram
	edgesAssembled  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		assembleLatency, err = meter.Float64Histogram(
			"workgraph_assemble_duration_seconds",
			metric.WithDescription("Duration of graph assembly"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		assembleTotal, err = meter.Int64Counter(
			"workgraph_assemble_total",
			metric.WithDescription("Total number of graph assemblies"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesAssembled, err = meter.Int64Histogram(
			"workgraph_assemble_nodes",
			metric.WithDescription("Nodes per assembled graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesAssembled, err = meter.Int64Histogram(
			"workgraph_assemble_edges",
			metric.WithDescription("Edges per assembled graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAssembleMetrics(ctx context.Context, duration time.Duration, nodeCount, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	assembleLatency.Record(ctx, duration.Seconds(), attrs)
	assembleTotal.Add(ctx, 1, attrs)

	if success {
		nodesAssembled.Record(ctx, int64(nodeCount))
		edgesAssembled.Record(ctx, int64(edgeCount))
	}
}

func startAssembleSpan(ctx context.Context, teamID, rootID int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Assembler.Assemble",
		trace.WithAttributes(
			attribute.Int64("workgraph.team_id", teamID),
			attribute.Int64("workgraph.root_id", rootID),
		),
	)
}

func setAssembleSpanResult(span trace.Span, nodeCount, edgeCount int, err error) {
	span.SetAttributes(
		attribute.Int("graph.node_count", nodeCount),
		attribute.Int("graph.edge_count", edgeCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
