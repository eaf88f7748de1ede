// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/toeirei/tpcbridge/internal/tpc"

type coordinatorMetrics struct {
	completed metric.Int64Counter
	duration  metric.Float64Histogram
}

func newCoordinatorMetrics(meter metric.Meter) (*coordinatorMetrics, error) {
	completed, err := meter.Int64Counter(
		"tpcbridge.tpc.completed_total",
		metric.WithDescription("Transactions completed, by final status."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"tpcbridge.tpc.commit.duration",
		metric.WithDescription("Time spent driving resources through commit."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &coordinatorMetrics{completed: completed, duration: duration}, nil
}

func (m *coordinatorMetrics) record(ctx context.Context, status Status, started time.Time, committing bool) {
	attrs := metric.WithAttributes(attribute.String("status", status.String()))
	m.completed.Add(ctx, 1, attrs)
	if committing {
		m.duration.Record(ctx, float64(time.Since(started))/float64(time.Millisecond), attrs)
	}
}
