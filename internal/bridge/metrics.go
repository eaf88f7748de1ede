// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"context"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/toeirei/tpcbridge/internal/bridge"

// Participant outcomes, recorded as the "outcome" attribute.
const (
	OutcomeCommitted       = "committed"
	OutcomeElided          = "elided"
	OutcomePrepared        = "prepared"
	OutcomeAborted         = "aborted"
	OutcomeInDoubt         = "in_doubt"
	OutcomeHeuristicHazard = "heuristic_hazard"
)

type participantMetrics struct {
	outcomes metric.Int64Counter
}

func newParticipantMetrics(mp metric.MeterProvider, logger *log.Logger) *participantMetrics {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	outcomes, err := mp.Meter(instrumentationName).Int64Counter(
		"tpcbridge.participant.outcomes_total",
		metric.WithDescription("Participant state transitions, by outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("participant metrics disabled", "err", err)
		outcomes, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("tpcbridge.participant.outcomes_total")
	}
	return &participantMetrics{outcomes: outcomes}
}

func (m *participantMetrics) record(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
