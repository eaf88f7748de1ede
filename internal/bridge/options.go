// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package bridge

import (
	"github.com/charmbracelet/log"
	"github.com/toeirei/tpcbridge/internal/logging"
	"go.opentelemetry.io/otel/metric"
)

// Option configures participants, awareness and the Database facade.
type Option func(*options)

type options struct {
	logger  *log.Logger
	meters  metric.MeterProvider
	metrics *participantMetrics
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// WithMeterProvider records participant outcomes with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.With("component", "bridge")
	}
	if o.metrics == nil {
		o.metrics = newParticipantMetrics(o.meters, o.logger)
	}
	return o
}

// shared hands already built options to a child component.
func (o options) shared() Option {
	return func(dst *options) { *dst = o }
}
