// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package tpc

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/toeirei/tpcbridge/internal/logging"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Manager creates transactions and carries their logging and telemetry.
type Manager struct {
	logger  *log.Logger
	tracer  trace.Tracer
	metrics *coordinatorMetrics
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	logger *log.Logger
	meters metric.MeterProvider
	traces trace.TracerProvider
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(o *managerOptions) { o.logger = l } }

// WithMeterProvider records completion counts and durations with mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *managerOptions) { o.meters = mp }
}

// WithTracerProvider emits a span per commit and abort.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *managerOptions) { o.traces = tp }
}

// NewManager returns a Manager. Without providers telemetry is a no-op.
func NewManager(opts ...Option) (*Manager, error) {
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.With("component", "tpc")
	}
	if o.meters == nil {
		o.meters = metricnoop.NewMeterProvider()
	}
	if o.traces == nil {
		o.traces = tracenoop.NewTracerProvider()
	}
	m, err := newCoordinatorMetrics(o.meters.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger:  o.logger,
		tracer:  o.traces.Tracer(instrumentationName),
		metrics: m,
	}, nil
}

type txnKey struct{}

// Begin starts a transaction and returns a context carrying it. A
// transaction already present in ctx is shadowed, not nested.
func (m *Manager) Begin(ctx context.Context) (*Transaction, context.Context) {
	txn := &Transaction{
		id:     uuid.NewString(),
		mgr:    m,
		status: Active,
		data:   make(map[any]any),
	}
	m.logger.Debug("transaction started", "txn", txn.id)
	return txn, context.WithValue(ctx, txnKey{}, txn)
}

// Current returns the transaction carried by ctx, or nil.
func Current(ctx context.Context) *Transaction {
	txn, _ := ctx.Value(txnKey{}).(*Transaction)
	return txn
}
