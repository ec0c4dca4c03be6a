// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for the analytics engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks dispatch and store-query activity for production
// monitoring.
type EngineMetrics struct {
	// dispatchCounter tracks dispatched operations by name and outcome
	dispatchCounter metric.Int64Counter

	// errorCounter tracks engine errors by code
	errorCounter metric.Int64Counter

	// queryDuration tracks store query latency in milliseconds
	queryDuration metric.Float64Histogram
}

// NewEngineMetrics creates an engine metrics tracker with OTEL meters.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("sloscope/engine")

	dispatchCounter, err := meter.Int64Counter(
		"sloscope.dispatch.total",
		metric.WithDescription("Dispatched operations by name and outcome"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"sloscope.errors.total",
		metric.WithDescription("Engine errors by code"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"sloscope.store.query.duration",
		metric.WithDescription("Store query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		dispatchCounter: dispatchCounter,
		errorCounter:    errorCounter,
		queryDuration:   queryDuration,
	}, nil
}

// RecordDispatch records one dispatched operation and its outcome.
func (m *EngineMetrics) RecordDispatch(ctx context.Context, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.dispatchCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
}

// RecordError records one engine error by code.
func (m *EngineMetrics) RecordError(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)))
}

// RecordQuery records the duration of one store query.
func (m *EngineMetrics) RecordQuery(ctx context.Context, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Record(ctx, float64(elapsed.Milliseconds()))
}
