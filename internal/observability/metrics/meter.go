// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled        bool
	ServiceVersion string
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
}

// New installs an OTLP/gRPC meter provider as the global and returns a meter
// on it. Endpoint and export interval come from the standard
// OTEL_EXPORTER_OTLP_* and OTEL_METRIC_EXPORT_INTERVAL variables. When
// disabled a no-op meter is returned.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	m := newSDKMeter(serviceName,
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(m.provider)
	return m, nil
}

func newSDKMeter(serviceName string, opts ...sdkmetric.Option) *Meter {
	provider := sdkmetric.NewMeterProvider(opts...)
	return &Meter{meter: provider.Meter(serviceName), provider: provider}
}

// Noop returns a meter that records nothing.
func Noop() *Meter {
	return &Meter{meter: noop.NewMeterProvider().Meter("noop")}
}

// Shutdown flushes pending measurements.
func (m *Meter) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// OutboxMetrics groups the instruments recorded by event publication delivery.
type OutboxMetrics struct {
	Registered metric.Int64Counter
	Delivered  metric.Int64Counter
	Failed     metric.Int64Counter
	Dispatch   metric.Float64Histogram
}

// NewOutboxMetrics registers the outbox instruments on m.
func NewOutboxMetrics(m *Meter) (*OutboxMetrics, error) {
	registered, err := m.CreateCounter("outbox.publications.registered", "Publications written alongside a business transaction")
	if err != nil {
		return nil, err
	}
	delivered, err := m.CreateCounter("outbox.publications.delivered", "Publications completed by a subscriber")
	if err != nil {
		return nil, err
	}
	failed, err := m.CreateCounter("outbox.publications.failed", "Subscriber invocations that returned an error")
	if err != nil {
		return nil, err
	}
	dispatch, err := m.CreateHistogram("outbox.dispatch.duration", "Time spent invoking one subscriber", "s")
	if err != nil {
		return nil, err
	}
	return &OutboxMetrics{
		Registered: registered,
		Delivered:  delivered,
		Failed:     failed,
		Dispatch:   dispatch,
	}, nil
}

// EventAttrs labels a measurement with event type and subscriber.
func EventAttrs(eventType, subscriberID string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("subscriber_id", subscriberID),
	)
}
