// Package telemetry wires OpenTelemetry metrics for the server.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "redskord"

// Shutdown flushes and stops the meter provider.
type Shutdown func(context.Context) error

// Init installs an OTLP/gRPC metric exporter as the global meter provider.
// The endpoint comes from OTEL_EXPORTER_OTLP_ENDPOINT. When disabled, the
// global no-op provider is left in place.
func Init(ctx context.Context, enabled bool, serviceName string) (Shutdown, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Metrics holds the server's instruments. A nil *Metrics records nothing.
type Metrics struct {
	online   metric.Int64UpDownCounter
	started  metric.Int64Counter
	ended    metric.Int64Counter
	relayed  metric.Int64Counter
	messages metric.Int64Counter
}

// NewMetrics creates the instruments on meter, or on the global provider
// when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	var m Metrics
	var err error
	if m.online, err = meter.Int64UpDownCounter("redskord.online_users",
		metric.WithDescription("Users currently online")); err != nil {
		return nil, err
	}
	if m.started, err = meter.Int64Counter("redskord.calls.started",
		metric.WithDescription("Calls that started ringing")); err != nil {
		return nil, err
	}
	if m.ended, err = meter.Int64Counter("redskord.calls.ended",
		metric.WithDescription("Calls that finished, by reason")); err != nil {
		return nil, err
	}
	if m.relayed, err = meter.Int64Counter("redskord.signals.relayed",
		metric.WithDescription("Signaling messages relayed, by kind and outcome")); err != nil {
		return nil, err
	}
	if m.messages, err = meter.Int64Counter("redskord.messages.sent",
		metric.WithDescription("Chat messages accepted, by scope")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) UserOnline(ctx context.Context) {
	if m == nil {
		return
	}
	m.online.Add(ctx, 1)
}

func (m *Metrics) UserOffline(ctx context.Context) {
	if m == nil {
		return
	}
	m.online.Add(ctx, -1)
}

func (m *Metrics) CallStarted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) CallEnded(ctx context.Context, kind, reason string) {
	if m == nil {
		return
	}
	m.ended.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) SignalRelayed(ctx context.Context, kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if !ok {
		outcome = "dropped"
	}
	m.relayed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// MessageSent counts a chat message; scope is "channel" or "private".
func (m *Metrics) MessageSent(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
