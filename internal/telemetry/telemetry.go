// Package telemetry installs the global OpenTelemetry meter provider,
// bridged to the Prometheus registry served on /metrics. Without this
// wiring the otel API hands out no-op meters and every recorded value
// is silently dropped.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Init builds a meter provider exporting through the given Prometheus
// registry and sets it as the otel global. It must run before any code
// creates instruments. The returned shutdown function flushes and stops
// the provider.
func Init(registry *prometheus.Registry, serviceName string) (func(context.Context) error, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
