// Package telemetry provides structured logging and OpenTelemetry metrics
// for the revision acquisition pipeline: cache hit/miss counters and
// prefetch queue depth. It does not implement a pluggable logging-sink
// framework — that configuration surface lives outside this module.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "scmwalk"

// Telemetry bundles the meter used to create instruments, a logger, and an
// HTTP handler that serves the Prometheus scrape endpoint.
type Telemetry struct {
	Meter             metric.Meter
	Logger            *slog.Logger
	PrometheusHandler http.Handler

	provider *sdkmetric.MeterProvider
}

// New creates a Telemetry bundle. Each call registers an independent
// Prometheus registry so tests and multiple Cache instances in the same
// process don't collide on instrument registration.
func New(logLevel slog.Level) (*Telemetry, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	return &Telemetry{
		Meter:             provider.Meter(meterName),
		Logger:            logger,
		PrometheusHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		provider:          provider,
	}, nil
}

// Shutdown flushes and releases the underlying meter provider.
func (t *Telemetry) Shutdown() error {
	if t.provider == nil {
		return nil
	}

	if err := t.provider.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}

	return nil
}
