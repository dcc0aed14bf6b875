// Package observability exposes restoration metrics over a Prometheus endpoint.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"video-restore/constant"
)

type Metrics struct {
	meter metric.Meter

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	JobsSubmitted  metric.Int64Counter
	JobTransitions metric.Int64Counter
	GatewayErrors  metric.Int64Counter
}

// NewMetrics builds the meter on its own registry and returns the handler
// that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("video-restore")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsSubmitted, err = meter.Int64Counter(
		"restore_jobs_submitted_total",
		metric.WithDescription("Jobs accepted at intake"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobTransitions, err = meter.Int64Counter(
		"restore_job_transitions_total",
		metric.WithDescription("Job state transitions by target state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.GatewayErrors, err = meter.Int64Counter(
		"restore_gateway_errors_total",
		metric.WithDescription("Failed calls to the remote runner by operation"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context, resolution string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("resolution", resolution)))
}

func (m *Metrics) RecordJobTransition(ctx context.Context, state constant.JobState) {
	m.JobTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (m *Metrics) RecordGatewayError(ctx context.Context, op string) {
	m.GatewayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		// 2xx, 4xx, 5xx
		attribute.String("status", fmt.Sprintf("%dxx", statusCode/100)),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// Middleware records every request against its route template, so
// /api/status/:id stays one series no matter how many jobs exist.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}
