package telemetry

import (
	"fmt"
	"net/http"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/semconv/v1.13.0/httpconv"
)

// RequestDuration measures the latency of each HTTP request handled
// by the daemon's operational surface.
func (t *Telemetry) RequestDuration() func(next http.Handler) http.Handler {
	const (
		metricNameRequestDurationMs = "request_duration_millis"
		metricUnitRequestDurationMs = "ms"
	)
	histogram, err := t.meter.Int64Histogram(
		metricNameRequestDurationMs,
		otelmetric.WithDescription("Latency of HTTP requests handled by the daemon, in milliseconds."),
		otelmetric.WithUnit(metricUnitRequestDurationMs),
	)
	if err != nil {
		panic(fmt.Sprintf("unable to create %s histogram: %v", metricNameRequestDurationMs, err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			next.ServeHTTP(w, r)

			histogram.Record(
				r.Context(),
				time.Since(startTime).Milliseconds(),
				otelmetric.WithAttributes(
					httpconv.ServerRequest(t.serviceName, r)...,
				),
			)
		})
	}
}

// RequestInFlight counts HTTP requests currently being served.
func (t *Telemetry) RequestInFlight() func(next http.Handler) http.Handler {
	const metricNameRequestInFlight = "request_in_flight"

	counter, err := t.meter.Int64UpDownCounter(
		metricNameRequestInFlight,
		otelmetric.WithDescription("Number of concurrent HTTP requests being served."),
		otelmetric.WithUnit("1"),
	)
	if err != nil {
		panic(fmt.Sprintf("unable to create %s counter: %v", metricNameRequestInFlight, err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attrs := otelmetric.WithAttributes(httpconv.ServerRequest(t.serviceName, r)...)

			counter.Add(r.Context(), 1, attrs)
			next.ServeHTTP(w, r)
			counter.Add(r.Context(), -1, attrs)
		})
	}
}
