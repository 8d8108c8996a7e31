// Package otelobs wires OpenTelemetry tracing for the HTTP surface. Tracing
// is enabled at runtime by OTEL_EXPORTER_OTLP_ENDPOINT; without it every
// helper degrades to a no-op so deployments without a collector pay nothing.
package otelobs

import (
	"context"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/amartubs/typemagic-guard-sub003/pkg/structlog"
)

// InitTracer sets up an OTLP HTTP exporter and returns a shutdown func.
// Without OTEL_EXPORTER_OTLP_ENDPOINT the returned shutdown is a no-op.
func InitTracer(serviceName string, log *structlog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		log.Info("tracing disabled, no OTLP endpoint configured", nil)
		return noop
	}
	exp, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure())
	if err != nil {
		log.Error("otlp exporter init failed", structlog.Fields{"error": err.Error()})
		return noop
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		log.Warn("otel resource init failed", structlog.Fields{"error": err.Error()})
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	log.Info("tracing enabled", structlog.Fields{"endpoint": endpoint})
	return tp.Shutdown
}

// WrapHTTPHandler instruments h with server spans named after the service.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, serviceName)
}
