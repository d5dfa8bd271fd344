package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/sealtrace/sealtrace/src/ledger"
)

const tracerName = "github.com/sealtrace/sealtrace/src/core"

// Tracing exporters accepted by the tracing_exporter setting.
const (
	TracingExporterNone   = "none"
	TracingExporterStdout = "stdout"
	TracingExporterOTLP   = "otlp"
)

// newTracerProvider builds the node's tracer provider and installs it,
// together with W3C trace-context propagation, as the process default.
// Spans are always recorded; they leave the process only when an exporter
// is configured.
func newTracerProvider(ctx context.Context, cfg *Config, nodeID string) (*sdktrace.TracerProvider, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", "sealtraced"),
			attribute.String("service.version", NodeVersion),
			attribute.String("service.instance.id", nodeID),
		)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

func newSpanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.TracingExporter) {
	case "", TracingExporterNone:
		return nil, nil
	case TracingExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	case TracingExporterOTLP:
		var opts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unknown tracing exporter %q", cfg.TracingExporter)
}

// withTracing wraps the router in an otelhttp handler that starts a server
// span per request on tp.
func withTracing(h http.Handler, tp trace.TracerProvider) http.Handler {
	return otelhttp.NewHandler(h, "sealtraced",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// annotateOperation tags the request span with the ledger operation and its
// outcome.
func annotateOperation(ctx context.Context, op string, caller ledger.Address, batchID uint64, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ledger.operation", op),
		attribute.String("ledger.caller", string(caller)),
	}
	if batchID != 0 {
		attrs = append(attrs, attribute.Int64("ledger.batch_id", int64(batchID)))
	}
	span.SetAttributes(attrs...)
	if err != nil {
		span.SetAttributes(attribute.String("ledger.error_kind", ledger.KindOf(err)))
		markSpanError(span, err)
	}
}

func markSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
