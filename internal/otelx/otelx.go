// Package otelx installs the process tracer provider. Tracing is optional:
// when disabled an in-process provider is still installed so spans and the
// trace ids in log lines keep working without an exporter.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// dialTimeout bounds exporter setup, a batch job must not hang on a dead collector
const dialTimeout = 3 * time.Second

type Options struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	// Sample is the root sampling ratio, clamped to 0..1
	Sample  float64
	Service string
	Version string
	// RunID is attached to the resource so every span of one run groups together
	RunID string
}

// Init installs the global tracer provider and propagator and returns its
// shutdown func, which flushes pending spans.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler(o.Sample)))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otelx: endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent(o))),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "otlp trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(o.Sample)),
		// short-lived process, keep the batch window small so spans are not
		// stranded in the queue at exit
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(4096),
			sdktrace.WithBatchTimeout(time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func newResource(ctx context.Context, o Options) *resource.Resource {
	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.Service),
			semconv.ServiceVersionKey.String(o.Version),
		),
	}
	if o.RunID != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceInstanceIDKey.String(o.RunID)))
	}
	// partial resources are still usable, detector errors only drop attributes
	res, _ := resource.New(ctx, attrs...)
	return res
}

func userAgent(o Options) string {
	ua := o.Service
	if ua == "" {
		ua = "otelx"
	}
	if o.Version != "" {
		ua += "/" + o.Version
	}
	return ua
}
