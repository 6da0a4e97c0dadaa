// Package otelx installs the global OpenTelemetry tracer provider. With
// tracing off an exporter-less SDK provider is still installed so request
// and trace IDs stay valid in logs and response headers.
package otelx

import (
	"context"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/basicweb/internal/xerrors"
)

const dialTimeout = 3 * time.Second

type Options struct {
	Enabled bool
	// Endpoint is the OTLP/gRPC collector as host:port.
	Endpoint string
	// Insecure forces plaintext. Loopback and private endpoints are always
	// dialed without TLS.
	Insecure bool
	// Sample is the ratio of new root traces kept, clamped to [0, 1].
	Sample  float64
	Service string
	Version string
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs the tracer provider and propagator and returns the provider's
// shutdown, which flushes pending spans.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent(o))),
	}
	if o.Insecure || plaintextEndpoint(o.Endpoint) {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter %s", o.Endpoint)
	}

	// partial resources are still usable; detector errors are not fatal
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.Service),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(o.Sample)))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func userAgent(o Options) string {
	ua := o.Service
	if ua == "" {
		ua = "basicweb"
	}
	if o.Version != "" {
		ua += "/" + o.Version
	}
	return ua
}

func clampRatio(r float64) float64 {
	switch {
	case r != r || r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}

// plaintextEndpoint reports whether host:port names a loopback or private
// collector, including "localhost".
func plaintextEndpoint(endpoint string) bool {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		host = endpoint
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
