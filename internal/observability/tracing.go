package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/warmsync/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Environment variables read by TracingConfigFromEnv.
const (
	EnvTracingEnabled  = "WARMINIT_TRACING_ENABLED"
	EnvTracingExporter = "WARMINIT_TRACING_EXPORTER"
	EnvTracingService  = "WARMINIT_TRACING_SERVICE_NAME"
	EnvTracingRatio    = "WARMINIT_TRACING_SAMPLE_RATIO"
	EnvOTLPEndpoint    = "WARMINIT_OTLP_ENDPOINT"
	EnvInstance        = "WARMINIT_INSTANCE"
)

const (
	defaultServiceName  = "warminitd"
	defaultOTLPEndpoint = "localhost:4317"
)

// TracingConfig describes the tracer provider of one daemon.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	// Exporter is "stdout" or "otlp".
	Exporter    string
	Endpoint    string
	SampleRatio float64

	// Instance identifies this daemon among the ones reporting under
	// ServiceName. Defaults to the host name.
	Instance string
	// Devices are the switches this daemon reconciles. They are attached
	// to the resource so every span can be traced back to its fleet slice.
	Devices []string

	// Output receives stdout-exporter spans. Defaults to os.Stdout.
	Output io.Writer
}

// TracingConfigFromEnv reads the WARMINIT_TRACING_* variables.
func TracingConfigFromEnv() TracingConfig {
	return tracingConfigFrom(os.Getenv)
}

func tracingConfigFrom(getenv func(string) string) TracingConfig {
	cfg := TracingConfig{
		ServiceName: defaultServiceName,
		Exporter:    "stdout",
		Endpoint:    getenv(EnvOTLPEndpoint),
		SampleRatio: 1,
		Instance:    getenv(EnvInstance),
	}
	if on, err := strconv.ParseBool(getenv(EnvTracingEnabled)); err == nil {
		cfg.Enabled = on
	}
	if v := strings.ToLower(getenv(EnvTracingExporter)); v != "" {
		cfg.Exporter = v
	}
	if v := getenv(EnvTracingService); v != "" {
		cfg.ServiceName = v
	}
	// Out-of-range ratios keep the default rather than silently dropping
	// every reconciliation trace.
	if r, err := strconv.ParseFloat(getenv(EnvTracingRatio), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

// InitTracing installs the global tracer provider and propagators described
// by cfg. The returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	log = logging.OrNoop(log)

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("instance", instanceOf(cfg)),
		logging.Int("devices", len(cfg.Devices)),
		logging.String("sample_ratio", strconv.FormatFloat(cfg.SampleRatio, 'f', -1, 64)),
	)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, cfg TracingConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "warminit"),
		attribute.String("service.instance.id", instanceOf(cfg)),
	}
	if len(cfg.Devices) > 0 {
		attrs = append(attrs, attribute.StringSlice("warminit.devices", cfg.Devices))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	return res, nil
}

func instanceOf(cfg TracingConfig) string {
	if cfg.Instance != "" {
		return cfg.Instance
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return cfg.ServiceName
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes spans, giving up after five seconds. Failures
// are logged, not returned, since they only happen on the way out.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logging.OrNoop(log).Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
