// Package observability wires Prometheus metrics and OpenTelemetry tracing
// into the warm-init daemon.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const unknownLabel = "unknown"

// RPCCollector measures the WarmInitService RPCs and serves /metrics for the
// registry it was built on.
type RPCCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
	// RPCInFlight counts calls still being handled. End holds a call open
	// for the whole apply phase, so a stuck executor shows up here.
	RPCInFlight *prometheus.GaugeVec
}

// NewRPCCollector registers RPC metrics on reg, or on the default registry
// when reg is nil. Registering twice on one registry shares the collectors.
func NewRPCCollector(reg prometheus.Registerer) (*RPCCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "warminit_rpc_requests_total",
		Help: "Warm-init RPCs handled, by service, method and gRPC status code.",
	}, []string{"service", "method", "code"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "warminit_rpc_duration_seconds",
		Help: "Warm-init RPC latency in seconds.",
		// End covers a full apply pass, hence the long tail.
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"service", "method"}))
	if err != nil {
		return nil, err
	}
	inflight, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "warminit_rpc_in_flight",
		Help: "Warm-init RPCs currently being handled, by method.",
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}

	return &RPCCollector{
		gatherer:     gathererFor(reg),
		RPCRequests:  requests,
		RPCDurations: durations,
		RPCInFlight:  inflight,
	}, nil
}

// UnaryServerInterceptor records every unary call. A nil collector passes
// calls through untouched.
func (c *RPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if c == nil {
			return handler(ctx, req)
		}
		var fullMethod string
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)

		c.RPCInFlight.WithLabelValues(method).Inc()
		defer c.RPCInFlight.WithLabelValues(method).Dec()

		start := time.Now()
		resp, err := handler(ctx, req)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *RPCCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod turns "/pkg.Service/Method" into ("Service", "Method"). Parts
// that cannot be parsed come back as "unknown".
func SplitMethod(fullMethod string) (service, method string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return unknownLabel, unknownLabel
	}
	if dot := strings.LastIndexByte(service, '.'); dot >= 0 {
		service = service[dot+1:]
	}
	return orUnknown(service), orUnknown(method)
}

func orUnknown(v string) string {
	if v == "" {
		return unknownLabel
	}
	return v
}

func gathererFor(reg prometheus.Registerer) prometheus.Gatherer {
	if g, ok := reg.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

// register adds col to reg. If an identical collector is already there, the
// existing one is returned so that every caller shares its series.
func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	err := reg.Register(col)
	if err == nil {
		return col, nil
	}
	var zero T
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return zero, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return zero, fmt.Errorf("collector already registered with type %T, want %T", are.ExistingCollector, col)
	}
	return existing, nil
}
