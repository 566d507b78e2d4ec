package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/warmsync/internal/hwstate"
	"github.com/signalsfoundry/warmsync/internal/logging"
	"github.com/signalsfoundry/warmsync/internal/observability"
	"github.com/signalsfoundry/warmsync/internal/rpc"
	"github.com/signalsfoundry/warmsync/internal/warminit"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "warminitd: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.Error(context.Background(), "warminitd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the warm-init gRPC API until ctx is cancelled. When lis is nil
// it listens on cfg.ListenAddress.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}
	reconcileMetrics, err := observability.NewReconcileCollector(reg)
	if err != nil {
		return fmt.Errorf("reconcile metrics: %w", err)
	}

	var tableOpts []hwstate.Option
	tableOpts = append(tableOpts, hwstate.WithLogger(log))
	if cfg.StrictDevices {
		tableOpts = append(tableOpts, hwstate.WithStrictDevices())
	}
	table := hwstate.New(tableOpts...)
	for _, path := range cfg.HardwarePaths {
		if err := table.LoadFile(path); err != nil {
			return fmt.Errorf("load hardware document: %w", err)
		}
	}
	log.Info(ctx, "simulated hardware ready", logging.Any("devices", table.Devices()))

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.Devices = table.Devices()
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	mgr := warminit.NewManager(table, table,
		warminit.WithLogger(log),
		warminit.WithMetricsRecorder(reconcileMetrics),
		warminit.WithReplayTimeout(cfg.ReplayTimeout),
		warminit.WithApplyConcurrency(cfg.ApplyConcurrency),
	)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RequestIDUnaryServerInterceptor(log),
			rpc.TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
	)
	rpc.RegisterWarmInitServer(server, rpc.NewServer(mgr,
		rpc.WithServerLogger(log),
		rpc.WithLifetime(ctx),
	))
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(rpc.WarmInitServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthSrv)

	if lis == nil {
		lis, err = net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
		}
	}

	metricsSrv := serveMetrics(cfg.MetricsAddress, rpcMetrics, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting warm-init gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc server: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down warm-init server")
	healthSrv.Shutdown()
	if n := mgr.AbortAll(context.Background(), "server shutting down"); n > 0 {
		log.Warn(context.Background(), "aborted open windows on shutdown", logging.Int("windows", n))
	}
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveMetrics(addr string, collector *observability.RPCCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
