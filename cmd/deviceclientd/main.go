// Device Client Daemon
//
// Demonstration host process for the device client: runs a small fleet of
// Clients over the in-memory loopback transport, exposes the admin
// control plane over gRPC and Prometheus metrics over HTTP, and
// optionally exports OTLP traces.
//
// Usage:
//
//	go run ./cmd/deviceclientd                          # Default :50061
//	go run ./cmd/deviceclientd -addr :8080              # Custom gRPC port
//	go run ./cmd/deviceclientd -otlp collector:4317     # Enable tracing
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/jeeves-cluster-organization/deviceclient/device"
	"github.com/jeeves-cluster-organization/deviceclient/faketransport"
	"github.com/jeeves-cluster-organization/deviceclient/observability"
	"github.com/jeeves-cluster-organization/deviceclient/rpcserver"
	"github.com/jeeves-cluster-organization/deviceclient/transport"
)

// stdLogger implements device.Logger using standard library log.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

func main() {
	addr := flag.String("addr", ":50061", "admin gRPC server address")
	metricsAddr := flag.String("metrics-addr", ":9100", "Prometheus metrics HTTP address")
	otlpEndpoint := flag.String("otlp", "", "OTLP collector endpoint (empty disables tracing export)")
	connStr := flag.String("connection-string", "Hn=loopback.local;DeviceId=demo;SharedAccessKey=none", "device connection string")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("deviceclientd_starting", "address", *addr, "metrics_address", *metricsAddr)

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("deviceclientd", *otlpEndpoint)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracer_shutdown_failed", "error", err)
			}
		}()
		logger.Info("tracing_enabled", "endpoint", *otlpEndpoint)
	}

	registry := rpcserver.NewRegistry()

	// One exclusive Client with its own Worker.
	standalone, err := device.NewFromConnectionString("demo-standalone", *connStr, faketransport.New(), logger, nil)
	if err != nil {
		log.Fatalf("Failed to create standalone client: %v", err)
	}
	standalone.WithMetrics(observability.Sinks())
	registry.Register(standalone)

	// Two module Clients multiplexed over one shared transport.
	shared := transport.NewShared(10 * time.Millisecond)
	moduleA, err := device.NewFromSharedTransport("demo-module-a", *connStr+";ModuleId=a", faketransport.New(), shared, logger, nil)
	if err != nil {
		log.Fatalf("Failed to create module client a: %v", err)
	}
	moduleB, err := device.NewFromSharedTransport("demo-module-b", *connStr+";ModuleId=b", faketransport.New(), shared, logger, nil)
	if err != nil {
		log.Fatalf("Failed to create module client b: %v", err)
	}
	moduleA.WithMetrics(observability.Sinks())
	moduleB.WithMetrics(observability.Sinks())
	registry.Register(moduleA)
	registry.Register(moduleB)

	for _, c := range []*device.Client{standalone, moduleA, moduleB} {
		client := c
		client.SetConnectionStatusCallback(func(status transport.ConnectionStatus, reason transport.ConnectionStatusReason, _ any) {
			logger.Info("connection_status", "client", client.ID(), "status", int(status), "reason", int(reason))
		}, nil)
	}

	// Admin control plane.
	opts := append(rpcserver.ServerOptions(logger, observability.RecordGRPCRequest), grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpcServer := grpc.NewServer(opts...)
	rpcserver.RegisterAdminServer(grpcServer, rpcserver.NewAdminServer(logger, registry))

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc_serve_failed", "error", err)
		}
	}()

	// Prometheus metrics.
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_serve_failed", "error", err)
		}
	}()

	// Loopback heartbeat: one telemetry event per client every few seconds,
	// so the queue, worker, and metrics have live traffic to show.
	heartbeatStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		seq := 0
		for {
			select {
			case <-heartbeatStop:
				return
			case <-ticker.C:
			}
			seq++
			for _, c := range []*device.Client{standalone, moduleA, moduleB} {
				client := c
				_ = observability.WithSpan(context.Background(), "send_event", client.ID(), func(context.Context) error {
					result := client.SendEvent(&transport.Message{Body: []byte(`{"heartbeat":true}`)}, func(confirm device.ConfirmationResult, _ any) {
						logger.Debug("heartbeat_confirmed", "client", client.ID(), "result", confirm.String())
					}, nil)
					if result != device.ResultOK {
						logger.Warn("heartbeat_send_failed", "client", client.ID(), "result", result.String())
					}
					return nil
				})
			}
			if seq%5 == 0 {
				shared.BroadcastConnectionStatus(transport.ConnectionAuthenticated, transport.ReasonOK)
			}
		}
	}()

	logger.Info("deviceclientd_ready", "address", *addr, "clients", 3)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	close(heartbeatStop)
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)

	standalone.Destroy()
	moduleA.Destroy()
	moduleB.Destroy()
	shared.Stop()

	logger.Info("deviceclientd_stopped")
}
