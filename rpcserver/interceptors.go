// Package rpcserver exposes the admin control plane: a gRPC service that
// lets an operator list registered Clients, inspect their Detached Task
// backlog, and retune runtime options, without the device package itself
// depending on gRPC.
package rpcserver

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/deviceclient/device"
)

// =============================================================================
// LOGGING INTERCEPTOR
// =============================================================================

// LoggingInterceptor creates a unary server interceptor that logs the
// start, duration, and result of each admin-plane RPC call.
func LoggingInterceptor(logger device.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()

		logger.Debug("grpc_request_started", "method", info.FullMethod)

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc_request_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc_request_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}

		return resp, err
	}
}

// StreamLoggingInterceptor is LoggingInterceptor's stream counterpart.
func StreamLoggingInterceptor(logger device.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		logger.Debug("grpc_stream_started",
			"method", info.FullMethod,
			"client_stream", info.IsClientStream,
			"server_stream", info.IsServerStream,
		)

		err := handler(srv, ss)
		duration := time.Since(start)

		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc_stream_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc_stream_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}

		return err
	}
}

// =============================================================================
// METRICS INTERCEPTOR
// =============================================================================

// MetricsRecorder receives one observation per unary RPC; the
// observability package's RecordGRPCRequest satisfies it.
type MetricsRecorder func(method string, status string, durationMS int)

// MetricsInterceptor creates a unary server interceptor that reports each
// RPC's method, status code, and duration to record.
func MetricsInterceptor(record MetricsRecorder) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		record(info.FullMethod, st.Code().String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// =============================================================================
// RECOVERY INTERCEPTOR
// =============================================================================

// RecoveryHandler is called when a panic is recovered from an RPC handler.
type RecoveryHandler func(p interface{}) error

// DefaultRecoveryHandler returns an Internal error with panic details.
func DefaultRecoveryHandler(p interface{}) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor recovers from a panic in a unary handler, logs the
// stack trace, and converts it into an Internal status error.
func RecoveryInterceptor(logger device.Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		grpcHandler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				stack := string(debug.Stack())
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", stack,
				)
				err = handler(p)
			}
		}()

		return grpcHandler(ctx, req)
	}
}

// StreamRecoveryInterceptor is RecoveryInterceptor's stream counterpart.
func StreamRecoveryInterceptor(logger device.Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}

	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		grpcHandler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if p := recover(); p != nil {
				stack := string(debug.Stack())
				logger.Error("grpc_stream_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", stack,
				)
				err = handler(p)
			}
		}()

		return grpcHandler(srv, ss)
	}
}

// =============================================================================
// CHAIN INTERCEPTORS
// =============================================================================

// ChainUnaryInterceptors chains multiple unary interceptors together;
// interceptors are executed in order, first wraps second, etc.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(ctx context.Context, req interface{}) (interface{}, error) {
				return interceptor(ctx, req, info, currentHandler)
			}
		}
		return chain(ctx, req)
	}
}

// ChainStreamInterceptors chains multiple stream interceptors together.
func ChainStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(srv interface{}, ss grpc.ServerStream) error {
				return interceptor(srv, ss, info, currentHandler)
			}
		}
		return chain(srv, ss)
	}
}

// =============================================================================
// SERVER OPTIONS BUILDER
// =============================================================================

// ServerOptions builds the standard admin-plane server options: panic
// recovery wrapping request logging (and, if any recorders are given,
// metrics) for unary RPCs, recovery wrapping logging for streams.
func ServerOptions(logger device.Logger, recorders ...MetricsRecorder) []grpc.ServerOption {
	unary := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(logger, nil),
		LoggingInterceptor(logger),
	}
	for _, record := range recorders {
		unary = append(unary, MetricsInterceptor(record))
	}
	unaryInterceptor := ChainUnaryInterceptors(unary...)

	streamInterceptor := ChainStreamInterceptors(
		StreamRecoveryInterceptor(logger, nil),
		StreamLoggingInterceptor(logger),
	)

	return []grpc.ServerOption{
		grpc.UnaryInterceptor(unaryInterceptor),
		grpc.StreamInterceptor(streamInterceptor),
	}
}
