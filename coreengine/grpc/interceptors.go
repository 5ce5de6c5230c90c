// Package grpc exposes the writing pipeline as the cowrite.v1.WritingService
// gRPC service. Messages are plain Go structs carried by a JSON codec.
package grpc

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/logging"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// =============================================================================
// LOGGING INTERCEPTOR
// =============================================================================

// LoggingInterceptor logs the start, duration and result of each call.
// Client-side codes (InvalidArgument, FailedPrecondition, ...) log at warn;
// server-side failures at error.
func LoggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started", "method", info.FullMethod)

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			code := status.Code(err)
			kv := []any{
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", code.String(),
				"error", err.Error(),
			}
			if serverFault(code) {
				logger.Error("grpc_request_failed", kv...)
			} else {
				logger.Warn("grpc_request_rejected", kv...)
			}
		} else {
			logger.Debug("grpc_request_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return resp, err
	}
}

func serverFault(code codes.Code) bool {
	switch code {
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss, codes.Unimplemented:
		return true
	}
	return false
}

// =============================================================================
// RECOVERY INTERCEPTOR
// =============================================================================

// RecoveryHandler turns a recovered panic value into the call's error.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns Internal without the panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Error(codes.Internal, "internal error")
}

// RecoveryInterceptor recovers handler panics, logs the stack and returns
// handler's error.
func RecoveryInterceptor(logger logging.Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				resp, err = nil, handler(p)
			}
		}()
		return next(ctx, req)
	}
}

// =============================================================================
// METRICS INTERCEPTOR
// =============================================================================

// MetricsInterceptor records request count and latency per method and code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observability.RecordGRPCRequest(info.FullMethod, status.Code(err).String(), int(time.Since(start).Milliseconds()))
		return resp, err
	}
}

// =============================================================================
// RATE LIMIT INTERCEPTOR
// =============================================================================

type projectScoped interface {
	GetProjectID() string
}

// RateLimitInterceptor applies limiter per project to the listed methods.
// Requests without a project id pass through; the handler rejects them.
func RateLimitInterceptor(limiter *RateLimiter, methods ...string) grpc.UnaryServerInterceptor {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limited[info.FullMethod] {
			return handler(ctx, req)
		}
		scoped, ok := req.(projectScoped)
		if !ok || scoped.GetProjectID() == "" {
			return handler(ctx, req)
		}
		if ok, wait := limiter.Allow(scoped.GetProjectID()); !ok {
			return nil, status.Errorf(codes.ResourceExhausted,
				"project %s is over its run limit, retry in %ds",
				scoped.GetProjectID(), int(math.Ceil(wait.Seconds())))
		}
		return handler(ctx, req)
	}
}

// =============================================================================
// SERVER OPTIONS BUILDER
// =============================================================================

// ServerOptions returns the standard interceptor chain: recovery outermost,
// then logging, metrics and, when limiter is set, the RunStage rate limit.
func ServerOptions(logger logging.Logger, limiter *RateLimiter) []grpc.ServerOption {
	chain := []grpc.UnaryServerInterceptor{
		RecoveryInterceptor(logger, nil),
		LoggingInterceptor(logger),
		MetricsInterceptor(),
	}
	if limiter != nil {
		chain = append(chain, RateLimitInterceptor(limiter, MethodRunStage))
	}
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(chain...)}
}
