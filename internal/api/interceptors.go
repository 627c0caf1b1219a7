package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const requestIDMetadataKey = "x-request-id"

// ChainUnaryInterceptors runs interceptors in the given order, the first one outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		next := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor, inner := interceptors[i], next
			next = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, inner)
			}
		}
		return next(ctx, req)
	}
}

// RecoveryUnaryInterceptor turns a handler panic into codes.Internal.
func RecoveryUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := componentLogger(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("grpc handler panicked")
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor tags the call with a request id and logs its outcome.
// Client errors are logged at warn, server errors at error.
func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := componentLogger(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		var event *zerolog.Event
		switch code {
		case codes.OK:
			event = log.Debug()
		case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
			event = log.Error().Err(err)
		default:
			event = log.Warn().Err(err)
		}
		event.
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remoteAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func componentLogger(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return zerolog.Nop()
	}
	return logger.With().Str("component", "grpc").Logger()
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func requestIDFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if id := first(md.Get(requestIDMetadataKey)); id != "" {
		return id
	}
	return uuid.NewString()
}
