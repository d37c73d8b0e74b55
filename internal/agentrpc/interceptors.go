package agentrpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
)

// RunIDStreamServerInterceptor ensures each agent stream carries a run_id
// (taken from the x-run-id header when present) and a logger annotated
// with it.
func RunIDStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if id := firstHeader(md, RunIDMetadata); id != "" {
				ctx = logging.ContextWithRunID(ctx, id)
			}
		}
		ctx, log := logging.WithRunLogger(ctx, base)
		log = log.With(logging.String("method", info.FullMethod))
		ctx = logging.ContextWithLogger(ctx, log)
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context {
	return s.ctx
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
