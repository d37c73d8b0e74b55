package agentrpc

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/observability"
)

// Server bridges one exchange.Channel to at most one connected agent.
type Server struct {
	ch  *exchange.Channel
	log logging.Logger

	active   atomic.Bool
	sessions atomic.Uint64
}

// NewServer creates a bridge for ch.
func NewServer(ch *exchange.Channel, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{ch: ch, log: log}
}

// NewGRPCServer builds a gRPC server with tracing and metrics wired and the
// exchange service registered.
func NewGRPCServer(bridge *Server, collector *observability.LoopCollector, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainStreamInterceptor(
			RunIDStreamServerInterceptor(bridge.log),
			collector.StreamServerInterceptor(),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterExchangeServer(s, bridge)
	return s
}

// Active reports whether an agent is currently connected.
func (s *Server) Active() bool {
	return s.active.Load()
}

// Sessions returns how many agent streams were accepted.
func (s *Server) Sessions() uint64 {
	return s.sessions.Load()
}

// Interact implements ExchangeServer.
func (s *Server) Interact(stream grpc.BidiStreamingServer[Frame, Frame]) error {
	ctx := stream.Context()
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = s.log
	}

	if err := s.checkKey(ctx); err != nil {
		return err
	}
	if !s.active.CompareAndSwap(false, true) {
		return status.Error(codes.ResourceExhausted, "an agent is already connected")
	}
	defer s.active.Store(false)
	s.sessions.Add(1)
	log.Info(ctx, "agent connected")

	for {
		env, err := s.ch.Receive(ctx)
		if errors.Is(err, exchange.ErrFinished) {
			log.Info(ctx, "run finished; closing agent stream")
			return nil
		}
		if err != nil {
			return status.FromContextError(err).Err()
		}

		buf, err := env.MarshalBinary()
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.Send(&wrapperspb.BytesValue{Value: buf}); err != nil {
			return err
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			// The environment stays pending and goes to the next agent.
			log.Warn(ctx, "agent disconnected before answering")
			return nil
		}
		if err != nil {
			return err
		}

		var act exchange.Action
		if err := act.UnmarshalBinary(msg.GetValue()); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		if err := s.ch.Respond(act); err != nil {
			if errors.Is(err, exchange.ErrFinished) {
				return nil
			}
			return ToStatusError(err)
		}
	}
}

func (s *Server) checkKey(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	raw := firstHeader(md, KeyMetadata)
	if raw == "" {
		return status.Error(codes.Unauthenticated, "missing "+KeyMetadata)
	}
	key, err := strconv.Atoi(raw)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed %s: %q", KeyMetadata, raw)
	}
	if key != s.ch.Key() {
		return status.Errorf(codes.PermissionDenied, "exchange key %d does not match", key)
	}
	return nil
}

// ToStatusError maps exchange errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, exchange.ErrFinished):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, exchange.ErrNoPendingEnvironment):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, exchange.ErrShortBuffer):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
