// Package agentrpc carries the environment/action exchange over a gRPC
// bidirectional stream so the decision agent can run in another process.
//
// The server sends one environment per message and expects exactly one
// action back before it sends the next. Both records travel in their fixed
// binary layout inside a google.protobuf.BytesValue.
package agentrpc

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "wifisim.agent.v1.Exchange"
	// InteractMethod is the full method name of the exchange stream.
	InteractMethod = "/" + ServiceName + "/Interact"

	// KeyMetadata carries the shared exchange key.
	KeyMetadata = "x-memblock-key"
	// RunIDMetadata optionally carries the agent's run id for log correlation.
	RunIDMetadata = "x-run-id"
)

// Frame is the message type on both directions of the stream.
type Frame = wrapperspb.BytesValue

// ExchangeServer is the server API of the exchange service.
type ExchangeServer interface {
	Interact(stream grpc.BidiStreamingServer[Frame, Frame]) error
}

func interactHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ExchangeServer).Interact(&grpc.GenericServerStream[Frame, Frame]{ServerStream: stream})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Interact",
			Handler:       interactHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "wifisim/agent/v1/exchange.proto",
}

// RegisterExchangeServer registers srv on s.
func RegisterExchangeServer(s grpc.ServiceRegistrar, srv ExchangeServer) {
	s.RegisterService(&serviceDesc, srv)
}
