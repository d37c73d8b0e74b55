package agentrpc

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
)

var interactStreamDesc = &grpc.StreamDesc{
	StreamName:    "Interact",
	ServerStreams: true,
	ClientStreams: true,
}

// Client is the agent side of the exchange stream. It satisfies the
// Receive/Respond contract the built-in agents consume.
type Client struct {
	conn  grpc.ClientConnInterface
	owned *grpc.ClientConn
	key   int
	runID string

	mu      sync.Mutex
	stream  grpc.ClientStream
	pending bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRunID forwards id to the server for log correlation.
func WithRunID(id string) ClientOption {
	return func(c *Client) { c.runID = id }
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, key int, opts ...ClientOption) *Client {
	c := &Client{conn: conn, key: key}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to target without transport security and with client
// tracing enabled.
func Dial(target string, key int, opts ...ClientOption) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, key, opts...)
	c.owned = conn
	return c, nil
}

func (c *Client) open(ctx context.Context) (grpc.ClientStream, error) {
	if c.stream != nil {
		return c.stream, nil
	}
	pairs := []string{KeyMetadata, strconv.Itoa(c.key)}
	if c.runID != "" {
		pairs = append(pairs, RunIDMetadata, c.runID)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	stream, err := c.conn.NewStream(ctx, interactStreamDesc, InteractMethod)
	if err != nil {
		return nil, err
	}
	c.stream = stream
	return stream, nil
}

// Receive blocks for the next environment. The stream is opened with ctx
// on first use and lives until the server ends it. A cleanly finished run
// is reported as exchange.ErrFinished.
func (c *Client) Receive(ctx context.Context) (exchange.Environment, error) {
	c.mu.Lock()
	stream, err := c.open(ctx)
	c.mu.Unlock()
	if err != nil {
		return exchange.Environment{}, err
	}

	var msg wrapperspb.BytesValue
	if err := stream.RecvMsg(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return exchange.Environment{}, exchange.ErrFinished
		}
		return exchange.Environment{}, err
	}
	var env exchange.Environment
	if err := env.UnmarshalBinary(msg.GetValue()); err != nil {
		return exchange.Environment{}, err
	}

	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()
	return env, nil
}

// Respond sends the action for the last received environment.
func (c *Client) Respond(a exchange.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil || !c.pending {
		return exchange.ErrNoPendingEnvironment
	}
	buf, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.stream.SendMsg(&wrapperspb.BytesValue{Value: buf}); err != nil {
		if errors.Is(err, io.EOF) {
			return exchange.ErrFinished
		}
		return err
	}
	c.pending = false
	return nil
}

// Close half-closes the stream and releases a connection made by Dial.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.stream != nil {
		err = c.stream.CloseSend()
		c.stream = nil
	}
	if c.owned != nil {
		err = errors.Join(err, c.owned.Close())
		c.owned = nil
	}
	return err
}
