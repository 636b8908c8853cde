package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"smartvalue/internal/watchlist"
)

// Client connects to a watchlist event server and hands every received
// event to a callback.
type Client struct {
	addr string
	opts []grpc.DialOption
	log  *slog.Logger
}

// NewClient creates a client targeting the given gRPC address. Extra dial
// options are appended to the insecure transport default.
func NewClient(addr string, log *slog.Logger, opts ...grpc.DialOption) *Client {
	return &Client{addr: addr, opts: opts, log: log}
}

// Sync connects to the server and delivers events for the session token to
// fn, starting with a snapshot. It blocks until ctx is cancelled or the
// stream ends.
func (c *Client) Sync(ctx context.Context, token string, fn func(watchlist.Event)) error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, c.opts...)
	conn, err := grpc.NewClient(c.addr, opts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], watchEventsRoute)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&WatchRequest{Token: token}); err != nil {
		return fmt.Errorf("sending watch request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to watchlist stream", "addr", c.addr)

	for {
		var evt watchlist.Event
		err := stream.RecvMsg(&evt)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		fn(evt)
	}
}
