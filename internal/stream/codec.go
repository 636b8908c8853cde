// Package stream pushes watchlist change events to remote viewers over a
// server-streaming gRPC method. Messages are JSON encoded via a registered
// codec, so no generated protobuf code is involved.
package stream

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype used by both ends.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	serviceName      = "smartvalue.Watchlist"
	watchEventsName  = "WatchEvents"
	watchEventsRoute = "/" + serviceName + "/" + watchEventsName
)

// WatchRequest opens an event stream. An empty or unknown token watches the
// guest list.
type WatchRequest struct {
	Token string `json:"token,omitempty"`
}

// watchService is the handler type checked by grpc.Server.RegisterService.
type watchService interface {
	watchEvents(req *WatchRequest, ss grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*watchService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchEventsName,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "smartvalue/watchlist.json",
}

func watchEventsHandler(srv any, ss grpc.ServerStream) error {
	req := new(WatchRequest)
	if err := ss.RecvMsg(req); err != nil {
		return err
	}
	return srv.(watchService).watchEvents(req, ss)
}
