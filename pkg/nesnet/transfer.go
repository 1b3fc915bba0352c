package nesnet

import (
	"context"
	"encoding/gob"
	"bytes"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// Frame is a single unit exchanged over the NetworkTransfer stream: a
// header plus its raw tuple payload in the negotiated memory layout.
type Frame struct {
	Header  BufferHeader
	Payload []byte
}

// gobCodecName is registered with grpc's encoding package so the
// NetworkTransfer service can exchange plain Go structs without requiring
// generated protobuf message types for every frame.
const gobCodecName = "nesnet-gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return gobCodecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// NetworkTransferServer is implemented by the receiving side of a
// network sink/source pair: one long-lived bidirectional stream per
// connected partition.
type NetworkTransferServer interface {
	Transfer(stream NetworkTransfer_TransferServer) error
}

// NetworkTransfer_TransferServer is the server-side streaming handle, in
// the shape protoc-gen-go-grpc would emit for a bidi-streaming RPC.
type NetworkTransfer_TransferServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	Context() context.Context
}

// NetworkTransferClient dials a NetworkTransfer service.
type NetworkTransferClient interface {
	Transfer(ctx context.Context, opts ...grpc.CallOption) (NetworkTransfer_TransferClient, error)
}

// NetworkTransfer_TransferClient is the client-side streaming handle.
type NetworkTransfer_TransferClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	CloseSend() error
}

// serviceDesc is the hand-written equivalent of the grpc.ServiceDesc a
// transfer.proto definition would generate for a single bidi-streaming
// method named Transfer.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "nesnet.NetworkTransfer",
	HandlerType: (*NetworkTransferServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Transfer",
			Handler:       transferHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "nesnet/transfer.proto",
}

// RegisterNetworkTransferServer registers srv against s, using the
// gob-based codec so no protoc-generated message types are required.
func RegisterNetworkTransferServer(s *grpc.Server, srv NetworkTransferServer) {
	s.RegisterService(&serviceDesc, srv)
}

func transferHandler(srv any, stream grpc.ServerStream) error {
	return srv.(NetworkTransferServer).Transfer(&serverStream{stream})
}

type serverStream struct{ grpc.ServerStream }

func (s *serverStream) Send(f *Frame) error { return s.ServerStream.SendMsg(f) }

func (s *serverStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := s.ServerStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

type clientStream struct{ grpc.ClientStream }

func (c *clientStream) Send(f *Frame) error { return c.ClientStream.SendMsg(f) }

func (c *clientStream) Recv() (*Frame, error) {
	f := new(Frame)
	if err := c.ClientStream.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

// DialTransferClient opens the Transfer stream against a dialed
// connection, forcing the gob codec.
func DialTransferClient(ctx context.Context, cc *grpc.ClientConn, opts ...grpc.CallOption) (NetworkTransfer_TransferClient, error) {
	opts = append(opts, grpc.CallContentSubtype(gobCodecName))
	stream, err := cc.NewStream(ctx, &serviceDesc.Streams[0], "/nesnet.NetworkTransfer/Transfer", opts...)
	if err != nil {
		return nil, err
	}
	return &clientStream{stream}, nil
}

// LoopbackTransport is an in-memory NetworkTransfer client/server pair
// used by tests: frames sent by the client are delivered directly to the
// server's Recv, with no actual network or gRPC framing involved.
type LoopbackTransport struct {
	toServer chan *Frame
	toClient chan *Frame
	closed   chan struct{}
}

// NewLoopbackTransport creates a paired in-memory transport.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		toServer: make(chan *Frame, 16),
		toClient: make(chan *Frame, 16),
		closed:   make(chan struct{}),
	}
}

// Client returns the client-facing half of the loopback.
func (l *LoopbackTransport) Client() *LoopbackSide {
	return &LoopbackSide{send: l.toServer, recv: l.toClient, closed: l.closed}
}

// Server returns the server-facing half of the loopback.
func (l *LoopbackTransport) Server() *LoopbackSide {
	return &LoopbackSide{send: l.toClient, recv: l.toServer, closed: l.closed}
}

// Close shuts down both halves of the loopback.
func (l *LoopbackTransport) Close() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// LoopbackSide implements the minimal send/recv surface used by a
// NetworkTransfer client or server over an in-process channel pair.
type LoopbackSide struct {
	send   chan<- *Frame
	recv   <-chan *Frame
	closed chan struct{}
}

// Send enqueues a frame for the peer side.
func (s *LoopbackSide) Send(f *Frame) error {
	select {
	case s.send <- f:
		return nil
	case <-s.closed:
		return io.EOF
	}
}

// Recv blocks for the next frame from the peer side, or io.EOF once
// closed.
func (s *LoopbackSide) Recv() (*Frame, error) {
	select {
	case f := <-s.recv:
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	}
}
