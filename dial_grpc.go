//go:build grpc

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	grpcServiceName = "metarpc.Transport"
	grpcStreamName  = "Stream"
	grpcStreamPath  = "/" + grpcServiceName + "/" + grpcStreamName
)

func init() {
	// Register gRPC transport when build tag is enabled
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

// rawCodec passes message frames through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Name() string { return "metarpc-raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("grpc codec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpc codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

var streamDesc = grpc.StreamDesc{
	StreamName:    grpcStreamName,
	ServerStreams: true,
	ClientStreams: true,
}

// grpcClientTransport carries frames on one bidirectional stream.
type grpcClientTransport struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	sendMu sync.Mutex
}

func dialGRPC(_ context.Context, addr string) (Transport, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	// the stream outlives the dial context
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := conn.NewStream(ctx, &streamDesc, grpcStreamPath, grpc.WaitForReady(true))
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("grpc stream: %w", err)
	}
	return &grpcClientTransport{conn: conn, stream: stream, cancel: cancel}, nil
}

func (t *grpcClientTransport) Send(_ context.Context, data []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.SendMsg(&data)
}

func (t *grpcClientTransport) Recv(context.Context) ([]byte, error) {
	var frame []byte
	if err := t.stream.RecvMsg(&frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *grpcClientTransport) Close() error {
	t.sendMu.Lock()
	_ = t.stream.CloseSend()
	t.sendMu.Unlock()
	t.cancel()
	return t.conn.Close()
}

// grpcServerTransport wraps an accepted stream. The stream handler returns
// once the transport is closed.
type grpcServerTransport struct {
	stream grpc.ServerStream
	sendMu sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func (t *grpcServerTransport) Send(_ context.Context, data []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.SendMsg(&data)
}

func (t *grpcServerTransport) Recv(context.Context) ([]byte, error) {
	var frame []byte
	if err := t.stream.RecvMsg(&frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (t *grpcServerTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

type grpcListener struct {
	listener net.Listener
	server   *grpc.Server
	accepted chan *grpcServerTransport
	closed   chan struct{}
	once     sync.Once
}

func listenGRPC(addr string) (Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &grpcListener{
		listener: lis,
		server:   grpc.NewServer(grpc.ForceServerCodec(rawCodec{})),
		accepted: make(chan *grpcServerTransport),
		closed:   make(chan struct{}),
	}
	desc := streamDesc
	desc.Handler = l.handle
	l.server.RegisterService(&grpc.ServiceDesc{
		ServiceName: grpcServiceName,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{desc},
	}, l)
	go func() { _ = l.server.Serve(lis) }()
	return l, nil
}

func (l *grpcListener) handle(_ any, stream grpc.ServerStream) error {
	t := &grpcServerTransport{stream: stream, done: make(chan struct{})}
	select {
	case l.accepted <- t:
	case <-l.closed:
		return net.ErrClosed
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
	select {
	case <-t.done:
	case <-stream.Context().Done():
	}
	return nil
}

func (l *grpcListener) Accept() (Transport, error) {
	select {
	case t := <-l.accepted:
		return t, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *grpcListener) Close() error {
	l.once.Do(func() {
		close(l.closed)
		l.server.Stop()
	})
	return nil
}

func (l *grpcListener) Addr() string { return l.listener.Addr().String() }
