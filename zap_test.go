// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/object"
)

func TestMessageRoundTrip(t *testing.T) {
	r := require.New(t)
	m := &Message{Type: MsgCall, ID: 7, Service: 1, Object: 2, Action: 100, Payload: []byte("args")}
	frame := m.Marshal()
	r.Len(frame, headerSize+4)
	r.Equal(byte(MsgCall), frame[0])
	r.Equal(uint32(7), binary.BigEndian.Uint32(frame[1:5]))

	got, err := UnmarshalMessage(frame)
	r.NoError(err)
	r.Equal(m, got)

	_, err = UnmarshalMessage(frame[:headerSize-1])
	r.ErrorIs(err, ErrZAPShortFrame)

	empty, err := UnmarshalMessage((&Message{Type: MsgCancel, ID: 3}).Marshal())
	r.NoError(err)
	r.Empty(empty.Payload)
	r.Equal("cancel", empty.Type.String())
	r.Equal("MessageType(42)", MessageType(42).String())
}

func TestZAPTransportFraming(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	a, b := net.Pipe()
	left, right := newZAPTransport(a), newZAPTransport(b)
	defer left.Close()
	defer right.Close()

	frames := [][]byte{[]byte("hello world"), make([]byte, 70000), {1}}
	go func() {
		for _, f := range frames {
			if err := left.Send(ctx, f); err != nil {
				return
			}
		}
	}()
	for _, want := range frames {
		got, err := right.Recv(ctx)
		r.NoError(err)
		r.Equal(want, got)
	}

	r.ErrorIs(left.Send(ctx, make([]byte, maxFrame+1)), ErrZAPFrameTooLong)
}

func TestZAPTransportRejectsBadLength(t *testing.T) {
	r := require.New(t)
	a, b := net.Pipe()
	defer a.Close()
	right := newZAPTransport(b)
	defer right.Close()

	go func() { _, _ = a.Write([]byte{0, 0, 0, 0}) }()
	_, err := right.Recv(context.Background())
	r.ErrorIs(err, ErrZAPFrameTooLong)
}

func TestTransportRegistry(t *testing.T) {
	r := require.New(t)
	r.True(HasTransport(TransportZAP))
	r.Contains(AvailableTransports(), TransportZAP)
	r.False(HasTransport("carrier-pigeon"))

	_, err := Dial(context.Background(), "127.0.0.1:1", WithTransport("carrier-pigeon"))
	r.ErrorIs(err, ErrUnknownTransport)
	_, err = Listen("127.0.0.1:0", WithServerTransport("carrier-pigeon"))
	r.ErrorIs(err, ErrUnknownTransport)
}

func BenchmarkZAPRoundTrip(b *testing.B) {
	ctx := context.Background()

	builder := object.NewDynamicObjectBuilder()
	if _, err := builder.AdvertiseMethod("echo", func(p []byte) []byte { return p }); err != nil {
		b.Fatal(err)
	}
	echo, err := builder.Object()
	if err != nil {
		b.Fatal(err)
	}

	server, err := Listen("127.0.0.1:0")
	if err != nil {
		b.Fatalf("Listen: %v", err)
	}
	defer server.Close()
	if _, err := server.Bind("echo", echo); err != nil {
		b.Fatal(err)
	}
	go server.Serve(ctx)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := Dial(dialCtx, server.Addr())
	if err != nil {
		b.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	remote, err := client.Service(dialCtx, "echo")
	if err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, 1024)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := object.CallAs[[]byte](ctx, remote, "echo", payload); err != nil {
			b.Fatal(err)
		}
	}
}
