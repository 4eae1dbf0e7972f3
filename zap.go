// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/luxfi/metarpc/config"
)

var (
	ErrZAPClosed       = errors.New("zap: connection closed")
	ErrZAPFrameTooLong = errors.New("zap: frame too long")
	ErrZAPShortFrame   = errors.New("zap: frame shorter than header")
)

// maxFrame bounds a single frame.
const maxFrame = 64 * 1024 * 1024

// MessageType identifies ZAP message types
type MessageType uint8

const (
	MsgCall       MessageType = 0x01
	MsgReply      MessageType = 0x02
	MsgError      MessageType = 0x03
	MsgPost       MessageType = 0x04
	MsgEvent      MessageType = 0x05
	MsgCapability MessageType = 0x06
	MsgCancel     MessageType = 0x07
)

func (t MessageType) String() string {
	switch t {
	case MsgCall:
		return "call"
	case MsgReply:
		return "reply"
	case MsgError:
		return "error"
	case MsgPost:
		return "post"
	case MsgEvent:
		return "event"
	case MsgCapability:
		return "capability"
	case MsgCancel:
		return "cancel"
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// headerSize is the frame header without the length prefix:
// [1 type][4 id][4 service][4 object][4 action].
const headerSize = 1 + 4 + 4 + 4 + 4

// Message is one frame exchanged between peers. Action is a method uid
// for calls, a signal uid for events.
type Message struct {
	Type    MessageType
	ID      uint32
	Service uint32
	Object  uint32
	Action  uint32
	Payload []byte
}

// Marshal encodes m without the length prefix.
func (m *Message) Marshal() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[1:5], m.ID)
	binary.BigEndian.PutUint32(buf[5:9], m.Service)
	binary.BigEndian.PutUint32(buf[9:13], m.Object)
	binary.BigEndian.PutUint32(buf[13:17], m.Action)
	copy(buf[headerSize:], m.Payload)
	return buf
}

// UnmarshalMessage decodes a frame produced by Marshal. The payload
// aliases frame.
func UnmarshalMessage(frame []byte) (*Message, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrZAPShortFrame, len(frame))
	}
	return &Message{
		Type:    MessageType(frame[0]),
		ID:      binary.BigEndian.Uint32(frame[1:5]),
		Service: binary.BigEndian.Uint32(frame[5:9]),
		Object:  binary.BigEndian.Uint32(frame[9:13]),
		Action:  binary.BigEndian.Uint32(frame[13:17]),
		Payload: frame[headerSize:],
	}, nil
}

// zapTransport frames messages over a stream connection as
// [4 len][frame].
type zapTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
	header  [4]byte
}

func newZAPTransport(conn net.Conn) *zapTransport {
	return &zapTransport{conn: conn}
}

// ZAPDial connects to a ZAP server
func ZAPDial(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	return newZAPTransport(conn), nil
}

func (z *zapTransport) Send(_ context.Context, frame []byte) error {
	if len(frame) > maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrZAPFrameTooLong, len(frame))
	}
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(frame)))
	copy(buf[4:], frame)

	z.writeMu.Lock()
	defer z.writeMu.Unlock()
	if timeout := config.Get().Transport.CallTimeout; timeout > 0 {
		_ = z.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := z.conn.Write(buf); err != nil {
		return fmt.Errorf("zap write: %w", err)
	}
	return nil
}

// Recv returns the next frame. It is called from a single read loop.
func (z *zapTransport) Recv(context.Context) ([]byte, error) {
	if _, err := io.ReadFull(z.conn, z.header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(z.header[:])
	if n == 0 || n > maxFrame {
		return nil, fmt.Errorf("%w: %d bytes", ErrZAPFrameTooLong, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(z.conn, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

func (z *zapTransport) Close() error {
	return z.conn.Close()
}

// zapListener accepts ZAP connections
type zapListener struct {
	listener net.Listener
}

func listenZAP(addr string) (Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &zapListener{listener: listener}, nil
}

func (l *zapListener) Accept() (Transport, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return newZAPTransport(conn), nil
}

func (l *zapListener) Close() error { return l.listener.Close() }

func (l *zapListener) Addr() string { return l.listener.Addr().String() }
