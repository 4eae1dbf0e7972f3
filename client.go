// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/wire"
)

var ErrUnknownTransport = errors.New("metarpc: unknown transport")

// Transport represents the underlying transport mechanism. Each Send
// carries one message frame; Recv is called from a single goroutine.
type Transport interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// Listener accepts incoming transports.
type Listener interface {
	Accept() (Transport, error)
	Close() error
	Addr() string
}

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	transport    string
	capabilities wire.CapabilityMap
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithCapabilities replaces the locally advertised capabilities.
func WithCapabilities(caps wire.CapabilityMap) DialOption {
	return func(o *dialOptions) { o.capabilities = caps }
}

// ServerOption configures servers
type ServerOption func(*serverOptions)

type serverOptions struct {
	transport    string
	capabilities wire.CapabilityMap
}

// WithServerTransport explicitly sets the transport type for the server
func WithServerTransport(t string) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}

// WithServerCapabilities replaces the capabilities advertised to clients.
func WithServerCapabilities(caps wire.CapabilityMap) ServerOption {
	return func(o *serverOptions) { o.capabilities = caps }
}

// Client is one connection to a server. Remote objects obtained from it
// stay usable until Close.
type Client struct {
	s *session
}

// Service returns a proxy to the main object of the named service.
func (c *Client) Service(ctx context.Context, name string) (*RemoteObject, error) {
	dir, err := c.s.remote(ctx, directoryService, mainObject)
	if err != nil {
		return nil, err
	}
	id, err := object.CallAs[uint32](ctx, dir, "service", name)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", name, err)
	}
	return c.s.remote(ctx, id, mainObject)
}

// Services lists the names of the services bound on the server.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	dir, err := c.s.remote(ctx, directoryService, mainObject)
	if err != nil {
		return nil, err
	}
	return object.CallAs[[]string](ctx, dir, "services")
}

// StreamContext returns the connection's capability and cache state.
func (c *Client) StreamContext() *wire.StreamContext { return c.s.sc }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.s.done }

func (c *Client) Close() error {
	return c.s.Close()
}
