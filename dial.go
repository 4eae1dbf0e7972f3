// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"fmt"

	"github.com/luxfi/metarpc/wire"
)

// Dial connects to a server using the default transport (ZAP) and waits
// for the capability exchange. Use WithTransport for transport selection.
func Dial(ctx context.Context, addr string, opts ...DialOption) (*Client, error) {
	o := &dialOptions{
		transport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	entry, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, o.transport)
	}
	t, err := entry.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	caps := o.capabilities
	if caps == nil {
		caps = wire.LocalCapabilities()
	}
	s := newSession(t, caps, newObjectHost(nil), "client")
	if err := s.start(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return &Client{s: s}, nil
}

// Listen creates a server listener using the default transport (ZAP).
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	o := &serverOptions{
		transport: DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	entry, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, o.transport)
	}
	l, err := entry.listen(addr)
	if err != nil {
		return nil, err
	}
	s, err := newServer(l, o)
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return s, nil
}
