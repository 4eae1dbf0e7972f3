// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metarpc serves objects built with the object package to remote
// peers and proxies remote objects back as object.AnyObject.
//
// # Transport Selection
//
// ZAP is the default transport, a length-prefixed frame stream over TCP.
// Use build tags to enable alternative transports:
//
//	go build              # ZAP only (default)
//	go build -tags grpc   # Enable gRPC transport
//
// # Usage
//
// Server usage:
//
//	server, err := metarpc.Listen(":9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := server.Bind("calculator", calc); err != nil {
//	    log.Fatal(err)
//	}
//	go server.Serve(ctx)
//
// Client usage:
//
//	client, err := metarpc.Dial(ctx, "localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	calc, err := client.Service(ctx, "calculator")
//	sum, err := object.CallAs[int32](ctx, calc, "add", 1, 2)
//
// # Wire protocol
//
// Every message is one frame:
//
//	[4 len][1 type][4 id][4 service][4 object][4 action][payload]
//
// Header integers are big-endian; payloads use the wire package encoding.
// Arguments travel as a dynamic tuple, so the receiver resolves overloads
// from the signature carried in the payload. Each peer advertises its
// capabilities first; MetaObject caching, object uids and remote
// cancellation are used only when both peers advertise them.
//
// Subscribing to a signal of a RemoteObject registers the proxy with the
// peer through the reserved registerEvent (0) and unregisterEvent (1)
// methods. Emissions come back as event messages.
//
// # JSON bridge
//
// Server.JSONHandler serves the bound services over JSON-RPC 2.0 through
// gorilla/rpc: metarpc.Call resolves the method by name against the JSON
// arguments.
package metarpc
