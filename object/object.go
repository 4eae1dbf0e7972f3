// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package object implements dispatch targets: dynamically built objects,
// statically typed objects, and the signal/property engine they share.
package object

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

var (
	ErrNoSuchMethod      = errors.New("object: no such method")
	ErrNoSuchSignal      = errors.New("object: no such signal")
	ErrNoSuchProperty    = errors.New("object: no such property")
	ErrNoSuchLink        = errors.New("object: no such link")
	ErrArity             = errors.New("object: wrong number of arguments")
	ErrSignatureMismatch = errors.New("object: subscriber signature mismatch")
	ErrAlreadyConnected  = errors.New("object: subscriber already connected")
	ErrCallPanicked      = errors.New("object: call panicked")
	ErrStaleTarget       = errors.New("object: subscriber target is gone")
	ErrNotCallable       = errors.New("object: not a callable")
)

// MetaCallType selects how a call is scheduled relative to the caller.
type MetaCallType int

const (
	// Auto runs inline unless the target's threading model requires
	// otherwise.
	Auto MetaCallType = iota
	// Direct runs inline, still honoring a single-threaded target.
	Direct
	// Queued always runs on an executor.
	Queued
)

func (c MetaCallType) String() string {
	switch c {
	case Auto:
		return "auto"
	case Direct:
		return "direct"
	case Queued:
		return "queued"
	}
	return fmt.Sprintf("calltype(%d)", int(c))
}

// ObjectThreadingModel tells whether an object may be entered concurrently.
type ObjectThreadingModel int

const (
	SingleThread ObjectThreadingModel = iota
	MultiThread
)

// MethodThreadingModel refines the object model for one method.
type MethodThreadingModel int

const (
	// MethodDefault follows the object model.
	MethodDefault MethodThreadingModel = iota
	// MethodThreadSafe runs inline even on single-threaded objects.
	MethodThreadSafe
)

// SignalLink identifies a signal subscription. Object level links carry
// the signal uid in the high 32 bits.
type SignalLink uint64

// InvalidLink is never returned by a successful connect.
const InvalidLink SignalLink = 0

// ObjectLink combines a signal uid and a subscription link.
func ObjectLink(signalID uint32, link SignalLink) SignalLink {
	return SignalLink(uint64(signalID)<<32 | uint64(link)&0xffffffff)
}

// Split returns the signal uid and subscription link of an object level
// link.
func (l SignalLink) Split() (signalID uint32, link SignalLink) {
	return uint32(l >> 32), l & 0xffffffff
}

// AnyObject is a dispatch target reachable by member uid. Every operation
// returns a Future; results of calls made inline are already finished.
type AnyObject interface {
	typesys.ObjectHandle

	// MetaCall invokes method id. A valid retSig converts the result.
	MetaCall(ctx context.Context, id uint32, args typesys.Values, callType MetaCallType, retSig signature.Signature) *future.Future[typesys.Value]
	// MetaPost triggers signal id, or calls method id in the background.
	MetaPost(ctx context.Context, id uint32, args typesys.Values)
	Connect(ctx context.Context, signalID uint32, sub *SignalSubscriber) *future.Future[SignalLink]
	Disconnect(ctx context.Context, link SignalLink) *future.Future[bool]
	Property(ctx context.Context, id uint32) *future.Future[typesys.Value]
	SetProperty(ctx context.Context, id uint32, v typesys.Value) *future.Future[struct{}]
}

// MemberOption configures a member advertised on a builder.
type MemberOption func(*memberConfig)

type memberConfig struct {
	meta      []meta.MemberOption
	threading MethodThreadingModel
}

// WithMeta passes metadata options to the MetaObject entry.
func WithMeta(opts ...meta.MemberOption) MemberOption {
	return func(c *memberConfig) { c.meta = append(c.meta, opts...) }
}

// WithThreading sets the method threading model.
func WithThreading(m MethodThreadingModel) MemberOption {
	return func(c *memberConfig) { c.threading = m }
}

func memberOptions(opts []MemberOption) *memberConfig {
	c := &memberConfig{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
