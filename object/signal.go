// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/executor"
	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

var linkSeq atomic.Uint64

// nextLink returns a link that inUse rejects. Links fill the low 32 bits
// of an object level link, so once the sequence wraps, links still held
// on the signal are skipped.
func nextLink(inUse func(SignalLink) bool) SignalLink {
	for {
		l := SignalLink(linkSeq.Add(1) & 0xffffffff)
		if l != InvalidLink && !inUse(l) {
			return l
		}
	}
}

// OnSubscribers is called when a signal gains its first subscriber or
// loses its last one. Connect and Disconnect wait for it.
type OnSubscribers func(ctx context.Context, hasSubscribers bool) error

// SignalBase is a type-erased signal. The zero value accepts any arguments.
type SignalBase struct {
	hookMu sync.Mutex // serializes connect and disconnect

	mu          sync.Mutex
	sig         signature.Signature
	callType    MetaCallType
	subscribers map[SignalLink]*SignalSubscriber
	onSubs      OnSubscribers
}

// NewSignal returns a signal carrying arguments of the tuple signature sig.
func NewSignal(sig signature.Signature) *SignalBase {
	return &SignalBase{sig: sig}
}

// ensure sets the signature of a zero SignalBase.
func (s *SignalBase) ensure(sig signature.Signature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sig.IsValid() {
		s.sig = sig
	}
}

func (s *SignalBase) Signature() signature.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig
}

// SetCallType sets the default call type of subscribers that do not
// choose one.
func (s *SignalBase) SetCallType(ct MetaCallType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callType = ct
}

func (s *SignalBase) SetOnSubscribers(fn OnSubscribers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSubs = fn
}

func (s *SignalBase) HasSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) > 0
}

// Subscriber returns the subscription of link.
func (s *SignalBase) Subscriber(link SignalLink) (*SignalSubscriber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[link]
	return sub, ok
}

func acceptsAnything(sig signature.Signature) bool {
	if !sig.IsValid() || sig.Type() == signature.Dynamic {
		return true
	}
	ch := sig.Children()
	return len(ch) > 0 && ch[len(ch)-1].Type() == signature.VarArgs
}

func (s *SignalBase) validate(sub *SignalSubscriber) error {
	sig := s.Signature()
	params := sub.parameters()
	if acceptsAnything(sig) || acceptsAnything(params) {
		return nil
	}
	if sig.IsConvertibleTo(params) == 0 {
		return fmt.Errorf("%w: signal %s, subscriber %s", ErrSignatureMismatch, sig, params)
	}
	return nil
}

// Connect adds sub and returns its link.
func (s *SignalBase) Connect(ctx context.Context, sub *SignalSubscriber) (SignalLink, error) {
	if sub == nil {
		return InvalidLink, fmt.Errorf("%w: nil subscriber", ErrNotCallable)
	}
	if err := s.validate(sub); err != nil {
		return InvalidLink, err
	}

	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.mu.Lock()
	if s.subscribers == nil {
		s.subscribers = make(map[SignalLink]*SignalSubscriber)
	}
	link := nextLink(func(l SignalLink) bool {
		_, ok := s.subscribers[l]
		return ok
	})
	if !sub.link.CompareAndSwap(uint64(InvalidLink), uint64(link)) {
		s.mu.Unlock()
		return InvalidLink, ErrAlreadyConnected
	}
	sub.signal = s
	sub.enabled.Store(true)
	first := len(s.subscribers) == 0
	s.subscribers[link] = sub
	hook := s.onSubs
	s.mu.Unlock()

	if first && hook != nil {
		if err := hook(ctx, true); err != nil {
			s.remove(link)
			return InvalidLink, err
		}
	}
	return link, nil
}

// ConnectFunc connects a callback; see NewCallable for the accepted
// function shapes.
func (s *SignalBase) ConnectFunc(ctx context.Context, fn any) (SignalLink, error) {
	sub, err := NewSubscriber(fn)
	if err != nil {
		return InvalidLink, err
	}
	return s.Connect(ctx, sub)
}

func (s *SignalBase) remove(link SignalLink) (sub *SignalSubscriber, last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[link]
	if !ok {
		return nil, false
	}
	sub.enabled.Store(false)
	delete(s.subscribers, link)
	return sub, len(s.subscribers) == 0
}

// Disconnect removes link. The subscriber is disabled before removal so a
// trigger already in progress skips it. It reports whether link existed.
func (s *SignalBase) Disconnect(ctx context.Context, link SignalLink) (bool, error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	sub, last := s.remove(link)
	if sub == nil {
		return false, nil
	}
	s.mu.Lock()
	hook := s.onSubs
	s.mu.Unlock()
	if last && hook != nil {
		if err := hook(ctx, false); err != nil {
			return true, err
		}
	}
	return true, nil
}

// DisconnectAll removes every subscriber.
func (s *SignalBase) DisconnectAll(ctx context.Context) error {
	s.mu.Lock()
	links := slices.Collect(maps.Keys(s.subscribers))
	s.mu.Unlock()
	for _, l := range links {
		if _, err := s.Disconnect(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Emit triggers the signal with Go arguments.
func (s *SignalBase) Emit(ctx context.Context, args ...any) {
	vals := make(typesys.Values, len(args))
	for i, a := range args {
		vals[i] = typesys.From(a)
	}
	s.Trigger(ctx, vals)
}

// Trigger invokes every enabled subscriber with args, using the signal
// call type for subscribers without their own.
func (s *SignalBase) Trigger(ctx context.Context, args typesys.Values) {
	s.mu.Lock()
	ct := s.callType
	s.mu.Unlock()
	s.TriggerWith(ctx, args, ct)
}

// TriggerWith is Trigger with an explicit default call type. Subscribers
// leaving the caller's goroutine share one copy of the arguments.
func (s *SignalBase) TriggerWith(ctx context.Context, args typesys.Values, ct MetaCallType) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	subs := slices.SortedFunc(maps.Values(s.subscribers), func(a, b *SignalSubscriber) int {
		return cmp.Compare(a.Link(), b.Link())
	})
	s.mu.Unlock()

	copied := sync.OnceValue(func() typesys.Values { return cloneValues(args) })
	for _, sub := range subs {
		if !sub.Enabled() {
			continue
		}
		callType := ct
		if sub.callType != Auto {
			callType = sub.callType
		}
		switch {
		case sub.strand != nil && !executor.InStrand(ctx, sub.strand):
			a := copied()
			if err := sub.strand.Post(ctx, func(ctx context.Context) { sub.invoke(ctx, a) }); err != nil {
				sub.log().WithError(err).Warn("dropping signal delivery")
			}
		case callType == Queued:
			a := copied()
			if err := executor.Global().Submit(ctx, func(ctx context.Context) { sub.invoke(ctx, a) }); err != nil {
				sub.log().WithError(err).Warn("dropping signal delivery")
			}
		default:
			sub.invoke(ctx, args)
		}
	}
}

// SignalSubscriber is a signal target: a callback, or a method of an
// object. Object targets implemented by this package are held weakly.
type SignalSubscriber struct {
	handler  *Callable
	target   func() AnyObject
	method   uint32
	callType MetaCallType
	strand   *executor.Strand

	link    atomic.Uint64
	enabled atomic.Bool
	signal  *SignalBase
}

// NewSubscriber returns a subscriber calling fn.
func NewSubscriber(fn any) (*SignalSubscriber, error) {
	c, err := NewCallable(fn)
	if err != nil {
		return nil, err
	}
	return NewCallableSubscriber(c), nil
}

func NewCallableSubscriber(c *Callable) *SignalSubscriber {
	return &SignalSubscriber{handler: c}
}

// weakRef is implemented by handles that can be referenced weakly.
type weakRef interface {
	weakTarget() func() AnyObject
}

// NewMethodSubscriber returns a subscriber calling method on target.
func NewMethodSubscriber(target AnyObject, method uint32) *SignalSubscriber {
	get := func() AnyObject { return target }
	if w, ok := target.(weakRef); ok {
		get = w.weakTarget()
	}
	return &SignalSubscriber{target: get, method: method}
}

// WithCallType overrides the signal call type for this subscriber.
func (s *SignalSubscriber) WithCallType(ct MetaCallType) *SignalSubscriber {
	s.callType = ct
	return s
}

// WithStrand delivers every invocation on strand.
func (s *SignalSubscriber) WithStrand(strand *executor.Strand) *SignalSubscriber {
	s.strand = strand
	return s
}

func (s *SignalSubscriber) Link() SignalLink { return SignalLink(s.link.Load()) }
func (s *SignalSubscriber) Enabled() bool    { return s.enabled.Load() }

func (s *SignalSubscriber) parameters() signature.Signature {
	if s.handler != nil {
		return s.handler.ParametersSignature()
	}
	if t := s.target(); t != nil {
		if m, ok := t.MetaObject().Method(s.method); ok {
			return m.ParametersSignature
		}
	}
	return signature.Signature{}
}

func (s *SignalSubscriber) log() *logrus.Entry {
	return log.Category("metarpc.signal").WithField("link", uint64(s.Link()))
}

// Disconnect removes the subscriber from its signal.
func (s *SignalSubscriber) Disconnect(ctx context.Context) (bool, error) {
	if s.signal == nil {
		return false, nil
	}
	return s.signal.Disconnect(ctx, s.Link())
}

func (s *SignalSubscriber) invoke(ctx context.Context, args typesys.Values) {
	if !s.Enabled() {
		return
	}
	if s.handler != nil {
		if _, err := s.handler.Call(ctx, args); err != nil {
			s.log().WithError(err).Warn("signal subscriber failed")
		}
		return
	}
	t := s.target()
	if t == nil {
		s.log().Debug(ErrStaleTarget.Error())
		if _, err := s.Disconnect(ctx); err != nil {
			s.log().WithError(err).Warn("disconnecting stale subscriber")
		}
		return
	}
	t.MetaCall(ctx, s.method, args, s.callType, signature.Signature{}).Then(func(f *future.Future[typesys.Value]) {
		if err := f.Err(); err != nil {
			s.log().WithError(err).WithField("method", s.method).Warn("signal subscriber failed")
		}
	})
}
