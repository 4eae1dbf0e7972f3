// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

// RemoteObject is a proxy to an object served by the peer. Calls are
// always asynchronous whatever the requested call type.
type RemoteObject struct {
	s   *session
	key objectKey
	mo  *meta.MetaObject
	uid uuid.UUID
	log *logrus.Entry

	mu      sync.Mutex
	signals map[uint32]*object.SignalBase
}

var _ object.AnyObject = (*RemoteObject)(nil)

func newRemoteObject(s *session, key objectKey, mo *meta.MetaObject, uid uuid.UUID) *RemoteObject {
	return &RemoteObject{
		s:       s,
		key:     key,
		mo:      mo,
		uid:     uid,
		log:     s.log.WithFields(logrus.Fields{"service": key.service, "object": key.object}),
		signals: make(map[uint32]*object.SignalBase),
	}
}

func (r *RemoteObject) MetaObject() *meta.MetaObject { return r.mo }

// UID is the identity the peer advertised, uuid.Nil when ObjectPtrUID is
// not shared.
func (r *RemoteObject) UID() uuid.UUID { return r.uid }

func (r *RemoteObject) Service() uint32  { return r.key.service }
func (r *RemoteObject) ObjectID() uint32 { return r.key.object }

func (r *RemoteObject) MetaCall(ctx context.Context, id uint32, args typesys.Values, _ object.MetaCallType, retSig signature.Signature) *future.Future[typesys.Value] {
	if ctx == nil {
		ctx = context.Background()
	}
	f := r.s.call(ctx, r.key, id, args)
	if !retSig.IsValid() || retSig.Type() == signature.Dynamic {
		return f
	}
	return future.Map(f, func(v typesys.Value) (typesys.Value, error) {
		if v.Signature(false).Equal(retSig) {
			return v, nil
		}
		t, err := typesys.FromSignature(retSig)
		if err != nil {
			return typesys.Value{}, err
		}
		out, err := v.Convert(t)
		if err != nil {
			return typesys.Value{}, fmt.Errorf("result to %s: %w", retSig, err)
		}
		return out, nil
	})
}

func (r *RemoteObject) MetaPost(ctx context.Context, id uint32, args typesys.Values) {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := encodeArgs(r.s.sc, args, r.s.objectOptions(r.key.service)...)
	if err != nil {
		r.log.WithError(err).WithField("member", id).Warn("post failed")
		return
	}
	m := &Message{Type: MsgPost, Service: r.key.service, Object: r.key.object, Action: id, Payload: payload}
	if err := r.s.send(ctx, m); err != nil {
		r.log.WithError(err).WithField("member", id).Warn("post failed")
	}
}

// signal returns the local relay of signal id. Its first subscriber
// registers the proxy with the peer, its last one unregisters it.
func (r *RemoteObject) signal(id uint32) (*object.SignalBase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.signals[id]; ok {
		return s, nil
	}
	ms, ok := r.mo.Signal(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", object.ErrNoSuchSignal, id)
	}
	s := object.NewSignal(ms.Signature)
	var remoteLink uint64
	s.SetOnSubscribers(func(ctx context.Context, has bool) error {
		if has {
			link := r.s.nextLink.Add(1)
			args := object.Values(r.key.object, id, link)
			if _, err := r.s.call(ctx, r.key, object.MethodRegisterEvent, args).Wait(ctx); err != nil {
				return err
			}
			remoteLink = link
			return nil
		}
		args := object.Values(r.key.object, id, remoteLink)
		_, err := r.s.call(ctx, r.key, object.MethodUnregisterEvent, args).Wait(ctx)
		return err
	})
	r.signals[id] = s
	return s, nil
}

func (r *RemoteObject) trigger(ctx context.Context, id uint32, args typesys.Values) {
	r.mu.Lock()
	s := r.signals[id]
	r.mu.Unlock()
	if s != nil {
		s.Trigger(ctx, args)
	}
}

func (r *RemoteObject) Connect(ctx context.Context, signalID uint32, sub *object.SignalSubscriber) *future.Future[object.SignalLink] {
	s, err := r.signal(signalID)
	if err != nil {
		return future.Failed[object.SignalLink](err)
	}
	link, err := s.Connect(ctx, sub)
	if err != nil {
		return future.Failed[object.SignalLink](err)
	}
	return future.Ready(object.ObjectLink(signalID, link))
}

func (r *RemoteObject) Disconnect(ctx context.Context, link object.SignalLink) *future.Future[bool] {
	signalID, sub := link.Split()
	r.mu.Lock()
	s, ok := r.signals[signalID]
	r.mu.Unlock()
	if !ok {
		return future.Failed[bool](fmt.Errorf("%w: %d", object.ErrNoSuchLink, link))
	}
	removed, err := s.Disconnect(ctx, sub)
	if err != nil {
		return future.Failed[bool](err)
	}
	if !removed {
		return future.Failed[bool](fmt.Errorf("%w: %d", object.ErrNoSuchLink, link))
	}
	return future.Ready(true)
}

func (r *RemoteObject) Property(ctx context.Context, id uint32) *future.Future[typesys.Value] {
	return r.s.call(ctx, r.key, object.MethodProperty, object.Values(id))
}

func (r *RemoteObject) SetProperty(ctx context.Context, id uint32, v typesys.Value) *future.Future[struct{}] {
	f := r.s.call(ctx, r.key, object.MethodSetProperty, typesys.Values{typesys.From(id), typesys.Wrap(v)})
	return future.Map(f, func(typesys.Value) (struct{}, error) { return struct{}{}, nil })
}
