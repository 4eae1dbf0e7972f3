// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/executor"
	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
	"github.com/luxfi/metarpc/wire"
)

// The directory object lives at service 0; every bound service exposes its
// main object as object 1.
const (
	directoryService uint32 = 0
	mainObject       uint32 = 1
)

var (
	ErrSessionClosed = errors.New("metarpc: session closed")
	ErrNoSuchObject  = errors.New("metarpc: no such object")
	ErrLinkInUse     = errors.New("metarpc: event link already registered")
)

type objectKey struct {
	service uint32
	object  uint32
}

// servedLink is a subscription held on behalf of the peer.
type servedLink struct {
	target object.AnyObject
	link   object.SignalLink
}

// session is one connection. Both ends run the same code: each serves the
// objects of its host and proxies the objects of its peer.
type session struct {
	transport Transport
	sc        *wire.StreamContext
	host      *objectHost
	log       *logrus.Entry

	nextID   atomic.Uint32
	nextLink atomic.Uint64
	pending  sync.Map // call id -> *future.Promise[typesys.Value]
	inflight sync.Map // call id -> context.CancelFunc

	mu      sync.Mutex
	proxies map[objectKey]*RemoteObject
	served  map[uint64]servedLink

	// events delivers posts and events in arrival order, off the read loop.
	events *executor.Strand

	ctx       context.Context
	cancel    context.CancelFunc
	capsReady chan struct{}
	capsOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(t Transport, caps wire.CapabilityMap, host *objectHost, role string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		transport: t,
		sc:        wire.NewStreamContextWith(caps),
		host:      host,
		log:       log.Category("metarpc.transport").WithField("role", role),
		proxies:   make(map[objectKey]*RemoteObject),
		served:    make(map[uint64]servedLink),
		events:    executor.NewStrand(),
		ctx:       ctx,
		cancel:    cancel,
		capsReady: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start runs the read loop, advertises the local capabilities and waits
// for the peer's.
func (s *session) start(ctx context.Context) error {
	go s.readLoop()
	if err := s.sendCapabilities(ctx); err != nil {
		return err
	}
	select {
	case <-s.capsReady:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serve advertises the local capabilities then reads until the peer goes
// away.
func (s *session) serve() {
	if err := s.sendCapabilities(s.ctx); err != nil {
		s.log.WithError(err).Warn("sending capabilities")
		_ = s.Close()
		return
	}
	s.readLoop()
}

func (s *session) sendCapabilities(ctx context.Context) error {
	payload, err := wire.EncodeCapabilities(s.sc.LocalCapabilities())
	if err != nil {
		return err
	}
	return s.send(ctx, &Message{Type: MsgCapability, Payload: payload})
}

func (s *session) send(ctx context.Context, m *Message) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	return s.transport.Send(ctx, m.Marshal())
}

func (s *session) readLoop() {
	defer s.Close()
	for {
		frame, err := s.transport.Recv(s.ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					s.log.WithError(err).Warn("read failed")
				}
			}
			return
		}
		m, err := UnmarshalMessage(frame)
		if err != nil {
			s.log.WithError(err).Warn("dropping frame")
			continue
		}
		s.dispatch(m)
	}
}

func (s *session) dispatch(m *Message) {
	switch m.Type {
	case MsgReply, MsgError:
		s.settle(m)
	case MsgCapability:
		s.handleCapabilities(m)
	case MsgCall:
		go s.handleCall(m)
	case MsgPost:
		s.handlePost(m)
	case MsgEvent:
		s.handleEvent(m)
	case MsgCancel:
		if cancel, ok := s.inflight.LoadAndDelete(m.ID); ok {
			cancel.(context.CancelFunc)()
		}
	default:
		s.log.WithField("type", m.Type).Warn("unknown message type")
	}
}

func (s *session) handleCapabilities(m *Message) {
	caps, err := wire.DecodeCapabilities(m.Payload)
	if err != nil {
		s.log.WithError(err).Warn("bad capability message")
		return
	}
	s.sc.UpdateRemoteCapabilities(caps)
	s.capsOnce.Do(func() { close(s.capsReady) })
}

// objectOptions lets values of the stream carry objects. Objects sent are
// registered in the session host under service.
func (s *session) objectOptions(service uint32) []wire.Option {
	return []wire.Option{
		wire.WithObjectSerializer(func(h typesys.ObjectHandle) (wire.ObjectRef, error) {
			return s.serializeObject(service, h)
		}),
		wire.WithObjectDeserializer(s.deserializeObject),
	}
}

func (s *session) serializeObject(service uint32, h typesys.ObjectHandle) (wire.ObjectRef, error) {
	obj, ok := h.(object.AnyObject)
	if !ok {
		return wire.ObjectRef{}, fmt.Errorf("%w: %T cannot be served", ErrNoSuchObject, h)
	}
	key := s.host.register(service, obj)
	ref := wire.ObjectRef{MetaObject: obj.MetaObject(), Service: key.service, Object: key.object}
	if u, ok := obj.(interface{ UID() uuid.UUID }); ok {
		ref.PtrUID = u.UID()
	}
	return ref, nil
}

func (s *session) deserializeObject(ref wire.ObjectRef) (typesys.ObjectHandle, error) {
	return s.proxy(objectKey{ref.Service, ref.Object}, ref.MetaObject, ref.PtrUID), nil
}

// proxy returns the unique proxy of key.
func (s *session) proxy(key objectKey, mo *meta.MetaObject, uid uuid.UUID) *RemoteObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.proxies[key]; ok {
		return p
	}
	p := newRemoteObject(s, key, mo, uid)
	s.proxies[key] = p
	return p
}

// remote returns a proxy to a peer object, fetching its MetaObject.
func (s *session) remote(ctx context.Context, service, obj uint32) (*RemoteObject, error) {
	key := objectKey{service, obj}
	s.mu.Lock()
	p, ok := s.proxies[key]
	s.mu.Unlock()
	if ok {
		return p, nil
	}
	v, err := s.call(ctx, key, object.MethodMetaObject, typesys.Values{typesys.From(obj)}).Wait(ctx)
	if err != nil {
		return nil, err
	}
	data, err := typesys.As[meta.ObjectData](v)
	if err != nil {
		return nil, err
	}
	mo, err := meta.FromData(data)
	if err != nil {
		return nil, err
	}
	return s.proxy(key, mo, uuid.Nil), nil
}

// call sends a call and returns the future of its reply. Canceling the
// future, or ctx, forwards the cancellation when the peer supports it.
func (s *session) call(ctx context.Context, key objectKey, action uint32, args typesys.Values) *future.Future[typesys.Value] {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := encodeArgs(s.sc, args, s.objectOptions(key.service)...)
	if err != nil {
		return future.Failed[typesys.Value](err)
	}
	id := s.nextID.Add(1)
	var p *future.Promise[typesys.Value]
	p = future.NewPromise[typesys.Value](func() { s.cancelCall(id, key, p) })
	s.pending.Store(id, p)

	m := &Message{Type: MsgCall, ID: id, Service: key.service, Object: key.object, Action: action, Payload: payload}
	if err := s.send(ctx, m); err != nil {
		s.pending.Delete(id)
		_ = p.SetError(err)
		return p.Future()
	}
	f := p.Future()
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, f.Cancel)
		f.Then(func(*future.Future[typesys.Value]) { stop() })
	}
	return f
}

func (s *session) cancelCall(id uint32, key objectKey, p *future.Promise[typesys.Value]) {
	if _, ok := s.pending.LoadAndDelete(id); !ok {
		return
	}
	_ = p.SetCanceled()
	if !s.sc.SharedCapability(wire.CapRemoteCancelableCalls, false) {
		return
	}
	m := &Message{Type: MsgCancel, ID: id, Service: key.service, Object: key.object}
	if err := s.send(s.ctx, m); err != nil {
		s.log.WithError(err).Debug("forwarding cancel")
	}
}

func (s *session) settle(m *Message) {
	v, ok := s.pending.LoadAndDelete(m.ID)
	if !ok {
		s.log.WithField("id", m.ID).Debug("reply to unknown call")
		return
	}
	p := v.(*future.Promise[typesys.Value])
	if m.Type == MsgError {
		_ = p.SetError(decodeError(m.Payload))
		return
	}
	res, err := decodeResult(s.sc, m.Payload, s.objectOptions(m.Service)...)
	if err != nil {
		_ = p.SetError(err)
		return
	}
	_ = p.SetValue(res)
}

func (s *session) handleCall(m *Message) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.inflight.Store(m.ID, cancel)
	defer func() {
		s.inflight.Delete(m.ID)
		cancel()
	}()

	v, err := s.invoke(ctx, m)
	reply := &Message{Type: MsgReply, ID: m.ID, Service: m.Service, Object: m.Object, Action: m.Action}
	if err == nil {
		reply.Payload, err = encodeResult(s.sc, v, s.objectOptions(m.Service)...)
	}
	if err != nil {
		reply.Type, reply.Payload = MsgError, encodeError(err)
	}
	if err := s.send(s.ctx, reply); err != nil {
		s.log.WithError(err).WithField("id", m.ID).Debug("sending reply")
	}
}

func (s *session) invoke(ctx context.Context, m *Message) (typesys.Value, error) {
	target, ok := s.host.lookup(objectKey{m.Service, m.Object})
	if !ok {
		return typesys.Value{}, fmt.Errorf("%w: %d/%d", ErrNoSuchObject, m.Service, m.Object)
	}
	args, err := decodeArgs(s.sc, m.Payload, s.objectOptions(m.Service)...)
	if err != nil {
		return typesys.Value{}, err
	}
	switch m.Action {
	case object.MethodRegisterEvent:
		return s.registerEvent(ctx, m, target, args)
	case object.MethodUnregisterEvent:
		return s.unregisterEvent(ctx, target, args)
	}
	f := target.MetaCall(ctx, m.Action, args, object.Auto, signature.Signature{})
	v, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		f.Cancel()
	}
	return v, err
}

func eventArgs(args typesys.Values) (signalID uint32, link uint64, err error) {
	if len(args) != 3 {
		return 0, 0, fmt.Errorf("%w: want 3, got %d", object.ErrArity, len(args))
	}
	if signalID, err = typesys.As[uint32](args[1]); err != nil {
		return 0, 0, err
	}
	link, err = typesys.As[uint64](args[2])
	return signalID, link, err
}

// registerEvent subscribes the peer to a signal. Its arguments are the
// object id, the signal uid and the peer's link id.
func (s *session) registerEvent(ctx context.Context, m *Message, target object.AnyObject, args typesys.Values) (typesys.Value, error) {
	signalID, link, err := eventArgs(args)
	if err != nil {
		return typesys.Value{}, err
	}
	s.mu.Lock()
	_, taken := s.served[link]
	s.mu.Unlock()
	if taken {
		return typesys.Value{}, fmt.Errorf("%w: %d", ErrLinkInUse, link)
	}
	key := objectKey{m.Service, m.Object}
	sub, err := object.NewSubscriber(func(_ context.Context, vals typesys.Values) {
		s.sendEvent(key, signalID, vals)
	})
	if err != nil {
		return typesys.Value{}, err
	}
	objLink, err := target.Connect(ctx, signalID, sub).Wait(ctx)
	if err != nil {
		return typesys.Value{}, err
	}

	s.mu.Lock()
	closed := s.served == nil
	_, taken = s.served[link]
	if !closed && !taken {
		s.served[link] = servedLink{target: target, link: objLink}
	}
	s.mu.Unlock()
	switch {
	case closed:
		_, _ = target.Disconnect(ctx, objLink).Wait(ctx)
		return typesys.Value{}, ErrSessionClosed
	case taken:
		_, _ = target.Disconnect(ctx, objLink).Wait(ctx)
		return typesys.Value{}, fmt.Errorf("%w: %d", ErrLinkInUse, link)
	}
	return typesys.From(link), nil
}

func (s *session) unregisterEvent(ctx context.Context, target object.AnyObject, args typesys.Values) (typesys.Value, error) {
	_, link, err := eventArgs(args)
	if err != nil {
		return typesys.Value{}, err
	}
	s.mu.Lock()
	sl, ok := s.served[link]
	if ok && sl.target == target {
		delete(s.served, link)
	}
	s.mu.Unlock()
	if !ok || sl.target != target {
		return typesys.Value{}, fmt.Errorf("%w: %d", object.ErrNoSuchLink, link)
	}
	if _, err := target.Disconnect(ctx, sl.link).Wait(ctx); err != nil {
		return typesys.Value{}, err
	}
	return typesys.VoidValue(), nil
}

func (s *session) sendEvent(key objectKey, signalID uint32, args typesys.Values) {
	payload, err := encodeArgs(s.sc, args, s.objectOptions(key.service)...)
	if err != nil {
		s.log.WithError(err).WithField("signal", signalID).Warn("encoding event")
		return
	}
	m := &Message{Type: MsgEvent, Service: key.service, Object: key.object, Action: signalID, Payload: payload}
	if err := s.send(s.ctx, m); err != nil {
		s.log.WithError(err).WithField("signal", signalID).Debug("sending event")
	}
}

func (s *session) handlePost(m *Message) {
	target, ok := s.host.lookup(objectKey{m.Service, m.Object})
	if !ok {
		s.log.WithFields(logrus.Fields{"service": m.Service, "object": m.Object}).Warn("post to unknown object")
		return
	}
	args, err := decodeArgs(s.sc, m.Payload, s.objectOptions(m.Service)...)
	if err != nil {
		s.log.WithError(err).Warn("decoding post")
		return
	}
	s.deliver(func(ctx context.Context) { target.MetaPost(ctx, m.Action, args) })
}

func (s *session) handleEvent(m *Message) {
	s.mu.Lock()
	p := s.proxies[objectKey{m.Service, m.Object}]
	s.mu.Unlock()
	if p == nil {
		s.log.WithField("signal", m.Action).Debug("event for unknown proxy")
		return
	}
	args, err := decodeArgs(s.sc, m.Payload, s.objectOptions(m.Service)...)
	if err != nil {
		s.log.WithError(err).Warn("decoding event")
		return
	}
	s.deliver(func(ctx context.Context) { p.trigger(ctx, m.Action, args) })
}

func (s *session) deliver(task executor.Task) {
	if err := s.events.Post(s.ctx, task); err != nil {
		s.log.WithError(err).Debug("dropping delivery")
	}
}

// Close tears the connection down. Pending calls fail and subscriptions
// held for the peer are dropped.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		err = s.transport.Close()
		s.events.Close()

		s.pending.Range(func(id, p any) bool {
			s.pending.Delete(id)
			_ = p.(*future.Promise[typesys.Value]).SetError(ErrSessionClosed)
			return true
		})

		s.mu.Lock()
		served := s.served
		s.served = nil
		s.mu.Unlock()
		for _, sl := range served {
			if _, derr := sl.target.Disconnect(context.Background(), sl.link).Wait(context.Background()); derr != nil {
				s.log.WithError(derr).Debug("dropping peer subscription")
			}
		}
	})
	return err
}

// objectHost maps ids to served objects. A session host falls back to the
// server host for bound services.
type objectHost struct {
	parent *objectHost

	mu      sync.RWMutex
	objects map[objectKey]object.AnyObject
	keys    map[object.AnyObject]objectKey
	next    uint32
}

func newObjectHost(parent *objectHost) *objectHost {
	return &objectHost{
		parent:  parent,
		objects: make(map[objectKey]object.AnyObject),
		keys:    make(map[object.AnyObject]objectKey),
		next:    mainObject,
	}
}

func (h *objectHost) bind(key objectKey, obj object.AnyObject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[key] = obj
	h.keys[obj] = key
}

func (h *objectHost) unbind(service uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, obj := range h.objects {
		if key.service == service {
			delete(h.objects, key)
			delete(h.keys, obj)
		}
	}
}

func (h *objectHost) lookup(key objectKey) (object.AnyObject, bool) {
	h.mu.RLock()
	obj, ok := h.objects[key]
	h.mu.RUnlock()
	if !ok && h.parent != nil {
		return h.parent.lookup(key)
	}
	return obj, ok
}

func (h *objectHost) keyOf(obj object.AnyObject) (objectKey, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	key, ok := h.keys[obj]
	return key, ok
}

// register returns the key of obj, allocating one under service for an
// object seen for the first time.
func (h *objectHost) register(service uint32, obj object.AnyObject) objectKey {
	if h.parent != nil {
		if key, ok := h.parent.keyOf(obj); ok {
			return key
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if key, ok := h.keys[obj]; ok {
		return key
	}
	h.next++
	key := objectKey{service, h.next}
	h.objects[key] = obj
	h.keys[obj] = key
	return key
}
