// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
	"github.com/luxfi/metarpc/wire"
)

const waitTimeout = 5 * time.Second

// calculator is the object served by the tests.
type calculator struct {
	*object.DynamicObject
	shared   *object.DynamicObject
	started  chan struct{}
	canceled chan struct{}
}

func newGreeter(t testing.TB, greeting string) *object.DynamicObject {
	t.Helper()
	b := object.NewDynamicObjectBuilder().SetDescription("greeter")
	_, err := b.AdvertiseMethod("hello", func() string { return greeting })
	require.NoError(t, err)
	obj, err := b.Object()
	require.NoError(t, err)
	return obj
}

func newCalculator(t testing.TB) *calculator {
	t.Helper()
	r := require.New(t)
	c := &calculator{
		shared:   newGreeter(t, "shared"),
		started:  make(chan struct{}, 1),
		canceled: make(chan struct{}, 1),
	}
	b := object.NewDynamicObjectBuilder().SetDescription("calculator")
	_, err := b.AdvertiseMethod("add", func(a, b int32) int32 { return a + b })
	r.NoError(err)
	_, err = b.AdvertiseMethod("add", func(a, b string) string { return a + b })
	r.NoError(err)
	_, err = b.AdvertiseMethod("fail", func() error { return errors.New("boom") })
	r.NoError(err)
	_, err = b.AdvertiseMethod("slow", func(ctx context.Context) error {
		c.started <- struct{}{}
		select {
		case <-ctx.Done():
			c.canceled <- struct{}{}
			return ctx.Err()
		case <-time.After(waitTimeout):
			return nil
		}
	})
	r.NoError(err)
	_, err = b.AdvertiseMethod("child", func(greeting string) object.AnyObject { return newGreeter(t, greeting) })
	r.NoError(err)
	_, err = b.AdvertiseMethod("shared", func() object.AnyObject { return c.shared })
	r.NoError(err)
	_, err = b.AdvertiseMethod("apply", func(ctx context.Context, fn object.AnyObject, n int32) (int32, error) {
		return object.CallAs[int32](ctx, fn, "twice", n)
	})
	r.NoError(err)
	_, err = b.AdvertiseSignal("fired", signature.MustParse("(s)"))
	r.NoError(err)
	_, err = b.AdvertiseProperty("level", typesys.Int32)
	r.NoError(err)
	c.DynamicObject, err = b.Object()
	r.NoError(err)
	return c
}

type fixture struct {
	server *Server
	client *Client
	calc   *calculator
	remote *RemoteObject
}

func newFixture(t *testing.T, serverCaps, clientCaps wire.CapabilityMap) *fixture {
	t.Helper()
	r := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	var sopts []ServerOption
	if serverCaps != nil {
		sopts = append(sopts, WithServerCapabilities(serverCaps))
	}
	server, err := Listen("127.0.0.1:0", sopts...)
	r.NoError(err)
	t.Cleanup(func() { _ = server.Close() })

	calc := newCalculator(t)
	_, err = server.Bind("calc", calc)
	r.NoError(err)
	go func() { _ = server.Serve(context.Background()) }()

	var dopts []DialOption
	if clientCaps != nil {
		dopts = append(dopts, WithCapabilities(clientCaps))
	}
	client, err := Dial(ctx, server.Addr(), dopts...)
	r.NoError(err)
	t.Cleanup(func() { _ = client.Close() })

	remote, err := client.Service(ctx, "calc")
	r.NoError(err)
	return &fixture{server: server, client: client, calc: calc, remote: remote}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestRemoteCall(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	r.Equal("calculator", f.remote.MetaObject().Description())
	r.True(f.remote.MetaObject().Equal(f.calc.MetaObject()))

	n, err := object.CallAs[int32](ctx, f.remote, "add", int32(2), int32(3))
	r.NoError(err)
	r.Equal(int32(5), n)

	s, err := object.CallAs[string](ctx, f.remote, "add", "a", "b")
	r.NoError(err)
	r.Equal("ab", s)

	_, err = object.Call(ctx, f.remote, "fail").Wait(ctx)
	var remoteErr *RemoteError
	r.ErrorAs(err, &remoteErr)
	r.Contains(remoteErr.Message, "boom")

	// unknown uids are reported by the peer
	_, err = f.remote.MetaCall(ctx, 9999, nil, object.Auto, signature.Signature{}).Wait(ctx)
	r.ErrorAs(err, &remoteErr)

	// return conversion happens on the caller side
	id, err := object.ResolveMethod(f.remote, "add", object.Values(int32(1), int32(2)))
	r.NoError(err)
	v, err := f.remote.MetaCall(ctx, id, object.Values(int32(1), int32(2)), object.Auto, signature.MustParse("l")).Wait(ctx)
	r.NoError(err)
	r.Equal("l", v.Signature(false).String())

	r.NoError(object.Post(ctx, f.remote, "add", int32(1), int32(1)))
}

func TestServiceDirectory(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	names, err := f.client.Services(ctx)
	r.NoError(err)
	r.Equal([]string{"calc"}, names)

	_, err = f.client.Service(ctx, "missing")
	r.Error(err)

	_, err = f.server.Bind("calc", f.calc)
	r.ErrorIs(err, ErrServiceExists)
	_, err = f.server.Bind("", f.calc)
	r.ErrorIs(err, ErrInvalidService)

	r.NoError(f.server.Unbind("calc"))
	r.ErrorIs(f.server.Unbind("calc"), ErrNoSuchService)
	_, err = object.CallAs[int32](ctx, f.remote, "add", int32(1), int32(1))
	var remoteErr *RemoteError
	r.ErrorAs(err, &remoteErr)
	r.Contains(remoteErr.Message, ErrNoSuchObject.Error())
}

func TestRemoteSignal(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	fired := make(chan string, 1)
	link, err := object.ConnectFunc(ctx, f.remote, "fired", func(s string) { fired <- s })
	r.NoError(err)
	sig, ok := f.calc.SignalByName("fired")
	r.True(ok)
	r.True(sig.HasSubscribers())

	sig.Emit(ctx, "bang")
	select {
	case got := <-fired:
		r.Equal("bang", got)
	case <-ctx.Done():
		r.FailNow("event not delivered")
	}

	// a second local subscriber shares the peer registration
	second, err := object.ConnectFunc(ctx, f.remote, "fired", func(string) {})
	r.NoError(err)

	removed, err := f.remote.Disconnect(ctx, link).Wait(ctx)
	r.NoError(err)
	r.True(removed)
	r.True(sig.HasSubscribers())
	_, err = f.remote.Disconnect(ctx, link).Wait(ctx)
	r.ErrorIs(err, object.ErrNoSuchLink)

	_, err = f.remote.Disconnect(ctx, second).Wait(ctx)
	r.NoError(err)
	r.False(sig.HasSubscribers())

	_, err = f.remote.Connect(ctx, 9999, nil).Wait(ctx)
	r.ErrorIs(err, object.ErrNoSuchSignal)
}

func TestEventRegistrationBookkeeping(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	link, err := object.ConnectFunc(ctx, f.remote, "fired", func(string) {})
	r.NoError(err)
	sig, ok := f.calc.SignalByName("fired")
	r.True(ok)
	firedID, ok := f.calc.MetaObject().SignalID("fired")
	r.True(ok)
	// first registration of a fresh session
	peerLink := uint64(1)
	args := object.Values(mainObject, firedID, peerLink)
	var remoteErr *RemoteError

	// unregistering through another object leaves the registration alone
	dir := objectKey{directoryService, mainObject}
	_, err = f.client.s.call(ctx, dir, object.MethodUnregisterEvent, args).Wait(ctx)
	r.ErrorAs(err, &remoteErr)
	r.Contains(remoteErr.Message, object.ErrNoSuchLink.Error())
	r.True(sig.HasSubscribers())

	_, err = f.client.s.call(ctx, f.remote.key, object.MethodRegisterEvent, args).Wait(ctx)
	r.ErrorAs(err, &remoteErr)
	r.Contains(remoteErr.Message, ErrLinkInUse.Error())

	_, err = f.remote.Disconnect(ctx, link).Wait(ctx)
	r.NoError(err)
	r.False(sig.HasSubscribers())
}

func TestRemoteProperty(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	changes := make(chan int32, 2)
	_, err := object.ConnectFunc(ctx, f.remote, "level", func(v int32) { changes <- v })
	r.NoError(err)

	r.NoError(object.SetProperty(ctx, f.remote, "level", int32(4)))
	level, err := object.GetProperty[int32](ctx, f.remote, "level")
	r.NoError(err)
	r.Equal(int32(4), level)

	local, ok := f.calc.PropertyByName("level")
	r.True(ok)
	got, err := object.Get[int32](local)
	r.NoError(err)
	r.Equal(int32(4), got)

	select {
	case v := <-changes:
		r.Equal(int32(4), v)
	case <-ctx.Done():
		r.FailNow("property change not delivered")
	}

	r.Error(object.SetProperty(ctx, f.remote, "level", "high"))
}

func TestRemoteBuiltins(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	_, err := object.Call(ctx, f.remote, "enableStats", true).Wait(ctx)
	r.NoError(err)
	on, err := object.CallAs[bool](ctx, f.remote, "isStatsEnabled")
	r.NoError(err)
	r.True(on)

	names, err := object.CallAs[[]string](ctx, f.remote, "properties")
	r.NoError(err)
	r.Equal([]string{"level"}, names)
}

func TestObjectsCrossTheWire(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	v, err := object.Call(ctx, f.remote, "child", "hi").Wait(ctx)
	r.NoError(err)
	child, err := typesys.As[object.AnyObject](v)
	r.NoError(err)
	proxy, ok := child.(*RemoteObject)
	r.True(ok)
	r.Equal(f.remote.Service(), proxy.Service())
	r.Greater(proxy.ObjectID(), uint32(mainObject))
	r.Equal("greeter", proxy.MetaObject().Description())

	hello, err := object.CallAs[string](ctx, child, "hello")
	r.NoError(err)
	r.Equal("hi", hello)

	// the client serves its own objects back to the server
	b := object.NewDynamicObjectBuilder()
	_, err = b.AdvertiseMethod("twice", func(n int32) int32 { return 2 * n })
	r.NoError(err)
	doubler, err := b.Object()
	r.NoError(err)
	n, err := object.CallAs[int32](ctx, f.remote, "apply", doubler, int32(21))
	r.NoError(err)
	r.Equal(int32(42), n)
}

func TestObjectIdentity(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	caps := wire.DefaultCapabilities()
	caps[wire.CapMetaObjectCache] = typesys.From(true)
	f := newFixture(t, caps, caps)
	r.True(f.client.StreamContext().SharedCapability(wire.CapMetaObjectCache, false))

	first, err := object.CallAs[object.AnyObject](ctx, f.remote, "shared")
	r.NoError(err)
	second, err := object.CallAs[object.AnyObject](ctx, f.remote, "shared")
	r.NoError(err)
	r.Same(first, second)
	r.Equal(f.calc.shared.UID(), first.(*RemoteObject).UID())

	hello, err := object.CallAs[string](ctx, second, "hello")
	r.NoError(err)
	r.Equal("shared", hello)
}

func TestObjectUIDNeedsBothPeers(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	caps := wire.DefaultCapabilities()
	caps[wire.CapObjectPtrUID] = typesys.From(false)
	f := newFixture(t, nil, caps)

	shared, err := object.CallAs[object.AnyObject](ctx, f.remote, "shared")
	r.NoError(err)
	r.Equal(uuid.Nil, shared.(*RemoteObject).UID())
}

func TestRemoteCancel(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	callCtx, cancel := context.WithCancel(ctx)
	call := object.Call(callCtx, f.remote, "slow")
	select {
	case <-f.calc.started:
	case <-ctx.Done():
		r.FailNow("call not started")
	}
	cancel()

	_, err := call.Wait(ctx)
	r.ErrorIs(err, future.ErrCanceled)
	r.Equal(future.Canceled, call.State())
	select {
	case <-f.calc.canceled:
	case <-ctx.Done():
		r.FailNow("cancellation not forwarded")
	}
}

func TestServerCloseFailsCalls(t *testing.T) {
	r := require.New(t)
	ctx := testContext(t)
	f := newFixture(t, nil, nil)

	r.NoError(f.server.Close())
	select {
	case <-f.client.Done():
	case <-ctx.Done():
		r.FailNow("client not notified")
	}
	_, err := object.CallAs[int32](ctx, f.remote, "add", int32(1), int32(1))
	r.ErrorIs(err, ErrSessionClosed)

	_, err = f.server.Bind("late", f.calc)
	r.ErrorIs(err, ErrServerClosed)
}
