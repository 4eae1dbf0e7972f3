// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

type Counter struct {
	n       int32
	Changed SignalBase
	Level   Property
}

func (c *Counter) Inc(by int32) int32 {
	c.n += by
	c.Changed.Emit(context.Background(), c.n)
	return c.n
}

func (c *Counter) Value() int32 { return c.n }

type Labeled struct {
	Counter
	Label string
}

func (l *Labeled) Name() string { return l.Label }

// Incrementer is implemented by proxies over counter handles.
type Incrementer interface {
	typesys.ObjectHandle
	Increment(ctx context.Context, by int32) (int32, error)
}

type incrementerProxy struct{ AnyObject }

func (p incrementerProxy) Increment(ctx context.Context, by int32) (int32, error) {
	return CallAs[int32](ctx, p.AnyObject, "inc", by)
}

var registerClasses = sync.OnceValue(func() error {
	b := NewTypeBuilder[Counter]().SetDescription("counter")
	if _, err := b.AdvertiseMethod("inc", (*Counter).Inc); err != nil {
		return err
	}
	if _, err := b.AdvertiseMethod("value", (*Counter).Value); err != nil {
		return err
	}
	if _, err := b.AdvertiseSignal("changed", signature.MustParse("(i)"), func(c *Counter) *SignalBase { return &c.Changed }); err != nil {
		return err
	}
	if _, err := b.AdvertiseProperty("level", typesys.Int32, func(c *Counter) *Property { return &c.Level }); err != nil {
		return err
	}
	if _, err := b.Register(); err != nil {
		return err
	}

	lb := NewTypeBuilder[Labeled]()
	if err := Inherits[Labeled, Counter](lb); err != nil {
		return err
	}
	if _, err := lb.AdvertiseMethod("name", (*Labeled).Name); err != nil {
		return err
	}
	if _, err := lb.Register(); err != nil {
		return err
	}

	RegisterProxy(func(obj AnyObject) (Incrementer, error) { return incrementerProxy{obj}, nil })
	return nil
})

func TestStaticObject(t *testing.T) {
	r := require.New(t)
	r.NoError(registerClasses())
	ctx := context.Background()

	c := &Counter{}
	h, err := Of(c)
	r.NoError(err)
	again, err := Of(c)
	r.NoError(err)
	r.Same(h, again)
	r.Same(c, h.Instance())

	var changes []int32
	_, err = ConnectFunc(ctx, h, "changed", func(v int32) { changes = append(changes, v) })
	r.NoError(err)

	n, err := CallAs[int32](ctx, h, "inc", int32(2))
	r.NoError(err)
	r.Equal(int32(2), n)
	n, err = CallAs[int32](ctx, h, "inc", int32(3))
	r.NoError(err)
	r.Equal(int32(5), n)
	r.Equal(int32(5), c.Value())
	r.Equal([]int32{2, 5}, changes)

	r.NoError(SetProperty(ctx, h, "level", 3))
	level, err := Get[int32](&c.Level)
	r.NoError(err)
	r.Equal(int32(3), level)

	_, err = NewTypeBuilder[Counter]().AdvertiseMethod("bad", func(int32) {})
	r.ErrorIs(err, ErrNotCallable)
}

func TestStaticPromotion(t *testing.T) {
	r := require.New(t)
	r.NoError(registerClasses())
	ctx := context.Background()

	c := &Counter{}
	hv, err := typesys.From(c).Convert(typesys.AnyObject())
	r.NoError(err)
	handle, err := hv.Object()
	r.NoError(err)
	direct, err := Of(c)
	r.NoError(err)
	r.Same(direct, handle)

	back, err := hv.Convert(typesys.TypeOf[*Counter]())
	r.NoError(err)
	r.Same(c, back.Interface())

	pv, err := hv.Convert(typesys.TypeOf[Incrementer]())
	r.NoError(err)
	inc, ok := pv.Interface().(Incrementer)
	r.True(ok)
	n, err := inc.Increment(ctx, 4)
	r.NoError(err)
	r.Equal(int32(4), n)
	r.Equal(int32(4), c.Value())
}

func TestStaticInheritance(t *testing.T) {
	r := require.New(t)
	r.NoError(registerClasses())
	ctx := context.Background()

	l := &Labeled{Label: "north"}
	h, err := Of(l)
	r.NoError(err)

	name, err := CallAs[string](ctx, h, "name")
	r.NoError(err)
	r.Equal("north", name)

	n, err := CallAs[int32](ctx, h, "inc", int32(6))
	r.NoError(err)
	r.Equal(int32(6), n)
	r.Equal(int32(6), l.Counter.Value())

	fired := make(chan int32, 1)
	_, err = ConnectFunc(ctx, h, "changed", func(v int32) { fired <- v })
	r.NoError(err)
	_, err = CallAs[int32](ctx, h, "inc", int32(1))
	r.NoError(err)
	r.Equal(int32(7), <-fired)

	// a Labeled pointer upcasts to its base
	base, err := typesys.From(l).Convert(typesys.TypeOf[*Counter]())
	r.NoError(err)
	r.Same(&l.Counter, base.Interface())
}

func TestStaticCoreOutlivesHandle(t *testing.T) {
	r := require.New(t)
	r.NoError(registerClasses())
	ctx := context.Background()

	c := &Counter{}
	sig := NewSignal(signature.MustParse("(i)"))
	var uid uuid.UUID
	func() {
		h, err := Of(c)
		r.NoError(err)
		id, ok := h.MetaObject().MethodID("inc::(i)")
		r.True(ok)
		_, err = sig.Connect(ctx, NewMethodSubscriber(h, id))
		r.NoError(err)
		_, err = h.MetaCall(ctx, MethodEnableStats, Values(true), Auto, signature.Signature{}).Wait(ctx)
		r.NoError(err)
		uid = h.UID()
	}()
	for range 5 {
		runtime.GC()
	}

	sig.Emit(ctx, int32(7))
	r.True(sig.HasSubscribers())

	h, err := Of(c)
	r.NoError(err)
	r.Equal(uid, h.UID())
	// calls run in order on the instance strand, after the delivery
	n, err := CallAs[int32](ctx, h, "value")
	r.NoError(err)
	r.Equal(int32(7), n)
	on, err := CallAs[bool](ctx, h, "isStatsEnabled")
	r.NoError(err)
	r.True(on)
	runtime.KeepAlive(c)
}

func TestStaticMembersFollowInstance(t *testing.T) {
	r := require.New(t)
	r.NoError(registerClasses())
	ctx := context.Background()

	sig := NewSignal(signature.MustParse("(i)"))
	func() {
		h, err := Of(&Counter{})
		r.NoError(err)
		id, ok := h.MetaObject().MethodID("inc::(i)")
		r.True(ok)
		_, err = sig.Connect(ctx, NewMethodSubscriber(h, id))
		r.NoError(err)
	}()
	for range 5 {
		runtime.GC()
	}

	// the instance is gone, so its subscriber drops itself
	sig.Emit(ctx, int32(1))
	r.False(sig.HasSubscribers())
}
