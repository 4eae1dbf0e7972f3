// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"weak"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

type staticMethod struct {
	callable  *Callable
	path      []int // embedded field path to the receiver
	threading MethodThreadingModel
}

type staticSignal struct {
	sig signature.Signature
	get func(ptr reflect.Value) *SignalBase
}

type staticProperty struct {
	typ typesys.Type
	get func(ptr reflect.Value) *Property
}

// staticClass is the dispatch table of a registered Go struct type.
type staticClass struct {
	typ        typesys.ObjectType
	own        *meta.MetaObject
	model      ObjectThreadingModel
	methods    map[uint32]staticMethod
	signals    map[uint32]staticSignal
	properties map[uint32]staticProperty
	wrap       func(ptr reflect.Value) *Object
	weak       func(ptr reflect.Value) func() AnyObject
}

var classes sync.Map // reflect.Type -> *staticClass

func classOf(t reflect.Type) (*staticClass, bool) {
	c, ok := classes.Load(t)
	if !ok {
		return nil, false
	}
	return c.(*staticClass), true
}

func init() {
	typesys.SetObjectPromoter(func(ptr reflect.Value, t typesys.ObjectType) (typesys.ObjectHandle, error) {
		cls, ok := classOf(t.GoType())
		if !ok {
			return nil, fmt.Errorf("%w: %s has no registered class", typesys.ErrConversion, t)
		}
		if ptr.IsNil() {
			return nil, fmt.Errorf("%w: nil %s", typesys.ErrInvalidValue, t)
		}
		return cls.wrap(ptr), nil
	})
}

// TypeBuilder exposes the methods, signals and properties of the Go
// struct T. The dispatch table is built once by Register and shared by
// every instance.
type TypeBuilder[T any] struct {
	mo         *meta.MetaObject
	model      ObjectThreadingModel
	parents    []typesys.ObjectParent
	methods    map[uint32]staticMethod
	signals    map[uint32]staticSignal
	properties map[uint32]staticProperty
	err        error
}

// NewTypeBuilder returns a builder for a single-threaded T.
func NewTypeBuilder[T any]() *TypeBuilder[T] {
	return &TypeBuilder[T]{
		mo:         meta.New(""),
		model:      SingleThread,
		methods:    make(map[uint32]staticMethod),
		signals:    make(map[uint32]staticSignal),
		properties: make(map[uint32]staticProperty),
	}
}

func (b *TypeBuilder[T]) SetDescription(desc string) *TypeBuilder[T] {
	b.mo.SetDescription(desc)
	return b
}

func (b *TypeBuilder[T]) SetThreadingModel(m ObjectThreadingModel) *TypeBuilder[T] {
	b.model = m
	return b
}

func (b *TypeBuilder[T]) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

// AdvertiseMethod exposes fn, a method expression of *T such as
// (*T).Method or a func taking *T first, as method name.
func (b *TypeBuilder[T]) AdvertiseMethod(name string, fn any, opts ...MemberOption) (uint32, error) {
	fv := reflect.ValueOf(fn)
	recv := reflect.TypeFor[*T]()
	if fv.Kind() != reflect.Func || fv.Type().NumIn() == 0 || fv.Type().In(0) != recv {
		return 0, b.fail(fmt.Errorf("%w: method %q must take %s first", ErrNotCallable, name, recv))
	}
	c, err := newCallable(fv, true)
	if err != nil {
		return 0, b.fail(fmt.Errorf("method %q: %w", name, err))
	}
	cfg := memberOptions(opts)
	id, err := b.mo.AddMethod(name, c.ParametersSignature(), c.ReturnSignature(), cfg.meta...)
	if err != nil {
		return 0, b.fail(err)
	}
	b.methods[id] = staticMethod{callable: c, threading: cfg.threading}
	return id, nil
}

// AdvertiseSignal exposes the signal returned by get, usually the address
// of a SignalBase field.
func (b *TypeBuilder[T]) AdvertiseSignal(name string, sig signature.Signature, get func(*T) *SignalBase, opts ...MemberOption) (uint32, error) {
	id, err := b.mo.AddSignal(name, sig, memberOptions(opts).meta...)
	if err != nil {
		return 0, b.fail(err)
	}
	b.signals[id] = staticSignal{sig: sig, get: func(ptr reflect.Value) *SignalBase {
		return get(ptr.Interface().(*T))
	}}
	return id, nil
}

// AdvertiseProperty exposes the property of type t returned by get.
func (b *TypeBuilder[T]) AdvertiseProperty(name string, t typesys.Type, get func(*T) *Property, opts ...MemberOption) (uint32, error) {
	id, err := b.mo.AddProperty(name, t.Signature(), memberOptions(opts).meta...)
	if err != nil {
		return 0, b.fail(err)
	}
	b.properties[id] = staticProperty{typ: t, get: func(ptr reflect.Value) *Property {
		return get(ptr.Interface().(*T))
	}}
	return id, nil
}

// Inherits makes the registered class of the embedded field P a base of
// T. Its members keep their uids, so call it before advertising members
// of T.
func Inherits[T, P any](b *TypeBuilder[T]) error {
	pt := reflect.TypeFor[P]()
	parent, ok := classOf(pt)
	if !ok {
		return b.fail(fmt.Errorf("%w: base %s is not registered", ErrNotCallable, pt))
	}
	field, ok := embeddedField(reflect.TypeFor[T](), pt)
	if !ok {
		return b.fail(fmt.Errorf("%w: %s does not embed %s", ErrNotCallable, reflect.TypeFor[T](), pt))
	}
	merged, ok := meta.Merge(parent.own, b.mo)
	if !ok {
		return b.fail(fmt.Errorf("%w: members of %s clash with %s", meta.ErrDuplicateMember, pt, reflect.TypeFor[T]()))
	}
	b.mo = merged
	b.parents = append(b.parents, typesys.ObjectParent{Type: parent.typ, Index: field})

	at := func(ptr reflect.Value) reflect.Value { return ptr.Elem().FieldByIndex(field).Addr() }
	for id, m := range parent.methods {
		m.path = append(append([]int{}, field...), m.path...)
		b.methods[id] = m
	}
	for id, s := range parent.signals {
		get := s.get
		b.signals[id] = staticSignal{sig: s.sig, get: func(ptr reflect.Value) *SignalBase { return get(at(ptr)) }}
	}
	for id, p := range parent.properties {
		get := p.get
		b.properties[id] = staticProperty{typ: p.typ, get: func(ptr reflect.Value) *Property { return get(at(ptr)) }}
	}
	return nil
}

func embeddedField(t, base reflect.Type) ([]int, bool) {
	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous && f.Type == base {
			return []int{i}, true
		}
	}
	return nil, false
}

// Register builds the class of T and registers its object type. Pointers
// to T then convert to AnyObject.
func (b *TypeBuilder[T]) Register() (typesys.ObjectType, error) {
	if b.err != nil {
		return nil, b.err
	}
	mo, err := withBuiltins(b.mo)
	if err != nil {
		return nil, err
	}
	goType := reflect.TypeFor[T]()
	cls := &staticClass{
		typ:        typesys.NewObjectType(goType, mo, b.parents),
		own:        b.mo.Clone(),
		model:      b.model,
		methods:    b.methods,
		signals:    b.signals,
		properties: b.properties,
	}
	cls.wrap = handleCache[T](cls)
	cls.weak = weakInstance[T](cls)
	classes.Store(goType, cls)
	typesys.RegisterObjectType(cls.typ)
	return cls.typ, nil
}

// handleCache returns the wrapper of cls. The core of an instance, and
// with it its uid, strand and statistics, lives as long as the instance;
// handles are rebuilt around it on demand.
func handleCache[T any](cls *staticClass) func(reflect.Value) *Object {
	type entry struct {
		core   *core
		handle weak.Pointer[Object]
	}
	var (
		mu      sync.Mutex
		entries = make(map[weak.Pointer[T]]*entry)
	)
	return func(ptr reflect.Value) *Object {
		p := ptr.Interface().(*T)
		key := weak.Make(p)
		mu.Lock()
		defer mu.Unlock()
		e, known := entries[key]
		if known {
			if o := e.handle.Value(); o != nil {
				return o
			}
		} else {
			e = &entry{core: &core{}}
			e.core.init(cls.typ.MetaObject(), instanceMembers[T]{ptr: key, class: cls}, cls.model)
			entries[key] = e
			runtime.AddCleanup(p, func(k weak.Pointer[T]) {
				mu.Lock()
				defer mu.Unlock()
				delete(entries, k)
			}, key)
		}
		o := &Object{core: e.core, ptr: ptr, class: cls}
		e.handle = weak.Make(o)
		return o
	}
}

// weakInstance returns a resolver of the handle of the instance behind
// ptr that does not keep the instance alive.
func weakInstance[T any](cls *staticClass) func(reflect.Value) func() AnyObject {
	return func(ptr reflect.Value) func() AnyObject {
		w := weak.Make(ptr.Interface().(*T))
		return func() AnyObject {
			p := w.Value()
			if p == nil {
				return nil
			}
			return cls.wrap(reflect.ValueOf(p))
		}
	}
}

// instanceMembers resolves members through a weak pointer so the cached
// core does not pin its instance.
type instanceMembers[T any] struct {
	ptr   weak.Pointer[T]
	class *staticClass
}

func (m instanceMembers[T]) instance() (reflect.Value, bool) {
	p := m.ptr.Value()
	if p == nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(p), true
}

func (m instanceMembers[T]) method(id uint32) (invoker, MethodThreadingModel, bool) {
	ptr, ok := m.instance()
	if !ok {
		return nil, MethodDefault, false
	}
	return m.class.method(ptr, id)
}

func (m instanceMembers[T]) signal(id uint32) (*SignalBase, bool) {
	ptr, ok := m.instance()
	if !ok {
		return nil, false
	}
	return m.class.signal(ptr, id)
}

func (m instanceMembers[T]) property(id uint32) (*Property, bool) {
	ptr, ok := m.instance()
	if !ok {
		return nil, false
	}
	return m.class.property(ptr, id)
}

func (m instanceMembers[T]) signals() []*SignalBase {
	ptr, ok := m.instance()
	if !ok {
		return nil
	}
	return m.class.signalsOf(ptr)
}

// Of returns the handle of p, whose type must be registered.
func Of[T any](p *T) (*Object, error) {
	cls, ok := classOf(reflect.TypeFor[T]())
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered", ErrNotCallable, reflect.TypeFor[T]())
	}
	if p == nil {
		return nil, fmt.Errorf("%w: nil %s", typesys.ErrInvalidValue, reflect.TypeFor[T]())
	}
	return cls.wrap(reflect.ValueOf(p)), nil
}

// Object is the handle of a statically typed instance. Handles of the same
// instance share one core.
type Object struct {
	*core
	ptr   reflect.Value
	class *staticClass
}

var (
	_ AnyObject              = (*Object)(nil)
	_ typesys.ObjectInstance = (*Object)(nil)
)

// Instance returns the wrapped *T.
func (o *Object) Instance() any { return o.ptr.Interface() }

func (o *Object) weakTarget() func() AnyObject { return o.class.weak(o.ptr) }

func (cls *staticClass) method(ptr reflect.Value, id uint32) (invoker, MethodThreadingModel, bool) {
	m, ok := cls.methods[id]
	if !ok {
		return nil, MethodDefault, false
	}
	recv := ptr
	if len(m.path) > 0 {
		recv = ptr.Elem().FieldByIndex(m.path).Addr()
	}
	return func(ctx context.Context, args typesys.Values) (typesys.Value, error) {
		return m.callable.call(ctx, recv, args)
	}, m.threading, true
}

func (cls *staticClass) signal(ptr reflect.Value, id uint32) (*SignalBase, bool) {
	if s, ok := cls.signals[id]; ok {
		sb := s.get(ptr)
		sb.ensure(s.sig)
		return sb, true
	}
	if p, ok := cls.property(ptr, id); ok {
		return p.Signal(), true
	}
	return nil, false
}

func (cls *staticClass) property(ptr reflect.Value, id uint32) (*Property, bool) {
	sp, ok := cls.properties[id]
	if !ok {
		return nil, false
	}
	p := sp.get(ptr)
	p.ensure(sp.typ)
	return p, true
}

func (cls *staticClass) signalsOf(ptr reflect.Value) []*SignalBase {
	var out []*SignalBase
	for id := range cls.signals {
		s, _ := cls.signal(ptr, id)
		out = append(out, s)
	}
	for id := range cls.properties {
		p, _ := cls.property(ptr, id)
		out = append(out, p.Signal())
	}
	return out
}

// RegisterProxy lets handles convert to the interface I through fn.
func RegisterProxy[I any](fn func(AnyObject) (I, error)) {
	typesys.RegisterProxyGenerator(reflect.TypeFor[I](), func(h typesys.ObjectHandle) (reflect.Value, error) {
		obj, ok := h.(AnyObject)
		if !ok {
			return reflect.Value{}, fmt.Errorf("%w: %T is not dispatchable", typesys.ErrConversion, h)
		}
		i, err := fn(obj)
		if err != nil {
			return reflect.Value{}, err
		}
		v := reflect.New(reflect.TypeFor[I]()).Elem()
		v.Set(reflect.ValueOf(&i).Elem())
		return v, nil
	})
}
