// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"fmt"
	"maps"
	"slices"
	"weak"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

type dynamicMethod struct {
	callable  *Callable
	threading MethodThreadingModel
}

// DynamicObject is an object assembled at runtime from callables,
// signals and properties.
type DynamicObject struct {
	core

	methods     map[uint32]dynamicMethod
	signalsByID map[uint32]*SignalBase
	properties  map[uint32]*Property
}

var _ AnyObject = (*DynamicObject)(nil)

func (o *DynamicObject) method(id uint32) (invoker, MethodThreadingModel, bool) {
	m, ok := o.methods[id]
	if !ok {
		return nil, MethodDefault, false
	}
	return m.callable.Call, m.threading, true
}

func (o *DynamicObject) signal(id uint32) (*SignalBase, bool) {
	if s, ok := o.signalsByID[id]; ok {
		return s, true
	}
	if p, ok := o.properties[id]; ok {
		return p.Signal(), true
	}
	return nil, false
}

func (o *DynamicObject) property(id uint32) (*Property, bool) {
	p, ok := o.properties[id]
	return p, ok
}

func (o *DynamicObject) signals() []*SignalBase {
	out := slices.Collect(maps.Values(o.signalsByID))
	for _, p := range o.properties {
		out = append(out, p.Signal())
	}
	return out
}

// SignalByName returns the signal named name.
func (o *DynamicObject) SignalByName(name string) (*SignalBase, bool) {
	id, ok := o.mo.SignalID(name)
	if !ok {
		return nil, false
	}
	return o.signal(id)
}

// PropertyByName returns the property named name.
func (o *DynamicObject) PropertyByName(name string) (*Property, bool) {
	id, ok := o.mo.PropertyID(name)
	if !ok {
		return nil, false
	}
	return o.property(id)
}

func (o *DynamicObject) weakTarget() func() AnyObject {
	w := weak.Make(o)
	return func() AnyObject {
		if p := w.Value(); p != nil {
			return p
		}
		return nil
	}
}

// DynamicObjectBuilder accumulates members for a DynamicObject.
type DynamicObjectBuilder struct {
	mo         *meta.MetaObject
	model      ObjectThreadingModel
	methods    map[uint32]dynamicMethod
	signals    map[uint32]signature.Signature
	properties map[uint32]typesys.Type
}

// NewDynamicObjectBuilder returns a builder for a multi-threaded object.
func NewDynamicObjectBuilder() *DynamicObjectBuilder {
	return &DynamicObjectBuilder{
		mo:         meta.New(""),
		model:      MultiThread,
		methods:    make(map[uint32]dynamicMethod),
		signals:    make(map[uint32]signature.Signature),
		properties: make(map[uint32]typesys.Type),
	}
}

func (b *DynamicObjectBuilder) SetDescription(desc string) *DynamicObjectBuilder {
	b.mo.SetDescription(desc)
	return b
}

func (b *DynamicObjectBuilder) SetThreadingModel(m ObjectThreadingModel) *DynamicObjectBuilder {
	b.model = m
	return b
}

// AdvertiseMethod exposes fn as method name. See NewCallable for the
// accepted function shapes.
func (b *DynamicObjectBuilder) AdvertiseMethod(name string, fn any, opts ...MemberOption) (uint32, error) {
	c, err := NewCallable(fn)
	if err != nil {
		return 0, fmt.Errorf("method %q: %w", name, err)
	}
	return b.AdvertiseCallable(name, c, opts...)
}

func (b *DynamicObjectBuilder) AdvertiseCallable(name string, c *Callable, opts ...MemberOption) (uint32, error) {
	cfg := memberOptions(opts)
	id, err := b.mo.AddMethod(name, c.ParametersSignature(), c.ReturnSignature(), cfg.meta...)
	if err != nil {
		return 0, err
	}
	b.methods[id] = dynamicMethod{callable: c, threading: cfg.threading}
	return id, nil
}

// AdvertiseSignal adds a signal whose arguments have the tuple signature
// sig.
func (b *DynamicObjectBuilder) AdvertiseSignal(name string, sig signature.Signature, opts ...MemberOption) (uint32, error) {
	id, err := b.mo.AddSignal(name, sig, memberOptions(opts).meta...)
	if err != nil {
		return 0, err
	}
	b.signals[id] = sig
	return id, nil
}

// AdvertiseProperty adds a property of type t.
func (b *DynamicObjectBuilder) AdvertiseProperty(name string, t typesys.Type, opts ...MemberOption) (uint32, error) {
	id, err := b.mo.AddProperty(name, t.Signature(), memberOptions(opts).meta...)
	if err != nil {
		return 0, err
	}
	b.properties[id] = t
	return id, nil
}

// Object creates an object. Methods are shared by every object of the
// builder; signals and properties are per object.
func (b *DynamicObjectBuilder) Object() (*DynamicObject, error) {
	mo, err := withBuiltins(b.mo)
	if err != nil {
		return nil, err
	}
	o := &DynamicObject{
		methods:     maps.Clone(b.methods),
		signalsByID: make(map[uint32]*SignalBase, len(b.signals)),
		properties:  make(map[uint32]*Property, len(b.properties)),
	}
	for id, sig := range b.signals {
		o.signalsByID[id] = NewSignal(sig)
	}
	for id, t := range b.properties {
		o.properties[id] = NewProperty(t)
	}
	o.init(mo, o, b.model)
	return o, nil
}
