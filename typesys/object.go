// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"
	"reflect"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
)

// ObjectHandle is the minimal surface of a dispatch target known to the
// type system. The object package defines the full dispatch interface.
type ObjectHandle interface {
	MetaObject() *meta.MetaObject
}

// ObjectParent locates an embedded base object inside a static object.
type ObjectParent struct {
	Type  ObjectType
	Index []int
}

// ObjectType describes a statically typed object: a Go struct whose
// methods are exposed through a MetaObject.
type ObjectType interface {
	Type
	MetaObject() *meta.MetaObject
	Parents() []ObjectParent
}

// ObjectPromoter wraps a pointer to a static object into a dispatch
// handle. ptr is a *T where T is t's Go type.
type ObjectPromoter func(ptr reflect.Value, t ObjectType) (ObjectHandle, error)

// ProxyGenerator builds a value of the registered Go type from a handle.
type ProxyGenerator func(h ObjectHandle) (reflect.Value, error)

var objectHandleGoType = reflect.TypeFor[ObjectHandle]()

type objectType struct {
	baseType
	mo      *meta.MetaObject
	parents []ObjectParent
}

// NewObjectType returns a descriptor for the static object struct goType.
func NewObjectType(goType reflect.Type, mo *meta.MetaObject, parents []ObjectParent) ObjectType {
	return &objectType{
		baseType: baseType{kind: KindObject, goType: goType, sig: signature.FromType(signature.Object)},
		mo:       mo,
		parents:  parents,
	}
}

func (t *objectType) MetaObject() *meta.MetaObject { return t.mo }
func (t *objectType) Parents() []ObjectParent      { return t.parents }

func (t *objectType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }

func (t *objectType) Less(a, b reflect.Value) bool {
	if a.CanAddr() && b.CanAddr() {
		return a.Addr().Pointer() < b.Addr().Pointer()
	}
	return false
}

// upcast finds base among the ancestors of t and returns the embedded
// storage path.
func (t *objectType) upcast(base Type) ([]int, bool) {
	for _, p := range t.parents {
		if Type(p.Type) == base {
			return p.Index, true
		}
		if pt, ok := p.Type.(*objectType); ok {
			if rest, ok := pt.upcast(base); ok {
				return append(append([]int{}, p.Index...), rest...), true
			}
		}
	}
	return nil, false
}

// anyObjectType holds a handle in a Go interface type embedding
// ObjectHandle.
type anyObjectType struct{ baseType }

func newAnyObjectType(goType reflect.Type) *anyObjectType {
	return &anyObjectType{baseType{kind: KindObject, goType: goType, sig: signature.FromType(signature.Object)}}
}

// Get returns the stored handle, nil when empty.
func (t *anyObjectType) Get(s reflect.Value) ObjectHandle {
	if s.IsNil() {
		return nil
	}
	h, _ := s.Interface().(ObjectHandle)
	return h
}

// Set stores h, which must implement the descriptor's interface.
func (t *anyObjectType) Set(s reflect.Value, h ObjectHandle) error {
	if h == nil {
		zero(s)
		return nil
	}
	hv := reflect.ValueOf(h)
	if !hv.Type().Implements(t.goType) {
		return fmt.Errorf("%w: %T does not implement %s", ErrKindMismatch, h, t.goType)
	}
	s.Set(hv)
	return nil
}

func (t *anyObjectType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }

func (t *anyObjectType) Less(a, b reflect.Value) bool { return identity(a) < identity(b) }

// identity returns the address held by an interface, 0 for nil or
// non-pointer content.
func identity(v reflect.Value) uintptr {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return 0
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Slice:
		return v.Pointer()
	}
	return 0
}

// AnyObject is the descriptor for ObjectHandle values.
func AnyObject() Type { return TypeOfReflect(objectHandleGoType) }

// RegisterObjectType registers a static object descriptor under its Go
// type. Pointers to the Go type then promote to handles.
func RegisterObjectType(t ObjectType) {
	Register(t.GoType(), t)
}

// SetObjectPromoter installs the function turning static object pointers
// into handles.
func SetObjectPromoter(fn ObjectPromoter) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.promoter = fn
}

// RegisterProxyGenerator registers how to build a goType value from a
// handle. goType is typically a Go interface implemented by a proxy.
func RegisterProxyGenerator(goType reflect.Type, fn ProxyGenerator) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.proxies[goType] = fn
}

func promote(ptr reflect.Value, t ObjectType) (ObjectHandle, error) {
	reg.mu.RLock()
	fn := reg.promoter
	reg.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: no object promoter installed", ErrConversion)
	}
	return fn(ptr, t)
}

func proxyGenerator(goType reflect.Type) (ProxyGenerator, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	fn, ok := reg.proxies[goType]
	return fn, ok
}

// FromObject returns an owning AnyObject Value holding h.
func FromObject(h ObjectHandle) Value {
	t := TypeOfReflect(objectHandleGoType).(*anyObjectType)
	out := New(t)
	if h != nil {
		out.storage.Set(reflect.ValueOf(h))
	}
	return out
}
