// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"
	"reflect"

	"github.com/luxfi/metarpc/signature"
)

// Value is a type-erased (descriptor, storage) pair. An owning Value
// holds storage nobody else references and releases it on Destroy; a
// reference aliases storage owned elsewhere (a struct field, a container
// element, a call argument) and never releases it.
//
// The zero Value is invalid.
type Value struct {
	typ     Type
	storage reflect.Value
	owned   bool
}

// From returns an owning Value holding a deep copy of x. From(nil) is the
// invalid Value; a Value argument is cloned.
func From(x any) Value {
	switch x := x.(type) {
	case nil:
		return Value{}
	case Value:
		return x.Clone()
	}
	rv := reflect.ValueOf(x)
	t := TypeOfReflect(rv.Type())
	return Value{typ: t, storage: t.Clone(rv), owned: true}
}

// Ref returns a reference to *ptr.
func Ref(ptr any) (Value, error) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return Value{}, fmt.Errorf("%w: Ref needs a non-nil pointer, got %T", ErrInvalidValue, ptr)
	}
	return Value{typ: TypeOfReflect(rv.Type().Elem()), storage: rv.Elem()}, nil
}

// New returns an owning zero Value of t.
func New(t Type) Value {
	return Value{typ: t, storage: t.New(), owned: true}
}

// MakeRef returns a reference to storage, which must have t's Go type.
func MakeRef(t Type, storage reflect.Value) Value {
	return Value{typ: t, storage: storage}
}

// Wrap returns an owning Dynamic Value holding a copy of v.
func Wrap(v Value) Value {
	out := New(Dynamic)
	Dynamic.Set(out.storage, v)
	return out
}

// VoidValue returns the unit value.
func VoidValue() Value { return New(Void) }

func (v Value) IsValid() bool { return v.typ != nil }

// Type returns the descriptor, nil for the invalid Value.
func (v Value) Type() Type { return v.typ }

func (v Value) Kind() Kind {
	if v.typ == nil {
		return KindUnknown
	}
	return v.typ.Kind()
}

// Owned reports whether v owns its storage.
func (v Value) Owned() bool { return v.owned }

// Reflect returns the storage.
func (v Value) Reflect() reflect.Value { return v.storage }

// Interface returns the storage content as a Go value.
func (v Value) Interface() any {
	if !v.IsValid() {
		return nil
	}
	return v.storage.Interface()
}

// Reference returns a non-owning alias of v.
func (v Value) Reference() Value {
	v.owned = false
	return v
}

// Clone returns an owning deep copy of v.
func (v Value) Clone() Value {
	if !v.IsValid() {
		return Value{}
	}
	return Value{typ: v.typ, storage: v.typ.Clone(v.storage), owned: true}
}

// Destroy releases the storage of an owning Value. It is a no-op on
// references.
func (v Value) Destroy() {
	if v.owned && v.IsValid() {
		v.typ.Destroy(v.storage)
	}
}

// Content returns the Value held by a Dynamic, or v itself.
func (v Value) Content() Value {
	for v.Kind() == KindDynamic {
		v = v.typ.(DynamicType).Get(v.storage)
	}
	return v
}

// Set assigns x to v's storage, converting it to v's type.
func (v Value) Set(x Value) error {
	if !v.IsValid() || !v.storage.CanSet() {
		return fmt.Errorf("%w: value is not assignable", ErrInvalidValue)
	}
	c, err := x.Convert(v.typ)
	if err != nil {
		return err
	}
	nv := owned(c)
	v.typ.Destroy(v.storage)
	v.storage.Set(nv)
	return nil
}

func (v Value) scalar(t Type) (reflect.Value, error) {
	c, err := v.Convert(t)
	if err != nil {
		return reflect.Value{}, err
	}
	return c.storage, nil
}

// Int returns v converted to int64.
func (v Value) Int() (int64, error) {
	s, err := v.scalar(Int64)
	if err != nil {
		return 0, err
	}
	return s.Int(), nil
}

// Uint returns v converted to uint64.
func (v Value) Uint() (uint64, error) {
	s, err := v.scalar(UInt64)
	if err != nil {
		return 0, err
	}
	return s.Uint(), nil
}

// Float returns v converted to float64.
func (v Value) Float() (float64, error) {
	s, err := v.scalar(Float64)
	if err != nil {
		return 0, err
	}
	return s.Float(), nil
}

// Bool returns v converted to bool.
func (v Value) Bool() (bool, error) {
	s, err := v.scalar(Bool)
	if err != nil {
		return false, err
	}
	return s.Bool(), nil
}

// Str returns v converted to string.
func (v Value) Str() (string, error) {
	s, err := v.scalar(String)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

// Bytes returns v converted to a binary buffer.
func (v Value) Bytes() ([]byte, error) {
	s, err := v.scalar(Raw)
	if err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// Len returns the size of a container, string or buffer, 0 otherwise.
func (v Value) Len() int {
	v = v.Content()
	switch t := v.typ.(type) {
	case ListType:
		return t.Len(v.storage)
	case MapType:
		return t.Len(v.storage)
	case TupleType:
		return len(t.MemberTypes())
	case StringType, RawType:
		return v.storage.Len()
	}
	return 0
}

// Element returns a reference to element i of a list or tuple.
func (v Value) Element(i int) (Value, error) {
	v = v.Content()
	switch t := v.typ.(type) {
	case ListType:
		return t.Element(v.storage, i)
	case TupleType:
		return t.Get(v.storage, i)
	}
	return Value{}, fmt.Errorf("%w: %s has no elements", ErrKindMismatch, v.typ)
}

// MapElement looks key up in a map; see MapType.Element.
func (v Value) MapElement(key Value, autoInsert bool) (Value, bool, error) {
	v = v.Content()
	t, ok := v.typ.(MapType)
	if !ok {
		return Value{}, false, fmt.Errorf("%w: %s is not a map", ErrKindMismatch, v.typ)
	}
	return t.Element(v.storage, key, autoInsert)
}

// Append pushes x at the end of a list.
func (v Value) Append(x Value) error {
	v = v.Content()
	t, ok := v.typ.(ListType)
	if !ok {
		return fmt.Errorf("%w: %s is not a list", ErrKindMismatch, v.typ)
	}
	return t.PushBack(v.storage, x)
}

// Insert stores key/value in a map.
func (v Value) Insert(key, value Value) error {
	v = v.Content()
	t, ok := v.typ.(MapType)
	if !ok {
		return fmt.Errorf("%w: %s is not a map", ErrKindMismatch, v.typ)
	}
	return t.Insert(v.storage, key, value)
}

// Deref returns a reference to the pointee of a pointer or the content of
// an optional.
func (v Value) Deref() (Value, error) {
	v = v.Content()
	switch t := v.typ.(type) {
	case PointerType:
		return t.Dereference(v.storage)
	case OptionalType:
		return t.Value(v.storage)
	}
	return Value{}, fmt.Errorf("%w: %s cannot be dereferenced", ErrKindMismatch, v.typ)
}

// Object returns the handle held by v, promoting static object pointers.
func (v Value) Object() (ObjectHandle, error) {
	c, err := v.Content().Convert(AnyObject())
	if err != nil {
		return nil, err
	}
	return c.typ.(*anyObjectType).Get(c.storage), nil
}

// Signature returns the static or, when resolved, the content-derived
// signature of v.
func (v Value) Signature(resolved bool) signature.Signature {
	if !v.IsValid() {
		return signature.Signature{}
	}
	if !resolved {
		return v.typ.Signature()
	}
	return resolvedSignature(v)
}

func (v Value) String() string {
	if !v.IsValid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.storage)
}

// As converts v to T and returns a copy.
func As[T any](v Value) (T, error) {
	var zero T
	c, err := v.Convert(TypeOf[T]())
	if err != nil {
		return zero, err
	}
	out, ok := owned(c).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is not %T", ErrKindMismatch, c.typ, zero)
	}
	return out, nil
}

// Values is an argument list. It implements the arguments view used by
// overload resolution.
type Values []Value

func (vs Values) Len() int { return len(vs) }

func (vs Values) Signature(resolved bool) signature.Signature {
	sigs := make([]signature.Signature, len(vs))
	for i, v := range vs {
		sigs[i] = v.Signature(resolved)
	}
	return signature.TupleOf(sigs, "", nil)
}

// Destroy releases every owning Value in vs.
func (vs Values) Destroy() {
	for _, v := range vs {
		v.Destroy()
	}
}
