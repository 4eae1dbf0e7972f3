// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package typesys implements the runtime type system: per-kind type
// descriptors, the process-wide type registry, the type-erased Value and
// the conversion engine between registered types.
//
// A descriptor manipulates storage, an addressable reflect.Value of the
// descriptor's Go type. Storage is only ever accessed through its paired
// descriptor.
package typesys

import (
	"fmt"
	"reflect"

	"github.com/luxfi/metarpc/signature"
)

// Kind is the capability family of a type descriptor.
type Kind int

const (
	KindVoid Kind = iota
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindObject
	KindPointer
	KindTuple
	KindDynamic
	KindRaw
	KindIterator
	KindFunction
	KindSignal
	KindProperty
	KindVarArgs
	KindOptional
	KindUnknown
)

var kindNames = [...]string{
	KindVoid:     "Void",
	KindInt:      "Int",
	KindFloat:    "Float",
	KindString:   "String",
	KindList:     "List",
	KindMap:      "Map",
	KindObject:   "Object",
	KindPointer:  "Pointer",
	KindTuple:    "Tuple",
	KindDynamic:  "Dynamic",
	KindRaw:      "Raw",
	KindIterator: "Iterator",
	KindFunction: "Function",
	KindSignal:   "Signal",
	KindProperty: "Property",
	KindVarArgs:  "VarArgs",
	KindOptional: "Optional",
	KindUnknown:  "Unknown",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Type is the capability interface shared by every descriptor.
// Descriptors are immutable and must be pointer types: identity
// comparison of descriptors is used as a fast path throughout.
type Type interface {
	Kind() Kind
	// GoType is the Go type of the storage.
	GoType() reflect.Type
	// Signature is the static signature of the type.
	Signature() signature.Signature
	// New initializes fresh zero storage.
	New() reflect.Value
	// Clone deep-copies storage into new storage.
	Clone(storage reflect.Value) reflect.Value
	// Destroy releases storage content.
	Destroy(storage reflect.Value)
	// Less is a strict weak order on storage of this type.
	Less(a, b reflect.Value) bool
	String() string
}

// IntType covers booleans (Size 0) and integers.
type IntType interface {
	Type
	Signed() bool
	// Size is the byte width, 0 for booleans.
	Size() int
	Int(storage reflect.Value) int64
	Uint(storage reflect.Value) uint64
	SetInt(storage reflect.Value, v int64) error
	SetUint(storage reflect.Value, v uint64) error
}

// FloatType covers float32 and float64.
type FloatType interface {
	Type
	Size() int
	Float(storage reflect.Value) float64
	SetFloat(storage reflect.Value, v float64) error
}

// StringType covers text.
type StringType interface {
	Type
	Get(storage reflect.Value) string
	Set(storage reflect.Value, s string)
}

// RawType covers binary buffers.
type RawType interface {
	Type
	Get(storage reflect.Value) []byte
	Set(storage reflect.Value, b []byte)
}

// ListType covers homogeneous sequences; VarArgs lists share it.
type ListType interface {
	Type
	ElementType() Type
	Len(storage reflect.Value) int
	// Element returns a non-owning reference to element i.
	Element(storage reflect.Value, i int) (Value, error)
	// PushBack appends v, converting it to the element type.
	PushBack(storage reflect.Value, v Value) error
}

// MapType covers associative containers.
type MapType interface {
	Type
	KeyType() Type
	ElementType() Type
	Len(storage reflect.Value) int
	// Range visits entries in key order until fn returns false.
	Range(storage reflect.Value, fn func(key, value Value) bool)
	// Insert stores key/value, converting both to the map's types.
	Insert(storage reflect.Value, key, value Value) error
	// Element returns the value stored under key. With autoInsert a zero
	// value is inserted for a missing key.
	Element(storage reflect.Value, key Value, autoInsert bool) (Value, bool, error)
}

// TupleType covers fixed heterogeneous records.
type TupleType interface {
	Type
	MemberTypes() []Type
	ElementNames() []string
	ClassName() string
	// Get returns a non-owning reference to member i.
	Get(storage reflect.Value, i int) (Value, error)
	// Set stores v in member i, converting it to the member type.
	Set(storage reflect.Value, i int, v Value) error
}

// PointerKind tells how the pointee is owned.
type PointerKind int

const (
	PointerRaw PointerKind = iota
	PointerShared
)

// PointerType covers Go pointers.
type PointerType interface {
	Type
	PointedType() Type
	PointerKind() PointerKind
	// Dereference returns a non-owning reference to the pointee.
	Dereference(storage reflect.Value) (Value, error)
}

// DynamicType holds a Value of any type.
type DynamicType interface {
	Type
	Get(storage reflect.Value) Value
	Set(storage reflect.Value, v Value)
}

// OptionalType holds zero or one value.
type OptionalType interface {
	Type
	ValueType() Type
	HasValue(storage reflect.Value) bool
	// Value returns a non-owning reference to the contained value.
	Value(storage reflect.Value) (Value, error)
	Set(storage reflect.Value, v Value) error
	Reset(storage reflect.Value)
}

// baseType carries the fields shared by all built-in descriptors.
type baseType struct {
	kind   Kind
	goType reflect.Type
	sig    signature.Signature
	name   string
}

func (b *baseType) Kind() Kind { return b.kind }

func (b *baseType) GoType() reflect.Type { return b.goType }

func (b *baseType) Signature() signature.Signature { return b.sig }

func (b *baseType) New() reflect.Value { return reflect.New(b.goType).Elem() }

func (b *baseType) Destroy(storage reflect.Value) { zero(storage) }

func (b *baseType) String() string {
	if b.name != "" {
		return b.name
	}
	return b.goType.String()
}

// shallowClone copies storage by assignment.
func (b *baseType) shallowClone(storage reflect.Value) reflect.Value {
	out := b.New()
	out.Set(storage)
	return out
}

func zero(storage reflect.Value) {
	if storage.IsValid() && storage.CanSet() {
		storage.SetZero()
	}
}
