// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"bytes"
	"cmp"
	"math"
	"reflect"
	"slices"

	"github.com/luxfi/metarpc/signature"
)

type intType struct {
	baseType
	size   int
	signed bool
}

var intCodes = map[reflect.Kind]struct {
	size   int
	signed bool
	code   signature.Type
}{
	reflect.Bool:   {0, false, signature.Bool},
	reflect.Int8:   {1, true, signature.Int8},
	reflect.Uint8:  {1, false, signature.UInt8},
	reflect.Int16:  {2, true, signature.Int16},
	reflect.Uint16: {2, false, signature.UInt16},
	reflect.Int32:  {4, true, signature.Int32},
	reflect.Uint32: {4, false, signature.UInt32},
	reflect.Int64:  {8, true, signature.Int64},
	reflect.Uint64: {8, false, signature.UInt64},
	reflect.Int:    {8, true, signature.Int64},
	reflect.Uint:   {8, false, signature.UInt64},
}

func newIntType(t reflect.Type) *intType {
	c := intCodes[t.Kind()]
	return &intType{
		baseType: baseType{kind: KindInt, goType: t, sig: signature.FromType(c.code)},
		size:     c.size,
		signed:   c.signed,
	}
}

func (t *intType) Signed() bool { return t.signed }
func (t *intType) Size() int { return t.size }

func (t *intType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }

func (t *intType) Int(s reflect.Value) int64 {
	switch {
	case s.Kind() == reflect.Bool:
		if s.Bool() {
			return 1
		}
		return 0
	case s.CanInt():
		return s.Int()
	}
	return int64(s.Uint())
}

func (t *intType) Uint(s reflect.Value) uint64 {
	switch {
	case s.Kind() == reflect.Bool:
		if s.Bool() {
			return 1
		}
		return 0
	case s.CanInt():
		return uint64(s.Int())
	}
	return s.Uint()
}

func (t *intType) SetInt(s reflect.Value, v int64) error {
	switch {
	case s.Kind() == reflect.Bool:
		if v != 0 && v != 1 {
			return outOfRange(v, t)
		}
		s.SetBool(v == 1)
	case s.CanInt():
		if s.OverflowInt(v) {
			return outOfRange(v, t)
		}
		s.SetInt(v)
	default:
		if v < 0 || s.OverflowUint(uint64(v)) {
			return outOfRange(v, t)
		}
		s.SetUint(uint64(v))
	}
	return nil
}

func (t *intType) SetUint(s reflect.Value, v uint64) error {
	switch {
	case s.Kind() == reflect.Bool:
		if v > 1 {
			return outOfRange(v, t)
		}
		s.SetBool(v == 1)
	case s.CanInt():
		if v > math.MaxInt64 || s.OverflowInt(int64(v)) {
			return outOfRange(v, t)
		}
		s.SetInt(int64(v))
	default:
		if s.OverflowUint(v) {
			return outOfRange(v, t)
		}
		s.SetUint(v)
	}
	return nil
}

func (t *intType) Less(a, b reflect.Value) bool {
	if t.signed {
		return t.Int(a) < t.Int(b)
	}
	return t.Uint(a) < t.Uint(b)
}

type floatType struct {
	baseType
	size int
}

func newFloatType(t reflect.Type) *floatType {
	ft := &floatType{baseType: baseType{kind: KindFloat, goType: t, sig: signature.FromType(signature.Double)}, size: 8}
	if t.Kind() == reflect.Float32 {
		ft.sig, ft.size = signature.FromType(signature.Float), 4
	}
	return ft
}

func (t *floatType) Size() int { return t.size }

func (t *floatType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }

func (t *floatType) Float(s reflect.Value) float64 { return s.Float() }

func (t *floatType) SetFloat(s reflect.Value, v float64) error {
	if t.size == 4 && !math.IsInf(v, 0) && !math.IsNaN(v) && math.Abs(v) > math.MaxFloat32 {
		return outOfRange(v, t)
	}
	s.SetFloat(v)
	return nil
}

func (t *floatType) Less(a, b reflect.Value) bool { return cmp.Less(a.Float(), b.Float()) }

type stringType struct{ baseType }

func newStringType(t reflect.Type) *stringType {
	return &stringType{baseType{kind: KindString, goType: t, sig: signature.FromType(signature.String)}}
}

func (t *stringType) Get(s reflect.Value) string { return s.String() }
func (t *stringType) Set(s reflect.Value, v string) { s.SetString(v) }
func (t *stringType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }
func (t *stringType) Less(a, b reflect.Value) bool { return a.String() < b.String() }

type rawType struct{ baseType }

func newRawType(t reflect.Type) *rawType {
	return &rawType{baseType{kind: KindRaw, goType: t, sig: signature.FromType(signature.Raw)}}
}

func (t *rawType) Get(s reflect.Value) []byte { return s.Bytes() }

func (t *rawType) Set(s reflect.Value, b []byte) { s.SetBytes(slices.Clone(b)) }

func (t *rawType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	out.SetBytes(slices.Clone(s.Bytes()))
	return out
}

func (t *rawType) Less(a, b reflect.Value) bool { return bytes.Compare(a.Bytes(), b.Bytes()) < 0 }

type voidType struct{ baseType }

func newVoidType(t reflect.Type) *voidType {
	return &voidType{baseType{kind: KindVoid, goType: t, sig: signature.FromType(signature.Void), name: "void"}}
}

func (t *voidType) Clone(reflect.Value) reflect.Value { return t.New() }
func (t *voidType) Less(_, _ reflect.Value) bool { return false }

// unknownType describes Go types with no meaningful mapping. Values of
// such types can be held and copied but not converted or serialized.
type unknownType struct{ baseType }

func newUnknownType(t reflect.Type) *unknownType {
	return &unknownType{baseType{kind: KindUnknown, goType: t, sig: signature.FromType(signature.Unknown)}}
}

func (t *unknownType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }
func (t *unknownType) Less(_, _ reflect.Value) bool { return false }

// dynamicType stores either a Value or a Go empty interface.
type dynamicType struct {
	baseType
	boxed bool
}

var valueGoType = reflect.TypeFor[Value]()

func newDynamicType(t reflect.Type) *dynamicType {
	return &dynamicType{
		baseType: baseType{kind: KindDynamic, goType: t, sig: signature.FromType(signature.Dynamic)},
		boxed:    t != valueGoType,
	}
}

func (t *dynamicType) Get(s reflect.Value) Value {
	if !t.boxed {
		v, _ := s.Interface().(Value)
		return v.Reference()
	}
	if s.IsNil() {
		return Value{}
	}
	x := s.Interface()
	if v, ok := x.(Value); ok {
		return v.Reference()
	}
	return From(x).Reference()
}

func (t *dynamicType) Set(s reflect.Value, v Value) {
	t.Destroy(s)
	if !v.IsValid() {
		return
	}
	if !t.boxed {
		s.Set(reflect.ValueOf(v.Clone()))
		return
	}
	s.Set(reflect.ValueOf(v.Interface()))
}

func (t *dynamicType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	if !t.boxed {
		t.Set(out, t.Get(s))
		return out
	}
	out.Set(s)
	return out
}

func (t *dynamicType) Destroy(s reflect.Value) {
	if !t.boxed && s.IsValid() {
		if v, ok := s.Interface().(Value); ok {
			v.Destroy()
		}
	}
	zero(s)
}

func (t *dynamicType) Less(a, b reflect.Value) bool { return Less(t.Get(a), t.Get(b)) }
