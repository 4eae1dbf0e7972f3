// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"
	"math"
	"reflect"
	"slices"
)

// ObjectInstance is implemented by handles wrapping a static object; it
// returns the *T the handle dispatches to.
type ObjectInstance interface {
	Instance() any
}

// Convert returns v as a Value of type t. When t is v's own type the
// result is a reference to v; otherwise it is an owning Value, except for
// object upcasts which reference the embedded base inside v.
func (v Value) Convert(t Type) (Value, error) {
	if !v.IsValid() {
		return Value{}, fmt.Errorf("%w: cannot convert invalid value", ErrInvalidValue)
	}
	if t == nil {
		return Value{}, fmt.Errorf("%w: nil target type", ErrInvalidValue)
	}
	if v.typ == t {
		return v.Reference(), nil
	}
	out, err := convert(v, t)
	if err != nil {
		return Value{}, conversionError(v.typ, t, err)
	}
	return out, nil
}

// ConvertCopy is Convert returning an owning Value in every case.
func (v Value) ConvertCopy(t Type) (Value, error) {
	c, err := v.Convert(t)
	if err != nil || c.owned {
		return c, err
	}
	return c.Clone(), nil
}

func mismatch(v Value, t Type) error {
	return fmt.Errorf("%w: %s to %s", ErrKindMismatch, v.Kind(), t.Kind())
}

func convert(v Value, t Type) (Value, error) {
	sk, tk := v.Kind(), t.Kind()
	switch {
	case tk == KindDynamic:
		out := New(t)
		t.(DynamicType).Set(out.storage, v.Content())
		return out, nil
	case sk == KindDynamic:
		c := v.Content()
		if !c.IsValid() {
			return Value{}, fmt.Errorf("%w: empty dynamic", ErrInvalidValue)
		}
		return c.Convert(t)
	case tk == KindOptional && sk != KindOptional:
		out := New(t)
		if sk == KindVoid {
			return out, nil
		}
		if err := t.(OptionalType).Set(out.storage, v); err != nil {
			return Value{}, err
		}
		return out, nil
	case sk == KindOptional && tk != KindOptional:
		inner, err := v.typ.(OptionalType).Value(v.storage)
		if err != nil {
			return Value{}, err
		}
		return inner.Convert(t)
	}

	switch sk {
	case KindVoid:
		if tk == KindVoid {
			return New(t), nil
		}
	case KindInt:
		return convertInt(v, t)
	case KindFloat:
		return convertFloat(v, t)
	case KindString, KindRaw:
		return convertText(v, t)
	case KindList, KindVarArgs:
		return convertList(v, t)
	case KindMap:
		return convertMap(v, t)
	case KindTuple:
		return convertTuple(v, t)
	case KindOptional:
		return convertOptional(v, t)
	case KindPointer:
		return convertPointer(v, t)
	case KindObject:
		return convertObject(v, t)
	}
	return Value{}, mismatch(v, t)
}

func convertInt(v Value, t Type) (Value, error) {
	st := v.typ.(IntType)
	out := New(t)
	var err error
	switch dt := t.(type) {
	case IntType:
		if st.Signed() {
			err = dt.SetInt(out.storage, st.Int(v.storage))
		} else {
			err = dt.SetUint(out.storage, st.Uint(v.storage))
		}
	case FloatType:
		f := float64(st.Uint(v.storage))
		if st.Signed() {
			f = float64(st.Int(v.storage))
		}
		err = dt.SetFloat(out.storage, f)
	default:
		return Value{}, mismatch(v, t)
	}
	if err != nil {
		return Value{}, err
	}
	return out, nil
}

func convertFloat(v Value, t Type) (Value, error) {
	f := v.typ.(FloatType).Float(v.storage)
	out := New(t)
	switch dt := t.(type) {
	case FloatType:
		if err := dt.SetFloat(out.storage, f); err != nil {
			return Value{}, err
		}
	case IntType:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, outOfRange(f, t)
		}
		tr := math.Trunc(f)
		var err error
		switch {
		case dt.Signed():
			if tr < math.MinInt64 || tr >= math.MaxInt64 {
				return Value{}, outOfRange(f, t)
			}
			err = dt.SetInt(out.storage, int64(tr))
		default:
			if tr < 0 || tr >= math.MaxUint64 {
				return Value{}, outOfRange(f, t)
			}
			err = dt.SetUint(out.storage, uint64(tr))
		}
		if err != nil {
			return Value{}, err
		}
	default:
		return Value{}, mismatch(v, t)
	}
	return out, nil
}

func convertText(v Value, t Type) (Value, error) {
	var b []byte
	switch st := v.typ.(type) {
	case StringType:
		b = []byte(st.Get(v.storage))
	case RawType:
		b = st.Get(v.storage)
	}
	out := New(t)
	switch dt := t.(type) {
	case StringType:
		dt.Set(out.storage, string(b))
	case RawType:
		dt.Set(out.storage, b)
	default:
		return Value{}, mismatch(v, t)
	}
	return out, nil
}

// fill builds a value of t element by element, releasing it on failure.
func fill(t Type, n int, add func(out reflect.Value, i int) error) (Value, error) {
	out := New(t)
	for i := range n {
		if err := add(out.storage, i); err != nil {
			out.Destroy()
			return Value{}, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return out, nil
}

func convertList(v Value, t Type) (Value, error) {
	st := v.typ.(ListType)
	n := st.Len(v.storage)
	elem := func(i int) Value {
		e, _ := st.Element(v.storage, i)
		return e
	}
	switch dt := t.(type) {
	case ListType:
		return fill(t, n, func(out reflect.Value, i int) error {
			return dt.PushBack(out, elem(i))
		})
	case TupleType:
		if len(dt.MemberTypes()) != n {
			return Value{}, fmt.Errorf("%w: list of %d to tuple of %d", ErrSizeMismatch, n, len(dt.MemberTypes()))
		}
		return fill(t, n, func(out reflect.Value, i int) error {
			return dt.Set(out, i, elem(i))
		})
	case MapType:
		return fill(t, n, func(out reflect.Value, i int) error {
			k, val, err := pair(elem(i))
			if err != nil {
				return err
			}
			return dt.Insert(out, k, val)
		})
	}
	return Value{}, mismatch(v, t)
}

// pair splits a two-member tuple or a two-element list.
func pair(v Value) (Value, Value, error) {
	v = v.Content()
	switch t := v.typ.(type) {
	case TupleType:
		if len(t.MemberTypes()) == 2 {
			k, _ := t.Get(v.storage, 0)
			val, _ := t.Get(v.storage, 1)
			return k, val, nil
		}
	case ListType:
		if t.Len(v.storage) == 2 {
			k, _ := t.Element(v.storage, 0)
			val, _ := t.Element(v.storage, 1)
			return k, val, nil
		}
	}
	return Value{}, Value{}, fmt.Errorf("%w: %s is not a key/value pair", ErrKindMismatch, v.typ)
}

func convertMap(v Value, t Type) (Value, error) {
	st := v.typ.(MapType)
	type entry struct{ k, v Value }
	var entries []entry
	st.Range(v.storage, func(k, val Value) bool {
		entries = append(entries, entry{k, val})
		return true
	})
	switch dt := t.(type) {
	case MapType:
		return fill(t, len(entries), func(out reflect.Value, i int) error {
			return dt.Insert(out, entries[i].k, entries[i].v)
		})
	case ListType:
		pt := MustTupleOf([]Type{st.KeyType(), st.ElementType()}, "", nil)
		return fill(t, len(entries), func(out reflect.Value, i int) error {
			p := New(pt)
			p.storage.Field(0).Set(entries[i].k.storage)
			p.storage.Field(1).Set(entries[i].v.storage)
			return dt.PushBack(out, p)
		})
	}
	return Value{}, mismatch(v, t)
}

func convertTuple(v Value, t Type) (Value, error) {
	st := v.typ.(TupleType)
	n := len(st.MemberTypes())
	member := func(i int) Value {
		m, _ := st.Get(v.storage, i)
		return m
	}
	switch dt := t.(type) {
	case TupleType:
		if byName(st, dt) {
			return evolve(v, st, dt)
		}
		if len(dt.MemberTypes()) != n {
			return Value{}, fmt.Errorf("%w: tuple of %d to tuple of %d", ErrSizeMismatch, n, len(dt.MemberTypes()))
		}
		return fill(t, n, func(out reflect.Value, i int) error {
			return dt.Set(out, i, member(i))
		})
	case ListType:
		return fill(t, n, func(out reflect.Value, i int) error {
			return dt.PushBack(out, member(i))
		})
	}
	return Value{}, mismatch(v, t)
}

func named(names []string) bool {
	return len(names) > 0 && !slices.Contains(names, "")
}

// byName reports whether two tuples carry distinct field name lists, in
// which case members are matched by name.
func byName(st, dt TupleType) bool {
	sn, dn := st.ElementNames(), dt.ElementNames()
	return named(sn) && named(dn) && !slices.Equal(sn, dn)
}

// evolve converts between two versions of a named tuple. Fields only in
// the target must be optional; fields only in the source must be empty
// optionals.
func evolve(v Value, st, dt TupleType) (Value, error) {
	sn, dn := st.ElementNames(), dt.ElementNames()
	for i, name := range sn {
		if slices.Contains(dn, name) {
			continue
		}
		m, _ := st.Get(v.storage, i)
		ot, ok := m.typ.(OptionalType)
		if !ok || ot.HasValue(m.storage) {
			return Value{}, fmt.Errorf("%w: field %q would be dropped", ErrSizeMismatch, name)
		}
	}
	out := New(dt)
	for j, name := range dn {
		i := slices.Index(sn, name)
		if i < 0 {
			if dt.MemberTypes()[j].Kind() != KindOptional {
				out.Destroy()
				return Value{}, fmt.Errorf("%w: missing field %q", ErrSizeMismatch, name)
			}
			continue
		}
		m, _ := st.Get(v.storage, i)
		if err := dt.Set(out.storage, j, m); err != nil {
			out.Destroy()
			return Value{}, fmt.Errorf("field %q: %w", name, err)
		}
	}
	return out, nil
}

func convertOptional(v Value, t Type) (Value, error) {
	st, dt := v.typ.(OptionalType), t.(OptionalType)
	out := New(t)
	if !st.HasValue(v.storage) {
		return out, nil
	}
	inner, _ := st.Value(v.storage)
	if err := dt.Set(out.storage, inner); err != nil {
		return Value{}, err
	}
	return out, nil
}

func convertPointer(v Value, t Type) (Value, error) {
	st := v.typ.(PointerType)
	if v.storage.IsNil() {
		return Value{}, fmt.Errorf("%w: nil %s", ErrInvalidValue, st)
	}
	if ot, ok := st.PointedType().(ObjectType); ok {
		switch dt := t.(type) {
		case *anyObjectType:
			h, err := promote(v.storage, ot)
			if err != nil {
				return Value{}, err
			}
			out := New(t)
			if err := dt.Set(out.storage, h); err != nil {
				return Value{}, err
			}
			return out, nil
		case PointerType:
			base, err := upcast(v.storage.Elem(), ot, dt.PointedType())
			if err != nil {
				return Value{}, err
			}
			out := New(t)
			out.storage.Set(base.Addr())
			return out, nil
		}
	}
	pointee, err := st.Dereference(v.storage)
	if err != nil {
		return Value{}, err
	}
	return pointee.Convert(t)
}

// upcast returns the storage of base embedded in obj.
func upcast(obj reflect.Value, t ObjectType, base Type) (reflect.Value, error) {
	ot, ok := t.(*objectType)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s has no known ancestors", ErrKindMismatch, t)
	}
	path, ok := ot.upcast(base)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s does not inherit %s", ErrKindMismatch, t, base)
	}
	return obj.FieldByIndex(path), nil
}

func convertObject(v Value, t Type) (Value, error) {
	switch st := v.typ.(type) {
	case ObjectType:
		switch dt := t.(type) {
		case *anyObjectType:
			if !v.storage.CanAddr() {
				return Value{}, fmt.Errorf("%w: object %s is not addressable", ErrInvalidValue, st)
			}
			h, err := promote(v.storage.Addr(), st)
			if err != nil {
				return Value{}, err
			}
			out := New(t)
			if err := dt.Set(out.storage, h); err != nil {
				return Value{}, err
			}
			return out, nil
		case ObjectType:
			base, err := upcast(v.storage, st, dt)
			if err != nil {
				return Value{}, err
			}
			return Value{typ: t, storage: base}, nil
		}
	case *anyObjectType:
		h := st.Get(v.storage)
		if h == nil {
			return Value{}, fmt.Errorf("%w: nil object", ErrInvalidValue)
		}
		return fromHandle(h, t)
	}
	return Value{}, mismatch(v, t)
}

// fromHandle converts a handle to another handle interface, to a pointer
// to the wrapped static object or through a registered proxy generator.
func fromHandle(h ObjectHandle, t Type) (Value, error) {
	out := New(t)
	if dt, ok := t.(*anyObjectType); ok {
		if err := dt.Set(out.storage, h); err == nil {
			return out, nil
		}
	}
	if pt, ok := t.(PointerType); ok {
		if inst, ok := h.(ObjectInstance); ok {
			p := reflect.ValueOf(inst.Instance())
			if p.Type() == pt.GoType() {
				out.storage.Set(p)
				return out, nil
			}
			if ot, ok := TypeOfReflect(p.Type().Elem()).(ObjectType); ok && !p.IsNil() {
				if base, err := upcast(p.Elem(), ot, pt.PointedType()); err == nil {
					out.storage.Set(base.Addr())
					return out, nil
				}
			}
		}
	}
	if gen, ok := proxyGenerator(t.GoType()); ok {
		p, err := gen(h)
		if err != nil {
			return Value{}, err
		}
		out.storage.Set(p)
		return out, nil
	}
	return Value{}, fmt.Errorf("%w: no proxy for %s", ErrKindMismatch, t)
}
