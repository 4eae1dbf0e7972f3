// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/luxfi/metarpc/signature"
)

// owned returns storage holding a deep copy of v, unless v already owns
// fresh storage.
func owned(v Value) reflect.Value {
	if v.owned {
		return v.storage
	}
	return v.typ.Clone(v.storage)
}

type listType struct {
	baseType
	elem Type
}

func newListType(goType reflect.Type, elem Type, varArgs bool) *listType {
	t := &listType{baseType: baseType{kind: KindList, goType: goType, sig: signature.ListOf(elem.Signature())}, elem: elem}
	if varArgs {
		t.kind, t.sig = KindVarArgs, signature.VarArgsOf(elem.Signature())
	}
	return t
}

func (t *listType) ElementType() Type { return t.elem }

func (t *listType) Len(s reflect.Value) int { return s.Len() }

func (t *listType) Element(s reflect.Value, i int) (Value, error) {
	if i < 0 || i >= s.Len() {
		return Value{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, s.Len())
	}
	return Value{typ: t.elem, storage: s.Index(i)}, nil
}

func (t *listType) PushBack(s reflect.Value, v Value) error {
	c, err := v.Convert(t.elem)
	if err != nil {
		return err
	}
	s.Set(reflect.Append(s, owned(c)))
	return nil
}

func (t *listType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	if s.IsNil() {
		return out
	}
	n := s.Len()
	out.Set(reflect.MakeSlice(t.goType, n, n))
	for i := range n {
		out.Index(i).Set(t.elem.Clone(s.Index(i)))
	}
	return out
}

func (t *listType) Destroy(s reflect.Value) {
	for i := range s.Len() {
		t.elem.Destroy(s.Index(i))
	}
	zero(s)
}

func (t *listType) Less(a, b reflect.Value) bool {
	for i := 0; i < a.Len() && i < b.Len(); i++ {
		if t.elem.Less(a.Index(i), b.Index(i)) {
			return true
		}
		if t.elem.Less(b.Index(i), a.Index(i)) {
			return false
		}
	}
	return a.Len() < b.Len()
}

func (t *listType) String() string {
	if t.name != "" {
		return t.name
	}
	if t.kind == KindVarArgs {
		return "VarArgs<" + t.elem.String() + ">"
	}
	return "List<" + t.elem.String() + ">"
}

type mapType struct {
	baseType
	key, elem Type
}

func newMapType(goType reflect.Type, key, elem Type) *mapType {
	return &mapType{
		baseType: baseType{kind: KindMap, goType: goType, sig: signature.MapOf(key.Signature(), elem.Signature())},
		key:      key,
		elem:     elem,
	}
}

func (t *mapType) KeyType() Type     { return t.key }
func (t *mapType) ElementType() Type { return t.elem }

func (t *mapType) Len(s reflect.Value) int { return s.Len() }

// sortedKeys returns the map keys in key order.
func (t *mapType) sortedKeys(s reflect.Value) []reflect.Value {
	keys := s.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		switch {
		case t.key.Less(a, b):
			return -1
		case t.key.Less(b, a):
			return 1
		}
		return 0
	})
	return keys
}

// addressable copies a map key or value into fresh storage.
func addressable(t Type, v reflect.Value) reflect.Value {
	out := t.New()
	out.Set(v)
	return out
}

func (t *mapType) Range(s reflect.Value, fn func(key, value Value) bool) {
	for _, k := range t.sortedKeys(s) {
		key := Value{typ: t.key, storage: addressable(t.key, k)}
		val := Value{typ: t.elem, storage: addressable(t.elem, s.MapIndex(k))}
		if !fn(key, val) {
			return
		}
	}
}

func (t *mapType) Insert(s reflect.Value, key, value Value) error {
	k, err := key.Convert(t.key)
	if err != nil {
		return err
	}
	v, err := value.Convert(t.elem)
	if err != nil {
		return err
	}
	if s.IsNil() {
		s.Set(reflect.MakeMap(t.goType))
	}
	s.SetMapIndex(owned(k), owned(v))
	return nil
}

// Element returns a copy of the stored value: map entries are not
// addressable, use Insert to modify them.
func (t *mapType) Element(s reflect.Value, key Value, autoInsert bool) (Value, bool, error) {
	k, err := key.Convert(t.key)
	if err != nil {
		return Value{}, false, err
	}
	if !s.IsNil() {
		if mv := s.MapIndex(k.storage); mv.IsValid() {
			return Value{typ: t.elem, storage: addressable(t.elem, mv)}, true, nil
		}
	}
	if !autoInsert {
		return Value{}, false, nil
	}
	if s.IsNil() {
		s.Set(reflect.MakeMap(t.goType))
	}
	zv := t.elem.New()
	s.SetMapIndex(owned(k), zv)
	return Value{typ: t.elem, storage: zv}, false, nil
}

func (t *mapType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	if s.IsNil() {
		return out
	}
	out.Set(reflect.MakeMapWithSize(t.goType, s.Len()))
	iter := s.MapRange()
	for iter.Next() {
		out.SetMapIndex(t.key.Clone(iter.Key()), t.elem.Clone(iter.Value()))
	}
	return out
}

func (t *mapType) Destroy(s reflect.Value) {
	if s.IsValid() && s.CanSet() && !s.IsNil() {
		s.Clear()
	}
	zero(s)
}

func (t *mapType) Less(a, b reflect.Value) bool {
	if a.Len() != b.Len() {
		return a.Len() < b.Len()
	}
	ka, kb := t.sortedKeys(a), t.sortedKeys(b)
	for i := range ka {
		if t.key.Less(ka[i], kb[i]) {
			return true
		}
		if t.key.Less(kb[i], ka[i]) {
			return false
		}
		va, vb := a.MapIndex(ka[i]), b.MapIndex(kb[i])
		if t.elem.Less(va, vb) {
			return true
		}
		if t.elem.Less(vb, va) {
			return false
		}
	}
	return false
}

func (t *mapType) String() string {
	if t.name != "" {
		return t.name
	}
	return "Map<" + t.key.String() + "," + t.elem.String() + ">"
}

type tupleType struct {
	baseType
	members []Type
	fields  []int
	names   []string
	class   string
}

func (t *tupleType) finish() {
	sigs := make([]signature.Signature, len(t.members))
	for i, m := range t.members {
		sigs[i] = m.Signature()
	}
	var names []string
	if t.class != "" || slices.ContainsFunc(t.names, func(n string) bool { return n != "" }) {
		names = t.names
	}
	t.sig = signature.TupleOf(sigs, t.class, names)
}

func (t *tupleType) MemberTypes() []Type     { return t.members }
func (t *tupleType) ElementNames() []string { return t.names }
func (t *tupleType) ClassName() string      { return t.class }

func (t *tupleType) Get(s reflect.Value, i int) (Value, error) {
	if i < 0 || i >= len(t.members) {
		return Value{}, fmt.Errorf("%w: member %d of %s", ErrIndexOutOfRange, i, t)
	}
	return Value{typ: t.members[i], storage: s.Field(t.fields[i])}, nil
}

func (t *tupleType) Set(s reflect.Value, i int, v Value) error {
	if i < 0 || i >= len(t.members) {
		return fmt.Errorf("%w: member %d of %s", ErrIndexOutOfRange, i, t)
	}
	c, err := v.Convert(t.members[i])
	if err != nil {
		return err
	}
	s.Field(t.fields[i]).Set(owned(c))
	return nil
}

// memberIndex returns the member named name, or -1.
func (t *tupleType) memberIndex(name string) int {
	return slices.Index(t.names, name)
}

func (t *tupleType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	out.Set(s)
	for i, m := range t.members {
		out.Field(t.fields[i]).Set(m.Clone(s.Field(t.fields[i])))
	}
	return out
}

func (t *tupleType) Destroy(s reflect.Value) {
	for i, m := range t.members {
		m.Destroy(s.Field(t.fields[i]))
	}
	zero(s)
}

func (t *tupleType) Less(a, b reflect.Value) bool {
	for i, m := range t.members {
		fa, fb := a.Field(t.fields[i]), b.Field(t.fields[i])
		if m.Less(fa, fb) {
			return true
		}
		if m.Less(fb, fa) {
			return false
		}
	}
	return false
}

func (t *tupleType) String() string {
	if t.class != "" {
		return t.class
	}
	return t.sig.Pretty()
}

type optionalType struct {
	baseType
	value Type
}

func newOptionalType(goType reflect.Type, value Type) *optionalType {
	return &optionalType{
		baseType: baseType{kind: KindOptional, goType: goType, sig: signature.OptionalOf(value.Signature())},
		value:    value,
	}
}

func (t *optionalType) ValueType() Type { return t.value }

func (t *optionalType) HasValue(s reflect.Value) bool { return s.Field(1).Bool() }

func (t *optionalType) Value(s reflect.Value) (Value, error) {
	if !t.HasValue(s) {
		return Value{}, ErrEmptyOptional
	}
	return Value{typ: t.value, storage: s.Field(0)}, nil
}

func (t *optionalType) Set(s reflect.Value, v Value) error {
	c, err := v.Convert(t.value)
	if err != nil {
		return err
	}
	s.Field(0).Set(owned(c))
	s.Field(1).SetBool(true)
	return nil
}

func (t *optionalType) Reset(s reflect.Value) { t.Destroy(s) }

func (t *optionalType) Clone(s reflect.Value) reflect.Value {
	out := t.New()
	if t.HasValue(s) {
		out.Field(0).Set(t.value.Clone(s.Field(0)))
		out.Field(1).SetBool(true)
	}
	return out
}

func (t *optionalType) Destroy(s reflect.Value) {
	if t.HasValue(s) {
		t.value.Destroy(s.Field(0))
	}
	zero(s)
}

func (t *optionalType) Less(a, b reflect.Value) bool {
	ha, hb := t.HasValue(a), t.HasValue(b)
	if !ha || !hb {
		return !ha && hb
	}
	return t.value.Less(a.Field(0), b.Field(0))
}

func (t *optionalType) String() string {
	if t.name != "" {
		return t.name
	}
	return "Optional<" + t.value.String() + ">"
}

type pointerType struct {
	baseType
	pointee Type
	pkind   PointerKind
}

func newPointerType(goType reflect.Type, pointee Type) *pointerType {
	t := &pointerType{
		baseType: baseType{kind: KindPointer, goType: goType, sig: signature.PointerOf(pointee.Signature())},
		pointee:  pointee,
	}
	if _, ok := pointee.(ObjectType); ok {
		t.pkind, t.sig = PointerShared, signature.FromType(signature.Object)
	}
	return t
}

func (t *pointerType) PointedType() Type        { return t.pointee }
func (t *pointerType) PointerKind() PointerKind { return t.pkind }

func (t *pointerType) Dereference(s reflect.Value) (Value, error) {
	if s.IsNil() {
		return Value{}, fmt.Errorf("%w: nil %s", ErrInvalidValue, t)
	}
	return Value{typ: t.pointee, storage: s.Elem()}, nil
}

func (t *pointerType) Clone(s reflect.Value) reflect.Value { return t.shallowClone(s) }

func (t *pointerType) Less(a, b reflect.Value) bool { return a.Pointer() < b.Pointer() }

func (t *pointerType) String() string {
	if t.name != "" {
		return t.name
	}
	return "*" + t.pointee.String()
}
