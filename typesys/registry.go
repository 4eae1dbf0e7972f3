// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/signature"
)

// TagKey is the struct tag naming a tuple member ("-" skips the field).
const TagKey = "meta"

// TupleNamer overrides the class name derived for a struct type.
type TupleNamer interface {
	TupleName() string
}

// registry is the process-wide table of descriptors.
type registry struct {
	mu        sync.RWMutex
	byType    map[reflect.Type]Type
	derived   map[reflect.Type]bool
	bySig     map[string]Type
	composite map[string]Type
	proxies   map[reflect.Type]ProxyGenerator
	promoter  ObjectPromoter

	// deriveMu serializes automatic derivation so that recursive types
	// are built once.
	deriveMu sync.Mutex
}

var reg = &registry{
	byType:    make(map[reflect.Type]Type),
	derived:   make(map[reflect.Type]bool),
	bySig:     make(map[string]Type),
	composite: make(map[string]Type),
	proxies:   make(map[reflect.Type]ProxyGenerator),
}

// Built-in descriptors.
var (
	Bool    = TypeOf[bool]().(IntType)
	Int8    = TypeOf[int8]().(IntType)
	UInt8   = TypeOf[uint8]().(IntType)
	Int16   = TypeOf[int16]().(IntType)
	UInt16  = TypeOf[uint16]().(IntType)
	Int32   = TypeOf[int32]().(IntType)
	UInt32  = TypeOf[uint32]().(IntType)
	Int64   = TypeOf[int64]().(IntType)
	UInt64  = TypeOf[uint64]().(IntType)
	Float32 = TypeOf[float32]().(FloatType)
	Float64 = TypeOf[float64]().(FloatType)
	String  = TypeOf[string]().(StringType)
	Raw     = TypeOf[[]byte]().(RawType)
	Void    = TypeOf[struct{}]()
	Dynamic = TypeOf[Value]().(DynamicType)
)

func typeLog() *logrus.Entry { return log.Category("metarpc.type") }

// TypeOf returns the descriptor of T, deriving it on first use.
func TypeOf[T any]() Type {
	return TypeOfReflect(reflect.TypeFor[T]())
}

// TypeOfReflect returns the descriptor of the Go type t, deriving it on
// first use.
func TypeOfReflect(t reflect.Type) Type {
	if ty, ok := Lookup(t); ok {
		return ty
	}
	return reg.derive(t)
}

// Lookup returns the descriptor registered or derived for t, if any.
func Lookup(t reflect.Type) (Type, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ty, ok := reg.byType[t]
	return ty, ok
}

// Register installs t as the descriptor of goType. A descriptor derived
// earlier for goType is replaced and the early lookup is reported.
func Register(goType reflect.Type, t Type) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.derived[goType] {
		typeLog().WithField("type", goType.String()).
			Warn("type looked up before registration, values created earlier keep the derived descriptor")
		delete(reg.derived, goType)
	}
	reg.byType[goType] = t
	reg.index(t)
}

// index records named tuples for signature lookup. Callers hold mu.
func (r *registry) index(t Type) {
	tt, ok := t.(TupleType)
	if !ok || tt.ClassName() == "" {
		return
	}
	if _, taken := r.bySig[t.Signature().String()]; !taken {
		r.bySig[t.Signature().String()] = t
	}
}

func (r *registry) derive(t reflect.Type) Type {
	r.deriveMu.Lock()
	defer r.deriveMu.Unlock()
	if ty, ok := Lookup(t); ok {
		return ty
	}
	d := &deriver{pending: make(map[reflect.Type]Type), visiting: make(map[reflect.Type]bool)}
	ty := d.typeOf(t)

	r.mu.Lock()
	defer r.mu.Unlock()
	for gt, dt := range d.pending {
		if _, ok := r.byType[gt]; ok {
			continue
		}
		r.byType[gt] = dt
		r.derived[gt] = true
		r.index(dt)
	}
	return ty
}

// deriver builds descriptors for a Go type graph. Descriptors are
// published only once the whole graph is complete.
type deriver struct {
	pending  map[reflect.Type]Type
	visiting map[reflect.Type]bool
}

var optionalMarkerType = reflect.TypeFor[optionalMarker]()

func (d *deriver) typeOf(t reflect.Type) Type {
	if ty, ok := Lookup(t); ok {
		return ty
	}
	if ty, ok := d.pending[t]; ok {
		return ty
	}
	if d.visiting[t] {
		typeLog().WithField("type", t.String()).Debug("recursive type reference mapped to unknown")
		return newUnknownType(t)
	}
	ty := d.build(t)
	d.pending[t] = ty
	return ty
}

func (d *deriver) build(t reflect.Type) Type {
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return newIntType(t)
	case reflect.Float32, reflect.Float64:
		return newFloatType(t)
	case reflect.String:
		return newStringType(t)
	case reflect.Interface:
		switch {
		case t.NumMethod() == 0:
			return newDynamicType(t)
		case t.Implements(objectHandleGoType):
			return newAnyObjectType(t)
		}
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return newRawType(t)
		}
		elem := d.typeOf(t.Elem())
		if t.Name() == "" && elem.GoType() == t.Elem() {
			return ListOf(elem)
		}
		return newListType(t, elem, false)
	case reflect.Map:
		key, elem := d.typeOf(t.Key()), d.typeOf(t.Elem())
		if t.Name() == "" && key.GoType() == t.Key() && elem.GoType() == t.Elem() {
			if mt, err := MapOf(key, elem); err == nil {
				return mt
			}
		}
		return newMapType(t, key, elem)
	case reflect.Pointer:
		return newPointerType(t, d.typeOf(t.Elem()))
	case reflect.Struct:
		if t == valueGoType {
			return newDynamicType(t)
		}
		if t.Name() == "" && t.NumField() == 0 {
			return newVoidType(t)
		}
		if t.Implements(optionalMarkerType) {
			return newOptionalType(t, d.typeOf(t.Field(0).Type))
		}
		return d.tuple(t)
	}
	return newUnknownType(t)
}

func (d *deriver) tuple(t reflect.Type) Type {
	d.visiting[t] = true
	defer delete(d.visiting, t)
	tt := &tupleType{baseType: baseType{kind: KindTuple, goType: t}}
	if n, ok := reflect.Zero(t).Interface().(TupleNamer); ok {
		tt.class = n.TupleName()
	} else if t.Name() != "" {
		tt.class, _, _ = strings.Cut(t.Name(), "[")
	}
	for i := range t.NumField() {
		f := t.Field(i)
		name, skip := fieldName(f)
		if skip {
			continue
		}
		tt.members = append(tt.members, d.typeOf(f.Type))
		tt.fields = append(tt.fields, i)
		tt.names = append(tt.names, name)
	}
	tt.finish()
	return tt
}

// fieldName returns the member name of a struct field, or skip for
// unexported and "-" tagged fields.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", true
	}
	tag := f.Tag.Get(TagKey)
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		return tag, false
	}
	r := []rune(f.Name)
	r[0] = unicode.ToLower(r[0])
	return string(r), false
}

// identityKey builds the memoization key of a composite from its
// component descriptors.
func identityKey(kind Kind, extra string, components ...Type) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", kind)
	for _, c := range components {
		fmt.Fprintf(&b, ":%p", c)
	}
	b.WriteString("|")
	b.WriteString(extra)
	return b.String()
}

// memo returns the composite registered under key or installs the one
// built by mk. With publish, the synthesized Go type maps to it unless
// already taken.
func memo(key string, publish bool, mk func() Type) Type {
	reg.mu.RLock()
	ty, ok := reg.composite[key]
	reg.mu.RUnlock()
	if ok {
		return ty
	}
	built := mk()
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if ty, ok := reg.composite[key]; ok {
		return ty
	}
	reg.composite[key] = built
	if _, ok := reg.byType[built.GoType()]; publish && !ok {
		reg.byType[built.GoType()] = built
	}
	return built
}

// ListOf returns the list descriptor of elem.
func ListOf(elem Type) ListType {
	return memo(identityKey(KindList, "", elem), true, func() Type {
		return newListType(reflect.SliceOf(elem.GoType()), elem, false)
	}).(ListType)
}

// VarArgsOf returns the varargs descriptor of elem.
func VarArgsOf(elem Type) ListType {
	return memo(identityKey(KindVarArgs, "", elem), false, func() Type {
		return newListType(reflect.SliceOf(elem.GoType()), elem, true)
	}).(ListType)
}

// MapOf returns the map descriptor of key and elem. The key Go type must
// be comparable.
func MapOf(key, elem Type) (MapType, error) {
	if !key.GoType().Comparable() {
		return nil, fmt.Errorf("%w: %s", ErrNotComparable, key)
	}
	return memo(identityKey(KindMap, "", key, elem), true, func() Type {
		return newMapType(reflect.MapOf(key.GoType(), elem.GoType()), key, elem)
	}).(MapType), nil
}

// TupleOf returns the tuple descriptor of members. names, when given,
// must have one entry per member.
func TupleOf(members []Type, className string, names []string) (TupleType, error) {
	if len(names) != 0 && len(names) != len(members) {
		return nil, fmt.Errorf("%w: %d names for %d members", ErrSizeMismatch, len(names), len(members))
	}
	key := identityKey(KindTuple, className+"<"+strings.Join(names, ",")+">", members...)
	return memo(key, true, func() Type {
		fields := make([]reflect.StructField, len(members))
		tt := &tupleType{
			baseType: baseType{kind: KindTuple},
			members:  members,
			fields:   make([]int, len(members)),
			names:    make([]string, len(members)),
			class:    className,
		}
		for i, m := range members {
			name := ""
			if len(names) > 0 {
				name = names[i]
			}
			fields[i] = reflect.StructField{
				Name: fmt.Sprintf("F%d", i),
				Type: m.GoType(),
				Tag:  reflect.StructTag(fmt.Sprintf(`%s:%q`, TagKey, name)),
			}
			tt.fields[i], tt.names[i] = i, name
		}
		tt.goType = reflect.StructOf(fields)
		tt.finish()
		return tt
	}).(TupleType), nil
}

// MustTupleOf is TupleOf for static inputs.
func MustTupleOf(members []Type, className string, names []string) TupleType {
	tt, err := TupleOf(members, className, names)
	if err != nil {
		panic(err)
	}
	return tt
}

// OptionalOf returns the optional descriptor of value.
func OptionalOf(value Type) OptionalType {
	return memo(identityKey(KindOptional, "", value), true, func() Type {
		gt := reflect.StructOf([]reflect.StructField{
			{Name: "Value", Type: value.GoType()},
			{Name: "Valid", Type: reflect.TypeFor[bool]()},
		})
		return newOptionalType(gt, value)
	}).(OptionalType)
}

// PointerOf returns the pointer descriptor of pointee.
func PointerOf(pointee Type) PointerType {
	return memo(identityKey(KindPointer, "", pointee), true, func() Type {
		return newPointerType(reflect.PointerTo(pointee.GoType()), pointee)
	}).(PointerType)
}

// lookupSignature returns a registered native tuple with signature sig.
func lookupSignature(sig signature.Signature) (Type, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	t, ok := reg.bySig[sig.String()]
	return t, ok
}
