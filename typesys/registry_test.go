// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/signature"
)

type Point struct {
	X    int32
	Name string
}

type Tagged struct {
	ID      int64 `meta:"id"`
	Skipped string `meta:"-"`
	hidden  int
	Label   Optional[string]
}

type Node struct {
	Value    int32
	Children []Node
}

func TestBuiltinSignatures(t *testing.T) {
	tests := []struct {
		typ  Type
		sig  string
		kind Kind
	}{
		{Bool, "b", KindInt},
		{Int8, "c", KindInt},
		{UInt8, "C", KindInt},
		{Int16, "w", KindInt},
		{UInt16, "W", KindInt},
		{Int32, "i", KindInt},
		{UInt32, "I", KindInt},
		{Int64, "l", KindInt},
		{UInt64, "L", KindInt},
		{Float32, "f", KindFloat},
		{Float64, "d", KindFloat},
		{String, "s", KindString},
		{Raw, "r", KindRaw},
		{Void, "v", KindVoid},
		{Dynamic, "m", KindDynamic},
		{AnyObject(), "o", KindObject},
		{TypeOf[any](), "m", KindDynamic},
		{TypeOf[int](), "l", KindInt},
		{TypeOf[chan int](), "X", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.sig, func(t *testing.T) {
			r := require.New(t)
			r.Equal(tt.sig, tt.typ.Signature().String())
			r.Equal(tt.kind, tt.typ.Kind())
		})
	}
	require.Equal(t, 0, Bool.Size())
	require.True(t, Int8.Signed())
	require.False(t, UInt32.Signed())
}

func TestFactoriesMemoized(t *testing.T) {
	r := require.New(t)
	r.Same(ListOf(Int32), ListOf(Int32))
	r.Same(ListOf(Int32), TypeOf[[]int32]())
	r.NotSame(ListOf(Int32), VarArgsOf(Int32))
	r.Equal(KindVarArgs, VarArgsOf(Int32).Kind())

	m1, err := MapOf(String, Int32)
	r.NoError(err)
	m2, err := MapOf(String, Int32)
	r.NoError(err)
	r.Same(m1, m2)
	r.Same(m1, TypeOf[map[string]int32]())
	r.Equal("{si}", m1.Signature().String())

	t1 := MustTupleOf([]Type{Int32, String}, "", nil)
	t2 := MustTupleOf([]Type{Int32, String}, "", nil)
	r.Same(t1, t2)
	r.Equal("(is)", t1.Signature().String())
	named := MustTupleOf([]Type{Int32, String}, "P", []string{"a", "b"})
	r.NotSame(t1, named)
	r.Equal("(is)<P,a,b>", named.Signature().String())

	r.Same(OptionalOf(Int32), OptionalOf(Int32))
	r.Equal("+i", OptionalOf(Int32).Signature().String())

	var wg sync.WaitGroup
	got := make([]Type, 16)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = ListOf(ListOf(Float64))
		}()
	}
	wg.Wait()
	for _, g := range got {
		r.Same(got[0], g)
	}
}

func TestFactoryErrors(t *testing.T) {
	r := require.New(t)
	_, err := MapOf(ListOf(Int32), Int32)
	r.ErrorIs(err, ErrNotComparable)
	_, err = TupleOf([]Type{Int32}, "", []string{"a", "b"})
	r.ErrorIs(err, ErrSizeMismatch)
}

func TestStructDerivation(t *testing.T) {
	r := require.New(t)
	pt := TypeOf[Point]().(TupleType)
	r.Equal("(is)<Point,x,name>", pt.Signature().String())
	r.Equal("Point", pt.ClassName())
	r.Equal([]string{"x", "name"}, pt.ElementNames())

	tt := TypeOf[Tagged]().(TupleType)
	r.Len(tt.MemberTypes(), 2)
	r.Equal([]string{"id", "label"}, tt.ElementNames())
	r.Equal(KindOptional, tt.MemberTypes()[1].Kind())
	r.Equal("(l+s)<Tagged,id,label>", tt.Signature().String())

	// recursive references do not loop
	nt := TypeOf[Node]().(TupleType)
	r.Len(nt.MemberTypes(), 2)
	r.Equal(KindList, nt.MemberTypes()[1].Kind())
}

func TestFromSignature(t *testing.T) {
	tests := []string{"i", "[s]", "{s[d]}", "(iL)", "+[b]", "#m", "(is)<Other,a,b>", "*i"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			r := require.New(t)
			typ, err := FromSignature(signature.MustParse(s))
			r.NoError(err)
			r.Equal(s, typ.Signature().String())
		})
	}

	r := require.New(t)
	native := TypeOf[Point]()
	typ, err := FromSignature(native.Signature())
	r.NoError(err)
	r.Same(native, typ)

	kw, err := FromSignature(signature.MustParse("~i"))
	r.NoError(err)
	r.Equal(KindMap, kw.Kind())

	_, err = FromSignature(signature.MustParse("X"))
	r.ErrorIs(err, ErrUnknownSignature)
	_, err = FromSignature(signature.Signature{})
	r.ErrorIs(err, ErrUnknownSignature)
}

type lateRegistered struct{ A int32 }

func TestRegisterAfterLookup(t *testing.T) {
	r := require.New(t)
	gt := reflect.TypeFor[lateRegistered]()
	derived := TypeOfReflect(gt)
	custom := newUnknownType(gt)
	Register(gt, custom)
	r.Same(custom, TypeOfReflect(gt))
	r.NotSame(derived, TypeOfReflect(gt))
}
