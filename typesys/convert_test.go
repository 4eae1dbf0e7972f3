// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/signature"
)

func mustType(t *testing.T, sig string) Type {
	t.Helper()
	typ, err := FromSignature(signature.MustParse(sig))
	require.NoError(t, err)
	return typ
}

func TestListToTupleSize(t *testing.T) {
	r := require.New(t)
	list := From([]int32{1, 2, 3})

	c, err := list.Convert(mustType(t, "(iii)"))
	r.NoError(err)
	r.True(c.Owned())
	for i := range 3 {
		e, err := c.Element(i)
		r.NoError(err)
		n, err := e.Int()
		r.NoError(err)
		r.Equal(int64(i+1), n)
	}

	_, err = list.Convert(mustType(t, "(ii)"))
	r.ErrorIs(err, ErrSizeMismatch)
	r.ErrorIs(err, ErrConversion)
	var ce *ConversionError
	r.ErrorAs(err, &ce)
	r.Same(list.Type(), ce.From)
}

func TestListTupleBijection(t *testing.T) {
	r := require.New(t)
	list := From([]string{"a", "b"})
	tt := MustTupleOf([]Type{String, String}, "", nil)

	tup, err := list.Convert(tt)
	r.NoError(err)
	back, err := tup.Convert(list.Type())
	r.NoError(err)
	r.True(Equal(list, back))

	v, err := As[[]string](back)
	r.NoError(err)
	r.Equal([]string{"a", "b"}, v)
}

func TestIdentityIsReference(t *testing.T) {
	r := require.New(t)
	v := From(int32(7))
	c, err := v.Convert(Int32)
	r.NoError(err)
	r.False(c.Owned())

	cp, err := v.ConvertCopy(Int32)
	r.NoError(err)
	r.True(cp.Owned())
	r.NoError(cp.Set(From(int32(9))))
	n, _ := v.Int()
	r.Equal(int64(7), n)
}

func TestNumericConversions(t *testing.T) {
	tests := []struct {
		name string
		in   any
		to   Type
		want any
		err  error
	}{
		{"widen", int32(-5), Int64, int64(-5), nil},
		{"narrow ok", int64(100), Int8, int8(100), nil},
		{"narrow overflow", int64(300), Int8, nil, ErrOutOfRange},
		{"negative to unsigned", int32(-1), UInt32, nil, ErrOutOfRange},
		{"unsigned overflow signed", uint64(math.MaxUint64), Int64, nil, ErrOutOfRange},
		{"bool domain ok", int32(1), Bool, true, nil},
		{"bool domain", int32(2), Bool, nil, ErrOutOfRange},
		{"bool to int", true, Int32, int32(1), nil},
		{"int to float", int64(3), Float64, float64(3), nil},
		{"float truncates", 3.9, Int32, int32(3), nil},
		{"float negative truncates", -3.9, Int32, int32(-3), nil},
		{"float overflow", 1e20, Int32, nil, ErrOutOfRange},
		{"nan", math.NaN(), Int64, nil, ErrOutOfRange},
		{"double to float", 1.5, Float32, float32(1.5), nil},
		{"double overflow float", 1e300, Float32, nil, ErrOutOfRange},
		{"int to string", int32(1), String, nil, ErrKindMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			c, err := From(tt.in).Convert(tt.to)
			if tt.err != nil {
				r.ErrorIs(err, tt.err)
				r.False(c.IsValid())
				return
			}
			r.NoError(err)
			r.Equal(tt.want, c.Interface())
		})
	}
}

func TestRoundTripLossless(t *testing.T) {
	r := require.New(t)
	for _, n := range []int32{math.MinInt32, -1, 0, 1, math.MaxInt32} {
		v := From(n)
		wide, err := v.Convert(Int64)
		r.NoError(err)
		back, err := wide.Convert(Int32)
		r.NoError(err)
		r.True(Equal(v, back))
		r.Equal(n, back.Interface())
	}
}

func TestContainerConversionAborts(t *testing.T) {
	r := require.New(t)
	_, err := From([]int64{1, 1 << 40, 3}).Convert(ListOf(Int32))
	r.ErrorIs(err, ErrOutOfRange)
	r.Contains(err.Error(), "element 1")

	m := From(map[string]int64{"a": 1, "b": 2})
	mt, err := MapOf(String, Int8)
	r.NoError(err)
	c, err := m.Convert(mt)
	r.NoError(err)
	r.Equal(map[string]int8{"a": 1, "b": 2}, c.Interface())
}

func TestListMapPairs(t *testing.T) {
	r := require.New(t)
	m := From(map[string]int32{"x": 1, "y": 2})
	pt := MustTupleOf([]Type{String, Int32}, "", nil)

	list, err := m.Convert(ListOf(pt))
	r.NoError(err)
	r.Equal(2, list.Len())
	first, err := list.Element(0)
	r.NoError(err)
	k, err := first.Element(0)
	r.NoError(err)
	s, _ := k.Str()
	r.Equal("x", s)

	back, err := list.Convert(m.Type())
	r.NoError(err)
	r.True(Equal(m, back))

	_, err = From([]int32{1, 2}).Convert(m.Type())
	r.ErrorIs(err, ErrKindMismatch)
}

func TestStringRaw(t *testing.T) {
	r := require.New(t)
	raw, err := From("hello").Convert(Raw)
	r.NoError(err)
	r.Equal([]byte("hello"), raw.Interface())
	str, err := raw.Convert(String)
	r.NoError(err)
	r.Equal("hello", str.Interface())
}

func TestDynamicAndOptional(t *testing.T) {
	r := require.New(t)
	d := Wrap(From(int16(12)))
	r.Equal(KindDynamic, d.Kind())
	n, err := d.Convert(Int64)
	r.NoError(err)
	r.Equal(int64(12), n.Interface())

	_, err = New(Dynamic).Convert(Int32)
	r.ErrorIs(err, ErrInvalidValue)

	opt, err := From(int32(4)).Convert(OptionalOf(Int64))
	r.NoError(err)
	got, err := As[int64](opt)
	r.NoError(err)
	r.Equal(int64(4), got)

	empty := New(OptionalOf(Int32))
	_, err = empty.Convert(Int32)
	r.ErrorIs(err, ErrEmptyOptional)
	eo, err := empty.Convert(OptionalOf(Int64))
	r.NoError(err)
	r.False(eo.Type().(OptionalType).HasValue(eo.Reflect()))

	native, err := As[Optional[string]](From("x"))
	r.NoError(err)
	s, ok := native.Get()
	r.True(ok)
	r.Equal("x", s)
}

type PersonV1 struct {
	Name string
	Age  int32
	Nick Optional[string]
}

type PersonV2 struct {
	Name  string
	Age   int64
	Email Optional[string]
}

func TestTupleEvolution(t *testing.T) {
	r := require.New(t)
	v1 := From(PersonV1{Name: "ann", Age: 30})
	v2, err := As[PersonV2](v1)
	r.NoError(err)
	r.Equal(PersonV2{Name: "ann", Age: 30}, v2)

	_, err = As[PersonV2](From(PersonV1{Name: "bob", Nick: Some("b")}))
	r.ErrorIs(err, ErrSizeMismatch)
	r.Contains(err.Error(), "nick")

	type Strict struct {
		Name  string
		Phone string
	}
	_, err = As[Strict](From(PersonV1{Name: "c"}))
	r.ErrorIs(err, ErrSizeMismatch)
}

func TestTupleByIndex(t *testing.T) {
	r := require.New(t)
	anon := From(struct {
		A int32
		B string
	}{1, "p"})
	p, err := As[Point](anon)
	r.Error(err, "distinct field names convert by name")

	tup := New(MustTupleOf([]Type{Int64, String}, "", nil))
	r.NoError(tup.Type().(TupleType).Set(tup.Reflect(), 0, From(int64(5))))
	r.NoError(tup.Type().(TupleType).Set(tup.Reflect(), 1, From("p")))
	p, err = As[Point](tup)
	r.NoError(err)
	r.Equal(Point{X: 5, Name: "p"}, p)
}
