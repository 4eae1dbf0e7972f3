// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromOwnsACopy(t *testing.T) {
	r := require.New(t)
	src := []int32{1, 2}
	v := From(src)
	r.True(v.Owned())
	src[0] = 99
	e, err := v.Element(0)
	r.NoError(err)
	r.Equal(int32(1), e.Interface())
	r.False(e.Owned())

	_, err = v.Element(2)
	r.ErrorIs(err, ErrIndexOutOfRange)
	r.False(From(nil).IsValid())
}

func TestRefAliases(t *testing.T) {
	r := require.New(t)
	p := Point{X: 1, Name: "a"}
	v, err := Ref(&p)
	r.NoError(err)
	r.False(v.Owned())

	x, err := v.Element(0)
	r.NoError(err)
	r.NoError(x.Set(From(int64(42))))
	r.Equal(int32(42), p.X)

	r.Error(x.Set(From("nope")))
	_, err = Ref(p)
	r.ErrorIs(err, ErrInvalidValue)

	v.Destroy()
	r.Equal("a", p.Name)
}

func TestContainers(t *testing.T) {
	r := require.New(t)
	list := New(ListOf(String))
	r.NoError(list.Append(From("a")))
	r.NoError(list.Append(Wrap(From("b"))))
	r.Error(list.Append(From(1.5)))
	r.Equal([]string{"a", "b"}, list.Interface())

	mt, err := MapOf(String, Int32)
	r.NoError(err)
	m := New(mt)
	r.NoError(m.Insert(From("k"), From(int8(3))))
	got, found, err := m.MapElement(From("k"), false)
	r.NoError(err)
	r.True(found)
	r.Equal(int32(3), got.Interface())

	_, found, err = m.MapElement(From("missing"), false)
	r.NoError(err)
	r.False(found)
	_, found, err = m.MapElement(From("auto"), true)
	r.NoError(err)
	r.False(found)
	r.Equal(2, m.Len())

	_, _, err = list.MapElement(From("k"), false)
	r.ErrorIs(err, ErrKindMismatch)

	var keys []string
	mt.Range(m.Reflect(), func(k, _ Value) bool {
		s, _ := k.Str()
		keys = append(keys, s)
		return true
	})
	r.True(slices.IsSorted(keys))

	m.Destroy()
	r.Equal(0, m.Len())
}

func TestCloneIsDeep(t *testing.T) {
	r := require.New(t)
	v := From([][]int32{{1}, {2}})
	c := v.Clone()
	inner, err := c.Element(0)
	r.NoError(err)
	r.NoError(inner.Append(From(int32(5))))
	r.Equal([][]int32{{1}, {2}}, v.Interface())
	r.Equal([][]int32{{1, 5}, {2}}, c.Interface())
}

func TestPointerDeref(t *testing.T) {
	r := require.New(t)
	n := int32(3)
	v := From(&n)
	r.Equal(KindPointer, v.Kind())
	d, err := v.Deref()
	r.NoError(err)
	r.NoError(d.Set(From(int32(4))))
	r.Equal(int32(4), n)

	i, err := v.Int()
	r.NoError(err)
	r.Equal(int64(4), i)

	var nilPtr *int32
	_, err = From(nilPtr).Deref()
	r.ErrorIs(err, ErrInvalidValue)
}

func TestResolvedSignature(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		static   string
		resolved string
	}{
		{"scalar", From(int32(1)), "i", "i"},
		{"dynamic", Wrap(From("s")), "m", "s"},
		{"homogeneous", From([]any{int32(1), int32(2)}), "[m]", "[i]"},
		{"widening", From([]any{int32(1), int64(2)}), "[m]", "[l]"},
		{"no common", From([]any{int32(1), "x"}), "[m]", "[m]"},
		{"empty", From([]any{}), "[m]", "[m]"},
		{"map", From(map[string]any{"a": 1.5}), "{sm}", "{sd}"},
		{"nested", From([]Value{Wrap(From([]string{"a"}))}), "[m]", "[[s]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			r.Equal(tt.static, tt.value.Signature(false).String())
			r.Equal(tt.resolved, tt.value.Signature(true).String())
		})
	}

	args := Values{From(int32(1)), Wrap(From("x"))}
	require.Equal(t, "(im)", args.Signature(false).String())
	require.Equal(t, "(is)", args.Signature(true).String())
	require.Equal(t, 2, args.Len())
}
