// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/typesys"
)

func TestCallableSignatures(t *testing.T) {
	tests := []struct {
		name   string
		fn     any
		params string
		ret    string
	}{
		{"plain", func(a, b int32) int32 { return a + b }, "(ii)", "i"},
		{"context", func(context.Context, string) {}, "(s)", "v"},
		{"error only", func(float64) error { return nil }, "(d)", "v"},
		{"value and error", func() ([]string, error) { return nil, nil }, "()", "[s]"},
		{"variadic", func(string, ...int64) {}, "(s#l)", "v"},
		{"raw", func(typesys.Values) typesys.Value { return typesys.Value{} }, "(#m)", "m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			c, err := NewCallable(tt.fn)
			r.NoError(err)
			r.Equal(tt.params, c.ParametersSignature().String())
			r.Equal(tt.ret, c.ReturnSignature().String())
		})
	}
}

func TestCallableRejects(t *testing.T) {
	r := require.New(t)
	_, err := NewCallable(42)
	r.ErrorIs(err, ErrNotCallable)
	_, err = NewCallable(func() (int, int) { return 0, 0 })
	r.ErrorIs(err, ErrNotCallable)
	var nilFn func()
	_, err = NewCallable(nilFn)
	r.ErrorIs(err, ErrNotCallable)
}

func TestCallableCall(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	add := MustCallable(func(a, b int32) int32 { return a + b })
	v, err := add.Call(ctx, Values(int64(2), int8(3)))
	r.NoError(err)
	n, err := typesys.As[int32](v)
	r.NoError(err)
	r.Equal(int32(5), n)

	_, err = add.Call(ctx, Values(1))
	r.ErrorIs(err, ErrArity)
	_, err = add.Call(ctx, Values(int64(1)<<40, 1))
	r.ErrorIs(err, typesys.ErrOutOfRange)

	sum := MustCallable(func(prefix string, xs ...int64) string {
		var total int64
		for _, x := range xs {
			total += x
		}
		return prefix + string(rune('0'+total))
	})
	v, err = sum.Call(ctx, Values("n=", 1, 2, 3))
	r.NoError(err)
	s, err := v.Str()
	r.NoError(err)
	r.Equal("n=6", s)
	_, err = sum.Call(ctx, Values())
	r.ErrorIs(err, ErrArity)

	raw := MustCallable(func(args typesys.Values) int { return len(args) })
	v, err = raw.Call(ctx, Values("a", 1, true))
	r.NoError(err)
	got, err := typesys.As[int](v)
	r.NoError(err)
	r.Equal(3, got)
}

func TestCallableErrorsAndPanics(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	boom := errors.New("boom")

	failing := MustCallable(func() (int32, error) { return 0, boom })
	_, err := failing.Call(ctx, nil)
	r.ErrorIs(err, boom)

	panicking := MustCallable(func() { panic("bad") })
	_, err = panicking.Call(ctx, nil)
	r.ErrorIs(err, ErrCallPanicked)

	type key struct{}
	withCtx := MustCallable(func(ctx context.Context) string { return ctx.Value(key{}).(string) })
	v, err := withCtx.Call(context.WithValue(ctx, key{}, "seen"), nil)
	r.NoError(err)
	s, err := v.Str()
	r.NoError(err)
	r.Equal("seen", s)
}
