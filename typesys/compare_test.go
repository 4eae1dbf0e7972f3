// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLessNumericAcrossTypes(t *testing.T) {
	r := require.New(t)
	r.True(Less(From(int32(1)), From(1.5)))
	r.False(Less(From(2.0), From(int8(2))))
	r.True(Equal(From(2.0), From(int8(2))))
	r.True(Less(From(int64(-1)), From(uint64(0))))
	r.False(Less(From(uint64(math.MaxUint64)), From(int64(-1))))
	r.True(Less(From(int64(math.MaxInt64)), From(uint64(math.MaxUint64))))
}

func TestLessKindOrder(t *testing.T) {
	r := require.New(t)
	// consistent, not meaningful
	a, b := From("z"), From([]int32{1})
	r.NotEqual(Less(a, b), Less(b, a))
	r.True(Less(Value{}, From(int32(0))))
	r.False(Less(From(int32(0)), Value{}))
}

func TestLessSameKind(t *testing.T) {
	r := require.New(t)
	r.True(Less(From([]int32{1, 2}), From([]int32{1, 3})))
	r.True(Less(From([]int32{1}), From([]int32{1, 0})))
	r.True(Equal(From([]int32{1, 2}), From([]int64{1, 2})))
	r.True(Less(From(Point{X: 1, Name: "b"}), From(Point{X: 2, Name: "a"})))
	r.True(Equal(Wrap(From("a")), From("a")))
	r.True(Less(New(OptionalOf(Int32)), From(Some(int32(0)))))

	vals := []Value{From(int32(3)), From(1.5), From(int8(-2)), From(uint16(2))}
	slices.SortFunc(vals, func(a, b Value) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		}
		return 0
	})
	var got []float64
	for _, v := range vals {
		f, err := v.Float()
		r.NoError(err)
		got = append(got, f)
	}
	r.Equal([]float64{-2, 1.5, 2, 3}, got)
}
