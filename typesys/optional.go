// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

// Optional holds zero or one T. Struct fields of type Optional[T] map to
// the optional kind.
type Optional[T any] struct {
	Value T
	Valid bool
}

type optionalMarker interface{ isOptional() }

func (Optional[T]) isOptional() {}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Value: v, Valid: true} }

// None returns an empty Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the held value and whether there is one.
func (o Optional[T]) Get() (T, bool) { return o.Value, o.Valid }
