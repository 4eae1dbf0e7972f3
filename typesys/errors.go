// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidValue     = errors.New("typesys: invalid value")
	ErrConversion       = errors.New("typesys: conversion failed")
	ErrOutOfRange       = errors.New("typesys: value out of range")
	ErrIndexOutOfRange  = errors.New("typesys: index out of range")
	ErrSizeMismatch     = errors.New("typesys: size mismatch")
	ErrKindMismatch     = errors.New("typesys: kind mismatch")
	ErrNotComparable    = errors.New("typesys: map key type is not comparable")
	ErrEmptyOptional    = errors.New("typesys: optional holds no value")
	ErrUnknownSignature = errors.New("typesys: no type for signature")
)

// ConversionError reports a failed conversion between two types.
type ConversionError struct {
	From Type
	To   Type
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("typesys: cannot convert %s to %s: %v", e.From, e.To, e.Err)
}

func (e *ConversionError) Unwrap() []error { return []error{ErrConversion, e.Err} }

func conversionError(from, to Type, err error) error {
	var ce *ConversionError
	if errors.As(err, &ce) && ce.From == from && ce.To == to {
		return err
	}
	return &ConversionError{From: from, To: to, Err: err}
}

func outOfRange(v any, t Type) error {
	return fmt.Errorf("%w: %v does not fit %s", ErrOutOfRange, v, t)
}
