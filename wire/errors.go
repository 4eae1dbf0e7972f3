// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedKind      = errors.New("wire: kind cannot be serialized")
	ErrMetaObjectNotInCache = errors.New("wire: metaobject not in cache")
	ErrNoObjectCallback     = errors.New("wire: no object serialization callback")
	ErrBadOverride          = errors.New("wire: invalid capability override")
	ErrTrailingData         = errors.New("wire: trailing data after value")
	ErrTooManyElements      = errors.New("wire: too many elements")
)

// Status is the sticky state of an Encoder or Decoder. Once it leaves Ok
// every further operation is a no-op.
type Status int

const (
	Ok Status = iota
	WriteError
	ReadError
	ReadPastEnd
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case WriteError:
		return "write error"
	case ReadError:
		return "read error"
	case ReadPastEnd:
		return "read past end"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// SerializationError carries the terminal status of a failed encode or
// decode and the first error that caused it.
type SerializationError struct {
	Status Status
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err == nil {
		return "wire: serialization failed: " + e.Status.String()
	}
	return fmt.Sprintf("wire: serialization failed (%s): %v", e.Status, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
