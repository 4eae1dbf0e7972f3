// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire implements the binary encoding of values exchanged between
// peers, the capability set negotiated per connection and the per-stream
// metaobject caches.
//
// Encoding is little-endian and driven by the value's signature: scalars
// have fixed width, strings and buffers carry a uint32 length, lists and
// maps a uint32 element count, tuples their members in order. A dynamic
// value is its signature string followed by its encoding. An object is
// its metaobject followed by the service and object ids; with the
// MetaObjectCache capability shared by both ends a metaobject is sent in
// full at most once per stream.
package wire

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/typesys"
)

// ObjectRef is the wire identity of an object.
type ObjectRef struct {
	MetaObject *meta.MetaObject
	Service    uint32
	Object     uint32
	PtrUID     uuid.UUID
}

// IsNull reports whether ref designates no object.
func (r ObjectRef) IsNull() bool { return r.Service == 0 && r.Object == 0 }

// SerializeObjectFunc registers h with the transport and returns the
// identity under which the peer can reach it.
type SerializeObjectFunc func(h typesys.ObjectHandle) (ObjectRef, error)

// DeserializeObjectFunc returns a handle, typically a remote proxy, for an
// object the peer sent.
type DeserializeObjectFunc func(ref ObjectRef) (typesys.ObjectHandle, error)

type options struct {
	serialize   SerializeObjectFunc
	deserialize DeserializeObjectFunc
}

// Option configures an Encoder or Decoder.
type Option func(*options)

// WithObjectSerializer sets the callback used to encode objects.
func WithObjectSerializer(fn SerializeObjectFunc) Option {
	return func(o *options) {
		o.serialize = fn
	}
}

// WithObjectDeserializer sets the callback used to decode objects.
func WithObjectDeserializer(fn DeserializeObjectFunc) Option {
	return func(o *options) {
		o.deserialize = fn
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Encode returns the encoding of v.
func Encode(sc *StreamContext, v typesys.Value, opts ...Option) ([]byte, error) {
	e := NewEncoder(sc, opts...)
	e.WriteValue(v)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Decode reads a value of type t that must span all of data.
func Decode(sc *StreamContext, data []byte, t typesys.Type, opts ...Option) (typesys.Value, error) {
	d := NewDecoder(sc, data, opts...)
	v := d.ReadValue(t)
	if err := d.Err(); err != nil {
		return typesys.Value{}, err
	}
	if n := d.Remaining(); n > 0 {
		return typesys.Value{}, &SerializationError{
			Status: ReadError,
			Err:    fmt.Errorf("%w: %d bytes", ErrTrailingData, n),
		}
	}
	return v, nil
}

// EncodeMetaObject returns the encoding of mo.
func EncodeMetaObject(mo *meta.MetaObject) ([]byte, error) {
	e := NewEncoder(nil)
	e.WriteMetaObject(mo)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// DecodeMetaObject reads a metaobject written by EncodeMetaObject.
func DecodeMetaObject(data []byte) (*meta.MetaObject, error) {
	d := NewDecoder(nil, data)
	mo := d.ReadMetaObject()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return mo, nil
}

// EncodeCapabilities returns the encoding of caps.
func EncodeCapabilities(caps CapabilityMap) ([]byte, error) {
	e := NewEncoder(nil)
	e.WriteCapabilities(caps)
	if err := e.Err(); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// DecodeCapabilities reads a capability map written by EncodeCapabilities.
func DecodeCapabilities(data []byte) (CapabilityMap, error) {
	d := NewDecoder(nil, data)
	caps := d.ReadCapabilities()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return caps, nil
}
