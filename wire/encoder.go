// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/typesys"
)

// Encoder appends values to a little-endian buffer following their
// signature. The encoding is not self-describing: the reader must know
// the signature.
type Encoder struct {
	buf    []byte
	status Status
	err    error
	sc     *StreamContext
	opts   options
}

// NewEncoder returns an encoder bound to sc, which may be nil for a
// stream without capabilities.
func NewEncoder(sc *StreamContext, opts ...Option) *Encoder {
	return &Encoder{sc: sc, opts: newOptions(opts)}
}

func (e *Encoder) fail(err error) {
	if e.status != Ok {
		return
	}
	e.status, e.err = WriteError, err
	log.Category("metarpc.wire").WithError(err).Debug("encode failed")
}

// Status returns the sticky encoder status.
func (e *Encoder) Status() Status { return e.status }

// Err returns a *SerializationError once the status left Ok.
func (e *Encoder) Err() error {
	if e.status == Ok {
		return nil
	}
	return &SerializationError{Status: e.status, Err: e.err}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset clears the buffer and the status.
func (e *Encoder) Reset() {
	e.buf, e.status, e.err = e.buf[:0], Ok, nil
}

func (e *Encoder) WriteBool(b bool) {
	if b {
		e.WriteUint8(1)
	} else {
		e.WriteUint8(0)
	}
}

func (e *Encoder) WriteUint8(v uint8) {
	if e.status == Ok {
		e.buf = append(e.buf, v)
	}
}

func (e *Encoder) WriteUint16(v uint16) {
	if e.status == Ok {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	}
}

func (e *Encoder) WriteUint32(v uint32) {
	if e.status == Ok {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	}
}

func (e *Encoder) WriteUint64(v uint64) {
	if e.status == Ok {
		e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	}
}

func (e *Encoder) writeCount(n int) {
	if uint64(n) > math.MaxUint32 {
		e.fail(fmt.Errorf("%w: %d elements", typesys.ErrOutOfRange, n))
		return
	}
	e.WriteUint32(uint32(n))
}

// WriteString writes a uint32 length followed by the bytes of s.
func (e *Encoder) WriteString(s string) {
	e.writeCount(len(s))
	if e.status == Ok {
		e.buf = append(e.buf, s...)
	}
}

// WriteRaw writes a uint32 length followed by b.
func (e *Encoder) WriteRaw(b []byte) {
	e.writeCount(len(b))
	if e.status == Ok {
		e.buf = append(e.buf, b...)
	}
}

// WriteMetaObject writes the serializable form of mo.
func (e *Encoder) WriteMetaObject(mo *meta.MetaObject) {
	if e.status != Ok {
		return
	}
	e.WriteValue(typesys.From(mo.Data()))
}

// WriteCapabilities writes caps as {sm}.
func (e *Encoder) WriteCapabilities(caps CapabilityMap) {
	if e.status != Ok {
		return
	}
	v, err := typesys.Ref(&caps)
	if err != nil {
		e.fail(err)
		return
	}
	e.WriteValue(v)
}

// WriteValue encodes v according to its static type.
func (e *Encoder) WriteValue(v typesys.Value) {
	if e.status != Ok {
		return
	}
	if !v.IsValid() {
		e.fail(fmt.Errorf("%w: cannot encode the invalid value", typesys.ErrInvalidValue))
		return
	}
	s := v.Reflect()
	switch t := v.Type().(type) {
	case typesys.IntType:
		e.writeInt(t, s)
	case typesys.FloatType:
		if t.Size() == 4 {
			e.WriteUint32(math.Float32bits(float32(t.Float(s))))
		} else {
			e.WriteUint64(math.Float64bits(t.Float(s)))
		}
	case typesys.StringType:
		e.WriteString(t.Get(s))
	case typesys.RawType:
		e.WriteRaw(t.Get(s))
	case typesys.ListType:
		n := t.Len(s)
		e.writeCount(n)
		for i := 0; i < n && e.status == Ok; i++ {
			el, err := t.Element(s, i)
			if err != nil {
				e.fail(err)
				return
			}
			e.WriteValue(el)
		}
	case typesys.MapType:
		e.writeCount(t.Len(s))
		t.Range(s, func(k, val typesys.Value) bool {
			e.WriteValue(k)
			e.WriteValue(val)
			return e.status == Ok
		})
	case typesys.TupleType:
		for i := range t.MemberTypes() {
			m, err := t.Get(s, i)
			if err != nil {
				e.fail(err)
				return
			}
			e.WriteValue(m)
		}
	case typesys.OptionalType:
		has := t.HasValue(s)
		e.WriteBool(has)
		if has {
			inner, err := t.Value(s)
			if err != nil {
				e.fail(err)
				return
			}
			e.WriteValue(inner)
		}
	case typesys.DynamicType:
		e.writeDynamic(t.Get(s))
	default:
		switch v.Kind() {
		case typesys.KindVoid:
		case typesys.KindObject:
			e.writeObject(v)
		case typesys.KindPointer:
			if v.Type().(typesys.PointerType).PointedType().Kind() == typesys.KindObject {
				e.writeObject(v)
				return
			}
			e.fail(fmt.Errorf("%w: %s (%s)", ErrUnsupportedKind, v.Type(), v.Kind()))
		default:
			e.fail(fmt.Errorf("%w: %s (%s)", ErrUnsupportedKind, v.Type(), v.Kind()))
		}
	}
}

func (e *Encoder) writeInt(t typesys.IntType, s reflect.Value) {
	u := t.Uint(s)
	switch t.Size() {
	case 0, 1:
		e.WriteUint8(uint8(u))
	case 2:
		e.WriteUint16(uint16(u))
	case 4:
		e.WriteUint32(uint32(u))
	default:
		e.WriteUint64(u)
	}
}

// writeDynamic writes the signature of content then content itself. An
// empty dynamic is written as void.
func (e *Encoder) writeDynamic(content typesys.Value) {
	if !content.IsValid() {
		content = typesys.VoidValue()
	}
	e.WriteString(content.Signature(false).String())
	e.WriteValue(content)
}

func (e *Encoder) writeObject(v typesys.Value) {
	if e.opts.serialize == nil {
		e.fail(fmt.Errorf("%w: encoding %s", ErrNoObjectCallback, v.Type()))
		return
	}
	ref := ObjectRef{}
	if !isNil(v.Reflect()) {
		h, err := v.Object()
		if err != nil {
			e.fail(err)
			return
		}
		if ref, err = e.opts.serialize(h); err != nil {
			e.fail(err)
			return
		}
	}
	if ref.MetaObject == nil {
		ref.MetaObject = meta.New("")
	}

	if e.sc != nil && e.sc.SharedCapability(CapMetaObjectCache, false) {
		id, transmit := e.sc.SendCacheSet(ref.MetaObject)
		e.WriteBool(transmit)
		if transmit {
			e.WriteMetaObject(ref.MetaObject)
		}
		e.WriteUint32(id)
	} else {
		e.WriteMetaObject(ref.MetaObject)
	}
	e.WriteUint32(ref.Service)
	e.WriteUint32(ref.Object)
	if e.sc != nil && e.sc.SharedCapability(CapObjectPtrUID, false) && e.status == Ok {
		e.buf = append(e.buf, ref.PtrUID[:]...)
	}
}

func isNil(s reflect.Value) bool {
	switch s.Kind() {
	case reflect.Interface, reflect.Pointer:
		return s.IsNil()
	}
	return false
}
