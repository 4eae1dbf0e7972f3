// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/luxfi/metarpc/config"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

var objectDataType = typesys.TypeOf[meta.ObjectData]()

// maxElements caps the count of zero-width elements, which the remaining
// input cannot bound.
var maxElements = sync.OnceValue(func() int {
	if w := config.Get().Wire; w != nil && w.MaxElements > 0 {
		return w.MaxElements
	}
	return config.DefaultMaxElements
})

// zeroWidth reports whether values of t encode to no bytes.
func zeroWidth(t typesys.Type) bool {
	switch t := t.(type) {
	case typesys.TupleType:
		for _, m := range t.MemberTypes() {
			if !zeroWidth(m) {
				return false
			}
		}
		return true
	}
	return t.Kind() == typesys.KindVoid
}

// Decoder reads values written by an Encoder. The caller supplies the
// type of every value read.
type Decoder struct {
	data   []byte
	pos    int
	status Status
	err    error
	sc     *StreamContext
	opts   options
}

// NewDecoder returns a decoder over data bound to sc, which may be nil.
func NewDecoder(sc *StreamContext, data []byte, opts ...Option) *Decoder {
	return &Decoder{data: data, sc: sc, opts: newOptions(opts)}
}

func (d *Decoder) fail(status Status, err error) {
	if d.status != Ok {
		return
	}
	d.status, d.err = status, err
	log.Category("metarpc.wire").WithError(err).WithField("status", status.String()).Debug("decode failed")
}

// Status returns the sticky decoder status.
func (d *Decoder) Status() Status { return d.status }

// Err returns a *SerializationError once the status left Ok.
func (d *Decoder) Err() error {
	if d.status == Ok {
		return nil
	}
	return &SerializationError{Status: d.status, Err: d.err}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

func (d *Decoder) take(n int) []byte {
	if d.status != Ok {
		return nil
	}
	if d.Remaining() < n {
		d.fail(ReadPastEnd, fmt.Errorf("%w: need %d bytes, have %d", io.ErrUnexpectedEOF, n, d.Remaining()))
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

func (d *Decoder) ReadBool() bool { return d.ReadUint8() != 0 }

func (d *Decoder) ReadUint8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *Decoder) ReadUint16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *Decoder) ReadUint32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *Decoder) ReadUint64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// ReadString reads a length-prefixed string.
func (d *Decoder) ReadString() string {
	return string(d.ReadRaw())
}

// ReadRaw reads a length-prefixed buffer. The result aliases the input.
func (d *Decoder) ReadRaw() []byte {
	n := d.ReadUint32()
	return d.take(int(n))
}

// readCount reads an element count, rejecting counts the remaining input
// cannot hold when elements take at least one byte, and counts above
// maxElements otherwise.
func (d *Decoder) readCount(sized bool) int {
	n := d.ReadUint32()
	if sized && uint64(n) > uint64(d.Remaining()) {
		d.fail(ReadPastEnd, fmt.Errorf("%w: %d elements announced, %d bytes left", io.ErrUnexpectedEOF, n, d.Remaining()))
		return 0
	}
	if !sized && uint64(n) > uint64(maxElements()) {
		d.fail(ReadError, fmt.Errorf("%w: %d zero-width elements announced, limit %d", ErrTooManyElements, n, maxElements()))
		return 0
	}
	return int(n)
}

// ReadMetaObject reads the serializable form of a metaobject.
func (d *Decoder) ReadMetaObject() *meta.MetaObject {
	v := d.ReadValue(objectDataType)
	if d.status != Ok {
		return nil
	}
	data, err := typesys.As[meta.ObjectData](v)
	if err != nil {
		d.fail(ReadError, err)
		return nil
	}
	mo, err := meta.FromData(data)
	if err != nil {
		d.fail(ReadError, err)
		return nil
	}
	return mo
}

// ReadCapabilities reads a {sm} capability map.
func (d *Decoder) ReadCapabilities() CapabilityMap {
	caps := CapabilityMap{}
	v, err := typesys.Ref(&caps)
	if err != nil {
		d.fail(ReadError, err)
		return nil
	}
	d.read(v)
	if d.status != Ok {
		return nil
	}
	return caps
}

// ReadValue decodes a value of type t. It returns the invalid Value on
// failure; see Err.
func (d *Decoder) ReadValue(t typesys.Type) typesys.Value {
	if d.status != Ok {
		return typesys.Value{}
	}
	out := typesys.New(t)
	d.read(out)
	if d.status != Ok {
		return typesys.Value{}
	}
	return out
}

// read decodes into the assignable storage of v.
func (d *Decoder) read(v typesys.Value) {
	s := v.Reflect()
	switch t := v.Type().(type) {
	case typesys.IntType:
		d.readInt(t, v)
	case typesys.FloatType:
		var err error
		if t.Size() == 4 {
			err = t.SetFloat(s, float64(math.Float32frombits(d.ReadUint32())))
		} else {
			err = t.SetFloat(s, math.Float64frombits(d.ReadUint64()))
		}
		if err != nil {
			d.fail(ReadError, err)
		}
	case typesys.StringType:
		if str := d.ReadString(); d.status == Ok {
			t.Set(s, str)
		}
	case typesys.RawType:
		if b := d.ReadRaw(); d.status == Ok {
			t.Set(s, b)
		}
	case typesys.ListType:
		elem := t.ElementType()
		n := d.readCount(!zeroWidth(elem))
		for i := 0; i < n && d.status == Ok; i++ {
			el := typesys.New(elem)
			d.read(el)
			if d.status != Ok {
				return
			}
			if err := t.PushBack(s, el); err != nil {
				d.fail(ReadError, err)
			}
		}
	case typesys.MapType:
		n := d.readCount(!zeroWidth(t.KeyType()) || !zeroWidth(t.ElementType()))
		for i := 0; i < n && d.status == Ok; i++ {
			key, val := typesys.New(t.KeyType()), typesys.New(t.ElementType())
			d.read(key)
			d.read(val)
			if d.status != Ok {
				return
			}
			if err := t.Insert(s, key, val); err != nil {
				d.fail(ReadError, err)
			}
		}
	case typesys.TupleType:
		for i := range t.MemberTypes() {
			m, err := t.Get(s, i)
			if err != nil {
				d.fail(ReadError, err)
				return
			}
			d.read(m)
		}
	case typesys.OptionalType:
		if !d.ReadBool() || d.status != Ok {
			return
		}
		inner := typesys.New(t.ValueType())
		d.read(inner)
		if d.status != Ok {
			return
		}
		if err := t.Set(s, inner); err != nil {
			d.fail(ReadError, err)
		}
	case typesys.DynamicType:
		d.readDynamic(t, v)
	default:
		switch v.Kind() {
		case typesys.KindVoid:
		case typesys.KindObject:
			d.readObject(v)
		default:
			d.fail(ReadError, fmt.Errorf("%w: %s (%s)", ErrUnsupportedKind, v.Type(), v.Kind()))
		}
	}
}

func (d *Decoder) readInt(t typesys.IntType, v typesys.Value) {
	s := v.Reflect()
	var err error
	switch size := t.Size(); {
	case !t.Signed():
		var u uint64
		switch size {
		case 0, 1:
			u = uint64(d.ReadUint8())
		case 2:
			u = uint64(d.ReadUint16())
		case 4:
			u = uint64(d.ReadUint32())
		default:
			u = d.ReadUint64()
		}
		err = t.SetUint(s, u)
	case size == 1:
		err = t.SetInt(s, int64(int8(d.ReadUint8())))
	case size == 2:
		err = t.SetInt(s, int64(int16(d.ReadUint16())))
	case size == 4:
		err = t.SetInt(s, int64(int32(d.ReadUint32())))
	default:
		err = t.SetInt(s, int64(d.ReadUint64()))
	}
	if err != nil && d.status == Ok {
		d.fail(ReadError, err)
	}
}

func (d *Decoder) readDynamic(t typesys.DynamicType, v typesys.Value) {
	text := d.ReadString()
	if d.status != Ok {
		return
	}
	sig, err := signature.Parse(text)
	if err != nil {
		d.fail(ReadError, err)
		return
	}
	ct, err := typesys.FromSignature(sig)
	if err != nil {
		d.fail(ReadError, err)
		return
	}
	content := typesys.New(ct)
	d.read(content)
	if d.status == Ok {
		t.Set(v.Reflect(), content)
	}
}

func (d *Decoder) readObject(v typesys.Value) {
	if d.opts.deserialize == nil {
		d.fail(ReadError, fmt.Errorf("%w: decoding %s", ErrNoObjectCallback, v.Type()))
		return
	}
	var ref ObjectRef
	if d.sc != nil && d.sc.SharedCapability(CapMetaObjectCache, false) {
		transmit := d.ReadBool()
		var mo *meta.MetaObject
		if transmit {
			mo = d.ReadMetaObject()
		}
		id := d.ReadUint32()
		if d.status != Ok {
			return
		}
		if transmit {
			d.sc.ReceiveCacheSet(id, mo)
		} else {
			var err error
			if mo, err = d.sc.ReceiveCacheGet(id); err != nil {
				d.fail(ReadError, err)
				return
			}
		}
		ref.MetaObject = mo
	} else {
		ref.MetaObject = d.ReadMetaObject()
	}
	ref.Service = d.ReadUint32()
	ref.Object = d.ReadUint32()
	if d.sc != nil && d.sc.SharedCapability(CapObjectPtrUID, false) {
		if b := d.take(len(ref.PtrUID)); b != nil {
			copy(ref.PtrUID[:], b)
		}
	}
	if d.status != Ok || ref.IsNull() {
		return
	}

	h, err := d.opts.deserialize(ref)
	if err != nil {
		d.fail(ReadError, err)
		return
	}
	if err := v.Set(typesys.FromObject(h)); err != nil {
		d.fail(ReadError, err)
	}
}
