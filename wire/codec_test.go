// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

type point struct {
	X     int32
	Y     int32
	Label string
}

type stubObject struct {
	mo  *meta.MetaObject
	id  uint32
	uid uuid.UUID
}

func (s *stubObject) MetaObject() *meta.MetaObject { return s.mo }

func newStub(t *testing.T, name string, id uint32) *stubObject {
	t.Helper()
	mo := meta.New(name)
	_, err := mo.AddMethod("ping", signature.MustParse("(s)"), signature.MustParse("s"))
	require.NoError(t, err)
	return &stubObject{mo: mo, id: id, uid: uuid.New()}
}

func serializeStub(h typesys.ObjectHandle) (ObjectRef, error) {
	s := h.(*stubObject)
	return ObjectRef{MetaObject: s.mo, Service: 1, Object: s.id, PtrUID: s.uid}, nil
}

func TestEncodeLayout(t *testing.T) {
	tests := []struct {
		name string
		v    typesys.Value
		want []byte
	}{
		{"bool", typesys.From(true), []byte{1}},
		{"int8", typesys.From(int8(-2)), []byte{0xfe}},
		{"uint16", typesys.From(uint16(0x0102)), []byte{2, 1}},
		{"int32", typesys.From(int32(1)), []byte{1, 0, 0, 0}},
		{"int64", typesys.From(int64(-1)), []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"float32", typesys.From(float32(1)), []byte{0, 0, 0x80, 0x3f}},
		{"string", typesys.From("ab"), []byte{2, 0, 0, 0, 'a', 'b'}},
		{"raw", typesys.From([]byte{9}), []byte{1, 0, 0, 0, 9}},
		{"empty list", typesys.From([]int16{}), []byte{0, 0, 0, 0}},
		{"list of strings", typesys.From([]string{"a"}), []byte{1, 0, 0, 0, 1, 0, 0, 0, 'a'}},
		{"map", typesys.From(map[uint8]bool{2: true, 1: false}), []byte{2, 0, 0, 0, 1, 0, 2, 1}},
		{"tuple", typesys.From(point{X: 1, Y: 2}), []byte{1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0}},
		{"optional set", typesys.From(typesys.Some(int8(3))), []byte{1, 3}},
		{"optional empty", typesys.From(typesys.None[int8]()), []byte{0}},
		{"dynamic", typesys.Wrap(typesys.From(int32(7))), []byte{1, 0, 0, 0, 'i', 7, 0, 0, 0}},
		{"empty dynamic", typesys.New(typesys.Dynamic), []byte{1, 0, 0, 0, 'v'}},
		{"void", typesys.VoidValue(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			b, err := Encode(nil, tt.v)
			r.NoError(err)
			r.Equal(tt.want, b)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	r := require.New(t)
	check := func(v typesys.Value) typesys.Value {
		b, err := Encode(nil, v)
		r.NoError(err)
		out, err := Decode(nil, b, v.Type())
		r.NoError(err)
		r.True(typesys.Equal(v, out), "%s != %s", v, out)
		return out
	}

	check(typesys.From(int16(-300)))
	check(typesys.From(uint64(1) << 63))
	check(typesys.From(3.5))
	check(typesys.From(point{X: -1, Y: 1 << 20, Label: "p"}))
	check(typesys.From(map[string][]int64{"a": {1, 2}, "b": nil}))
	check(typesys.From([]typesys.Optional[string]{typesys.Some("x"), typesys.None[string]()}))

	out := check(typesys.Wrap(typesys.From([]int32{4, 5})))
	got, err := typesys.As[[]int32](out.Content())
	r.NoError(err)
	r.Equal([]int32{4, 5}, got)

	// dynamic tuples keep their member names
	out = check(typesys.Wrap(typesys.From(point{X: 3, Label: "q"})))
	p, err := typesys.As[point](out.Content())
	r.NoError(err)
	r.Equal(point{X: 3, Label: "q"}, p)
}

func TestDecodeErrors(t *testing.T) {
	r := require.New(t)

	_, err := Decode(nil, []byte{1, 0}, typesys.Int32)
	var se *SerializationError
	r.ErrorAs(err, &se)
	r.Equal(ReadPastEnd, se.Status)

	_, err = Decode(nil, []byte{1, 0, 0, 0, 0}, typesys.Int32)
	r.ErrorAs(err, &se)
	r.Equal(ReadError, se.Status)
	r.ErrorIs(err, ErrTrailingData)

	// string longer than the input
	_, err = Decode(nil, []byte{9, 0, 0, 0, 'a'}, typesys.String)
	r.ErrorAs(err, &se)
	r.Equal(ReadPastEnd, se.Status)

	// element count larger than the input
	_, err = Decode(nil, []byte{0xff, 0xff, 0xff, 0x7f}, typesys.ListOf(typesys.Int32))
	r.ErrorAs(err, &se)
	r.Equal(ReadPastEnd, se.Status)

	// bad dynamic signature
	_, err = Decode(nil, []byte{1, 0, 0, 0, '['}, typesys.Dynamic)
	r.ErrorAs(err, &se)
	r.Equal(ReadError, se.Status)
	r.ErrorIs(err, signature.ErrInvalid)

	// out of range boolean
	_, err = Decode(nil, []byte{2}, typesys.Bool)
	r.ErrorIs(err, typesys.ErrOutOfRange)
}

func TestZeroWidthElementsAreBounded(t *testing.T) {
	r := require.New(t)
	voids := typesys.ListOf(typesys.Void)

	v, err := Decode(nil, []byte{3, 0, 0, 0}, voids)
	r.NoError(err)
	r.Equal(3, v.Len())

	// 2^28 and 2^32-1 elements from a four byte payload
	for _, data := range [][]byte{{0, 0, 0, 0x10}, {0xff, 0xff, 0xff, 0xff}} {
		start := time.Now()
		_, err = Decode(nil, data, voids)
		var se *SerializationError
		r.ErrorAs(err, &se)
		r.Equal(ReadError, se.Status)
		r.ErrorIs(err, ErrTooManyElements)
		r.Less(time.Since(start), time.Second)
	}

	empty, err := typesys.TupleOf(nil, "", nil)
	r.NoError(err)
	_, err = Decode(nil, []byte{0xff, 0xff, 0xff, 0xff}, typesys.ListOf(empty))
	r.ErrorIs(err, ErrTooManyElements)
}

func TestStatusIsSticky(t *testing.T) {
	r := require.New(t)
	d := NewDecoder(nil, []byte{1, 2})
	r.Zero(d.ReadUint32())
	r.Equal(ReadPastEnd, d.Status())
	r.Zero(d.ReadUint8())
	r.Equal(2, d.Remaining())
	r.False(d.ReadValue(typesys.Bool).IsValid())

	e := NewEncoder(nil)
	e.WriteValue(typesys.From(new(int32)))
	r.Equal(WriteError, e.Status())
	e.WriteUint32(1)
	r.Empty(e.Bytes())
	r.ErrorIs(e.Err(), ErrUnsupportedKind)

	e.Reset()
	e.WriteUint32(1)
	r.NoError(e.Err())
	r.Len(e.Bytes(), 4)
}

func TestUnsupportedKinds(t *testing.T) {
	r := require.New(t)
	for _, v := range []typesys.Value{
		typesys.From(new(int32)),
		typesys.From(func() {}),
		typesys.From(make(chan int)),
	} {
		_, err := Encode(nil, v)
		var se *SerializationError
		r.ErrorAs(err, &se)
		r.Equal(WriteError, se.Status)
		r.ErrorIs(err, ErrUnsupportedKind)
	}
	_, err := Decode(nil, nil, typesys.PointerOf(typesys.Int32))
	r.ErrorIs(err, ErrUnsupportedKind)
}

func TestMetaObjectRoundTrip(t *testing.T) {
	r := require.New(t)
	mo := meta.New("service")
	_, err := mo.AddMethod("sum", signature.MustParse("(ii)"), signature.MustParse("i"),
		meta.WithDescription("adds"))
	r.NoError(err)
	_, err = mo.AddSignal("changed", signature.MustParse("(s)"))
	r.NoError(err)
	_, err = mo.AddProperty("level", signature.MustParse("i"))
	r.NoError(err)

	b, err := EncodeMetaObject(mo)
	r.NoError(err)
	back, err := DecodeMetaObject(b)
	r.NoError(err)
	r.True(mo.Equal(back))
	r.Equal(mo.Hash(), back.Hash())

	_, err = DecodeMetaObject(b[:len(b)-1])
	r.Error(err)
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	r := require.New(t)
	caps := DefaultCapabilities()
	caps["Name"] = typesys.From("peer")
	b, err := EncodeCapabilities(caps)
	r.NoError(err)
	back, err := DecodeCapabilities(b)
	r.NoError(err)
	r.Len(back, len(caps))
	r.True(back.Bool(CapObjectPtrUID, false))
	r.False(back.Bool(CapMetaObjectCache, true))
	name, err := back["Name"].Str()
	r.NoError(err)
	r.Equal("peer", name)
}

func TestObjectNeedsCallbacks(t *testing.T) {
	r := require.New(t)
	obj := newStub(t, "svc", 3)
	_, err := Encode(nil, typesys.FromObject(obj))
	r.ErrorIs(err, ErrNoObjectCallback)

	b, err := Encode(nil, typesys.FromObject(obj), WithObjectSerializer(serializeStub))
	r.NoError(err)
	_, err = Decode(nil, b, typesys.AnyObject())
	r.ErrorIs(err, ErrNoObjectCallback)
}

// peers returns the stream contexts of both ends of a connection where
// every capability in shared is enabled on both sides.
func peers(shared ...string) (*StreamContext, *StreamContext) {
	caps := DefaultCapabilities()
	caps[CapMetaObjectCache] = typesys.From(false)
	caps[CapObjectPtrUID] = typesys.From(false)
	for _, k := range shared {
		caps[k] = typesys.From(true)
	}
	a, b := NewStreamContextWith(caps), NewStreamContextWith(caps)
	a.UpdateRemoteCapabilities(caps)
	b.UpdateRemoteCapabilities(caps)
	return a, b
}

func TestObjectRoundTrip(t *testing.T) {
	r := require.New(t)
	obj := newStub(t, "svc", 3)
	sender, receiver := peers()

	b, err := Encode(sender, typesys.FromObject(obj), WithObjectSerializer(serializeStub))
	r.NoError(err)

	var got ObjectRef
	deserialize := WithObjectDeserializer(func(ref ObjectRef) (typesys.ObjectHandle, error) {
		got = ref
		return &stubObject{mo: ref.MetaObject, id: ref.Object}, nil
	})
	v, err := Decode(receiver, b, typesys.AnyObject(), deserialize)
	r.NoError(err)
	r.Equal(uint32(1), got.Service)
	r.Equal(uint32(3), got.Object)
	r.True(obj.mo.Equal(got.MetaObject))
	r.Equal(uuid.Nil, got.PtrUID)

	h, err := v.Object()
	r.NoError(err)
	r.True(obj.mo.Equal(h.MetaObject()))

	// null objects carry no identity and skip the callback
	var none typesys.ObjectHandle
	b, err = Encode(sender, typesys.FromObject(none), WithObjectSerializer(serializeStub))
	r.NoError(err)
	got = ObjectRef{}
	v, err = Decode(receiver, b, typesys.AnyObject(), deserialize)
	r.NoError(err)
	r.Nil(v.Interface())
	r.True(got.IsNull())
}

func TestMetaObjectSentOnce(t *testing.T) {
	r := require.New(t)
	a, b := newStub(t, "svc", 3), newStub(t, "svc", 4)
	sender, receiver := peers(CapMetaObjectCache)
	opt := WithObjectSerializer(serializeStub)

	first, err := Encode(sender, typesys.FromObject(a), opt)
	r.NoError(err)
	second, err := Encode(sender, typesys.FromObject(b), opt)
	r.NoError(err)
	r.Equal(byte(1), first[0])
	r.Equal(byte(0), second[0])
	r.Len(second, 1+4+4+4)

	var refs []ObjectRef
	deserialize := WithObjectDeserializer(func(ref ObjectRef) (typesys.ObjectHandle, error) {
		refs = append(refs, ref)
		return &stubObject{mo: ref.MetaObject}, nil
	})

	// a receiver that never saw the first message misses the cache
	fresh := NewStreamContextWith(receiver.LocalCapabilities())
	fresh.UpdateRemoteCapabilities(receiver.RemoteCapabilities())
	_, err = Decode(fresh, second, typesys.AnyObject(), deserialize)
	r.ErrorIs(err, ErrMetaObjectNotInCache)
	var se *SerializationError
	r.ErrorAs(err, &se)
	r.Equal(ReadError, se.Status)

	_, err = Decode(receiver, first, typesys.AnyObject(), deserialize)
	r.NoError(err)
	_, err = Decode(receiver, second, typesys.AnyObject(), deserialize)
	r.NoError(err)
	r.Len(refs, 2)
	r.Same(refs[0].MetaObject, refs[1].MetaObject)
	r.Equal(uint32(4), refs[1].Object)
}

func TestObjectPtrUID(t *testing.T) {
	r := require.New(t)
	obj := newStub(t, "svc", 3)
	opt := WithObjectSerializer(serializeStub)

	plainSender, _ := peers()
	plain, err := Encode(plainSender, typesys.FromObject(obj), opt)
	r.NoError(err)

	sender, receiver := peers(CapObjectPtrUID)
	withUID, err := Encode(sender, typesys.FromObject(obj), opt)
	r.NoError(err)
	r.Len(withUID, len(plain)+16)

	var got uuid.UUID
	_, err = Decode(receiver, withUID, typesys.AnyObject(), WithObjectDeserializer(func(ref ObjectRef) (typesys.ObjectHandle, error) {
		got = ref.PtrUID
		return obj, nil
	}))
	r.NoError(err)
	r.Equal(obj.uid, got)
}

func BenchmarkRoundTrip(b *testing.B) {
	v := typesys.From(map[string]point{
		"origin": {},
		"north":  {Y: 1, Label: "n"},
		"east":   {X: 1, Label: "e"},
	})
	t := v.Type()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		data, err := Encode(nil, v)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Decode(nil, data, t); err != nil {
			b.Fatal(err)
		}
	}
}
