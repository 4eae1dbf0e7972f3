// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

// Reserved member uids present on every object.
const (
	MethodRegisterEvent   uint32 = 0
	MethodUnregisterEvent uint32 = 1
	MethodMetaObject      uint32 = 2
	MethodProperty        uint32 = 5
	MethodSetProperty     uint32 = 6
	MethodProperties      uint32 = 7
	MethodIsStatsEnabled  uint32 = 80
	MethodEnableStats     uint32 = 81
	MethodStats           uint32 = 82
	MethodClearStats      uint32 = 83
	MethodIsTraceEnabled  uint32 = 84
	MethodEnableTrace     uint32 = 85
	SignalTraceObject     uint32 = 86
)

// MinMaxSum aggregates durations in seconds.
type MinMaxSum struct {
	MinValue       float32 `meta:"minValue"`
	MaxValue       float32 `meta:"maxValue"`
	CumulatedValue float32 `meta:"cumulatedValue"`
}

func (m *MinMaxSum) push(v float32, first bool) {
	if first {
		*m = MinMaxSum{MinValue: v, MaxValue: v, CumulatedValue: v}
		return
	}
	m.MinValue = min(m.MinValue, v)
	m.MaxValue = max(m.MaxValue, v)
	m.CumulatedValue += v
}

// MethodStatistics counts calls of one method and their wall time.
type MethodStatistics struct {
	Count uint32    `meta:"count"`
	Wall  MinMaxSum `meta:"wall"`
}

// EventKind classifies a trace event.
type EventKind int32

const (
	EventCall EventKind = iota
	EventReply
	EventError
	// EventSignal records a signal triggered through MetaPost.
	EventSignal
)

// EventTrace is emitted on the traceObject signal for every call and
// posted signal while tracing is enabled.
type EventTrace struct {
	ID        uint32        `meta:"id"`
	Kind      int32         `meta:"kind"`
	SlotID    uint32        `meta:"slotId"`
	Arguments typesys.Value `meta:"arguments"`
	Timestamp int64         `meta:"timestamp"`
}

var builtinMetaObject = sync.OnceValue(func() *meta.MetaObject {
	mo := meta.New("")
	method := func(id uint32, name, params string, ret signature.Signature) {
		if _, err := mo.AddMethod(name, signature.MustParse(params), ret, meta.WithID(id)); err != nil {
			panic(err)
		}
	}
	sig := signature.MustParse
	method(MethodRegisterEvent, "registerEvent", "(IIL)", sig("L"))
	method(MethodUnregisterEvent, "unregisterEvent", "(IIL)", sig("v"))
	method(MethodMetaObject, "metaObject", "(I)", typesys.TypeOf[meta.ObjectData]().Signature())
	method(MethodProperty, "property", "(m)", sig("m"))
	method(MethodSetProperty, "setProperty", "(mm)", sig("v"))
	method(MethodProperties, "properties", "()", sig("[s]"))
	method(MethodIsStatsEnabled, "isStatsEnabled", "()", sig("b"))
	method(MethodEnableStats, "enableStats", "(b)", sig("v"))
	method(MethodStats, "stats", "()", typesys.TypeOf[map[uint32]MethodStatistics]().Signature())
	method(MethodClearStats, "clearStats", "()", sig("v"))
	method(MethodIsTraceEnabled, "isTraceEnabled", "()", sig("b"))
	method(MethodEnableTrace, "enableTrace", "(b)", sig("v"))
	traceSig := signature.TupleOf([]signature.Signature{typesys.TypeOf[EventTrace]().Signature()}, "", nil)
	if _, err := mo.AddSignal("traceObject", traceSig, meta.WithID(SignalTraceObject)); err != nil {
		panic(err)
	}
	return mo
})

// withBuiltins merges the reserved members into mo.
func withBuiltins(mo *meta.MetaObject) (*meta.MetaObject, error) {
	merged, ok := meta.Merge(builtinMetaObject(), mo)
	if !ok {
		return nil, fmt.Errorf("%w: member uid conflicts with a reserved member", meta.ErrDuplicateMember)
	}
	return merged, nil
}

func isBuiltin(id uint32) bool {
	_, ok := builtinMetaObject().Method(id)
	return ok
}

func arity(args typesys.Values, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrArity, n, len(args))
	}
	return nil
}

func (c *core) callBuiltin(ctx context.Context, id uint32, args typesys.Values) (typesys.Value, error) {
	switch id {
	case MethodMetaObject:
		if err := arity(args, 1); err != nil {
			return typesys.Value{}, err
		}
		return typesys.From(c.mo.Data()), nil
	case MethodProperty:
		if err := arity(args, 1); err != nil {
			return typesys.Value{}, err
		}
		pid, err := c.propertyKey(args[0])
		if err != nil {
			return typesys.Value{}, err
		}
		return c.Property(ctx, pid).Wait(ctx)
	case MethodSetProperty:
		if err := arity(args, 2); err != nil {
			return typesys.Value{}, err
		}
		pid, err := c.propertyKey(args[0])
		if err != nil {
			return typesys.Value{}, err
		}
		if _, err := c.SetProperty(ctx, pid, args[1].Content()).Wait(ctx); err != nil {
			return typesys.Value{}, err
		}
		return typesys.VoidValue(), nil
	case MethodProperties:
		var names []string
		for _, p := range c.mo.Properties() {
			names = append(names, p.Name)
		}
		slices.Sort(names)
		return typesys.From(names), nil
	case MethodIsStatsEnabled:
		return typesys.From(c.statsEnabled.Load()), nil
	case MethodEnableStats:
		on, err := boolArg(args)
		if err != nil {
			return typesys.Value{}, err
		}
		c.statsEnabled.Store(on)
		return typesys.VoidValue(), nil
	case MethodStats:
		return typesys.From(c.Stats()), nil
	case MethodClearStats:
		c.ClearStats()
		return typesys.VoidValue(), nil
	case MethodIsTraceEnabled:
		return typesys.From(c.traceEnabled.Load()), nil
	case MethodEnableTrace:
		on, err := boolArg(args)
		if err != nil {
			return typesys.Value{}, err
		}
		c.traceEnabled.Store(on)
		return typesys.VoidValue(), nil
	}
	return typesys.Value{}, fmt.Errorf("%w: %d", ErrNoSuchMethod, id)
}

func boolArg(args typesys.Values) (bool, error) {
	if err := arity(args, 1); err != nil {
		return false, err
	}
	v, err := args[0].Content().Convert(typesys.Bool)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

// propertyKey accepts a property name or uid.
func (c *core) propertyKey(v typesys.Value) (uint32, error) {
	v = v.Content()
	if v.Kind() == typesys.KindString {
		name, err := v.Str()
		if err != nil {
			return 0, err
		}
		id, ok := c.mo.PropertyID(name)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrNoSuchProperty, name)
		}
		return id, nil
	}
	id, err := v.Convert(typesys.UInt32)
	if err != nil {
		return 0, err
	}
	n, err := id.Uint()
	return uint32(n), err
}

func (c *core) record(id uint32, d time.Duration) {
	secs := float32(d.Seconds())
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.stats == nil {
		c.stats = make(map[uint32]*MethodStatistics)
	}
	s, ok := c.stats[id]
	if !ok {
		s = &MethodStatistics{}
		c.stats[id] = s
	}
	s.Wall.push(secs, s.Count == 0)
	s.Count++
}

// Stats returns a snapshot of the per-method statistics.
func (c *core) Stats() map[uint32]MethodStatistics {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[uint32]MethodStatistics, len(c.stats))
	for id, s := range c.stats {
		out[id] = *s
	}
	return out
}

// ClearStats drops the collected statistics.
func (c *core) ClearStats() {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats = nil
}

func (c *core) trace(ctx context.Context, traceID, slot uint32, kind EventKind, arg typesys.Value) {
	if !c.traceSignal.HasSubscribers() {
		return
	}
	ev := EventTrace{ID: traceID, Kind: int32(kind), SlotID: slot, Arguments: arg, Timestamp: time.Now().UnixMicro()}
	c.traceSignal.Trigger(ctx, typesys.Values{typesys.From(ev)})
}
