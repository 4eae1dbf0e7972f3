// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/metarpc/executor"
	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

type invoker func(ctx context.Context, args typesys.Values) (typesys.Value, error)

// members resolves uids to the implementation of one object.
type members interface {
	method(id uint32) (invoker, MethodThreadingModel, bool)
	signal(id uint32) (*SignalBase, bool)
	property(id uint32) (*Property, bool)
	signals() []*SignalBase
}

// core implements AnyObject over a members table. It is embedded by the
// dynamic and static object handles.
type core struct {
	mo      *meta.MetaObject
	members members
	model   ObjectThreadingModel
	uid     uuid.UUID
	log     *logrus.Entry

	initMu sync.Mutex
	strand *executor.Strand

	statsEnabled atomic.Bool
	traceEnabled atomic.Bool
	traceSeq     atomic.Uint32
	statsMu      sync.Mutex
	stats        map[uint32]*MethodStatistics
	traceSignal  *SignalBase
}

func (c *core) init(mo *meta.MetaObject, m members, model ObjectThreadingModel) {
	c.mo = mo
	c.members = m
	c.model = model
	c.uid = uuid.New()
	c.log = log.Category("metarpc.object").WithField("object", c.uid.String())
	sig, _ := builtinMetaObject().Signal(SignalTraceObject)
	c.traceSignal = NewSignal(sig.Signature)
}

// MetaObject returns the member catalog, reserved members included.
func (c *core) MetaObject() *meta.MetaObject { return c.mo }

// UID identifies the object instance.
func (c *core) UID() uuid.UUID { return c.uid }

// ThreadingModel returns the object threading model.
func (c *core) ThreadingModel() ObjectThreadingModel { return c.model }

// Strand returns the serial executor of the object, created on first use.
func (c *core) Strand() *executor.Strand {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.strand == nil {
		c.strand = executor.NewStrand()
	}
	return c.strand
}

func (c *core) signal(id uint32) (*SignalBase, bool) {
	if id == SignalTraceObject {
		return c.traceSignal, true
	}
	return c.members.signal(id)
}

// MetaCall implements AnyObject.
func (c *core) MetaCall(ctx context.Context, id uint32, args typesys.Values, callType MetaCallType, retSig signature.Signature) *future.Future[typesys.Value] {
	if ctx == nil {
		ctx = context.Background()
	}
	if isBuiltin(id) {
		v, err := c.callBuiltin(ctx, id, args)
		if err == nil {
			v, err = convertResult(v, retSig)
		}
		return settled(v, err)
	}
	inv, model, ok := c.members.method(id)
	if !ok {
		return future.Failed[typesys.Value](fmt.Errorf("%w: %d", ErrNoSuchMethod, id))
	}
	run := func(ctx context.Context, args typesys.Values) (typesys.Value, error) {
		stats, tracing := c.statsEnabled.Load(), c.traceEnabled.Load()
		var (
			start   time.Time
			traceID uint32
		)
		if stats {
			start = time.Now()
		}
		if tracing {
			traceID = c.traceSeq.Add(1)
			c.trace(ctx, traceID, id, EventCall, typesys.From(args))
		}
		v, err := inv(ctx, args)
		if stats {
			c.record(id, time.Since(start))
		}
		if err == nil {
			v, err = convertResult(v, retSig)
		}
		if tracing {
			if err != nil {
				c.trace(ctx, traceID, id, EventError, typesys.From(err.Error()))
			} else {
				c.trace(ctx, traceID, id, EventReply, v)
			}
		}
		return v, err
	}
	return c.schedule(ctx, callType, model == MethodThreadSafe, args, run)
}

func settled(v typesys.Value, err error) *future.Future[typesys.Value] {
	if err != nil {
		return future.Failed[typesys.Value](err)
	}
	return future.Ready(v)
}

func convertResult(v typesys.Value, retSig signature.Signature) (typesys.Value, error) {
	if !retSig.IsValid() || retSig.Type() == signature.Dynamic || v.Signature(false).Equal(retSig) {
		return v, nil
	}
	t, err := typesys.FromSignature(retSig)
	if err != nil {
		return typesys.Value{}, err
	}
	out, err := v.Convert(t)
	if err != nil {
		return typesys.Value{}, fmt.Errorf("result to %s: %w", retSig, err)
	}
	return out, nil
}

// schedule runs fn inline, on the object strand or on the shared pool.
// Arguments are copied once before leaving the caller's goroutine.
func (c *core) schedule(ctx context.Context, callType MetaCallType, threadSafe bool, args typesys.Values, fn invoker) *future.Future[typesys.Value] {
	serial := c.model == SingleThread && !threadSafe
	if callType != Queued {
		if !serial {
			return settled(fn(ctx, args))
		}
		if executor.InStrand(ctx, c.Strand()) {
			return settled(fn(ctx, args))
		}
	}

	p := future.NewPromise[typesys.Value](nil)
	owned := cloneValues(args)
	task := func(ctx context.Context) {
		if p.IsCancelRequested() {
			_ = p.SetCanceled()
			return
		}
		v, err := fn(ctx, owned)
		if err != nil {
			_ = p.SetError(err)
			return
		}
		_ = p.SetValue(v)
	}
	var err error
	if callType == Queued {
		err = executor.Global().Submit(ctx, task)
	} else {
		err = c.Strand().Post(ctx, task)
	}
	if err != nil {
		_ = p.SetError(err)
	}
	return p.Future()
}

func cloneValues(args typesys.Values) typesys.Values {
	out := make(typesys.Values, len(args))
	for i, a := range args {
		out[i] = a.Clone()
	}
	return out
}

// MetaPost implements AnyObject.
func (c *core) MetaPost(ctx context.Context, id uint32, args typesys.Values) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s, ok := c.signal(id); ok {
		if id != SignalTraceObject && c.traceEnabled.Load() {
			c.trace(ctx, c.traceSeq.Add(1), id, EventSignal, typesys.From(args))
		}
		s.Trigger(ctx, args)
		return
	}
	c.MetaCall(ctx, id, args, Queued, signature.Signature{}).Then(func(f *future.Future[typesys.Value]) {
		if err := f.Err(); err != nil {
			c.log.WithError(err).WithField("member", id).Warn("post failed")
		}
	})
}

// Connect implements AnyObject.
func (c *core) Connect(ctx context.Context, signalID uint32, sub *SignalSubscriber) *future.Future[SignalLink] {
	s, ok := c.signal(signalID)
	if !ok {
		return future.Failed[SignalLink](fmt.Errorf("%w: %d", ErrNoSuchSignal, signalID))
	}
	link, err := s.Connect(ctx, sub)
	if err != nil {
		return future.Failed[SignalLink](err)
	}
	return future.Ready(ObjectLink(signalID, link))
}

// Disconnect implements AnyObject.
func (c *core) Disconnect(ctx context.Context, link SignalLink) *future.Future[bool] {
	signalID, sub := link.Split()
	s, ok := c.signal(signalID)
	if !ok {
		return future.Failed[bool](fmt.Errorf("%w: %d", ErrNoSuchSignal, signalID))
	}
	removed, err := s.Disconnect(ctx, sub)
	if err != nil {
		return future.Failed[bool](err)
	}
	if !removed {
		return future.Failed[bool](fmt.Errorf("%w: %d", ErrNoSuchLink, link))
	}
	return future.Ready(true)
}

// Property implements AnyObject.
func (c *core) Property(_ context.Context, id uint32) *future.Future[typesys.Value] {
	p, ok := c.members.property(id)
	if !ok {
		return future.Failed[typesys.Value](fmt.Errorf("%w: %d", ErrNoSuchProperty, id))
	}
	return future.Ready(p.Value())
}

// SetProperty implements AnyObject.
func (c *core) SetProperty(ctx context.Context, id uint32, v typesys.Value) *future.Future[struct{}] {
	p, ok := c.members.property(id)
	if !ok {
		return future.Failed[struct{}](fmt.Errorf("%w: %d", ErrNoSuchProperty, id))
	}
	if err := p.Set(ctx, v); err != nil {
		return future.Failed[struct{}](err)
	}
	return future.Ready(struct{}{})
}

// Close disconnects every subscriber of every signal and stops the strand.
func (c *core) Close(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range append(c.members.signals(), c.traceSignal) {
		g.Go(func() error { return s.DisconnectAll(ctx) })
	}
	err := g.Wait()
	c.initMu.Lock()
	if c.strand != nil {
		c.strand.Close()
	}
	c.initMu.Unlock()
	return err
}
