// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/metarpc/executor"
	"github.com/luxfi/metarpc/signature"
)

func TestTriggerAndSelfDisconnect(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewSignal(signature.MustParse("(i)"))

	var (
		got  [3][]int32
		subs [3]*SignalSubscriber
	)
	for i := range 3 {
		sub, err := NewSubscriber(func(ctx context.Context, v int32) {
			got[i] = append(got[i], v)
			if i == 1 {
				ok, err := subs[1].Disconnect(ctx)
				r.NoError(err)
				r.True(ok)
			}
		})
		r.NoError(err)
		subs[i] = sub
		link, err := s.Connect(ctx, sub)
		r.NoError(err)
		r.Equal(link, sub.Link())
	}

	s.Emit(ctx, 42)
	r.Equal([]int32{42}, got[0])
	r.Equal([]int32{42}, got[1])
	r.Equal([]int32{42}, got[2])
	r.False(subs[1].Enabled())

	s.Emit(ctx, 7)
	r.Equal([]int32{42, 7}, got[0])
	r.Equal([]int32{42}, got[1])
	r.Equal([]int32{42, 7}, got[2])

	// links are unique and never reused
	r.NotEqual(subs[0].Link(), subs[2].Link())
	ok, err := s.Disconnect(ctx, subs[1].Link())
	r.NoError(err)
	r.False(ok)
}

func TestConnectValidation(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewSignal(signature.MustParse("(i)"))

	_, err := s.ConnectFunc(ctx, func([]string) {})
	r.ErrorIs(err, ErrSignatureMismatch)
	r.False(s.HasSubscribers())

	// variadic subscribers accept anything
	_, err = s.ConnectFunc(ctx, func(...string) {})
	r.NoError(err)

	sub, err := NewSubscriber(func(int64) {})
	r.NoError(err)
	_, err = s.Connect(ctx, sub)
	r.NoError(err)
	_, err = s.Connect(ctx, sub)
	r.ErrorIs(err, ErrAlreadyConnected)
}

func TestOnSubscribersTransitions(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	var s SignalBase
	var transitions []bool
	s.SetOnSubscribers(func(_ context.Context, has bool) error {
		transitions = append(transitions, has)
		return nil
	})

	a, err := s.ConnectFunc(ctx, func() {})
	r.NoError(err)
	b, err := s.ConnectFunc(ctx, func() {})
	r.NoError(err)
	_, err = s.Disconnect(ctx, a)
	r.NoError(err)
	_, err = s.Disconnect(ctx, b)
	r.NoError(err)
	r.Equal([]bool{true, false}, transitions)

	refused := errors.New("refused")
	s.SetOnSubscribers(func(context.Context, bool) error { return refused })
	_, err = s.ConnectFunc(ctx, func() {})
	r.ErrorIs(err, refused)
	r.False(s.HasSubscribers())
}

func TestQueuedAndStrandDelivery(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewSignal(signature.MustParse("(s)"))

	queued := make(chan string, 1)
	sub, err := NewSubscriber(func(v string) { queued <- v })
	r.NoError(err)
	_, err = s.Connect(ctx, sub.WithCallType(Queued))
	r.NoError(err)

	strand := executor.NewStrand()
	var (
		mu       sync.Mutex
		inStrand bool
	)
	serial := make(chan string, 1)
	sub, err = NewSubscriber(func(ctx context.Context, v string) {
		mu.Lock()
		inStrand = executor.InStrand(ctx, strand)
		mu.Unlock()
		serial <- v
	})
	r.NoError(err)
	_, err = s.Connect(ctx, sub.WithStrand(strand))
	r.NoError(err)

	s.Emit(ctx, "hello")
	for _, ch := range []chan string{queued, serial} {
		select {
		case v := <-ch:
			r.Equal("hello", v)
		case <-time.After(time.Second):
			r.FailNow("delivery timed out")
		}
	}
	mu.Lock()
	r.True(inStrand)
	mu.Unlock()
}

func TestSubscriberFailureIsContained(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	var s SignalBase
	_, err := s.ConnectFunc(ctx, func() { panic("subscriber bug") })
	r.NoError(err)
	_, err = s.ConnectFunc(ctx, func() error { return errors.New("failed") })
	r.NoError(err)
	called := false
	_, err = s.ConnectFunc(ctx, func() { called = true })
	r.NoError(err)
	s.Trigger(ctx, nil)
	r.True(called)
}

func TestObjectLink(t *testing.T) {
	r := require.New(t)
	l := ObjectLink(120, SignalLink(77))
	sig, sub := l.Split()
	r.Equal(uint32(120), sig)
	r.Equal(SignalLink(77), sub)
}

func TestLinksSkipHeldAfterWrap(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	saved := linkSeq.Load()
	defer linkSeq.Store(saved)

	var s SignalBase
	linkSeq.Store(0)
	first, err := s.ConnectFunc(ctx, func() {})
	r.NoError(err)
	r.Equal(SignalLink(1), first)

	linkSeq.Store(math.MaxUint32)
	second, err := s.ConnectFunc(ctx, func() {})
	r.NoError(err)
	r.Equal(SignalLink(2), second)
}
