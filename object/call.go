// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"strings"

	"github.com/luxfi/metarpc/future"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

// Values converts Go arguments. typesys.Value arguments are passed as is
// and AnyObject arguments become object values.
func Values(args ...any) typesys.Values {
	out := make(typesys.Values, len(args))
	for i, a := range args {
		switch a := a.(type) {
		case typesys.Value:
			out[i] = a
		case AnyObject:
			out[i] = typesys.FromObject(a)
		default:
			out[i] = typesys.From(a)
		}
	}
	return out
}

// ResolveMethod finds the uid of method on obj. name is either a plain
// name, resolved against args, or an exact "name::(params)".
func ResolveMethod(obj AnyObject, name string, args typesys.Values) (uint32, error) {
	mo := obj.MetaObject()
	if strings.Contains(name, "::") {
		if id, ok := mo.MethodID(name); ok {
			return id, nil
		}
	}
	id, err := mo.ResolveMethod(name, args)
	if err != nil {
		log.Category("metarpc.object").WithError(err).Debug("method resolution failed")
		return 0, err
	}
	return id, nil
}

// Call invokes method name on obj.
func Call(ctx context.Context, obj AnyObject, name string, args ...any) *future.Future[typesys.Value] {
	vals := Values(args...)
	id, err := ResolveMethod(obj, name, vals)
	if err != nil {
		return future.Failed[typesys.Value](err)
	}
	return obj.MetaCall(ctx, id, vals, Auto, signature.Signature{})
}

// CallAs invokes method name and converts the result to T.
func CallAs[T any](ctx context.Context, obj AnyObject, name string, args ...any) (T, error) {
	v, err := Call(ctx, obj, name, args...).Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return typesys.As[T](v)
}

// Post triggers signal name, or calls method name in the background.
func Post(ctx context.Context, obj AnyObject, name string, args ...any) error {
	vals := Values(args...)
	if id, ok := obj.MetaObject().SignalID(name); ok {
		obj.MetaPost(ctx, id, vals)
		return nil
	}
	id, err := ResolveMethod(obj, name, vals)
	if err != nil {
		return err
	}
	obj.MetaPost(ctx, id, vals)
	return nil
}

// ConnectFunc subscribes fn to signal name of obj.
func ConnectFunc(ctx context.Context, obj AnyObject, name string, fn any) (SignalLink, error) {
	id, ok := obj.MetaObject().SignalID(name)
	if !ok {
		return InvalidLink, fmt.Errorf("%w: %q", ErrNoSuchSignal, name)
	}
	sub, err := NewSubscriber(fn)
	if err != nil {
		return InvalidLink, err
	}
	return obj.Connect(ctx, id, sub).Wait(ctx)
}

// GetProperty reads property name of obj as T.
func GetProperty[T any](ctx context.Context, obj AnyObject, name string) (T, error) {
	var zero T
	id, ok := obj.MetaObject().PropertyID(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNoSuchProperty, name)
	}
	v, err := obj.Property(ctx, id).Wait(ctx)
	if err != nil {
		return zero, err
	}
	return typesys.As[T](v)
}

// SetProperty writes property name of obj.
func SetProperty(ctx context.Context, obj AnyObject, name string, v any) error {
	id, ok := obj.MetaObject().PropertyID(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchProperty, name)
	}
	_, err := obj.SetProperty(ctx, id, Values(v)[0]).Wait(ctx)
	return err
}
