// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"reflect"

	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

var (
	contextGoType = reflect.TypeFor[context.Context]()
	errorGoType   = reflect.TypeFor[error]()
	valuesGoType  = reflect.TypeFor[typesys.Values]()
	valueGoType   = reflect.TypeFor[typesys.Value]()
)

// Callable adapts a Go function to type-erased calls. The function may
// take a leading context.Context, may return a trailing error, and
// returns at most one other value. A variadic last parameter accepts any
// number of trailing arguments; a sole typesys.Values parameter receives
// the arguments untouched.
type Callable struct {
	fn       reflect.Value
	receiver bool
	ctxArg   bool
	rawArgs  bool
	variadic bool
	params   []typesys.Type
	ret      typesys.Type
	errRet   bool

	paramsSig signature.Signature
}

// NewCallable wraps fn, which must be a func.
func NewCallable(fn any) (*Callable, error) {
	return newCallable(reflect.ValueOf(fn), false)
}

// MustCallable is NewCallable that panics on error.
func MustCallable(fn any) *Callable {
	c, err := NewCallable(fn)
	if err != nil {
		panic(err)
	}
	return c
}

// newCallable wraps fn. With receiver set, the first parameter is the
// receiver and is not part of the signature.
func newCallable(fn reflect.Value, receiver bool) (*Callable, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, fmt.Errorf("%w: %v", ErrNotCallable, fn)
	}
	ft := fn.Type()
	c := &Callable{fn: fn, receiver: receiver, variadic: ft.IsVariadic()}

	in := 0
	if receiver {
		if ft.NumIn() == 0 {
			return nil, fmt.Errorf("%w: method %v has no receiver", ErrNotCallable, ft)
		}
		in++
	}
	if in < ft.NumIn() && ft.In(in) == contextGoType {
		c.ctxArg = true
		in++
	}
	if ft.NumIn()-in == 1 && ft.In(in) == valuesGoType && !c.variadic {
		c.rawArgs = true
		c.params = []typesys.Type{typesys.VarArgsOf(typesys.Dynamic)}
	} else {
		for i := in; i < ft.NumIn(); i++ {
			pt := ft.In(i)
			if c.variadic && i == ft.NumIn()-1 {
				c.params = append(c.params, typesys.VarArgsOf(typesys.TypeOfReflect(pt.Elem())))
				continue
			}
			c.params = append(c.params, typesys.TypeOfReflect(pt))
		}
	}

	out := ft.NumOut()
	if out > 0 && ft.Out(out-1) == errorGoType {
		c.errRet = true
		out--
	}
	switch out {
	case 0:
		c.ret = typesys.Void
	case 1:
		c.ret = typesys.TypeOfReflect(ft.Out(0))
	default:
		return nil, fmt.Errorf("%w: %v returns more than one value", ErrNotCallable, ft)
	}

	sigs := make([]signature.Signature, len(c.params))
	for i, p := range c.params {
		sigs[i] = p.Signature()
	}
	c.paramsSig = signature.TupleOf(sigs, "", nil)
	return c, nil
}

// ParametersSignature is the tuple signature of the parameters.
func (c *Callable) ParametersSignature() signature.Signature { return c.paramsSig }

// ReturnSignature is the signature of the result, "v" for none.
func (c *Callable) ReturnSignature() signature.Signature { return c.ret.Signature() }

// ParameterTypes returns the parameter descriptors.
func (c *Callable) ParameterTypes() []typesys.Type { return c.params }

// Call converts args to the parameter types and invokes the function.
func (c *Callable) Call(ctx context.Context, args typesys.Values) (typesys.Value, error) {
	return c.call(ctx, reflect.Value{}, args)
}

func (c *Callable) call(ctx context.Context, recv reflect.Value, args typesys.Values) (res typesys.Value, err error) {
	in := make([]reflect.Value, 0, len(args)+2)
	if c.receiver {
		in = append(in, recv)
	}
	if c.ctxArg {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	in, err = c.bind(in, args)
	if err != nil {
		return typesys.Value{}, err
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = typesys.Value{}, fmt.Errorf("%w: %v", ErrCallPanicked, r)
		}
	}()
	out := c.fn.Call(in)

	if c.errRet {
		if e := out[len(out)-1]; !e.IsNil() {
			return typesys.Value{}, e.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return typesys.VoidValue(), nil
	}
	if out[0].Type() == valueGoType {
		return out[0].Interface().(typesys.Value), nil
	}
	v := typesys.New(c.ret)
	v.Reflect().Set(out[0])
	return v, nil
}

func (c *Callable) bind(in []reflect.Value, args typesys.Values) ([]reflect.Value, error) {
	if c.rawArgs {
		return append(in, reflect.ValueOf(args)), nil
	}
	fixed := len(c.params)
	if c.variadic {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("%w: want at least %d, got %d", ErrArity, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArity, fixed, len(args))
	}
	for i := range fixed {
		v, err := args[i].Convert(c.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v.Reflect())
	}
	if c.variadic {
		elem := c.params[fixed].(typesys.ListType).ElementType()
		for i := fixed; i < len(args); i++ {
			v, err := args[i].Convert(elem)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			in = append(in, v.Reflect())
		}
	}
	return in, nil
}
