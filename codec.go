// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"errors"
	"fmt"

	"github.com/luxfi/metarpc/typesys"
	"github.com/luxfi/metarpc/wire"
)

var ErrBadPayload = errors.New("metarpc: malformed payload")

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

// encodeArgs packs args into a dynamic tuple so the receiver learns their
// signature from the payload itself.
func encodeArgs(sc *wire.StreamContext, args typesys.Values, opts ...wire.Option) ([]byte, error) {
	types := make([]typesys.Type, len(args))
	for i, a := range args {
		if !a.IsValid() {
			return nil, fmt.Errorf("%w: argument %d is invalid", ErrBadPayload, i)
		}
		types[i] = a.Type()
	}
	tt, err := typesys.TupleOf(types, "", nil)
	if err != nil {
		return nil, err
	}
	tuple := typesys.New(tt)
	for i, a := range args {
		if err := tt.Set(tuple.Reflect(), i, a); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return wire.Encode(sc, typesys.Wrap(tuple), opts...)
}

func decodeArgs(sc *wire.StreamContext, payload []byte, opts ...wire.Option) (typesys.Values, error) {
	v, err := wire.Decode(sc, payload, typesys.Dynamic, opts...)
	if err != nil {
		return nil, err
	}
	content := v.Content()
	if content.Kind() != typesys.KindTuple {
		return nil, fmt.Errorf("%w: arguments are %s, not a tuple", ErrBadPayload, content.Type())
	}
	out := make(typesys.Values, content.Len())
	for i := range out {
		if out[i], err = content.Element(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// encodeResult wraps v in a dynamic. The invalid Value is sent as void.
func encodeResult(sc *wire.StreamContext, v typesys.Value, opts ...wire.Option) ([]byte, error) {
	return wire.Encode(sc, typesys.Wrap(v), opts...)
}

func decodeResult(sc *wire.StreamContext, payload []byte, opts ...wire.Option) (typesys.Value, error) {
	v, err := wire.Decode(sc, payload, typesys.Dynamic, opts...)
	if err != nil {
		return typesys.Value{}, err
	}
	return v.Content(), nil
}

func encodeError(err error) []byte {
	b, encErr := wire.Encode(nil, typesys.From(err.Error()))
	if encErr != nil {
		return nil
	}
	return b
}

func decodeError(payload []byte) error {
	v, err := wire.Decode(nil, payload, typesys.String)
	if err != nil {
		return fmt.Errorf("%w: error reply: %w", ErrBadPayload, err)
	}
	msg, err := v.Str()
	if err != nil {
		return err
	}
	return &RemoteError{Message: msg}
}
