// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

import (
	"fmt"

	"github.com/luxfi/metarpc/signature"
)

var scalarTypes = map[signature.Type]func() Type{
	signature.Void:    func() Type { return Void },
	signature.Bool:    func() Type { return Bool },
	signature.Int8:    func() Type { return Int8 },
	signature.UInt8:   func() Type { return UInt8 },
	signature.Int16:   func() Type { return Int16 },
	signature.UInt16:  func() Type { return UInt16 },
	signature.Int32:   func() Type { return Int32 },
	signature.UInt32:  func() Type { return UInt32 },
	signature.Int64:   func() Type { return Int64 },
	signature.UInt64:  func() Type { return UInt64 },
	signature.Float:   func() Type { return Float32 },
	signature.Double:  func() Type { return Float64 },
	signature.String:  func() Type { return String },
	signature.Raw:     func() Type { return Raw },
	signature.Dynamic: func() Type { return Dynamic },
	signature.Object:  AnyObject,
}

// FromSignature returns a descriptor for sig. Registered native tuples
// with the same signature are preferred over synthesized ones.
func FromSignature(sig signature.Signature) (Type, error) {
	if !sig.IsValid() {
		return nil, fmt.Errorf("%w: invalid signature", ErrUnknownSignature)
	}
	if mk, ok := scalarTypes[sig.Type()]; ok {
		return mk(), nil
	}
	children := make([]Type, len(sig.Children()))
	for i, c := range sig.Children() {
		t, err := FromSignature(c)
		if err != nil {
			return nil, err
		}
		children[i] = t
	}
	switch sig.Type() {
	case signature.List:
		return ListOf(children[0]), nil
	case signature.VarArgs:
		return VarArgsOf(children[0]), nil
	case signature.KwArgs:
		return MapOf(String, children[0])
	case signature.Map:
		return MapOf(children[0], children[1])
	case signature.Optional:
		return OptionalOf(children[0]), nil
	case signature.Pointer:
		return PointerOf(children[0]), nil
	case signature.Tuple:
		if t, ok := lookupSignature(sig); ok {
			return t, nil
		}
		return TupleOf(children, sig.ClassName(), sig.FieldNames())
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSignature, sig)
}

// hasDynamic reports whether sig contains a dynamic element.
func hasDynamic(sig signature.Signature) bool {
	if sig.Type() == signature.Dynamic {
		return true
	}
	for _, c := range sig.Children() {
		if hasDynamic(c) {
			return true
		}
	}
	return false
}

func resolvedSignature(v Value) signature.Signature {
	static := v.typ.Signature()
	switch t := v.typ.(type) {
	case DynamicType:
		c := t.Get(v.storage)
		if !c.IsValid() {
			return static
		}
		return resolvedSignature(c)
	case OptionalType:
		if !hasDynamic(static) || !t.HasValue(v.storage) {
			return static
		}
		inner, _ := t.Value(v.storage)
		return signature.OptionalOf(resolvedSignature(inner))
	case ListType:
		if !hasDynamic(static) {
			return static
		}
		sigs := make([]signature.Signature, t.Len(v.storage))
		for i := range sigs {
			e, _ := t.Element(v.storage, i)
			sigs[i] = resolvedSignature(e)
		}
		elem := common(sigs, t.ElementType().Signature())
		if t.Kind() == KindVarArgs {
			return signature.VarArgsOf(elem)
		}
		return signature.ListOf(elem)
	case MapType:
		if !hasDynamic(static) {
			return static
		}
		var keys, vals []signature.Signature
		t.Range(v.storage, func(k, val Value) bool {
			keys = append(keys, resolvedSignature(k))
			vals = append(vals, resolvedSignature(val))
			return true
		})
		return signature.MapOf(common(keys, t.KeyType().Signature()), common(vals, t.ElementType().Signature()))
	case TupleType:
		if !hasDynamic(static) {
			return static
		}
		sigs := make([]signature.Signature, len(t.MemberTypes()))
		for i := range sigs {
			m, _ := t.Get(v.storage, i)
			sigs[i] = resolvedSignature(m)
		}
		return signature.TupleOf(sigs, static.ClassName(), static.FieldNames())
	}
	return static
}

// common returns the most specific signature every element of sigs
// converts to, or declared when there is none.
func common(sigs []signature.Signature, declared signature.Signature) signature.Signature {
	var distinct []signature.Signature
	seen := make(map[string]bool)
	for _, s := range sigs {
		if !seen[s.String()] {
			seen[s.String()] = true
			distinct = append(distinct, s)
		}
	}
	switch len(distinct) {
	case 0:
		return declared
	case 1:
		return distinct[0]
	}
	best, bestScore := declared, 0.0
	for _, c := range distinct {
		if c.Type() == signature.Dynamic {
			continue
		}
		total := 0.0
		for _, s := range distinct {
			sc := s.IsConvertibleTo(c)
			if sc == 0 {
				total = 0
				break
			}
			total += sc
		}
		if total > bestScore {
			best, bestScore = c, total
		}
	}
	return best
}
