// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package typesys

// Less is a strict weak order over values of any types. Values of the same
// type use the descriptor order and numbers compare numerically across
// types. Any other mix of types is ordered consistently, but not
// meaningfully, by kind. Invalid values sort first.
func Less(a, b Value) bool {
	a, b = a.Content(), b.Content()
	switch {
	case !a.IsValid() || !b.IsValid():
		return !a.IsValid() && b.IsValid()
	case a.typ == b.typ:
		return a.typ.Less(a.storage, b.storage)
	}
	ak, bk := a.Kind(), b.Kind()
	if numeric(ak) && numeric(bk) {
		return numericLess(a, b)
	}
	if ak != bk {
		return ak < bk
	}
	// same kind, different descriptors: compare in the type that sorts
	// first by name so both directions agree
	ta, tb := a.typ.String(), b.typ.String()
	if ta > tb || (ta == tb && a.typ.Signature().String() > b.typ.Signature().String()) {
		return lessIn(b.typ, a, b)
	}
	return lessIn(a.typ, a, b)
}

func lessIn(t Type, a, b Value) bool {
	ca, errA := a.Convert(t)
	cb, errB := b.Convert(t)
	if errA != nil || errB != nil {
		if errA != nil && errB != nil {
			return a.typ.String() < b.typ.String()
		}
		// the value that converts sorts first
		return errA == nil
	}
	return t.Less(ca.storage, cb.storage)
}

// Equal reports whether neither value is Less than the other.
func Equal(a, b Value) bool {
	return !Less(a, b) && !Less(b, a)
}

func numeric(k Kind) bool { return k == KindInt || k == KindFloat }

func numericLess(a, b Value) bool {
	at, aInt := a.typ.(IntType)
	bt, bInt := b.typ.(IntType)
	if aInt && bInt {
		ai, bi := at.Int(a.storage), bt.Int(b.storage)
		an, bn := at.Signed() && ai < 0, bt.Signed() && bi < 0
		switch {
		case an && bn:
			return ai < bi
		case an != bn:
			return an
		}
		return at.Uint(a.storage) < bt.Uint(b.storage)
	}
	return toFloat(a) < toFloat(b)
}

func toFloat(v Value) float64 {
	switch t := v.typ.(type) {
	case IntType:
		if t.Signed() {
			return float64(t.Int(v.storage))
		}
		return float64(t.Uint(v.storage))
	case FloatType:
		return t.Float(v.storage)
	}
	return 0
}
