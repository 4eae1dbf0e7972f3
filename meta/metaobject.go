// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package meta

import (
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/luxfi/metarpc/signature"
)

// StartID is the first uid handed out to members registered without an
// explicit id. Lower ids are reserved for built-in object members.
const StartID uint32 = 100

var (
	// ErrDuplicateMember is returned when a name+signature is already used
	// by a member of another category, or a uid is already taken.
	ErrDuplicateMember = errors.New("meta: duplicate member")
	// ErrInvalidMember is returned for members without a name or with an
	// invalid signature.
	ErrInvalidMember = errors.New("meta: invalid member")
)

// DuplicateMemberError reports a registration clash.
type DuplicateMemberError struct {
	Key      string
	Category Category
	Existing Category
}

func (e *DuplicateMemberError) Error() string {
	return fmt.Sprintf("meta: cannot register %s %q: already registered as %s", e.Category, e.Key, e.Existing)
}

func (e *DuplicateMemberError) Unwrap() error { return ErrDuplicateMember }

type member interface {
	memberUID() uint32
	memberName() string
	String() string
}

func (m MetaMethod) memberUID() uint32    { return m.UID }
func (m MetaMethod) memberName() string   { return m.Name }
func (s MetaSignal) memberUID() uint32    { return s.UID }
func (s MetaSignal) memberName() string   { return s.Name }
func (p MetaProperty) memberUID() uint32  { return p.UID }
func (p MetaProperty) memberName() string { return p.Name }

// table is one id-keyed member category with lazily rebuilt indices.
type table[M member] struct {
	mu      sync.RWMutex
	members map[uint32]M
	dirty   bool
	byKey   map[string]uint32
	byName  map[string][]uint32
}

func newTable[M member]() *table[M] {
	return &table[M]{members: make(map[uint32]M), dirty: true}
}

func (t *table[M]) get(id uint32) (M, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[id]
	return m, ok
}

func (t *table[M]) all() map[uint32]M {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.members)
}

func (t *table[M]) put(m M) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members[m.memberUID()] = m
	t.dirty = true
}

// indices returns the name::signature and overload-chain indices,
// rebuilding them first if members changed. Returned maps are never mutated.
func (t *table[M]) indices() (map[string]uint32, map[string][]uint32) {
	t.mu.RLock()
	if !t.dirty {
		defer t.mu.RUnlock()
		return t.byKey, t.byName
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty {
		byKey := make(map[string]uint32, len(t.members))
		byName := make(map[string][]uint32)
		for id, m := range t.members {
			byKey[m.String()] = id
			byName[m.memberName()] = append(byName[m.memberName()], id)
		}
		for _, ids := range byName {
			slices.Sort(ids)
		}
		t.byKey, t.byName, t.dirty = byKey, byName, false
	}
	return t.byKey, t.byName
}

// MetaObject is the catalog of the methods, signals and properties of a
// dispatch target. Members are only added during setup; uids are never
// reused within one MetaObject.
type MetaObject struct {
	addMu       sync.Mutex
	nextID      uint32
	description string

	methods    *table[MetaMethod]
	signals    *table[MetaSignal]
	properties *table[MetaProperty]
}

// New returns an empty MetaObject.
func New(description string) *MetaObject {
	return &MetaObject{
		nextID:      StartID,
		description: description,
		methods:     newTable[MetaMethod](),
		signals:     newTable[MetaSignal](),
		properties:  newTable[MetaProperty](),
	}
}

// Description returns the object description.
func (m *MetaObject) Description() string {
	m.addMu.Lock()
	defer m.addMu.Unlock()
	return m.description
}

// SetDescription replaces the object description.
func (m *MetaObject) SetDescription(desc string) {
	m.addMu.Lock()
	defer m.addMu.Unlock()
	m.description = desc
}

func (m *MetaObject) allocID(o *memberOptions) (uint32, error) {
	if o.id == nil {
		id := m.nextID
		m.nextID++
		return id, nil
	}
	id := *o.id
	if id >= m.nextID {
		m.nextID = id + 1
	}
	return id, nil
}

// clash reports which category other than self already holds key.
func (m *MetaObject) clash(key string, self Category) (Category, bool) {
	if self != CategoryMethod {
		if byKey, _ := m.methods.indices(); hasKey(byKey, key) {
			return CategoryMethod, true
		}
	}
	if self != CategorySignal {
		if byKey, _ := m.signals.indices(); hasKey(byKey, key) {
			return CategorySignal, true
		}
	}
	if self != CategoryProperty {
		if byKey, _ := m.properties.indices(); hasKey(byKey, key) {
			return CategoryProperty, true
		}
	}
	return 0, false
}

func hasKey(index map[string]uint32, key string) bool {
	_, ok := index[key]
	return ok
}

// conflicts reports whether a member of category self named name can not
// be added at id: the uid is held by another category or key clashes. A
// property and its change signal share their uid and name.
func (m *MetaObject) conflicts(id uint32, name, key string, self Category) bool {
	if _, ok := m.clash(key, self); ok {
		return true
	}
	if self != CategoryMethod {
		if _, ok := m.methods.get(id); ok {
			return true
		}
	}
	if self != CategorySignal {
		if ms, ok := m.signals.get(id); ok && (self != CategoryProperty || ms.Name != name) {
			return true
		}
	}
	if self != CategoryProperty {
		if mp, ok := m.properties.get(id); ok && (self != CategorySignal || mp.Name != name) {
			return true
		}
	}
	return false
}

func (m *MetaObject) idTaken(id uint32) bool {
	if _, ok := m.methods.get(id); ok {
		return true
	}
	if _, ok := m.signals.get(id); ok {
		return true
	}
	_, ok := m.properties.get(id)
	return ok
}

// AddMethod registers a method. Registering an existing name+signature
// again returns the existing uid.
func (m *MetaObject) AddMethod(name string, params, ret signature.Signature, opts ...MemberOption) (uint32, error) {
	if name == "" || !params.IsValid() || params.Type() != signature.Tuple {
		return 0, fmt.Errorf("%w: method %q with parameters %q", ErrInvalidMember, name, params)
	}
	o := &memberOptions{}
	for _, opt := range opts {
		opt(o)
	}
	mm := MetaMethod{
		ReturnSignature:     ret,
		Name:                name,
		ParametersSignature: params,
		Description:         o.description,
		Parameters:          o.parameters,
		ReturnDescription:   o.returnDescription,
	}

	m.addMu.Lock()
	defer m.addMu.Unlock()
	key := mm.String()
	if byKey, _ := m.methods.indices(); hasKey(byKey, key) {
		return byKey[key], nil
	}
	if existing, ok := m.clash(key, CategoryMethod); ok {
		return 0, &DuplicateMemberError{Key: key, Category: CategoryMethod, Existing: existing}
	}
	if o.id != nil && m.idTaken(*o.id) {
		return 0, fmt.Errorf("%w: uid %d for method %q", ErrDuplicateMember, *o.id, key)
	}
	id, err := m.allocID(o)
	if err != nil {
		return 0, err
	}
	mm.UID = id
	m.methods.put(mm)
	return id, nil
}

// AddSignal registers a signal whose arguments are described by the tuple
// signature sig.
func (m *MetaObject) AddSignal(name string, sig signature.Signature, opts ...MemberOption) (uint32, error) {
	if name == "" || !sig.IsValid() || sig.Type() != signature.Tuple {
		return 0, fmt.Errorf("%w: signal %q with signature %q", ErrInvalidMember, name, sig)
	}
	o := &memberOptions{}
	for _, opt := range opts {
		opt(o)
	}

	m.addMu.Lock()
	defer m.addMu.Unlock()
	return m.addSignalLocked(MetaSignal{Name: name, Signature: sig}, o, false)
}

func (m *MetaObject) addSignalLocked(ms MetaSignal, o *memberOptions, forProperty bool) (uint32, error) {
	key := ms.String()
	if byKey, _ := m.signals.indices(); hasKey(byKey, key) {
		return byKey[key], nil
	}
	if !forProperty {
		if existing, ok := m.clash(key, CategorySignal); ok {
			return 0, &DuplicateMemberError{Key: key, Category: CategorySignal, Existing: existing}
		}
		if o.id != nil && m.idTaken(*o.id) {
			return 0, fmt.Errorf("%w: uid %d for signal %q", ErrDuplicateMember, *o.id, key)
		}
	}
	id, err := m.allocID(o)
	if err != nil {
		return 0, err
	}
	ms.UID = id
	m.signals.put(ms)
	return id, nil
}

// AddProperty registers a property of value signature sig together with
// its change signal "name::(sig)" at the same uid.
func (m *MetaObject) AddProperty(name string, sig signature.Signature, opts ...MemberOption) (uint32, error) {
	if name == "" || !sig.IsValid() {
		return 0, fmt.Errorf("%w: property %q with signature %q", ErrInvalidMember, name, sig)
	}
	o := &memberOptions{}
	for _, opt := range opts {
		opt(o)
	}
	mp := MetaProperty{Name: name, Signature: sig}
	signalSig := signature.TupleOf([]signature.Signature{sig}, "", nil)

	m.addMu.Lock()
	defer m.addMu.Unlock()
	key := mp.String()
	if byKey, _ := m.properties.indices(); hasKey(byKey, key) {
		return byKey[key], nil
	}
	signalKey := name + "::" + signalSig.String()
	for _, k := range []string{key, signalKey} {
		if existing, ok := m.clash(k, CategoryProperty); ok {
			return 0, &DuplicateMemberError{Key: k, Category: CategoryProperty, Existing: existing}
		}
	}
	if o.id != nil && m.idTaken(*o.id) {
		return 0, fmt.Errorf("%w: uid %d for property %q", ErrDuplicateMember, *o.id, key)
	}
	id, err := m.allocID(o)
	if err != nil {
		return 0, err
	}
	mp.UID = id
	m.properties.put(mp)
	if _, err := m.addSignalLocked(MetaSignal{Name: name, Signature: signalSig}, &memberOptions{id: &id}, true); err != nil {
		return 0, err
	}
	return id, nil
}

// Method returns the method with the given uid.
func (m *MetaObject) Method(id uint32) (MetaMethod, bool) { return m.methods.get(id) }

// Signal returns the signal with the given uid.
func (m *MetaObject) Signal(id uint32) (MetaSignal, bool) { return m.signals.get(id) }

// Property returns the property with the given uid.
func (m *MetaObject) Property(id uint32) (MetaProperty, bool) { return m.properties.get(id) }

// Methods returns a copy of the method map.
func (m *MetaObject) Methods() map[uint32]MetaMethod { return m.methods.all() }

// Signals returns a copy of the signal map.
func (m *MetaObject) Signals() map[uint32]MetaSignal { return m.signals.all() }

// Properties returns a copy of the property map.
func (m *MetaObject) Properties() map[uint32]MetaProperty { return m.properties.all() }

// MethodID looks up a method by its full "name::(params)" form.
func (m *MetaObject) MethodID(nameWithSignature string) (uint32, bool) {
	byKey, _ := m.methods.indices()
	id, ok := byKey[nameWithSignature]
	return id, ok
}

// SignalID looks up a signal by bare name or "name::(sig)". A bare name
// matching several overloads resolves to the lowest uid.
func (m *MetaObject) SignalID(name string) (uint32, bool) {
	byKey, byName := m.signals.indices()
	if strings.Contains(name, "::") {
		id, ok := byKey[name]
		return id, ok
	}
	ids := byName[name]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// PropertyID looks up a property by name.
func (m *MetaObject) PropertyID(name string) (uint32, bool) {
	_, byName := m.properties.indices()
	ids := byName[name]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// MethodsByName returns the overload chain of name ordered by uid.
func (m *MetaObject) MethodsByName(name string) []MetaMethod {
	_, byName := m.methods.indices()
	ids := byName[name]
	out := make([]MetaMethod, 0, len(ids))
	for _, id := range ids {
		if mm, ok := m.methods.get(id); ok {
			out = append(out, mm)
		}
	}
	return out
}

// canonical returns the sorted canonical member strings plus description.
func (m *MetaObject) canonical() []string {
	var out []string
	for id, mm := range m.methods.all() {
		out = append(out, fmt.Sprintf("M%d:%s:%s", id, mm.String(), mm.ReturnSignature))
	}
	for id, ms := range m.signals.all() {
		out = append(out, fmt.Sprintf("S%d:%s", id, ms.String()))
	}
	for id, mp := range m.properties.all() {
		out = append(out, fmt.Sprintf("P%d:%s", id, mp.String()))
	}
	slices.Sort(out)
	return append(out, "D:"+m.Description())
}

// Hash returns a content hash over the canonical member strings and the
// description. Structurally equal MetaObjects hash equal.
func (m *MetaObject) Hash() uint64 {
	h := fnv.New64()
	for _, s := range m.canonical() {
		// fnv64 can never fail to write
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Equal reports structural equality.
func (m *MetaObject) Equal(o *MetaObject) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil {
		return false
	}
	return slices.Equal(m.canonical(), o.canonical())
}

// Less orders MetaObjects by content hash, then by canonical content.
func (m *MetaObject) Less(o *MetaObject) bool {
	hm, ho := m.Hash(), o.Hash()
	if hm != ho {
		return hm < ho
	}
	return slices.Compare(m.canonical(), o.canonical()) < 0
}

// Clone returns an independent copy.
func (m *MetaObject) Clone() *MetaObject {
	c := New(m.Description())
	m.addMu.Lock()
	c.nextID = m.nextID
	m.addMu.Unlock()
	for id, mm := range m.methods.all() {
		c.methods.members[id] = mm
	}
	for id, ms := range m.signals.all() {
		c.signals.members[id] = ms
	}
	for id, mp := range m.properties.all() {
		c.properties.members[id] = mp
	}
	return c
}

// Merge returns the union of source and dest. It fails when both define a
// member at the same uid with a different name or signature, when a uid
// would be held by two categories, or when a member key clashes with a
// member of another category. Members keep their uids, so built-in
// members at reserved uids can be composed with user members.
func Merge(source, dest *MetaObject) (*MetaObject, bool) {
	result := dest.Clone()
	if result.Description() == "" {
		result.SetDescription(source.Description())
	}
	for id, mm := range source.Methods() {
		if existing, ok := result.methods.get(id); ok {
			if existing.String() != mm.String() {
				return nil, false
			}
			continue
		}
		if result.conflicts(id, mm.Name, mm.String(), CategoryMethod) {
			return nil, false
		}
		result.methods.put(mm)
	}
	for id, ms := range source.Signals() {
		if existing, ok := result.signals.get(id); ok {
			if existing.String() != ms.String() {
				return nil, false
			}
			continue
		}
		if result.conflicts(id, ms.Name, ms.String(), CategorySignal) {
			return nil, false
		}
		result.signals.put(ms)
	}
	for id, mp := range source.Properties() {
		if existing, ok := result.properties.get(id); ok {
			if existing.String() != mp.String() {
				return nil, false
			}
			continue
		}
		if result.conflicts(id, mp.Name, mp.String(), CategoryProperty) {
			return nil, false
		}
		result.properties.put(mp)
	}
	source.addMu.Lock()
	next := source.nextID
	source.addMu.Unlock()
	result.addMu.Lock()
	if next > result.nextID {
		result.nextID = next
	}
	result.addMu.Unlock()
	return result, true
}

// String dumps the members in uid order.
func (m *MetaObject) String() string {
	var b strings.Builder
	if desc := m.Description(); desc != "" {
		fmt.Fprintf(&b, "%s\n", desc)
	}
	methods := m.Methods()
	for _, id := range slices.Sorted(maps.Keys(methods)) {
		mm := methods[id]
		fmt.Fprintf(&b, "  method   %3d %s -> %s\n", id, mm.String(), mm.ReturnSignature)
	}
	signals := m.Signals()
	for _, id := range slices.Sorted(maps.Keys(signals)) {
		fmt.Fprintf(&b, "  signal   %3d %s\n", id, signals[id].String())
	}
	props := m.Properties()
	for _, id := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(&b, "  property %3d %s\n", id, props[id].String())
	}
	return b.String()
}
