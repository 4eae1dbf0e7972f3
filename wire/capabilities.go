// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/luxfi/metarpc/config"
	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/typesys"
)

// Capability keys exchanged between peers.
const (
	CapClientServerSocket    = "ClientServerSocket"
	CapMessageFlags          = "MessageFlags"
	CapMetaObjectCache       = "MetaObjectCache"
	CapRemoteCancelableCalls = "RemoteCancelableCalls"
	CapObjectPtrUID          = "ObjectPtrUID"
	CapRelativeEndpointURI   = "RelativeEndpointURI"
)

// CapabilityMap maps capability keys to values. It is exchanged with
// signature {sm}.
type CapabilityMap map[string]typesys.Value

// Bool returns the boolean value of key, or def when key is missing or
// not convertible.
func (m CapabilityMap) Bool(key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, err := v.Bool()
	if err != nil {
		return def
	}
	return b
}

// Clone returns a deep copy of m.
func (m CapabilityMap) Clone() CapabilityMap {
	out := make(CapabilityMap, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// DefaultCapabilities returns the built-in capability set.
func DefaultCapabilities() CapabilityMap {
	return CapabilityMap{
		CapClientServerSocket:    typesys.From(true),
		CapMessageFlags:          typesys.From(true),
		CapMetaObjectCache:       typesys.From(false),
		CapRemoteCancelableCalls: typesys.From(true),
		CapObjectPtrUID:          typesys.From(true),
		CapRelativeEndpointURI:   typesys.From(true),
	}
}

// ParseOverrides merges the colon-separated override list s over base.
// Entries are KEY or +KEY (true), -KEY (false) and KEY=VALUE, where VALUE
// is stored as a bool or an integer when it parses as one, as a string
// otherwise.
func ParseOverrides(s string, base CapabilityMap) (CapabilityMap, error) {
	out := base.Clone()
	for _, entry := range strings.Split(s, ":") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if key, value, ok := strings.Cut(entry, "="); ok {
			if key == "" {
				return nil, fmt.Errorf("%w: %q", ErrBadOverride, entry)
			}
			out[key] = overrideValue(value)
			continue
		}
		key, on := entry, true
		switch entry[0] {
		case '+':
			key = entry[1:]
		case '-':
			key, on = entry[1:], false
		}
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrBadOverride, entry)
		}
		out[key] = typesys.From(on)
	}
	return out, nil
}

func overrideValue(s string) typesys.Value {
	if b, err := strconv.ParseBool(s); err == nil {
		return typesys.From(b)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return typesys.From(n)
	}
	return typesys.From(s)
}

var localCapabilities = sync.OnceValue(func() CapabilityMap {
	overrides := config.Get().Transport.Capabilities
	caps, err := ParseOverrides(overrides, DefaultCapabilities())
	if err != nil {
		log.Category("metarpc.wire").WithError(err).
			WithField("overrides", overrides).
			Warn("ignoring invalid capability overrides")
		return DefaultCapabilities()
	}
	return caps
})

// LocalCapabilities returns the process capability set: the defaults with
// the configured override list applied. The list is read once.
func LocalCapabilities() CapabilityMap {
	return localCapabilities().Clone()
}
