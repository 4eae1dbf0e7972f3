// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"
	"sync"

	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/typesys"
)

type cachedMetaObject struct {
	mo *meta.MetaObject
	id uint32
}

// StreamContext is the per-connection state shared by the encoder and
// decoder: the capabilities of both ends and the metaobject caches.
type StreamContext struct {
	mu     sync.Mutex
	local  CapabilityMap
	remote CapabilityMap

	// send cache, bucketed by content hash
	sent   map[uint64][]cachedMetaObject
	nextID uint32

	received map[uint32]*meta.MetaObject
}

// NewStreamContext returns a context advertising the process capabilities.
func NewStreamContext() *StreamContext {
	return NewStreamContextWith(LocalCapabilities())
}

// NewStreamContextWith returns a context advertising local.
func NewStreamContextWith(local CapabilityMap) *StreamContext {
	return &StreamContext{
		local:    local.Clone(),
		remote:   CapabilityMap{},
		sent:     make(map[uint64][]cachedMetaObject),
		received: make(map[uint32]*meta.MetaObject),
	}
}

// LocalCapabilities returns a copy of the local capability set.
func (c *StreamContext) LocalCapabilities() CapabilityMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Clone()
}

// RemoteCapabilities returns a copy of what the peer advertised.
func (c *StreamContext) RemoteCapabilities() CapabilityMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote.Clone()
}

// SetLocalCapability overrides one local capability.
func (c *StreamContext) SetLocalCapability(key string, v typesys.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[key] = v.Clone()
}

// UpdateRemoteCapabilities merges caps into the peer's capability set.
func (c *StreamContext) UpdateRemoteCapabilities(caps CapabilityMap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range caps {
		c.remote[k] = v.Clone()
	}
}

// RemoteCapability returns the peer's value for key.
func (c *StreamContext) RemoteCapability(key string) (typesys.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.remote[key]
	return v, ok
}

// SharedCapability reports whether both ends enable key. A side that did
// not advertise key counts as def.
func (c *StreamContext) SharedCapability(key string, def bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Bool(key, def) && c.remote.Bool(key, def)
}

// SendCacheSet returns the cache id of mo and whether mo must be
// transmitted in full: true exactly once per structurally distinct
// metaobject.
func (c *StreamContext) SendCacheSet(mo *meta.MetaObject) (uint32, bool) {
	h := mo.Hash()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.sent[h] {
		if e.mo.Equal(mo) {
			return e.id, false
		}
	}
	c.nextID++
	c.sent[h] = append(c.sent[h], cachedMetaObject{mo: mo, id: c.nextID})
	return c.nextID, true
}

// ReceiveCacheSet records the metaobject the peer sent under id.
func (c *StreamContext) ReceiveCacheSet(id uint32, mo *meta.MetaObject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received[id] = mo
}

// ReceiveCacheGet returns the metaobject the peer sent under id.
func (c *StreamContext) ReceiveCacheGet(id uint32) (*meta.MetaObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mo, ok := c.received[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrMetaObjectNotInCache, id)
	}
	return mo, nil
}
