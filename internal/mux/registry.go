// Copyright 2025 Joseph Cumines

package mux

import (
	"context"
	"slices"
	"sync"

	"github.com/joeycumines/DeviceInspector/internal/wire"
)

// registration binds a device id to the outbound leg of one stream. The
// pointer itself is the identity used to guard deregistration.
type registration struct {
	ctx      context.Context
	cancel   context.CancelFunc
	commands chan *wire.ServerCommand
	deviceID string
}

// streamRegistry maps device ids to their current registration.
type streamRegistry struct {
	streams map[string]*registration
	mu      sync.RWMutex
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]*registration)}
}

// register makes reg current for its device and returns the registration it
// replaced, if any.
func (r *streamRegistry) register(reg *registration) *registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous := r.streams[reg.deviceID]
	r.streams[reg.deviceID] = reg
	return previous
}

func (r *streamRegistry) lookup(deviceID string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.streams[deviceID]
	return reg, ok
}

// deregister removes reg only if it is still current, so cleanup from a
// superseded stream cannot evict its replacement.
func (r *streamRegistry) deregister(reg *registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[reg.deviceID] != reg {
		return false
	}
	delete(r.streams, reg.deviceID)
	return true
}

// devices returns the registered device ids in sorted order.
func (r *streamRegistry) devices() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// all returns every current registration.
func (r *streamRegistry) all() []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := make([]*registration, 0, len(r.streams))
	for _, reg := range r.streams {
		regs = append(regs, reg)
	}
	return regs
}
