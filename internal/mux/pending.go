// Copyright 2025 Joseph Cumines

package mux

import (
	"sync"

	"github.com/google/uuid"
)

// pendingRequest is one fetch waiting for its reply. The reply channel has
// capacity 1 and is written at most once, by whoever took the request out of
// the table.
type pendingRequest struct {
	stream   *registration
	reply    chan []byte
	id       string
	deviceID string
}

func newPendingRequest(reg *registration) *pendingRequest {
	return &pendingRequest{
		id:       uuid.NewString(),
		deviceID: reg.deviceID,
		stream:   reg,
		reply:    make(chan []byte, 1),
	}
}

// resolve hands the payload to the waiter. Only the goroutine that took the
// request from the table may call it.
func (p *pendingRequest) resolve(payload []byte) {
	p.reply <- payload
	close(p.reply)
}

// abandon wakes the waiter without a payload.
func (p *pendingRequest) abandon() {
	close(p.reply)
}

// pendingTable holds at most one pending request per device.
type pendingTable struct {
	requests map[string]*pendingRequest
	mu       sync.RWMutex
}

func newPendingTable() *pendingTable {
	return &pendingTable{requests: make(map[string]*pendingRequest)}
}

// insert makes req the pending request for its device and returns the one it
// displaced. The displaced waiter is not woken; it runs out its own timeout.
func (t *pendingTable) insert(req *pendingRequest) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	previous := t.requests[req.deviceID]
	t.requests[req.deviceID] = req
	return previous
}

// take removes and returns the pending request for deviceID.
func (t *pendingTable) take(deviceID string) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[deviceID]
	if ok {
		delete(t.requests, deviceID)
	}
	return req, ok
}

// remove deletes req if it is still the pending request for its device.
func (t *pendingTable) remove(req *pendingRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requests[req.deviceID] != req {
		return false
	}
	delete(t.requests, req.deviceID)
	return true
}

// takeRoutedTo removes and returns the pending request for reg's device, but
// only if its command went out on reg.
func (t *pendingTable) takeRoutedTo(reg *registration) (*pendingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.requests[reg.deviceID]
	if !ok || req.stream != reg {
		return nil, false
	}
	delete(t.requests, reg.deviceID)
	return req, true
}

func (t *pendingTable) has(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.requests[deviceID]
	return ok
}

func (t *pendingTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}

// drain removes and returns every pending request.
func (t *pendingTable) drain() []*pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	reqs := make([]*pendingRequest, 0, len(t.requests))
	for id, req := range t.requests {
		reqs = append(reqs, req)
		delete(t.requests, id)
	}
	return reqs
}
