// Package statuswatch turns bursts of OS tunnel-status notifications into
// single validation passes.
package statuswatch

import "sync"

// Notifier delivers "tunnel status changed" notifications.
// The returned cancel function detaches fn and is safe to call twice.
type Notifier interface {
	Subscribe(fn func()) (cancel func())
}

// Hub is a Notifier fed by Notify, for platforms that forward OS callbacks.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func()
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func())}
}

func (h *Hub) Subscribe(fn func()) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Notify calls every subscriber synchronously.
func (h *Hub) Notify() {
	h.mu.RLock()
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
