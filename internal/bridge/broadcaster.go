package bridge

import (
	"sync"

	"v2ray-session/internal/core"
)

const subscriberBuffer = 32

// Subscriber receives snapshots on C until unsubscribed.
type Subscriber struct {
	C  <-chan core.TrafficSnapshot
	ch chan core.TrafficSnapshot
	id uint64
}

// Broadcaster fans snapshots out to any number of subscribers. Slow
// subscribers miss snapshots instead of stalling the others. A new
// subscriber first receives the latest snapshot.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscriber
	nextID uint64
	last   core.TrafficSnapshot
	closed bool
}

// NewBroadcaster creates a broadcaster whose latest snapshot is the idle one.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]*Subscriber),
		last: core.ZeroSnapshot(),
	}
}

func (b *Broadcaster) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan core.TrafficSnapshot, subscriberBuffer)
	sub := &Subscriber{C: ch, ch: ch, id: b.nextID}
	b.nextID++
	if b.closed {
		close(ch)
		return sub
	}
	ch <- b.last
	b.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		close(sub.ch)
		delete(b.subs, sub.id)
	}
}

// Publish records snap as the latest and offers it to every subscriber.
func (b *Broadcaster) Publish(snap core.TrafficSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = snap
	for _, sub := range b.subs {
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

// Last returns the latest published snapshot.
func (b *Broadcaster) Last() core.TrafficSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
