package bridge

import (
	"sync"

	"v2ray-session/internal/core"
)

// DefaultQueueSize is the snapshot queue length of an AsyncSink.
const DefaultQueueSize = 64

// AsyncSink decouples snapshot emission from delivery. Send never blocks:
// when the queue is full the snapshot is dropped. A panicking deliver
// function loses one snapshot, not the sink.
type AsyncSink struct {
	deliver func(core.TrafficSnapshot)
	queue   chan core.TrafficSnapshot
	done    chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewAsyncSink starts a sink that hands snapshots to deliver on its own
// goroutine.
func NewAsyncSink(deliver func(core.TrafficSnapshot), size int) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	s := &AsyncSink{
		deliver: deliver,
		queue:   make(chan core.TrafficSnapshot, size),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AsyncSink) Send(snap core.TrafficSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- snap:
	default:
		s.dropped++
		core.Log.Warnf("Bridge", "Snapshot queue full, dropped %d so far", s.dropped)
	}
}

// Dropped returns how many snapshots were dropped on a full queue.
func (s *AsyncSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close delivers what is queued and stops the sink.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) loop() {
	defer close(s.done)
	for snap := range s.queue {
		s.deliverOne(snap)
	}
}

func (s *AsyncSink) deliverOne(snap core.TrafficSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			core.Log.Errorf("Bridge", "Snapshot delivery panicked: %v", r)
		}
	}()
	s.deliver(snap)
}
