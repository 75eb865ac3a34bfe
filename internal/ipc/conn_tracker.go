package ipc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"

	"v2ray-session/internal/core"
)

// ConnTracker counts in-flight RPCs, including open Subscribe streams.
// When the count drops to zero it starts a grace timer and calls onIdle if
// no client comes back before it expires.
type ConnTracker struct {
	active      atomic.Int64
	gracePeriod time.Duration
	onIdle      func()

	mu         sync.Mutex
	graceTimer *time.Timer
}

// NewConnTracker creates a tracker. onIdle runs on its own goroutine.
func NewConnTracker(gracePeriod time.Duration, onIdle func()) *ConnTracker {
	return &ConnTracker{
		gracePeriod: gracePeriod,
		onIdle:      onIdle,
	}
}

// ActiveCount returns the number of in-flight RPCs.
func (ct *ConnTracker) ActiveCount() int64 {
	return ct.active.Load()
}

// CancelGrace stops a pending grace timer, e.g. during shutdown.
func (ct *ConnTracker) CancelGrace() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.graceTimer != nil {
		ct.graceTimer.Stop()
		ct.graceTimer = nil
	}
}

func (ct *ConnTracker) inc() {
	if ct.active.Add(1) != 1 {
		return
	}
	ct.mu.Lock()
	if ct.graceTimer != nil {
		ct.graceTimer.Stop()
		ct.graceTimer = nil
		core.Log.Infof("IPC", "Client reconnected, grace timer cancelled")
	}
	ct.mu.Unlock()
}

func (ct *ConnTracker) dec() {
	if ct.active.Add(-1) != 0 {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.graceTimer != nil {
		ct.graceTimer.Stop()
	}
	core.Log.Infof("IPC", "All clients gone, idle in %s", ct.gracePeriod)
	var timer *time.Timer
	timer = time.AfterFunc(ct.gracePeriod, func() {
		ct.mu.Lock()
		if ct.graceTimer != timer {
			ct.mu.Unlock()
			return
		}
		ct.graceTimer = nil
		ct.mu.Unlock()
		if ct.onIdle != nil {
			ct.onIdle()
		}
	})
	ct.graceTimer = timer
}

// UnaryInterceptor tracks unary RPCs.
func (ct *ConnTracker) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ct.inc()
		defer ct.dec()
		return handler(ctx, req)
	}
}

// StreamInterceptor tracks streams for as long as they are open.
func (ct *ConnTracker) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ct.inc()
		defer ct.dec()
		return handler(srv, ss)
	}
}
