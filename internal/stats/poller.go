// Package stats polls the tunnel engine for traffic counters.
package stats

import (
	"context"
	"sync"
	"time"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
)

// CounterSource is the part of the engine the poller needs.
type CounterSource interface {
	QueryCounters(ctx context.Context) (engine.Counters, error)
}

// EmitFunc receives each snapshot. ctx is cancelled when the poller stops,
// so a blocking receiver can give up.
type EmitFunc func(ctx context.Context, snap core.TrafficSnapshot)

// Poller periodically turns cumulative counters into snapshots.
// Only one ticker runs at a time.
type Poller struct {
	source CounterSource
	state  func() core.SessionState
	emit   EmitFunc
	now    func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	since    time.Time
	prevUp   int64
	prevDown int64
	last     core.TrafficSnapshot
}

// NewPoller creates a stopped poller. state supplies the label stamped on
// each snapshot.
func NewPoller(source CounterSource, state func() core.SessionState, emit EmitFunc) *Poller {
	return &Poller{
		source: source,
		state:  state,
		emit:   emit,
		now:    time.Now,
		last:   core.ZeroSnapshot(),
	}
}

// Start begins ticking every interval, measuring elapsed time from since.
// A running poller is stopped first.
func (p *Poller) Start(ctx context.Context, interval time.Duration, since time.Time) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.since = since
	p.prevUp, p.prevDown = 0, 0
	p.last = core.ZeroSnapshot()
	p.mu.Unlock()

	go p.loop(ctx, interval, done)
}

// Stop cancels the ticker. No emit call starts after Stop returns.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Last returns the most recent snapshot of the current or last session.
func (p *Poller) Last() core.TrafficSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Poller) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	c, err := p.source.QueryCounters(ctx)
	if err != nil {
		core.Log.Debugf("Stats", "Counters unavailable: %v", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	snap := core.TrafficSnapshot{
		Elapsed:       p.now().Sub(p.since),
		UploadRate:    max(0, c.Upload-p.prevUp),
		DownloadRate:  max(0, c.Download-p.prevDown),
		TotalUpload:   c.Upload,
		TotalDownload: c.Download,
		State:         p.state(),
	}
	p.prevUp, p.prevDown = c.Upload, c.Download
	p.last = snap
	p.mu.Unlock()

	p.emit(ctx, snap)
}
