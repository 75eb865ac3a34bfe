package statuswatch

import (
	"context"
	"sync"
	"time"

	"v2ray-session/internal/core"
)

// ValidateFunc performs one validation pass against the profile store.
type ValidateFunc func(ctx context.Context) (bool, error)

// Debouncer coalesces notifications and validates once per quiet window.
type Debouncer struct {
	notifier Notifier
	validate ValidateFunc
	window   time.Duration

	mu          sync.Mutex
	armed       bool
	gen         uint64
	seq         uint64 // tag of the latest scheduled pass
	unsubscribe func()
	timer       *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	onValidated func(ctx context.Context, valid bool)
	inflight    sync.WaitGroup
}

// NewDebouncer creates a disarmed debouncer.
func NewDebouncer(n Notifier, validate ValidateFunc, window time.Duration) *Debouncer {
	return &Debouncer{
		notifier: n,
		validate: validate,
		window:   window,
	}
}

// Arm subscribes to notifications. onValidated receives the result of each
// validation pass with a context that is cancelled on Disarm. Arming an
// armed debouncer re-arms it.
func (d *Debouncer) Arm(onValidated func(ctx context.Context, valid bool)) {
	d.Disarm()

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.armed = true
	d.gen++
	d.ctx = ctx
	d.cancel = cancel
	d.onValidated = onValidated
	d.mu.Unlock()

	unsubscribe := d.notifier.Subscribe(d.Poke)

	d.mu.Lock()
	if d.armed && d.ctx == ctx {
		d.unsubscribe = unsubscribe
		unsubscribe = nil
	}
	d.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Poke schedules a validation pass one window from now, pushing back any
// pending one. It is what every notification does.
func (d *Debouncer) Poke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return
	}

	// A timer that already expired may have a fire waiting on mu; the new
	// tag makes that fire a no-op.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	gen, seq := d.gen, d.seq
	d.timer = time.AfterFunc(d.window, func() { d.fire(gen, seq) })
}

func (d *Debouncer) fire(gen, seq uint64) {
	d.mu.Lock()
	if !d.armed || d.gen != gen || d.seq != seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	ctx := d.ctx
	cb := d.onValidated
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	valid, err := d.validate(ctx)
	if err != nil {
		core.Log.Warnf("StatusWatch", "Validation failed, treating as invalid: %v", err)
		valid = false
	}
	if ctx.Err() != nil {
		return
	}
	core.Log.Debugf("StatusWatch", "Validation pass: valid=%v", valid)
	cb(ctx, valid)
}

// Disarm unsubscribes and cancels any pending pass. No callback starts after
// Disarm returns. Safe to call multiple times.
func (d *Debouncer) Disarm() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	d.armed = false
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.cancel()
	d.onValidated = nil
	d.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	d.inflight.Wait()
}
