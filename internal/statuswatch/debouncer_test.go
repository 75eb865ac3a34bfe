package statuswatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 40 * time.Millisecond

type results struct {
	mu  sync.Mutex
	got []bool
}

func (r *results) on(_ context.Context, v bool) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *results) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	hub := NewHub()
	var passes atomic.Int32
	d := NewDebouncer(hub, func(context.Context) (bool, error) {
		passes.Add(1)
		return true, nil
	}, window)
	res := &results{}
	d.Arm(res.on)
	defer d.Disarm()

	for range 6 {
		hub.Notify()
		time.Sleep(5 * time.Millisecond)
	}
	assert.Empty(t, res.values(), "no pass while the window is open")

	require.Eventually(t, func() bool { return len(res.values()) == 1 }, 2*time.Second, time.Millisecond)

	time.Sleep(3 * window)
	assert.Equal(t, int32(1), passes.Load())
	assert.Equal(t, []bool{true}, res.values())
}

func TestDebouncerStaleTimerDoesNotRunExtraPass(t *testing.T) {
	hub := NewHub()
	var passes atomic.Int32
	d := NewDebouncer(hub, func(context.Context) (bool, error) {
		passes.Add(1)
		return true, nil
	}, window)
	res := &results{}
	d.Arm(res.on)
	defer d.Disarm()

	hub.Notify()
	d.mu.Lock()
	gen, stale := d.gen, d.seq
	d.mu.Unlock()
	hub.Notify()

	// An expired timer from the first notification firing late.
	d.fire(gen, stale)
	assert.Zero(t, passes.Load())

	require.Eventually(t, func() bool { return len(res.values()) == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(3 * window)
	assert.Equal(t, int32(1), passes.Load())
}

func TestDebouncerSeparateBursts(t *testing.T) {
	hub := NewHub()
	valid := atomic.Bool{}
	valid.Store(true)
	d := NewDebouncer(hub, func(context.Context) (bool, error) { return valid.Load(), nil }, window)
	res := &results{}
	d.Arm(res.on)
	defer d.Disarm()

	hub.Notify()
	require.Eventually(t, func() bool { return len(res.values()) == 1 }, 2*time.Second, time.Millisecond)

	valid.Store(false)
	hub.Notify()
	hub.Notify()
	require.Eventually(t, func() bool { return len(res.values()) == 2 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []bool{true, false}, res.values())
}

func TestDebouncerValidationErrorIsInvalid(t *testing.T) {
	hub := NewHub()
	d := NewDebouncer(hub, func(context.Context) (bool, error) {
		return true, errors.New("store unreachable")
	}, window)
	res := &results{}
	d.Arm(res.on)
	defer d.Disarm()

	d.Poke()
	require.Eventually(t, func() bool { return len(res.values()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, []bool{false}, res.values())
}

func TestDebouncerDisarmCancelsPending(t *testing.T) {
	hub := NewHub()
	var passes atomic.Int32
	d := NewDebouncer(hub, func(context.Context) (bool, error) {
		passes.Add(1)
		return true, nil
	}, window)
	res := &results{}
	d.Arm(res.on)

	hub.Notify()
	d.Disarm()
	d.Disarm()
	hub.Notify()
	d.Poke()

	time.Sleep(3 * window)
	assert.Equal(t, int32(0), passes.Load())
	assert.Empty(t, res.values())
	assert.Empty(t, hub.subs, "subscription detached")
}

func TestDebouncerDisarmWaitsForInflightPass(t *testing.T) {
	hub := NewHub()
	entered := make(chan struct{})
	d := NewDebouncer(hub, func(ctx context.Context) (bool, error) {
		close(entered)
		<-ctx.Done()
		return false, ctx.Err()
	}, time.Millisecond)
	res := &results{}
	d.Arm(res.on)

	d.Poke()
	<-entered
	d.Disarm()
	assert.Empty(t, res.values(), "cancelled pass must not report")
}

func TestDebouncerRearmStartsFresh(t *testing.T) {
	hub := NewHub()
	d := NewDebouncer(hub, func(context.Context) (bool, error) { return true, nil }, window)
	first := &results{}
	second := &results{}

	d.Arm(first.on)
	hub.Notify()
	d.Arm(second.on)
	defer d.Disarm()

	time.Sleep(3 * window)
	assert.Empty(t, first.values())
	assert.Empty(t, second.values())

	hub.Notify()
	require.Eventually(t, func() bool { return len(second.values()) == 1 }, 2*time.Second, time.Millisecond)
	assert.Empty(t, first.values())
	assert.Len(t, hub.subs, 1)
}
