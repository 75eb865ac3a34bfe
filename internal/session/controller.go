// Package session owns the tunnel session state machine.
//
// A Controller runs a single loop goroutine. Host commands and component
// callbacks (validation passes, network switches, traffic snapshots) are
// messages on one inbox, so state, the persisted profile handle and the
// component lifetimes are only ever touched from that goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/stats"
	"v2ray-session/internal/statuswatch"
)

// ErrClosed is returned by calls made after Run has returned.
var ErrClosed = errors.New("[Session] controller closed")

// activeSession is everything that belongs to one start.
type activeSession struct {
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        core.TunnelConfig
	profile    core.Profile
	hasProfile bool
	started    time.Time
	helpers    sync.WaitGroup
}

// Controller is the session state machine.
type Controller struct {
	deps Deps
	opts Options

	inbox   chan message
	done    chan struct{}
	running atomic.Bool
	mirror  atomic.Int32 // copy of state for readers outside the loop

	poller    *stats.Poller
	debouncer *statuswatch.Debouncer
	monitor   *netmon.Monitor

	// Owned by the loop goroutine.
	ctx     context.Context
	state   core.SessionState
	gen     uint64
	sess    *activeSession
	current core.TrafficSnapshot
}

// New wires a controller. Call Run to start processing commands.
func New(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	c := &Controller{
		deps:    deps,
		opts:    opts,
		inbox:   make(chan message, 64),
		done:    make(chan struct{}),
		state:   core.StateDisconnected,
		current: core.ZeroSnapshot(),
	}
	c.poller = stats.NewPoller(deps.Engine, c.State, c.onSnapshot)
	c.debouncer = statuswatch.NewDebouncer(deps.Notifier, func(ctx context.Context) (bool, error) {
		return deps.Profiles.Validate(ctx, opts.App.ProfileKey())
	}, opts.DebounceWindow)
	c.monitor = netmon.NewMonitor(deps.Paths, opts.MinSwitchInterval)
	return c
}

// Run processes messages until ctx is cancelled. A live session is torn
// down before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("[Session] controller already running")
	}
	defer close(c.done)
	c.ctx = ctx

	core.Log.Infof("Session", "Controller started (identity %q)", c.opts.App.ProfileKey())
	for {
		select {
		case <-ctx.Done():
			if c.sess != nil {
				c.ctx = context.Background()
				if err := c.teardown(); err != nil {
					core.Log.Warnf("Session", "Shutdown teardown: %v", err)
				}
			}
			core.Log.Infof("Session", "Controller stopped")
			return nil
		case m := <-c.inbox:
			c.handle(m)
		}
	}
}

// State returns the current session state.
func (c *Controller) State() core.SessionState {
	return core.SessionState(c.mirror.Load())
}

func (c *Controller) handle(m message) {
	switch m := m.(type) {
	case startMsg:
		m.reply <- c.handleStart(m.cfg)
	case stopMsg:
		m.reply <- c.handleStop()
	case initializeMsg:
		c.emit(c.current)
		m.reply <- nil
	case checkMsg:
		m.reply <- c.handleCheck(m.valid)
	case permissionMsg:
		ctx, cancel := c.storeCtx()
		_, err := c.deps.Profiles.Resolve(ctx, c.opts.App.ProfileKey())
		cancel()
		m.reply <- err
	case queryMsg:
		st := status{state: c.state, snapshot: c.current}
		if c.sess != nil {
			st.socksPort = c.sess.cfg.LocalSocksPort
		}
		m.reply <- st
	case validatedMsg:
		c.handleValidated(m)
	case switchMsg:
		c.handleSwitch(m)
	case snapshotMsg:
		c.handleSnapshot(m)
	case inboundMsg:
		c.handleInbound(m)
	default:
		core.Log.Errorf("Session", "Unhandled message %s", m.kind())
	}
}

func (c *Controller) handleStart(cfg core.TunnelConfig) error {
	switch c.state {
	case core.StateConnecting:
		return core.NewError(core.CodeInvalidState, "a start is already in progress")
	case core.StateConnected:
		core.Log.Infof("Session", "Restart requested, tearing down current session")
		if err := c.teardown(); err != nil {
			core.Log.Warnf("Session", "Teardown before restart: %v", err)
		}
	}
	return c.bringUp(cfg)
}

// bringUp runs Disconnected → Connecting, persists the profile and starts
// the engine. Connected is reached later, on a confirming validation pass.
func (c *Controller) bringUp(cfg core.TunnelConfig) error {
	c.gen++
	gen := c.gen
	c.setState(core.StateConnecting)
	c.current = core.TrafficSnapshot{State: core.StateConnecting}
	c.emit(c.current)

	sess := &activeSession{gen: gen, cfg: cfg}
	if !cfg.ProxyOnly {
		ctx, cancel := c.storeCtx()
		p, err := c.deps.Profiles.Resolve(ctx, c.opts.App.ProfileKey())
		if err == nil {
			p, err = c.deps.Profiles.Activate(ctx, p, cfg)
		}
		cancel()
		if err != nil {
			c.revert("profile activation failed: %v", err)
			return err
		}
		sess.profile, sess.hasProfile = p, true
	}

	payload, err := cfg.Payload()
	if err != nil {
		c.abortStart(sess)
		return err
	}
	code, err := c.deps.Engine.Start(c.ctx, payload)
	if err != nil || code != 0 {
		_ = c.deps.Engine.Stop()
		c.abortStart(sess)
		if err == nil {
			err = fmt.Errorf("exit code %d", code)
		}
		return core.WrapError(err, core.CodeEngineStart, "engine failed to start %q", cfg.Remark)
	}

	sess.started = time.Now()
	c.arm(sess)

	if cfg.ProxyOnly {
		sess.helpers.Add(1)
		go c.checkInbound(sess, cfg.LocalSocksPort)
	} else {
		c.debouncer.Poke()
	}
	core.Log.Infof("Session", "Engine started for %q (socks %d, http %d, proxy-only %v)",
		cfg.Remark, cfg.LocalSocksPort, cfg.LocalHTTPPort, cfg.ProxyOnly)
	return nil
}

// arm creates the session context and starts every session-scoped component.
func (c *Controller) arm(sess *activeSession) {
	sess.ctx, sess.cancel = context.WithCancel(c.ctx)
	c.sess = sess
	gen := sess.gen

	c.poller.Start(context.WithValue(sess.ctx, genKey{}, gen), c.opts.PollInterval, sess.started)
	if !sess.cfg.ProxyOnly {
		c.debouncer.Arm(func(ctx context.Context, valid bool) {
			c.post(ctx, validatedMsg{gen: gen, valid: valid})
		})
	}
	if err := c.monitor.Start(func(from, to netmon.Category) {
		c.post(sess.ctx, switchMsg{gen: gen, from: from, to: to})
	}); err != nil {
		core.Log.Warnf("Session", "Network monitoring unavailable: %v", err)
	}
}

func (c *Controller) checkInbound(sess *activeSession, port int) {
	defer sess.helpers.Done()
	ctx, cancel := context.WithTimeout(sess.ctx, c.opts.InboundWait)
	defer cancel()

	addr := engine.LocalSocksAddr(port)
	err := engine.CheckInbound(ctx, addr)
	for err != nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
			err = engine.CheckInbound(ctx, addr)
		}
	}
	if err != nil {
		err = fmt.Errorf("local inbound %s: %w", addr, err)
	}
	c.post(sess.ctx, inboundMsg{gen: sess.gen, err: err})
}

// abortStart undoes a half-finished start before any component was armed.
func (c *Controller) abortStart(sess *activeSession) {
	if sess.hasProfile {
		ctx, cancel := c.storeCtx()
		if err := c.deps.Profiles.Deactivate(ctx, sess.profile); err != nil {
			core.Log.Warnf("Session", "Deactivate after failed start: %v", err)
		}
		cancel()
	}
	c.revert("engine start failed")
}

func (c *Controller) revert(format string, args ...any) {
	core.Log.Errorf("Session", "Start aborted: "+format, args...)
	c.setState(core.StateDisconnected)
	c.current = core.ZeroSnapshot()
	c.emit(c.current)
}

func (c *Controller) handleStop() error {
	if c.sess == nil {
		c.emit(c.current)
		return nil
	}
	return c.teardown()
}

// teardown stops every component of the live session, emits its final
// snapshot and returns to Disconnected. Only profile persistence failures
// are reported.
func (c *Controller) teardown() error {
	sess := c.sess
	if sess == nil {
		return nil
	}
	c.setState(core.StateDisconnected)
	sess.cancel()

	var errs []error
	if sess.hasProfile {
		ctx, cancel := c.storeCtx()
		if err := c.deps.Profiles.Deactivate(ctx, sess.profile); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := c.deps.Engine.Stop(); err != nil {
		core.Log.Warnf("Session", "Engine stop: %v", err)
	}
	c.poller.Stop()
	c.debouncer.Disarm()
	c.monitor.Stop()
	sess.helpers.Wait()
	c.sess = nil

	final := c.current
	final.UploadRate, final.DownloadRate = 0, 0
	final.State = core.StateDisconnected
	c.emit(final)
	c.current = core.ZeroSnapshot()

	core.Log.Infof("Session", "Session stopped after %s (up %d, down %d)",
		core.FormatDuration(final.Elapsed), final.TotalUpload, final.TotalDownload)
	return errors.Join(errs...)
}

func (c *Controller) handleValidated(m validatedMsg) {
	if m.gen != c.gen || c.sess == nil {
		return
	}
	c.deps.Bus.Publish(core.Event{Type: core.EventValidationPass, Payload: core.ValidationPayload{Valid: m.valid}})

	if m.valid {
		if c.state == core.StateConnecting {
			c.confirm()
		}
		return
	}
	core.Log.Warnf("Session", "Profile no longer enabled and active, stopping without restart")
	c.deps.Bus.Publish(core.Event{Type: core.EventSessionRevoked})
	if err := c.teardown(); err != nil {
		core.Log.Warnf("Session", "Teardown after revocation: %v", err)
	}
	c.emit(c.current)
}

func (c *Controller) handleInbound(m inboundMsg) {
	if m.gen != c.gen || c.state != core.StateConnecting {
		return
	}
	if m.err != nil {
		core.Log.Errorf("Session", "Proxy-only inbound not reachable: %v", m.err)
		if err := c.teardown(); err != nil {
			core.Log.Warnf("Session", "Teardown: %v", err)
		}
		return
	}
	c.confirm()
}

func (c *Controller) confirm() {
	c.setState(core.StateConnected)
	c.current.State = core.StateConnected
	c.emit(c.current)
}

// handleSwitch performs the cold restart that follows a WiFi↔Cellular switch.
func (c *Controller) handleSwitch(m switchMsg) {
	if m.gen != c.gen || c.state != core.StateConnected {
		return
	}
	cfg := c.sess.cfg
	core.Log.Infof("Session", "Network changed %s → %s, restarting session", m.from, m.to)
	c.deps.Bus.Publish(core.Event{
		Type:    core.EventNetworkSwitched,
		Payload: core.NetworkSwitchPayload{From: m.from.String(), To: m.to.String()},
	})
	if err := c.teardown(); err != nil {
		core.Log.Warnf("Session", "Teardown before network restart: %v", err)
	}
	if err := c.bringUp(cfg); err != nil {
		core.Log.Errorf("Session", "Restart after network switch failed: %v", err)
	}
}

func (c *Controller) handleSnapshot(m snapshotMsg) {
	if m.gen != c.gen || c.sess == nil {
		return
	}
	snap := m.snap
	snap.State = c.state
	c.current = snap
	c.emit(snap)
}

// handleCheck applies a bootstrap validation result: adopt a live session
// left by a previous process, or stop when the profile is not valid.
func (c *Controller) handleCheck(valid bool) error {
	if !valid {
		if c.sess == nil {
			c.emit(c.current)
			return nil
		}
		core.Log.Warnf("Session", "Bootstrap check found no valid profile, stopping")
		return c.teardown()
	}
	if c.state != core.StateDisconnected {
		c.emit(c.current)
		return nil
	}
	return c.adopt()
}

func (c *Controller) adopt() error {
	ctx, cancel := c.storeCtx()
	p, err := c.deps.Profiles.Resolve(ctx, c.opts.App.ProfileKey())
	cancel()
	if err != nil {
		return err
	}
	payload, err := core.DecodePayload(p.Payload)
	if err != nil {
		return err
	}
	cfg, err := core.ParseTunnelConfig(c.opts.App, payload.Remark, payload.Config,
		payload.BlockedApps, payload.BypassSubnets, payload.ProxyOnly,
		core.ParseOptions{EnableStats: c.opts.EnableStats})
	if err != nil {
		return err
	}

	c.gen++
	c.setState(core.StateConnecting)
	c.current = core.TrafficSnapshot{State: core.StateConnecting}
	c.emit(c.current)

	if _, err := c.deps.Engine.QueryCounters(c.ctx); err != nil {
		c.revert("adopted engine does not answer: %v", err)
		return core.WrapError(err, core.CodeInvalidState, "profile is active but the engine is unreachable")
	}

	sess := &activeSession{gen: c.gen, cfg: cfg, profile: p, hasProfile: true, started: time.Now()}
	c.arm(sess)
	c.confirm()
	core.Log.Infof("Session", "Adopted running session %q", cfg.Remark)
	return nil
}

// setState is the only writer of c.state.
func (c *Controller) setState(next core.SessionState) {
	old := c.state
	if old == next {
		return
	}
	if !old.CanTransition(next) {
		core.Log.Errorf("Session", "Illegal transition %s → %s ignored", old, next)
		return
	}
	c.state = next
	c.mirror.Store(int32(next))
	core.Log.Infof("Session", "State %s → %s", old, next)
	c.deps.Bus.Publish(core.Event{
		Type:    core.EventSessionStateChanged,
		Payload: core.SessionStatePayload{OldState: old, NewState: next},
	})
}

func (c *Controller) emit(snap core.TrafficSnapshot) {
	if c.deps.Sink != nil {
		c.deps.Sink.Send(snap)
	}
	c.deps.Bus.Publish(core.Event{Type: core.EventTrafficSnapshot, Payload: core.SnapshotPayload{Snapshot: snap}})
}

type genKey struct{}

// onSnapshot runs on the poller goroutine. The session generation travels
// in the poller's context.
func (c *Controller) onSnapshot(ctx context.Context, snap core.TrafficSnapshot) {
	gen, _ := ctx.Value(genKey{}).(uint64)
	c.post(ctx, snapshotMsg{gen: gen, snap: snap})
}

func (c *Controller) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, c.opts.StoreTimeout)
}

// post delivers a component message unless the component's context or the
// controller is gone.
func (c *Controller) post(ctx context.Context, m message) {
	select {
	case c.inbox <- m:
	case <-ctx.Done():
	case <-c.done:
	}
}

// call sends a command and waits for its reply.
func call[T any](ctx context.Context, c *Controller, m message, reply chan T) (T, error) {
	var zero T
	select {
	case c.inbox <- m:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrClosed
	}
}
