package session

import (
	"context"
	"errors"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
)

// Start validates the request and starts a session. A config that fails to
// parse is rejected before the state machine sees it.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	cfg, err := core.ParseTunnelConfig(c.opts.App, req.Remark, req.Config,
		req.BlockedApps, req.BypassSubnets, req.ProxyOnly,
		core.ParseOptions{EnableStats: c.opts.EnableStats})
	if err != nil {
		core.Log.Warnf("Session", "Rejected config for %q: %v", req.Remark, err)
		return err
	}
	reply := make(chan error, 1)
	res, err := call(ctx, c, startMsg{cfg: cfg, reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Stop tears the session down. Stopping an idle controller re-emits the
// zeroed snapshot.
func (c *Controller) Stop(ctx context.Context) error {
	reply := make(chan error, 1)
	res, err := call(ctx, c, stopMsg{reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// Initialize re-emits the current snapshot so a host can re-sync its view.
func (c *Controller) Initialize(ctx context.Context) error {
	reply := make(chan error, 1)
	res, err := call(ctx, c, initializeMsg{reply: reply}, reply)
	if err != nil {
		return err
	}
	return res
}

// CheckState runs the bounded bootstrap validation. A valid profile with no
// local session is adopted; an invalid one stops whatever is running. A
// validation that does not finish in time counts as invalid and is reported
// as VALIDATION_TIMEOUT.
func (c *Controller) CheckState(ctx context.Context) (bool, error) {
	valid, verr := c.validateBounded(ctx)
	if verr != nil {
		core.Log.Warnf("Session", "Bootstrap validation: %v", verr)
		valid = false
	}

	reply := make(chan error, 1)
	res, err := call(ctx, c, checkMsg{valid: valid, reply: reply}, reply)
	if err != nil {
		return false, err
	}
	if verr != nil {
		return false, verr
	}
	return valid && res == nil, res
}

func (c *Controller) validateBounded(ctx context.Context) (bool, error) {
	vctx, cancel := context.WithTimeout(ctx, c.opts.BootstrapTimeout)
	defer cancel()

	type result struct {
		valid bool
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := c.deps.Profiles.Validate(vctx, c.opts.App.ProfileKey())
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return false, core.WrapError(r.err, core.CodeValidationTimeout, "profile validation exceeded %s", c.opts.BootstrapTimeout)
		}
		return r.valid, r.err
	case <-vctx.Done():
		return false, core.WrapError(vctx.Err(), core.CodeValidationTimeout, "profile validation exceeded %s", c.opts.BootstrapTimeout)
	}
}

// RequestPermission makes sure the persisted profile exists, which is what
// prompts the OS for tunnel permission on first use.
func (c *Controller) RequestPermission(ctx context.Context) (bool, error) {
	reply := make(chan error, 1)
	res, err := call(ctx, c, permissionMsg{reply: reply}, reply)
	if err != nil {
		return false, err
	}
	return res == nil, res
}

// Snapshot returns the most recently emitted snapshot.
func (c *Controller) Snapshot(ctx context.Context) (core.TrafficSnapshot, error) {
	st, err := c.query(ctx)
	return st.snapshot, err
}

func (c *Controller) query(ctx context.Context) (status, error) {
	reply := make(chan status, 1)
	return call(ctx, c, queryMsg{reply: reply}, reply)
}

// ServerDelay measures a config's delay on a throw-away engine instance.
// Unreachable servers measure -1 without an error.
func (c *Controller) ServerDelay(ctx context.Context, config, url string) (int64, error) {
	if c.deps.Prober == nil {
		return -1, core.NewError(core.CodeUnknownCommand, "delay probing is not available on this platform")
	}
	if url == "" {
		url = c.opts.DelayURL
	}
	ms, err := c.deps.Prober.MeasureDelay(ctx, config, url)
	if err != nil {
		if core.CodeOf(err) == core.CodeConfigParse {
			return -1, err
		}
		core.Log.Debugf("Session", "Delay probe failed: %v", err)
		return -1, nil
	}
	return ms, nil
}

// ConnectedServerDelay measures delay through the running session's local
// SOCKS inbound. It is -1 unless the session is connected.
func (c *Controller) ConnectedServerDelay(ctx context.Context, url string) (int64, error) {
	st, err := c.query(ctx)
	if err != nil {
		return -1, err
	}
	if st.state != core.StateConnected || st.socksPort == 0 {
		return -1, nil
	}
	if url == "" {
		url = c.opts.DelayURL
	}
	ms, err := engine.MeasureThroughSOCKS(ctx, engine.LocalSocksAddr(st.socksPort), url)
	if err != nil {
		core.Log.Debugf("Session", "Connected delay probe failed: %v", err)
		return -1, nil
	}
	return ms, nil
}

// CoreVersion returns the engine core version with a "v" prefix.
func (c *Controller) CoreVersion() string {
	return "v" + c.deps.Engine.Version()
}
