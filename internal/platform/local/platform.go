// Package local stands in for an OS VPN subsystem on hosts that have none.
//
// Profiles live in a profile.FileStore, live statuses are driven by the
// in-process engine and every status change is broadcast through a
// statuswatch.Hub, which is what a real OS does with its status-changed
// notification.
package local

import (
	"context"
	"sync"

	"github.com/samber/lo"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
	"v2ray-session/internal/profile"
	"v2ray-session/internal/statuswatch"
)

// Platform implements profile.Store, statuswatch.Notifier and engine.Engine.
type Platform struct {
	*profile.FileStore
	hub      *statuswatch.Hub
	inner    engine.Engine
	identity string

	mu     sync.Mutex
	active string // profile ID the running engine belongs to
}

// New wraps store and inner for the profiles of identity.
func New(store *profile.FileStore, inner engine.Engine, identity string) *Platform {
	return &Platform{
		FileStore: store,
		hub:       statuswatch.NewHub(),
		inner:     inner,
		identity:  identity,
	}
}

// Subscribe registers for status-changed notifications.
func (p *Platform) Subscribe(fn func()) func() {
	return p.hub.Subscribe(fn)
}

// Save persists the profile and notifies when saving changed its status.
func (p *Platform) Save(ctx context.Context, prof core.Profile) error {
	before, _ := p.FileStore.Status(ctx, prof.ID)
	if err := p.FileStore.Save(ctx, prof); err != nil {
		return err
	}
	if after, _ := p.FileStore.Status(ctx, prof.ID); after != before {
		core.Log.Debugf("Platform", "Profile %s status %s → %s", prof.ID, before, after)
		p.hub.Notify()
	}
	return nil
}

// Start launches the engine and walks the enabled profile through
// connecting to connected, or back to disconnected on failure.
func (p *Platform) Start(ctx context.Context, payload []byte) (int, error) {
	id := p.enabledProfile(ctx)
	p.setStatus(id, core.StatusConnecting)

	code, err := p.inner.Start(ctx, payload)
	if err != nil || code != 0 {
		p.setStatus(id, core.StatusDisconnected)
		return code, err
	}

	p.mu.Lock()
	p.active = id
	p.mu.Unlock()
	p.setStatus(id, core.StatusConnected)
	return 0, nil
}

// Stop stops the engine and marks its profile disconnected.
func (p *Platform) Stop() error {
	err := p.inner.Stop()
	p.mu.Lock()
	id := p.active
	p.active = ""
	p.mu.Unlock()
	p.setStatus(id, core.StatusDisconnected)
	return err
}

func (p *Platform) QueryCounters(ctx context.Context) (engine.Counters, error) {
	return p.inner.QueryCounters(ctx)
}

func (p *Platform) Version() string {
	return p.inner.Version()
}

// Revoke simulates the user switching the tunnel off in system settings:
// the profile of the running engine drops to disconnected while the engine
// keeps running. It reports whether anything was revoked.
func (p *Platform) Revoke() bool {
	p.mu.Lock()
	id := p.active
	p.mu.Unlock()
	if id == "" {
		return false
	}
	core.Log.Infof("Platform", "Revoking tunnel profile %s", id)
	p.setStatus(id, core.StatusDisconnected)
	return true
}

func (p *Platform) enabledProfile(ctx context.Context) string {
	all, err := p.FileStore.LoadAll(ctx)
	if err != nil {
		core.Log.Warnf("Platform", "Load profiles: %v", err)
		return ""
	}
	prof, _ := lo.Find(all, func(x core.Profile) bool { return x.Identity == p.identity && x.Enabled })
	return prof.ID
}

func (p *Platform) setStatus(id string, status core.ConnStatus) {
	if id == "" {
		return
	}
	if p.FileStore.SetStatus(id, status) {
		p.hub.Notify()
	}
}
