package profile

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"

	"v2ray-session/internal/core"
)

// Adapter is the only path through which the session touches the profile
// store. It guarantees find-or-create semantics per identity.
type Adapter struct {
	store Store

	// mu serializes find-or-create so concurrent resolves never duplicate.
	mu sync.Mutex
}

// NewAdapter wraps a platform store.
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// Resolve returns the profile for identity, creating, saving and reloading a
// new one when none exists.
func (a *Adapter) Resolve(ctx context.Context, identity string) (core.Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.store.LoadAll(ctx)
	if err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "load profiles")
	}
	if p, ok := lo.Find(all, func(p core.Profile) bool { return p.Identity == identity }); ok {
		return p, nil
	}

	created, err := a.store.Create(ctx, identity, nil)
	if err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "create profile %q", identity)
	}
	reloaded, err := a.store.Reload(ctx, created.ID)
	if err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "reload profile %q", identity)
	}
	core.Log.Infof("Profile", "Created profile %s for %q", reloaded.ID, identity)
	return reloaded, nil
}

// Activate attaches the config payload, enables the profile, saves and
// reloads it. Other enabled profiles of the same identity are disabled first.
func (a *Adapter) Activate(ctx context.Context, p core.Profile, cfg core.TunnelConfig) (core.Profile, error) {
	payload, err := cfg.Payload()
	if err != nil {
		return core.Profile{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.store.LoadAll(ctx)
	if err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "load profiles")
	}
	for _, other := range all {
		if other.ID == p.ID || other.Identity != p.Identity || !other.Enabled {
			continue
		}
		other.Enabled = false
		if err := a.store.Save(ctx, other); err != nil {
			return core.Profile{}, core.WrapError(err, core.CodePersistence, "disable duplicate profile %s", other.ID)
		}
		core.Log.Warnf("Profile", "Disabled duplicate profile %s for %q", other.ID, other.Identity)
	}

	p.Payload = payload
	p.Enabled = true
	if err := a.store.Save(ctx, p); err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "save profile %s", p.ID)
	}
	reloaded, err := a.store.Reload(ctx, p.ID)
	if err != nil {
		return core.Profile{}, core.WrapError(err, core.CodePersistence, "reload profile %s", p.ID)
	}
	if !reloaded.Enabled {
		return core.Profile{}, core.NewError(core.CodePersistence, "profile %s not enabled after save", p.ID)
	}
	return reloaded, nil
}

// Deactivate marks the profile disabled and saves it. A profile that no
// longer exists is already inactive.
func (a *Adapter) Deactivate(ctx context.Context, p core.Profile) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, err := a.store.Reload(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return core.WrapError(err, core.CodePersistence, "reload profile %s", p.ID)
	}
	if !current.Enabled {
		return nil
	}
	current.Enabled = false
	if err := a.store.Save(ctx, current); err != nil {
		return core.WrapError(err, core.CodePersistence, "save profile %s", p.ID)
	}
	return nil
}

// Validate reports whether a profile for identity exists, is enabled and
// is connected or connecting.
func (a *Adapter) Validate(ctx context.Context, identity string) (bool, error) {
	all, err := a.store.LoadAll(ctx)
	if err != nil {
		return false, core.WrapError(err, core.CodePersistence, "load profiles")
	}
	p, ok := lo.Find(all, func(p core.Profile) bool { return p.Identity == identity && p.Enabled })
	if !ok {
		return false, nil
	}
	status, err := a.store.Status(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, core.WrapError(err, core.CodePersistence, "query status of %s", p.ID)
	}
	return status.Active(), nil
}
