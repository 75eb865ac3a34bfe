package profile

import (
	"context"
	"errors"

	"v2ray-session/internal/core"
)

// ErrNotFound is returned by a Store when the requested profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Store is the platform's persisted profile store. Implementations may
// normalize a record on save, so callers reload after saving.
type Store interface {
	LoadAll(ctx context.Context) ([]core.Profile, error)
	// Create persists a new disabled profile for identity and returns it.
	Create(ctx context.Context, identity string, payload []byte) (core.Profile, error)
	Save(ctx context.Context, p core.Profile) error
	Reload(ctx context.Context, id string) (core.Profile, error)
	Delete(ctx context.Context, id string) error
	// Status reports the live connection status of a profile.
	Status(ctx context.Context, id string) (core.ConnStatus, error)
}
