package profile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"v2ray-session/internal/core"
)

const identity = "SuLian VPN"

// countingStore counts Create calls and can inject save failures.
type countingStore struct {
	*FileStore
	mu      sync.Mutex
	creates int
	saveErr error
	loadErr error
}

func (c *countingStore) Create(ctx context.Context, id string, payload []byte) (core.Profile, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.FileStore.Create(ctx, id, payload)
}

func (c *countingStore) Save(ctx context.Context, p core.Profile) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.FileStore.Save(ctx, p)
}

func (c *countingStore) LoadAll(ctx context.Context) ([]core.Profile, error) {
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	return c.FileStore.LoadAll(ctx)
}

func newTestStore(t *testing.T) *countingStore {
	t.Helper()
	return &countingStore{FileStore: NewFileStore(filepath.Join(t.TempDir(), "profiles.yaml"))}
}

func testConfig(t *testing.T) core.TunnelConfig {
	t.Helper()
	cfg, err := core.ParseTunnelConfig(core.AppIdentity{Name: identity}, "r",
		`{"inbounds":[{"protocol":"socks","port":10808}],"outbounds":[{"protocol":"freedom"}]}`,
		nil, nil, false, core.ParseOptions{})
	require.NoError(t, err)
	return cfg
}

func TestResolveCreatesOnce(t *testing.T) {
	store := newTestStore(t)
	a := NewAdapter(store)
	ctx := context.Background()

	first, err := a.Resolve(ctx, identity)
	require.NoError(t, err)
	second, err := a.Resolve(ctx, identity)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, store.creates)
	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolveConcurrent(t *testing.T) {
	store := newTestStore(t)
	a := NewAdapter(store)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Resolve(context.Background(), identity)
			if assert.NoError(t, err) {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.creates)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestActivateDeactivate(t *testing.T) {
	store := newTestStore(t)
	a := NewAdapter(store)
	ctx := context.Background()

	p, err := a.Resolve(ctx, identity)
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	active, err := a.Activate(ctx, p, testConfig(t))
	require.NoError(t, err)
	assert.True(t, active.Enabled)
	payload, err := core.DecodePayload(active.Payload)
	require.NoError(t, err)
	assert.Equal(t, 10808, payload.SocksPort)

	require.NoError(t, a.Deactivate(ctx, active))
	reloaded, err := store.Reload(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.Enabled)

	// Deactivating twice or after deletion is a no-op.
	require.NoError(t, a.Deactivate(ctx, active))
	require.NoError(t, store.Delete(ctx, p.ID))
	require.NoError(t, a.Deactivate(ctx, active))
}

func TestActivateDisablesDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dup, err := store.FileStore.Create(ctx, identity, nil)
	require.NoError(t, err)
	dup.Enabled = true
	require.NoError(t, store.Save(ctx, dup))
	other, err := store.FileStore.Create(ctx, identity, nil)
	require.NoError(t, err)

	_, err = NewAdapter(store).Activate(ctx, other, testConfig(t))
	require.NoError(t, err)

	all, err := store.LoadAll(ctx)
	require.NoError(t, err)
	enabled := 0
	for _, p := range all {
		if p.Enabled {
			enabled++
			assert.Equal(t, other.ID, p.ID)
		}
	}
	assert.Equal(t, 1, enabled)
}

func TestPersistenceErrors(t *testing.T) {
	store := newTestStore(t)
	a := NewAdapter(store)
	ctx := context.Background()

	p, err := a.Resolve(ctx, identity)
	require.NoError(t, err)

	store.saveErr = errors.New("rejected")
	_, err = a.Activate(ctx, p, testConfig(t))
	assert.ErrorIs(t, err, core.ErrPersistence)

	store.loadErr = errors.New("unreachable")
	_, err = a.Resolve(ctx, identity)
	assert.ErrorIs(t, err, core.ErrPersistence)
	_, err = a.Validate(ctx, identity)
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func TestValidate(t *testing.T) {
	store := newTestStore(t)
	a := NewAdapter(store)
	ctx := context.Background()

	ok, err := a.Validate(ctx, identity)
	require.NoError(t, err)
	assert.False(t, ok, "no profile")

	p, err := a.Resolve(ctx, identity)
	require.NoError(t, err)
	p, err = a.Activate(ctx, p, testConfig(t))
	require.NoError(t, err)

	tests := []struct {
		status core.ConnStatus
		want   bool
	}{
		{core.StatusDisconnected, false},
		{core.StatusConnecting, true},
		{core.StatusConnected, true},
		{core.StatusReasserting, true},
		{core.StatusDisconnecting, false},
	}
	for _, tt := range tests {
		store.SetStatus(p.ID, tt.status)
		ok, err := a.Validate(ctx, identity)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.status.String())
	}

	store.SetStatus(p.ID, core.StatusConnected)
	require.NoError(t, store.Delete(ctx, p.ID))
	ok, err = a.Validate(ctx, identity)
	require.NoError(t, err)
	assert.False(t, ok, "deleted profile")
}
