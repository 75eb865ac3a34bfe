package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigManagerCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cm := NewConfigManager(path, nil)
	require.NoError(t, cm.Load())

	assert.FileExists(t, path)
	cfg := cm.Get()
	assert.Equal(t, "SuLian VPN", cfg.App.Name)
	assert.Equal(t, DefaultPollInterval, cfg.Session.PollEvery())
	assert.True(t, cfg.Session.StatsEnabled())
}

func TestConfigManagerLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: Test VPN
session:
  poll_interval: 250ms
  debounce_window: nonsense
  min_switch_interval: 100ms
  bootstrap_timeout: 10s
  enable_stats: false
logging:
  level: debug
  components:
    session: warn
`), 0644))

	bus := NewEventBus()
	var reloaded int
	bus.Subscribe(EventConfigReloaded, func(Event) { reloaded++ })

	cm := NewConfigManager(path, bus)
	require.NoError(t, cm.Load())
	cfg := cm.Get()

	assert.Equal(t, 1, reloaded)
	assert.Equal(t, "Test VPN", cfg.App.Name)
	assert.Equal(t, "com.sulian.app.v2.tunnel", cfg.App.BundleID)
	assert.Equal(t, 250*time.Millisecond, cfg.Session.PollEvery())
	assert.Equal(t, DefaultDebounceWindow, cfg.Session.Debounce())
	assert.Equal(t, time.Second, cfg.Session.SwitchInterval())
	assert.Equal(t, MaxBootstrapTimeout, cfg.Session.Bootstrap())
	assert.Equal(t, DefaultDelayURL, cfg.Session.ProbeURL())
	assert.False(t, cfg.Session.StatsEnabled())
	assert.Equal(t, "warn", cfg.Logging.Components["session"])
}

func TestConfigManagerRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app: [\n"), 0644))
	assert.Error(t, NewConfigManager(path, nil).Load())

	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: \"\"\n  bundle_id: \"\"\n"), 0644))
	assert.Error(t, NewConfigManager(path, nil).Load())
}

func TestConfigManagerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: One\n"), 0644))

	cm := NewConfigManager(path, nil)
	require.NoError(t, cm.Load())

	got := make(chan Config, 4)
	stop, err := cm.Watch(func(c Config) { got <- c })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: Two\n"), 0644))

	select {
	case c := <-got:
		assert.Equal(t, "Two", c.App.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
	stop()
}

func TestConfigManagerWatchStopDropsPendingReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: One\n"), 0644))

	cm := NewConfigManager(path, nil)
	require.NoError(t, cm.Load())

	got := make(chan Config, 4)
	stop, err := cm.Watch(func(c Config) { got <- c })
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: Two\n"), 0644))
	time.Sleep(50 * time.Millisecond) // event seen, reload still inside the debounce window
	stop()

	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, got)
	assert.Equal(t, "One", cm.Get().App.Name)
}
