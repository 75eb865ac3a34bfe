package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SessionConfig tunes the session controller and its monitors.
// Durations are Go duration strings ("1s", "500ms").
type SessionConfig struct {
	PollInterval      string `yaml:"poll_interval,omitempty"`
	DebounceWindow    string `yaml:"debounce_window,omitempty"`
	MinSwitchInterval string `yaml:"min_switch_interval,omitempty"`
	BootstrapTimeout  string `yaml:"bootstrap_timeout,omitempty"`
	DelayURL          string `yaml:"delay_url,omitempty"`
	// EnableStats injects the traffic accounting overlay (default true).
	EnableStats *bool `yaml:"enable_stats,omitempty"`
}

const (
	DefaultPollInterval      = time.Second
	DefaultDebounceWindow    = 500 * time.Millisecond
	DefaultMinSwitchInterval = time.Second
	MaxBootstrapTimeout      = 2 * time.Second
	DefaultDelayURL          = "https://www.google.com/generate_204"
)

// PollEvery returns the stats polling interval.
func (s SessionConfig) PollEvery() time.Duration {
	return parseDuration(s.PollInterval, DefaultPollInterval)
}

// Debounce returns the status debounce window.
func (s SessionConfig) Debounce() time.Duration {
	return parseDuration(s.DebounceWindow, DefaultDebounceWindow)
}

// SwitchInterval returns the network monitor's minimum inter-update interval,
// never below one second.
func (s SessionConfig) SwitchInterval() time.Duration {
	return max(parseDuration(s.MinSwitchInterval, DefaultMinSwitchInterval), time.Second)
}

// Bootstrap returns the bounded wait for the cold-start validity check,
// capped at two seconds.
func (s SessionConfig) Bootstrap() time.Duration {
	return min(parseDuration(s.BootstrapTimeout, MaxBootstrapTimeout), MaxBootstrapTimeout)
}

// ProbeURL returns the delay probe target.
func (s SessionConfig) ProbeURL() string {
	if s.DelayURL == "" {
		return DefaultDelayURL
	}
	return s.DelayURL
}

// StatsEnabled reports whether the traffic accounting overlay is applied.
func (s SessionConfig) StatsEnabled() bool {
	return s.EnableStats == nil || *s.EnableStats
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ProfilesConfig locates the file-backed profile store.
type ProfilesConfig struct {
	Path string `yaml:"path,omitempty"`
}

// IPCConfig configures the host bridge socket.
type IPCConfig struct {
	Socket string `yaml:"socket,omitempty"`
	// StopWhenIdle stops the session once no host client has been
	// connected for IdleGrace.
	StopWhenIdle bool   `yaml:"stop_when_idle,omitempty"`
	IdleGrace    string `yaml:"idle_grace,omitempty"`
}

// Grace returns the idle grace period.
func (c IPCConfig) Grace() time.Duration {
	return parseDuration(c.IdleGrace, 30*time.Second)
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Config is the top-level daemon configuration.
type Config struct {
	App      AppIdentity    `yaml:"app"`
	Session  SessionConfig  `yaml:"session,omitempty"`
	Profiles ProfilesConfig `yaml:"profiles,omitempty"`
	IPC      IPCConfig      `yaml:"ipc,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
}

// ConfigManager handles loading, saving, and hot-reloading configuration.
type ConfigManager struct {
	mu       sync.RWMutex
	config   Config
	filePath string
	bus      *EventBus
}

// NewConfigManager creates a config manager that reads from the given file.
func NewConfigManager(filePath string, bus *EventBus) *ConfigManager {
	return &ConfigManager{
		filePath: filePath,
		bus:      bus,
	}
}

// DefaultConfig returns a configuration usable out of the box.
func DefaultConfig() Config {
	return Config{
		App: AppIdentity{
			Name:     "SuLian VPN",
			BundleID: "com.sulian.app.v2.tunnel",
		},
		Profiles: ProfilesConfig{Path: "profiles.yaml"},
		IPC:      IPCConfig{Socket: "/tmp/v2ray-session.sock"},
		Logging:  LogConfig{Level: "info"},
	}
}

// Load reads and parses the configuration from disk.
// If the config file does not exist, it creates one with default values.
func (cm *ConfigManager) Load() error {
	data, err := os.ReadFile(cm.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			Log.Infof("Core", "Config %s not found, creating default config", cm.filePath)
			cm.mu.Lock()
			cm.config = DefaultConfig()
			cm.mu.Unlock()
			if saveErr := cm.Save(); saveErr != nil {
				return fmt.Errorf("[Core] failed to create default config: %w", saveErr)
			}
			return nil
		}
		return fmt.Errorf("[Core] failed to read config %s: %w", cm.filePath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	if cfg.App.ProfileKey() == "" {
		return fmt.Errorf("[Core] config %s: app.name or app.bundle_id is required", cm.filePath)
	}

	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()

	cm.bus.Publish(Event{Type: EventConfigReloaded, Payload: cfg})
	return nil
}

// Save writes the current configuration to disk.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	data, err := yaml.Marshal(&cm.config)
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("[Core] failed to marshal config: %w", err)
	}

	if err := os.WriteFile(cm.filePath, data, 0644); err != nil {
		return fmt.Errorf("[Core] failed to write config %s: %w", cm.filePath, err)
	}

	return nil
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Watch reloads the file whenever it changes on disk and calls onReload with
// the new configuration. Bursts of write events are coalesced. The returned
// function stops watching; a reload still pending at that point is dropped.
func (cm *ConfigManager) Watch(onReload func(Config)) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("[Core] failed to create watcher: %w", err)
	}
	// Editors replace files atomically, so watch the directory.
	if err := w.Add(filepath.Dir(cm.filePath)); err != nil {
		w.Close()
		return nil, fmt.Errorf("[Core] failed to watch %s: %w", cm.filePath, err)
	}

	debounced := debounce.New(200 * time.Millisecond)
	done := make(chan struct{})
	reload := func() {
		select {
		case <-done:
			return
		default:
		}
		if err := cm.Load(); err != nil {
			Log.Warnf("Core", "Config reload failed: %v", err)
			return
		}
		Log.Infof("Core", "Config reloaded from %s", cm.filePath)
		if onReload != nil {
			onReload(cm.Get())
		}
	}

	target := filepath.Clean(cm.filePath)
	go func() {
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
					debounced(reload)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				Log.Warnf("Core", "Config watcher error: %v", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			w.Close()
		})
	}, nil
}
