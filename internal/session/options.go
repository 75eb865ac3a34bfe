package session

import (
	"time"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/profile"
	"v2ray-session/internal/statuswatch"
)

// Sink receives every snapshot the controller emits. Send must not block.
type Sink interface {
	Send(snap core.TrafficSnapshot)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Profiles *profile.Adapter
	Engine   engine.Engine
	// Prober runs throw-away delay probes. Optional.
	Prober   engine.DelayProber
	Notifier statuswatch.Notifier
	Paths    netmon.PathSource
	Sink     Sink
	// Bus receives state, snapshot and validation events. Optional.
	Bus *core.EventBus
}

// Options tune timing and identity.
type Options struct {
	App               core.AppIdentity
	PollInterval      time.Duration
	DebounceWindow    time.Duration
	MinSwitchInterval time.Duration
	BootstrapTimeout  time.Duration
	DelayURL          string
	EnableStats       bool
	// StoreTimeout bounds each profile store operation.
	StoreTimeout time.Duration
	// InboundWait bounds the proxy-only local inbound check.
	InboundWait time.Duration
}

// OptionsFromConfig derives controller options from the daemon config.
func OptionsFromConfig(cfg core.Config) Options {
	return Options{
		App:               cfg.App,
		PollInterval:      cfg.Session.PollEvery(),
		DebounceWindow:    cfg.Session.Debounce(),
		MinSwitchInterval: cfg.Session.SwitchInterval(),
		BootstrapTimeout:  cfg.Session.Bootstrap(),
		DelayURL:          cfg.Session.ProbeURL(),
		EnableStats:       cfg.Session.StatsEnabled(),
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = core.DefaultPollInterval
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = core.DefaultDebounceWindow
	}
	if o.BootstrapTimeout <= 0 || o.BootstrapTimeout > core.MaxBootstrapTimeout {
		o.BootstrapTimeout = core.MaxBootstrapTimeout
	}
	if o.DelayURL == "" {
		o.DelayURL = core.DefaultDelayURL
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	if o.InboundWait <= 0 {
		o.InboundWait = 5 * time.Second
	}
	return o
}

// StartRequest is the host's start command.
type StartRequest struct {
	Remark        string
	Config        string
	BlockedApps   []string
	BypassSubnets []string
	ProxyOnly     bool
}
