// Command v2ray-sessiond runs a tunnel session controller and serves it to
// host applications over a Unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
	"v2ray-session/internal/engine/xray"
	"v2ray-session/internal/ipc"
	"v2ray-session/internal/metrics"
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/platform"
	"v2ray-session/internal/platform/local"
	"v2ray-session/internal/profile"
	"v2ray-session/internal/session"
)

// Build info, injected via ldflags at compile time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("v2ray-sessiond %s (commit=%s, built=%s, xray-core=%s)\n",
			version, commit, buildDate, xray.New().Version())
		return
	}

	if err := run(resolveRelativeToExe(*configPath)); err != nil {
		core.Log.Fatalf("Core", "Fatal: %v", err)
	}
}

func run(configPath string) error {
	// === 1. Config and logging ===
	bus := core.NewEventBus()
	cfgManager := core.NewConfigManager(configPath, bus)
	if err := cfgManager.Load(); err != nil {
		return err
	}
	cfg := cfgManager.Get()

	core.Log = core.NewLogger(cfg.Logging)
	defer core.Log.Close()
	core.Log.Infof("Core", "v2ray-sessiond %s starting (config %s)", version, configPath)

	stopWatch, err := cfgManager.Watch(func(c core.Config) {
		core.Log.SetLevels(c.Logging)
	})
	if err != nil {
		core.Log.Warnf("Core", "Config hot reload disabled: %v", err)
		stopWatch = func() {}
	}
	defer stopWatch()

	m := metrics.New()
	m.Attach(bus)

	// === 2. Profiles, engine and the local VPN subsystem ===
	store := profile.NewFileStore(resolveRelativeToExe(cfg.Profiles.Path))
	xe := xray.New()
	vpn := local.New(store, xe, cfg.App.ProfileKey())

	osPlat := newPlatform()
	paths, err := osPlat.NewPathSource()
	if err != nil {
		core.Log.Warnf("Core", "Network path source unavailable, switches will not be detected: %v", err)
		paths = netmon.NewFeed()
	}
	notifyOn(bus, osPlat.Notifier)

	// === 3. Session controller and its host bridge ===
	broadcaster := bridge.NewBroadcaster()
	sink := bridge.NewAsyncSink(broadcaster.Publish, bridge.DefaultQueueSize)
	defer sink.Close()

	ctrl := session.New(session.Deps{
		Profiles: profile.NewAdapter(vpn),
		Engine:   vpn,
		Prober:   xe,
		Notifier: vpn,
		Paths:    paths,
		Sink:     sink,
		Bus:      bus,
	}, session.OptionsFromConfig(cfg))

	var tracker *ipc.ConnTracker
	if cfg.IPC.StopWhenIdle {
		tracker = ipc.NewConnTracker(cfg.IPC.Grace(), func() {
			core.Log.Infof("IPC", "No clients for %s, stopping session", cfg.IPC.Grace())
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := ctrl.Stop(ctx); err != nil {
				core.Log.Warnf("IPC", "Idle stop: %v", err)
			}
		})
		defer tracker.CancelGrace()
	}

	ln, err := listen(osPlat, cfg.IPC.Socket)
	if err != nil {
		return err
	}
	srv := ipc.NewServer(bridge.NewDispatcher(ctrl), broadcaster, tracker)

	// === 4. Run until signalled ===
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	ctrlDone := make(chan struct{})
	g.Go(func() error {
		defer close(ctrlDone)
		return ctrl.Run(gctx)
	})
	g.Go(func() error { return srv.Serve(ln) })
	g.Go(func() error {
		stopServing(ctrlDone, sink, srv)
		return nil
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Listen) })
	}
	g.Go(func() error { return watchRevoke(gctx, vpn) })

	err = g.Wait()
	core.Log.Infof("Core", "v2ray-sessiond stopped")
	return err
}

// stopServing waits for the controller to finish its teardown, flushes the
// queued snapshots to watchers and then stops the server.
func stopServing(ctrlDone <-chan struct{}, sink *bridge.AsyncSink, srv *ipc.Server) {
	<-ctrlDone
	sink.Close()
	srv.Stop()
}

// listen prefers a socket handed over by the service manager.
func listen(p *platform.Platform, socket string) (net.Listener, error) {
	if p.InheritListener != nil {
		if ln, err := p.InheritListener(); err == nil {
			core.Log.Infof("IPC", "Using socket-activated listener %s", ln.Addr())
			return ln, nil
		}
	}
	return ipc.Listen(socket)
}

// notifyOn shows a system notification when the session ends for a reason
// the user did not ask for.
func notifyOn(bus *core.EventBus, n platform.Notifier) {
	bus.Subscribe(core.EventSessionRevoked, func(core.Event) {
		go n.Show("VPN disconnected", "The tunnel was turned off by the system")
	})
	bus.Subscribe(core.EventNetworkSwitched, func(e core.Event) {
		p, ok := e.Payload.(core.NetworkSwitchPayload)
		if !ok {
			return
		}
		go n.Show("Network changed", fmt.Sprintf("Reconnecting over %s", p.To))
	})
}

// watchRevoke revokes the running profile on the revoke signal, which is
// how the local platform is told the user switched the tunnel off.
func watchRevoke(ctx context.Context, vpn *local.Platform) error {
	if len(revokeSignals) == 0 {
		return nil
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, revokeSignals...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			if !vpn.Revoke() {
				core.Log.Infof("Core", "Revoke requested but no profile is active")
			}
		}
	}
}

// resolveRelativeToExe resolves a relative path against the directory containing
// the running executable. Absolute paths are returned unchanged.
func resolveRelativeToExe(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	exe, err := os.Executable()
	if err != nil {
		core.Log.Warnf("Core", "Cannot determine executable path, using %q as-is: %v", path, err)
		return path
	}
	return filepath.Join(filepath.Dir(exe), path)
}
