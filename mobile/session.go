// Package mobile is the gomobile binding of the session controller.
//
// The app process creates a Session with its profile store, tunnel host and
// event listener, forwards OS status-changed and network-path callbacks to
// it, and drives it with the methods below or with Invoke. The tunnel
// process runs a TunnelExtension.
package mobile

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"v2ray-session/internal/bridge"
	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
	"v2ray-session/internal/engine/xray"
	"v2ray-session/internal/netmon"
	"v2ray-session/internal/profile"
	"v2ray-session/internal/session"
	"v2ray-session/internal/statuswatch"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// callTimeout bounds every blocking call made from the host's threads.
const callTimeout = 30 * time.Second

// StringList carries a list of strings across the binding.
type StringList struct {
	items []string
}

func NewStringList() *StringList { return &StringList{} }

func (l *StringList) Add(s string) { l.items = append(l.items, s) }

func (l *StringList) Len() int { return len(l.items) }

func (l *StringList) slice() []string {
	if l == nil {
		return nil
	}
	return l.items
}

// Config tunes a Session. Zero durations take the defaults.
type Config struct {
	AppName          string
	BundleID         string
	PollIntervalMs   int64
	DebounceWindowMs int64
	DelayURL         string
}

// Session is the app-side controller.
type Session struct {
	ctrl       *session.Controller
	dispatcher *bridge.Dispatcher
	hub        *statuswatch.Hub
	feed       *netmon.Feed
	sink       *bridge.AsyncSink
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSession wires a controller to the host and starts it.
func NewSession(cfg *Config, store ProfileStore, host TunnelHost, listener EventListener) *Session {
	opts := session.Options{
		App:            core.AppIdentity{Name: cfg.AppName, BundleID: cfg.BundleID},
		PollInterval:   time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		DebounceWindow: time.Duration(cfg.DebounceWindowMs) * time.Millisecond,
		DelayURL:       cfg.DelayURL,
		EnableStats:    true,
	}
	xe := xray.New()
	return newSession(opts, hostStore{host: store}, engine.NewRemote(tunnelHost{host: host}, xe.Version), xe, listener)
}

func newSession(opts session.Options, store profile.Store, eng engine.Engine, prober engine.DelayProber, listener EventListener) *Session {
	s := &Session{
		hub:  statuswatch.NewHub(),
		feed: netmon.NewFeed(),
		done: make(chan struct{}),
	}
	s.sink = bridge.NewAsyncSink(func(snap core.TrafficSnapshot) {
		t := snap.Tuple()
		listener.OnSnapshot(t[0], t[1], t[2], t[3], t[4], t[5])
	}, bridge.DefaultQueueSize)

	s.ctrl = session.New(session.Deps{
		Profiles: profile.NewAdapter(store),
		Engine:   eng,
		Prober:   prober,
		Notifier: s.hub,
		Paths:    s.feed,
		Sink:     s.sink,
	}, opts)
	s.dispatcher = bridge.NewDispatcher(s.ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer close(s.done)
		_ = s.ctrl.Run(ctx)
	}()
	return s
}

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

// Start connects with the given proxy config.
func (s *Session) Start(remark, config string, blockedApps, bypassSubnets *StringList, proxyOnly bool) error {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.Start(ctx, session.StartRequest{
		Remark:        remark,
		Config:        config,
		BlockedApps:   blockedApps.slice(),
		BypassSubnets: bypassSubnets.slice(),
		ProxyOnly:     proxyOnly,
	})
}

func (s *Session) Stop() error {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.Stop(ctx)
}

// Initialize re-delivers the current snapshot.
func (s *Session) Initialize() error {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.Initialize(ctx)
}

// CheckState reports whether the OS still holds a live tunnel for the app
// and adopts it when the controller is idle.
func (s *Session) CheckState() (bool, error) {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.CheckState(ctx)
}

func (s *Session) RequestPermission() (bool, error) {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.RequestPermission(ctx)
}

// GetServerDelay measures config's latency in milliseconds, -1 on failure.
func (s *Session) GetServerDelay(config, url string) (int64, error) {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.ServerDelay(ctx, config, url)
}

func (s *Session) GetConnectedServerDelay(url string) (int64, error) {
	ctx, cancel := callCtx()
	defer cancel()
	return s.ctrl.ConnectedServerDelay(ctx, url)
}

func (s *Session) GetCoreVersion() string {
	return s.ctrl.CoreVersion()
}

// NotifyStatusChanged forwards the OS tunnel-status-changed notification.
func (s *Session) NotifyStatusChanged() {
	s.hub.Notify()
}

// UpdatePath forwards an OS network path update. category is wifi,
// cellular, ethernet or other.
func (s *Session) UpdatePath(category string, satisfied bool) {
	s.feed.Push(netmon.Path{Category: netmon.ParseCategory(category), Satisfied: satisfied})
}

type invokeReply struct {
	Result any          `json:"result"`
	Error  *invokeError `json:"error,omitempty"`
}

type invokeError struct {
	Code    core.ErrorCode `json:"code"`
	Message string         `json:"message"`
}

// Invoke runs a named command with JSON object arguments and returns
// {"result": ...} or {"result": null, "error": {"code", "message"}}.
func (s *Session) Invoke(method, argsJSON string) string {
	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return encodeReply(invokeReply{Error: &invokeError{
				Code: core.CodeInvalidArguments, Message: "arguments are not a JSON object",
			}})
		}
	}

	ctx, cancel := callCtx()
	defer cancel()
	result, err := s.dispatcher.Invoke(ctx, method, args)
	if err != nil {
		return encodeReply(invokeReply{Error: &invokeError{Code: core.CodeOf(err), Message: core.MessageOf(err)}})
	}
	return encodeReply(invokeReply{Result: result})
}

func encodeReply(r invokeReply) string {
	out, err := json.Marshal(r)
	if err != nil {
		return `{"error":{"code":"INTERNAL_ERROR","message":"encode reply"}}`
	}
	return string(out)
}

// Close tears down a live session and stops the controller.
func (s *Session) Close() {
	s.cancel()
	<-s.done
	s.sink.Close()
}
