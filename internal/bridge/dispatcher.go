// Package bridge is the host-facing command and event surface of a session.
package bridge

import (
	"context"

	"v2ray-session/internal/core"
	"v2ray-session/internal/session"
)

// Method names accepted by Dispatcher.Invoke.
const (
	MethodStart                = "startV2Ray"
	MethodStop                 = "stopV2Ray"
	MethodInitialize           = "initializeV2Ray"
	MethodServerDelay          = "getServerDelay"
	MethodConnectedServerDelay = "getConnectedServerDelay"
	MethodCoreVersion          = "getCoreVersion"
	MethodCheckState           = "checkVPNState"
	MethodRequestPermission    = "requestPermission"
)

// Session is what the dispatcher drives. *session.Controller implements it.
type Session interface {
	Start(ctx context.Context, req session.StartRequest) error
	Stop(ctx context.Context) error
	Initialize(ctx context.Context) error
	CheckState(ctx context.Context) (bool, error)
	ServerDelay(ctx context.Context, config, url string) (int64, error)
	ConnectedServerDelay(ctx context.Context, url string) (int64, error)
	CoreVersion() string
	RequestPermission(ctx context.Context) (bool, error)
}

type handlerFunc func(ctx context.Context, args map[string]any) (any, error)

// Dispatcher maps named host commands with loosely typed arguments onto a
// Session. Every call resolves exactly once with a result or a coded error.
type Dispatcher struct {
	session  Session
	handlers map[string]handlerFunc
}

// NewDispatcher creates a dispatcher for s.
func NewDispatcher(s Session) *Dispatcher {
	d := &Dispatcher{session: s}
	d.handlers = map[string]handlerFunc{
		MethodStart:                d.start,
		MethodStop:                 d.stop,
		MethodInitialize:           d.initialize,
		MethodServerDelay:          d.serverDelay,
		MethodConnectedServerDelay: d.connectedServerDelay,
		MethodCoreVersion:          d.coreVersion,
		MethodCheckState:           d.checkState,
		MethodRequestPermission:    d.requestPermission,
	}
	return d
}

// Invoke runs method. Unknown methods fail with UNKNOWN_COMMAND, missing or
// mistyped required arguments with INVALID_ARGUMENTS.
func (d *Dispatcher) Invoke(ctx context.Context, method string, args map[string]any) (result any, err error) {
	h, ok := d.handlers[method]
	if !ok {
		return nil, core.NewError(core.CodeUnknownCommand, "method %q is not implemented", method)
	}
	defer func() {
		if r := recover(); r != nil {
			core.Log.Errorf("Bridge", "Panic in %s: %v", method, r)
			result, err = nil, core.NewError(core.CodeInternal, "%s panicked: %v", method, r)
		}
	}()

	core.Log.Debugf("Bridge", "Invoke %s", method)
	result, err = h(ctx, args)
	if err != nil {
		core.Log.Warnf("Bridge", "%s failed: %v", method, err)
	}
	return result, err
}

func (d *Dispatcher) start(ctx context.Context, args map[string]any) (any, error) {
	remark, ok := stringArg(args, "remark")
	if !ok {
		return nil, invalidArgs(MethodStart, "remark")
	}
	config, ok := stringArg(args, "config")
	if !ok {
		return nil, invalidArgs(MethodStart, "config")
	}
	blocked, err := stringsArg(args, "blocked_apps")
	if err != nil {
		return nil, err
	}
	bypass, err := stringsArg(args, "bypass_subnets")
	if err != nil {
		return nil, err
	}
	proxyOnly, _ := args["proxyOnly"].(bool)

	return nil, d.session.Start(ctx, session.StartRequest{
		Remark:        remark,
		Config:        config,
		BlockedApps:   blocked,
		BypassSubnets: bypass,
		ProxyOnly:     proxyOnly,
	})
}

func (d *Dispatcher) stop(ctx context.Context, _ map[string]any) (any, error) {
	return nil, d.session.Stop(ctx)
}

func (d *Dispatcher) initialize(ctx context.Context, _ map[string]any) (any, error) {
	return nil, d.session.Initialize(ctx)
}

func (d *Dispatcher) serverDelay(ctx context.Context, args map[string]any) (any, error) {
	config, ok := stringArg(args, "config")
	if !ok {
		return nil, invalidArgs(MethodServerDelay, "config")
	}
	url, ok := stringArg(args, "url")
	if !ok {
		return nil, invalidArgs(MethodServerDelay, "url")
	}
	return d.session.ServerDelay(ctx, config, url)
}

func (d *Dispatcher) connectedServerDelay(ctx context.Context, args map[string]any) (any, error) {
	url, ok := stringArg(args, "url")
	if !ok {
		return nil, invalidArgs(MethodConnectedServerDelay, "url")
	}
	return d.session.ConnectedServerDelay(ctx, url)
}

func (d *Dispatcher) coreVersion(context.Context, map[string]any) (any, error) {
	return d.session.CoreVersion(), nil
}

func (d *Dispatcher) checkState(ctx context.Context, _ map[string]any) (any, error) {
	return d.session.CheckState(ctx)
}

func (d *Dispatcher) requestPermission(ctx context.Context, _ map[string]any) (any, error) {
	return d.session.RequestPermission(ctx)
}

func invalidArgs(method, name string) error {
	return core.NewError(core.CodeInvalidArguments, "%s: missing or invalid %q", method, name)
}

func stringArg(args map[string]any, key string) (string, bool) {
	s, ok := args[key].(string)
	return s, ok
}

// stringsArg reads an optional string list. Decoded JSON and protobuf
// structs deliver lists as []any.
func stringsArg(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, core.NewError(core.CodeInvalidArguments, "%s[%d] is %T, want string", key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, core.NewError(core.CodeInvalidArguments, "%s is %T, want a list of strings", key, v)
	}
}
