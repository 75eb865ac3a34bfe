// Package xray runs xray-core in-process as the tunnel engine.
package xray

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	jsoniter "github.com/json-iterator/go"
	xlog "github.com/xtls/xray-core/common/log"
	xnet "github.com/xtls/xray-core/common/net"
	xcore "github.com/xtls/xray-core/core"
	xstats "github.com/xtls/xray-core/features/stats"

	"v2ray-session/internal/core"
	"v2ray-session/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// logBridge forwards xray-core internal log messages to our logging system.
type logBridge struct{}

func (logBridge) Handle(msg xlog.Message) {
	core.Log.Debugf("xray", "%s", msg.String())
}

// Engine is an in-process xray-core instance. At most one instance runs at a time.
type Engine struct {
	mu       sync.Mutex
	instance *xcore.Instance
	stats    xstats.Manager
	tag      string
}

// New creates an idle engine.
func New() *Engine {
	return &Engine{}
}

var _ engine.Engine = (*Engine)(nil)
var _ engine.DelayProber = (*Engine)(nil)

// Start launches xray-core with the config carried by payload.
func (e *Engine) Start(ctx context.Context, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 1, err
	}
	p, err := core.DecodePayload(payload)
	if err != nil {
		return 1, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance != nil {
		return 1, fmt.Errorf("[Xray] instance already running")
	}

	core.Log.Infof("Xray", "Starting core %s (remark=%q, socks=%d, server=%s:%d)",
		xcore.Version(), p.Remark, p.SocksPort, p.ServerAddress, p.ServerPort)

	instance, err := xcore.StartInstance("json", []byte(p.Config))
	if err != nil {
		return 1, fmt.Errorf("[Xray] start instance: %w", err)
	}
	// StartInstance installs xray's own log handler; replace it afterwards.
	xlog.RegisterHandler(logBridge{})

	e.instance = instance
	e.tag = p.OutboundTag
	e.stats = nil
	if p.TrafficStats {
		if m, ok := instance.GetFeature(xstats.ManagerType()).(xstats.Manager); ok {
			e.stats = m
		} else {
			core.Log.Warnf("Xray", "Stats manager unavailable, counters will read zero")
		}
	}
	return 0, nil
}

// Stop closes the running instance, if any.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		return nil
	}
	err := e.instance.Close()
	e.instance = nil
	e.stats = nil
	if err != nil {
		return fmt.Errorf("[Xray] close instance: %w", err)
	}
	core.Log.Infof("Xray", "Core stopped")
	return nil
}

// QueryCounters reads the proxy outbound's uplink and downlink counters.
func (e *Engine) QueryCounters(context.Context) (engine.Counters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		return engine.Counters{}, engine.ErrNotRunning
	}
	if e.stats == nil {
		return engine.Counters{}, nil
	}
	return engine.Counters{
		Upload:   e.counter("uplink"),
		Download: e.counter("downlink"),
	}, nil
}

func (e *Engine) counter(direction string) int64 {
	c := e.stats.GetCounter("outbound>>>" + e.tag + ">>>traffic>>>" + direction)
	if c == nil {
		return 0
	}
	return c.Value()
}

// Version returns the linked xray-core version.
func (e *Engine) Version() string {
	return xcore.Version()
}

// MeasureDelay starts a throw-away instance from configJSON without its
// inbounds and times an HTTP request to url through the first outbound.
func (e *Engine) MeasureDelay(ctx context.Context, configJSON, url string) (int64, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(configJSON), &doc); err != nil {
		return -1, core.WrapError(err, core.CodeConfigParse, "delay config is not a JSON object")
	}
	doc["inbounds"] = []any{}
	delete(doc, "stats")
	data, err := json.Marshal(doc)
	if err != nil {
		return -1, core.WrapError(err, core.CodeConfigParse, "re-encode delay config")
	}

	instance, err := xcore.StartInstance("json", data)
	if err != nil {
		return -1, fmt.Errorf("[Xray] start probe instance: %w", err)
	}
	defer instance.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*engine.ProbeTimeout)
	defer cancel()
	return engine.MeasureHTTP(ctx, func(ctx context.Context, _, addr string) (net.Conn, error) {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("[Xray] bad port in %q: %w", addr, err)
		}
		return xcore.Dial(ctx, instance, xnet.TCPDestination(xnet.ParseAddress(host), xnet.Port(port)))
	}, url)
}
