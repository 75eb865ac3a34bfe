package engine

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"v2ray-session/internal/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CommandTrafficStats asks the tunnel process for its counters.
const CommandTrafficStats = "getTrafficStats"

// Request is a message from the app to the tunnel process.
type Request struct {
	Command string `json:"command"`
}

// TrafficStats is the tunnel process's answer to CommandTrafficStats.
type TrafficStats struct {
	UploadSpeed   int64 `json:"uploadSpeed"`
	DownloadSpeed int64 `json:"downloadSpeed"`
	TotalUpload   int64 `json:"totalUpload"`
	TotalDownload int64 `json:"totalDownload"`
}

// Responder answers app messages inside the tunnel process.
type Responder struct {
	engine Engine

	mu       sync.Mutex
	prevUp   int64
	prevDown int64
}

// NewResponder serves messages from the given in-process engine.
func NewResponder(e Engine) *Responder {
	return &Responder{engine: e}
}

// HandleMessage decodes a request and returns the encoded reply, or nil
// when the command is unknown or the engine cannot answer.
func (r *Responder) HandleMessage(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		core.Log.Debugf("Channel", "Ignoring malformed message: %v", err)
		return nil
	}
	if req.Command != CommandTrafficStats {
		core.Log.Debugf("Channel", "Ignoring unknown command %q", req.Command)
		return nil
	}

	c, err := r.engine.QueryCounters(ctx)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	stats := TrafficStats{
		UploadSpeed:   max(0, c.Upload-r.prevUp),
		DownloadSpeed: max(0, c.Download-r.prevDown),
		TotalUpload:   c.Upload,
		TotalDownload: c.Download,
	}
	r.prevUp, r.prevDown = c.Upload, c.Download
	r.mu.Unlock()

	out, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	return out
}

// Host is the app-side handle on a tunnel running in another process.
type Host interface {
	StartTunnel(ctx context.Context, payload []byte) (int, error)
	StopTunnel() error
	SendMessage(ctx context.Context, data []byte) ([]byte, error)
}

// Remote is an Engine whose instance lives in a separate tunnel process and
// is reached through the message channel.
type Remote struct {
	host    Host
	version func() string
}

// NewRemote wraps a tunnel host. version reports the linked core version.
func NewRemote(host Host, version func() string) *Remote {
	return &Remote{host: host, version: version}
}

func (r *Remote) Start(ctx context.Context, payload []byte) (int, error) {
	return r.host.StartTunnel(ctx, payload)
}

func (r *Remote) Stop() error {
	return r.host.StopTunnel()
}

func (r *Remote) QueryCounters(ctx context.Context) (Counters, error) {
	msg, err := json.Marshal(Request{Command: CommandTrafficStats})
	if err != nil {
		return Counters{}, err
	}
	reply, err := r.host.SendMessage(ctx, msg)
	if err != nil {
		return Counters{}, fmt.Errorf("[Channel] send: %w", err)
	}
	if len(reply) == 0 {
		return Counters{}, ErrNotRunning
	}
	var stats TrafficStats
	if err := json.Unmarshal(reply, &stats); err != nil {
		return Counters{}, fmt.Errorf("[Channel] decode reply: %w", err)
	}
	return Counters{Upload: stats.TotalUpload, Download: stats.TotalDownload}, nil
}

func (r *Remote) Version() string {
	if r.version == nil {
		return ""
	}
	return r.version()
}
