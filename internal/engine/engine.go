// Package engine defines the boundary to the packet-forwarding tunnel engine.
package engine

import (
	"context"
	"errors"
)

// ErrNotRunning is returned by counter queries while no instance is running.
var ErrNotRunning = errors.New("engine not running")

// Counters are cumulative byte counters of the proxy outbound.
type Counters struct {
	Upload   int64
	Download int64
}

// Engine is the contract every tunnel engine implements.
type Engine interface {
	// Start launches the engine with a serialized core.EnginePayload.
	// A non-zero exit code or an error means the start failed.
	Start(ctx context.Context, payload []byte) (int, error)

	// Stop tears the engine down. Safe to call when not running.
	Stop() error

	// QueryCounters returns the current cumulative counters, or
	// ErrNotRunning when there is nothing to query.
	QueryCounters(ctx context.Context) (Counters, error)

	// Version returns the engine's core version without a "v" prefix.
	Version() string
}

// DelayProber measures round-trip latency of a proxy config without
// touching the running session.
type DelayProber interface {
	MeasureDelay(ctx context.Context, configJSON, url string) (int64, error)
}
