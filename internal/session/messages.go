package session

import (
	"v2ray-session/internal/core"
	"v2ray-session/internal/netmon"
)

// message is anything processed by the controller loop. Replies go through
// buffered channels so the loop never blocks on a caller.
type message interface {
	kind() string
}

type startMsg struct {
	cfg   core.TunnelConfig
	reply chan error
}

type stopMsg struct {
	reply chan error
}

type initializeMsg struct {
	reply chan error
}

// checkMsg carries the outcome of the bounded bootstrap validation.
type checkMsg struct {
	valid bool
	reply chan error
}

type permissionMsg struct {
	reply chan error
}

type queryMsg struct {
	reply chan status
}

type status struct {
	state     core.SessionState
	socksPort int
	snapshot  core.TrafficSnapshot
}

// Session-scoped observations. gen ties them to the session that produced
// them; stale ones are dropped.
type (
	validatedMsg struct {
		gen   uint64
		valid bool
	}
	switchMsg struct {
		gen      uint64
		from, to netmon.Category
	}
	snapshotMsg struct {
		gen  uint64
		snap core.TrafficSnapshot
	}
	inboundMsg struct {
		gen uint64
		err error
	}
)

func (startMsg) kind() string      { return "start" }
func (stopMsg) kind() string       { return "stop" }
func (initializeMsg) kind() string { return "initialize" }
func (checkMsg) kind() string      { return "check" }
func (permissionMsg) kind() string { return "permission" }
func (queryMsg) kind() string      { return "query" }
func (validatedMsg) kind() string  { return "validated" }
func (switchMsg) kind() string     { return "switch" }
func (snapshotMsg) kind() string   { return "snapshot" }
func (inboundMsg) kind() string    { return "inbound" }
