package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SessionState is the controller's authoritative view of the tunnel.
//
// Legal edges:
//
//	Disconnected → Connecting
//	Connecting   → Connected
//	Connecting   → Disconnected
//	Connected    → Disconnected
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

// String returns the label delivered to the host application.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CanTransition reports whether s → next is a legal edge.
func (s SessionState) CanTransition(next SessionState) bool {
	switch s {
	case StateDisconnected:
		return next == StateConnecting
	case StateConnecting:
		return next == StateConnected || next == StateDisconnected
	case StateConnected:
		return next == StateDisconnected
	}
	return false
}

// ConnStatus is the live status the OS reports for a persisted profile.
type ConnStatus int

const (
	StatusInvalid ConnStatus = iota
	StatusDisconnected
	StatusConnecting
	StatusConnected
	StatusReasserting
	StatusDisconnecting
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReasserting:
		return "reasserting"
	case StatusDisconnecting:
		return "disconnecting"
	default:
		return "invalid"
	}
}

// Active reports whether the status counts as connected-or-connecting.
// Reasserting is the OS reconnecting after an interface change.
func (s ConnStatus) Active() bool {
	return s == StatusConnected || s == StatusConnecting || s == StatusReasserting
}

// ParseConnStatus parses the lowercase status name.
func ParseConnStatus(s string) (ConnStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disconnected":
		return StatusDisconnected, nil
	case "connecting":
		return StatusConnecting, nil
	case "connected":
		return StatusConnected, nil
	case "reasserting":
		return StatusReasserting, nil
	case "disconnecting":
		return StatusDisconnecting, nil
	case "invalid", "":
		return StatusInvalid, nil
	default:
		return StatusInvalid, fmt.Errorf("unknown connection status: %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for ConnStatus.
func (s *ConnStatus) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}
	parsed, err := ParseConnStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for ConnStatus.
func (s ConnStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Profile is the OS-level tunnel profile record.
type Profile struct {
	ID       string `yaml:"id" json:"id"`
	Identity string `yaml:"identity" json:"identity"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	// Payload is opaque beyond the identity match: the serialized TunnelConfig.
	Payload []byte `yaml:"payload,omitempty" json:"payload,omitempty"`
}

// TrafficSnapshot is a point-in-time view of the session's counters.
type TrafficSnapshot struct {
	Elapsed       time.Duration
	UploadRate    int64
	DownloadRate  int64
	TotalUpload   int64
	TotalDownload int64
	State         SessionState
}

// ZeroSnapshot is the snapshot of an idle controller.
func ZeroSnapshot() TrafficSnapshot {
	return TrafficSnapshot{State: StateDisconnected}
}

// Tuple returns the six-field ordered form delivered to the host:
// duration, upload rate, download rate, total up, total down, state.
func (s TrafficSnapshot) Tuple() []string {
	return []string{
		FormatDuration(s.Elapsed),
		strconv.FormatInt(s.UploadRate, 10),
		strconv.FormatInt(s.DownloadRate, 10),
		strconv.FormatInt(s.TotalUpload, 10),
		strconv.FormatInt(s.TotalDownload, 10),
		s.State.String(),
	}
}

// FormatDuration renders d as HH:MM:SS, truncating sub-second precision.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
