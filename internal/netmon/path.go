// Package netmon reports switches between WiFi and cellular networks.
package netmon

import (
	"strings"
	"sync"
)

// Category is the kind of network the default path uses.
type Category int

const (
	Unknown Category = iota
	WiFi
	Cellular
	Ethernet
	Other
)

func (c Category) String() string {
	switch c {
	case WiFi:
		return "wifi"
	case Cellular:
		return "cellular"
	case Ethernet:
		return "ethernet"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// ParseCategory parses the lowercase category name. Unrecognized names are Unknown.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wifi", "wi-fi", "wlan":
		return WiFi
	case "cellular", "mobile":
		return Cellular
	case "ethernet", "wired":
		return Ethernet
	case "other":
		return Other
	default:
		return Unknown
	}
}

// ClassifyInterface guesses the category of a network interface from its name.
func ClassifyInterface(name string) Category {
	switch {
	case name == "":
		return Unknown
	case name == "en0", strings.HasPrefix(name, "wl"):
		return WiFi
	case strings.HasPrefix(name, "pdp_ip"), strings.HasPrefix(name, "rmnet"),
		strings.HasPrefix(name, "ccmni"), strings.HasPrefix(name, "ww"):
		return Cellular
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"):
		return Ethernet
	default:
		return Other
	}
}

// Path is one observation of the current network path.
type Path struct {
	Category  Category
	Satisfied bool
}

// PathSource delivers path updates to a handler until stopped.
type PathSource interface {
	Start(handler func(Path)) error
	Stop() error
}

// Feed is a PathSource driven by explicit Push calls, for hosts that
// observe the path themselves.
type Feed struct {
	mu      sync.Mutex
	handler func(Path)
}

// NewFeed creates an idle feed.
func NewFeed() *Feed {
	return &Feed{}
}

func (f *Feed) Start(handler func(Path)) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return nil
}

func (f *Feed) Stop() error {
	f.mu.Lock()
	f.handler = nil
	f.mu.Unlock()
	return nil
}

// Push delivers p to the current handler, if any.
func (f *Feed) Push(p Path) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(p)
	}
}
