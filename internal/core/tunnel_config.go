package core

import (
	"net/netip"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultSocksPort   = 10808
	DefaultHTTPPort    = 10809
	DefaultOutboundTag = "proxy"

	// policyLevel is the user level the stats overlay applies to.
	policyLevel = "8"
)

// AppIdentity names the application that owns the persisted profile.
type AppIdentity struct {
	Name     string `yaml:"name"`
	BundleID string `yaml:"bundle_id"`
}

// ProfileKey is the identity string persisted profiles are matched by.
func (a AppIdentity) ProfileKey() string {
	if a.Name != "" {
		return a.Name
	}
	return a.BundleID
}

// TunnelConfig is the validated, engine-ready session configuration.
// It is never mutated after the engine receives it; reconfiguration builds a new one.
type TunnelConfig struct {
	App     AppIdentity
	Remark  string
	RawJSON string
	// FullJSON is RawJSON with the policy/stats overlay applied.
	FullJSON string

	LocalSocksPort int
	LocalHTTPPort  int
	ServerAddress  string
	ServerPort     int
	OutboundTag    string
	TrafficStats   bool

	BlockedApps   []string
	BypassSubnets []netip.Prefix
	ProxyOnly     bool
}

// ParseOptions controls optional parts of ParseTunnelConfig.
type ParseOptions struct {
	EnableStats bool
}

// ParseTunnelConfig validates host-supplied proxy JSON and derives the
// fields the session needs. Failures are CONFIG_PARSE_ERROR.
func ParseTunnelConfig(app AppIdentity, remark, raw string, blockedApps, bypassSubnets []string, proxyOnly bool, opts ParseOptions) (TunnelConfig, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return TunnelConfig{}, WrapError(err, CodeConfigParse, "proxy config is not a JSON object")
	}

	inbounds, ok := objectList(doc["inbounds"])
	if !ok || len(inbounds) == 0 {
		return TunnelConfig{}, NewError(CodeConfigParse, "proxy config has no inbounds")
	}
	outbounds, ok := objectList(doc["outbounds"])
	if !ok || len(outbounds) == 0 {
		return TunnelConfig{}, NewError(CodeConfigParse, "proxy config has no outbounds")
	}

	cfg := TunnelConfig{
		App:            app,
		Remark:         remark,
		RawJSON:        raw,
		LocalSocksPort: DefaultSocksPort,
		LocalHTTPPort:  DefaultHTTPPort,
		OutboundTag:    DefaultOutboundTag,
		ProxyOnly:      proxyOnly,
	}

	for _, in := range inbounds {
		port, ok := intField(in["port"])
		if !ok {
			continue
		}
		switch in["protocol"] {
		case "socks":
			cfg.LocalSocksPort = port
		case "http":
			cfg.LocalHTTPPort = port
		}
	}

	first := outbounds[0]
	if tag, ok := first["tag"].(string); ok && tag != "" {
		cfg.OutboundTag = tag
	}
	if settings, ok := first["settings"].(map[string]any); ok {
		cfg.ServerAddress, cfg.ServerPort = remoteTarget(settings)
	}

	cfg.BlockedApps = lo.Uniq(lo.Compact(lo.Map(blockedApps, func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
	for _, s := range lo.Uniq(bypassSubnets) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return TunnelConfig{}, WrapError(err, CodeConfigParse, "bad bypass subnet %q", s)
		}
		cfg.BypassSubnets = append(cfg.BypassSubnets, prefix.Masked())
	}

	delete(doc, "policy")
	delete(doc, "stats")
	if opts.EnableStats {
		doc["policy"] = map[string]any{
			"levels": map[string]any{
				policyLevel: map[string]any{
					"connIdle":     300,
					"downlinkOnly": 1,
					"handshake":    4,
					"uplinkOnly":   1,
				},
			},
			"system": map[string]any{
				"statsOutboundUplink":   true,
				"statsOutboundDownlink": true,
			},
		}
		doc["stats"] = map[string]any{}
		cfg.TrafficStats = true
	}

	full, err := json.Marshal(doc)
	if err != nil {
		return TunnelConfig{}, WrapError(err, CodeConfigParse, "re-encode proxy config")
	}
	cfg.FullJSON = string(full)
	return cfg, nil
}

// remoteTarget reads the first server entry of vmess/vless (vnext) or
// trojan/shadowsocks/socks (servers) outbound settings.
func remoteTarget(settings map[string]any) (string, int) {
	for _, key := range []string{"vnext", "servers"} {
		list, ok := objectList(settings[key])
		if !ok || len(list) == 0 {
			continue
		}
		addr, _ := list[0]["address"].(string)
		port, _ := intField(list[0]["port"])
		return addr, port
	}
	return "", 0
}

func objectList(v any) ([]map[string]any, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func intField(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// EnginePayload is the serialized form of a TunnelConfig handed to the
// engine and stored on the persisted profile.
type EnginePayload struct {
	Remark        string   `json:"remark"`
	Config        string   `json:"config"`
	SocksPort     int      `json:"socks_port"`
	HTTPPort      int      `json:"http_port"`
	ServerAddress string   `json:"server_address,omitempty"`
	ServerPort    int      `json:"server_port,omitempty"`
	OutboundTag   string   `json:"outbound_tag"`
	TrafficStats  bool     `json:"traffic_stats"`
	BlockedApps   []string `json:"blocked_apps,omitempty"`
	BypassSubnets []string `json:"bypass_subnets,omitempty"`
	ProxyOnly     bool     `json:"proxy_only,omitempty"`
}

// Payload encodes the engine-facing view of the config.
func (c TunnelConfig) Payload() ([]byte, error) {
	p := EnginePayload{
		Remark:        c.Remark,
		Config:        c.FullJSON,
		SocksPort:     c.LocalSocksPort,
		HTTPPort:      c.LocalHTTPPort,
		ServerAddress: c.ServerAddress,
		ServerPort:    c.ServerPort,
		OutboundTag:   c.OutboundTag,
		TrafficStats:  c.TrafficStats,
		BlockedApps:   c.BlockedApps,
		BypassSubnets: lo.Map(c.BypassSubnets, func(p netip.Prefix, _ int) string { return p.String() }),
		ProxyOnly:     c.ProxyOnly,
	}
	return json.Marshal(p)
}

// DecodePayload is the inverse of TunnelConfig.Payload.
func DecodePayload(data []byte) (EnginePayload, error) {
	var p EnginePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, WrapError(err, CodeConfigParse, "decode engine payload")
	}
	if p.Config == "" {
		return p, NewError(CodeConfigParse, "engine payload has no config")
	}
	if p.OutboundTag == "" {
		p.OutboundTag = DefaultOutboundTag
	}
	return p, nil
}
