package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vmessConfig = `{
  "inbounds": [
    {"tag": "socks", "port": 20808, "protocol": "socks"},
    {"tag": "http", "port": 20809, "protocol": "http"}
  ],
  "outbounds": [
    {
      "tag": "proxy",
      "protocol": "vmess",
      "settings": {"vnext": [{"address": "203.0.113.7", "port": 443, "users": [{"id": "a"}]}]}
    },
    {"tag": "direct", "protocol": "freedom"}
  ],
  "policy": {"levels": {"0": {"connIdle": 10}}},
  "stats": {"ignored": true}
}`

var testApp = AppIdentity{Name: "SuLian VPN", BundleID: "com.sulian.app.v2.tunnel"}

func TestParseTunnelConfigDerivedFields(t *testing.T) {
	cfg, err := ParseTunnelConfig(testApp, "tokyo", vmessConfig,
		[]string{"com.a", " com.a ", "", "com.b"},
		[]string{"10.0.0.0/8", "192.168.1.7/24"},
		false, ParseOptions{EnableStats: true})
	require.NoError(t, err)

	assert.Equal(t, "tokyo", cfg.Remark)
	assert.Equal(t, 20808, cfg.LocalSocksPort)
	assert.Equal(t, 20809, cfg.LocalHTTPPort)
	assert.Equal(t, "203.0.113.7", cfg.ServerAddress)
	assert.Equal(t, 443, cfg.ServerPort)
	assert.Equal(t, "proxy", cfg.OutboundTag)
	assert.True(t, cfg.TrafficStats)
	assert.Equal(t, []string{"com.a", "com.b"}, cfg.BlockedApps)
	require.Len(t, cfg.BypassSubnets, 2)
	assert.Equal(t, "192.168.1.0/24", cfg.BypassSubnets[1].String())

	var full map[string]any
	require.NoError(t, json.Unmarshal([]byte(cfg.FullJSON), &full))
	policy := full["policy"].(map[string]any)
	levels := policy["levels"].(map[string]any)
	assert.Contains(t, levels, "8")
	assert.NotContains(t, levels, "0")
	assert.Equal(t, map[string]any{}, full["stats"])
}

func TestParseTunnelConfigDefaultsAndNoStats(t *testing.T) {
	raw := `{"inbounds":[{"protocol":"dokodemo-door","port":53}],
	         "outbounds":[{"protocol":"trojan","settings":{"servers":[{"address":"example.org","port":8443}]}}],
	         "stats":{}}`
	cfg, err := ParseTunnelConfig(testApp, "", raw, nil, nil, true, ParseOptions{})
	require.NoError(t, err)

	assert.Equal(t, DefaultSocksPort, cfg.LocalSocksPort)
	assert.Equal(t, DefaultHTTPPort, cfg.LocalHTTPPort)
	assert.Equal(t, "example.org", cfg.ServerAddress)
	assert.Equal(t, 8443, cfg.ServerPort)
	assert.Equal(t, DefaultOutboundTag, cfg.OutboundTag)
	assert.True(t, cfg.ProxyOnly)
	assert.False(t, cfg.TrafficStats)
	assert.NotContains(t, cfg.FullJSON, `"stats"`)
}

func TestParseTunnelConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		subnets []string
	}{
		{"not json", `{inbounds`, nil},
		{"array", `[]`, nil},
		{"no inbounds", `{"outbounds":[{"protocol":"freedom"}]}`, nil},
		{"empty outbounds", `{"inbounds":[{"protocol":"socks","port":1}],"outbounds":[]}`, nil},
		{"bad subnet", vmessConfig, []string{"10.0.0.0/33"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTunnelConfig(testApp, "", tt.raw, nil, tt.subnets, false, ParseOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigParse)
		})
	}
}

func TestPayloadDecode(t *testing.T) {
	cfg, err := ParseTunnelConfig(testApp, "r", vmessConfig, []string{"com.a"}, []string{"10.0.0.0/8"}, false, ParseOptions{EnableStats: true})
	require.NoError(t, err)

	data, err := cfg.Payload()
	require.NoError(t, err)
	p, err := DecodePayload(data)
	require.NoError(t, err)

	assert.Equal(t, cfg.FullJSON, p.Config)
	assert.Equal(t, 20808, p.SocksPort)
	assert.Equal(t, []string{"10.0.0.0/8"}, p.BypassSubnets)

	_, err = DecodePayload([]byte(`{"remark":"x"}`))
	assert.ErrorIs(t, err, ErrConfigParse)
}

func TestAppIdentityProfileKey(t *testing.T) {
	assert.Equal(t, "SuLian VPN", testApp.ProfileKey())
	assert.Equal(t, "com.x", AppIdentity{BundleID: "com.x"}.ProfileKey())
}
