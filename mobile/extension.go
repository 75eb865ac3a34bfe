package mobile

import (
	"context"

	"v2ray-session/internal/engine"
	"v2ray-session/internal/engine/xray"
)

// TunnelExtension runs inside the tunnel process: it owns the xray-core
// instance and answers the app's provider messages.
type TunnelExtension struct {
	engine    engine.Engine
	responder *engine.Responder
}

// NewTunnelExtension creates an extension around a fresh xray-core engine.
func NewTunnelExtension() *TunnelExtension {
	return newTunnelExtension(xray.New())
}

func newTunnelExtension(e engine.Engine) *TunnelExtension {
	return &TunnelExtension{engine: e, responder: engine.NewResponder(e)}
}

// StartTunnel launches the engine from the payload stored in the profile.
func (t *TunnelExtension) StartTunnel(payload []byte) (int, error) {
	return t.engine.Start(context.Background(), payload)
}

func (t *TunnelExtension) StopTunnel() error {
	return t.engine.Stop()
}

// HandleAppMessage answers a provider message. A nil reply means the
// message was not understood or the engine is down.
func (t *TunnelExtension) HandleAppMessage(data []byte) []byte {
	return t.responder.HandleMessage(context.Background(), data)
}

// CoreVersion is the linked xray-core version.
func CoreVersion() string {
	return "v" + xray.New().Version()
}
