package mobile

import (
	"context"
	"errors"

	"v2ray-session/internal/core"
	"v2ray-session/internal/profile"
)

// ProfileStore is the OS tunnel-profile store, implemented by the host.
// Profiles cross the boundary as JSON objects
// {"id", "identity", "enabled", "payload"}; payload is base64.
type ProfileStore interface {
	// LoadAll returns a JSON array of every profile the app owns.
	LoadAll() (string, error)
	// Create persists a new disabled profile and returns it.
	Create(identity string, payload []byte) (string, error)
	Save(profileJSON string) error
	// Reload returns the profile after the OS normalized it. An empty
	// string means the profile no longer exists.
	Reload(id string) (string, error)
	Delete(id string) error
	// Status returns the live status label: disconnected, connecting,
	// connected, reasserting, disconnecting or invalid.
	Status(id string) (string, error)
}

// TunnelHost starts and stops the tunnel process and carries provider
// messages to it.
type TunnelHost interface {
	StartTunnel(payload []byte) (int, error)
	StopTunnel() error
	SendMessage(data []byte) ([]byte, error)
}

// EventListener receives every traffic snapshot.
type EventListener interface {
	OnSnapshot(duration, uploadRate, downloadRate, totalUpload, totalDownload, state string)
}

// hostStore adapts a ProfileStore to profile.Store.
type hostStore struct {
	host ProfileStore
}

func (s hostStore) LoadAll(context.Context) ([]core.Profile, error) {
	raw, err := s.host.LoadAll()
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var out []core.Profile
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, core.WrapError(err, core.CodeInternal, "decode profiles")
	}
	return out, nil
}

func (s hostStore) Create(_ context.Context, identity string, payload []byte) (core.Profile, error) {
	raw, err := s.host.Create(identity, payload)
	if err != nil {
		return core.Profile{}, err
	}
	return decodeProfile(raw)
}

func (s hostStore) Save(_ context.Context, p core.Profile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.host.Save(string(raw))
}

func (s hostStore) Reload(_ context.Context, id string) (core.Profile, error) {
	raw, err := s.host.Reload(id)
	if err != nil {
		return core.Profile{}, err
	}
	if raw == "" {
		return core.Profile{}, profile.ErrNotFound
	}
	return decodeProfile(raw)
}

func (s hostStore) Delete(_ context.Context, id string) error {
	return s.host.Delete(id)
}

func (s hostStore) Status(_ context.Context, id string) (core.ConnStatus, error) {
	label, err := s.host.Status(id)
	if err != nil {
		return core.StatusInvalid, err
	}
	return core.ParseConnStatus(label)
}

func decodeProfile(raw string) (core.Profile, error) {
	var p core.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return core.Profile{}, core.WrapError(err, core.CodeInternal, "decode profile")
	}
	if p.ID == "" {
		return core.Profile{}, errors.New("profile without id")
	}
	return p, nil
}

// tunnelHost adapts a TunnelHost to engine.Host.
type tunnelHost struct {
	host TunnelHost
}

func (t tunnelHost) StartTunnel(_ context.Context, payload []byte) (int, error) {
	return t.host.StartTunnel(payload)
}

func (t tunnelHost) StopTunnel() error {
	return t.host.StopTunnel()
}

func (t tunnelHost) SendMessage(_ context.Context, data []byte) ([]byte, error) {
	return t.host.SendMessage(data)
}
