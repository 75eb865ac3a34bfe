package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"v2ray-session/internal/core"
)

type fileDocument struct {
	Profiles []core.Profile `yaml:"profiles"`
}

// FileStore persists profiles in a YAML file. Live connection status is
// process-local and starts as disconnected.
type FileStore struct {
	mu       sync.Mutex
	path     string
	statuses map[string]core.ConnStatus
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:     path,
		statuses: make(map[string]core.ConnStatus),
	}
}

func (s *FileStore) read() ([]core.Profile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("[Profile] failed to read %s: %w", s.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("[Profile] failed to parse %s: %w", s.path, err)
	}
	return doc.Profiles, nil
}

func (s *FileStore) write(profiles []core.Profile) error {
	data, err := yaml.Marshal(&fileDocument{Profiles: profiles})
	if err != nil {
		return fmt.Errorf("[Profile] failed to marshal profiles: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("[Profile] failed to create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("[Profile] failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("[Profile] failed to replace %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) LoadAll(ctx context.Context) ([]core.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Create(ctx context.Context, identity string, payload []byte) (core.Profile, error) {
	if err := ctx.Err(); err != nil {
		return core.Profile{}, err
	}
	if identity == "" {
		return core.Profile{}, fmt.Errorf("[Profile] empty identity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return core.Profile{}, err
	}
	p := core.Profile{
		ID:       uuid.NewString(),
		Identity: identity,
		Payload:  payload,
	}
	if err := s.write(append(profiles, p)); err != nil {
		return core.Profile{}, err
	}
	s.statuses[p.ID] = core.StatusDisconnected
	return p, nil
}

func (s *FileStore) Save(ctx context.Context, p core.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(profiles, func(x core.Profile) bool { return x.ID == p.ID })
	if i < 0 {
		return fmt.Errorf("[Profile] save %s: %w", p.ID, ErrNotFound)
	}
	profiles[i] = p
	if !p.Enabled && s.statuses[p.ID].Active() {
		s.statuses[p.ID] = core.StatusDisconnected
	}
	return s.write(profiles)
}

func (s *FileStore) Reload(ctx context.Context, id string) (core.Profile, error) {
	if err := ctx.Err(); err != nil {
		return core.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return core.Profile{}, err
	}
	i := slices.IndexFunc(profiles, func(x core.Profile) bool { return x.ID == id })
	if i < 0 {
		return core.Profile{}, fmt.Errorf("[Profile] reload %s: %w", id, ErrNotFound)
	}
	return profiles[i], nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(profiles, func(x core.Profile) bool { return x.ID == id })
	delete(s.statuses, id)
	return s.write(kept)
}

func (s *FileStore) Status(ctx context.Context, id string) (core.ConnStatus, error) {
	if err := ctx.Err(); err != nil {
		return core.StatusInvalid, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.read()
	if err != nil {
		return core.StatusInvalid, err
	}
	if !slices.ContainsFunc(profiles, func(x core.Profile) bool { return x.ID == id }) {
		return core.StatusInvalid, fmt.Errorf("[Profile] status %s: %w", id, ErrNotFound)
	}
	if st, ok := s.statuses[id]; ok {
		return st, nil
	}
	return core.StatusDisconnected, nil
}

// SetStatus records the live status of a profile and reports whether it changed.
func (s *FileStore) SetStatus(id string, status core.ConnStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[id] == status {
		return false
	}
	s.statuses[id] = status
	return true
}
