package session

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Extension lifecycle: installed URLs are quarantined as pending until
// the operator accepts them; only accepted extensions can be enabled.
const (
	ExtPending  = "pending"
	ExtAccepted = "accepted"
	ExtRejected = "rejected"
	ExtEnabled  = "enabled"
)

type Extension struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "skill" or "tool"
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ExtensionStore persists the registry under state/.
type ExtensionStore struct {
	path string

	mu   sync.Mutex
	exts []Extension
}

func OpenExtensionStore(path string) (*ExtensionStore, error) {
	s := &ExtensionStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read extension store: %w", err)
	}
	if err := json.Unmarshal(data, &s.exts); err != nil {
		return nil, fmt.Errorf("parse extension store: %w", err)
	}
	return s, nil
}

// Install quarantines a new extension as pending. Reinstalling an
// already-known URL returns the existing entry unchanged.
func (s *ExtensionStore) Install(kind, url string) (Extension, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exts {
		if e.URL == url && e.Kind == kind {
			return e, false, nil
		}
	}
	ext := Extension{
		ID:        strings.SplitN(uuid.NewString(), "-", 2)[0],
		Kind:      kind,
		Name:      nameFromURL(url),
		URL:       url,
		Status:    ExtPending,
		CreatedAt: time.Now().UTC(),
	}
	s.exts = append(s.exts, ext)
	return ext, true, s.persist()
}

// Draft registers a locally authored extension, already accepted.
func (s *ExtensionStore) Draft(kind, name string) (Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext := Extension{
		ID:        strings.SplitN(uuid.NewString(), "-", 2)[0],
		Kind:      kind,
		Name:      name,
		Status:    ExtAccepted,
		CreatedAt: time.Now().UTC(),
	}
	s.exts = append(s.exts, ext)
	return ext, s.persist()
}

// Resolve moves a pending extension to accepted or rejected.
func (s *ExtensionStore) Resolve(id string, accept bool) (Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.exts {
		if e.ID != id {
			continue
		}
		if e.Status != ExtPending {
			return Extension{}, fmt.Errorf("extension %s is %s, not pending", id, e.Status)
		}
		if accept {
			s.exts[i].Status = ExtAccepted
		} else {
			s.exts[i].Status = ExtRejected
		}
		return s.exts[i], s.persist()
	}
	return Extension{}, fmt.Errorf("no extension with id %q", id)
}

// Enable activates an accepted extension by name.
func (s *ExtensionStore) Enable(kind, name string) (Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.exts {
		if e.Kind != kind || e.Name != name {
			continue
		}
		switch e.Status {
		case ExtAccepted, ExtEnabled:
			s.exts[i].Status = ExtEnabled
			return s.exts[i], s.persist()
		default:
			return Extension{}, fmt.Errorf("%s %q is %s; accept it first", kind, name, e.Status)
		}
	}
	return Extension{}, fmt.Errorf("no %s named %q", kind, name)
}

// List returns the registry snapshot.
func (s *ExtensionStore) List() []Extension {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Extension, len(s.exts))
	copy(out, s.exts)
	return out
}

// HasNamed reports whether an extension with this kind and name exists,
// regardless of status. The bootstrap seeder uses this for idempotence.
func (s *ExtensionStore) HasNamed(kind, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exts {
		if e.Kind == kind && e.Name == name {
			return true
		}
	}
	return false
}

func (s *ExtensionStore) persist() error {
	data, err := json.MarshalIndent(s.exts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode extension store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write extension store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write extension store: %w", err)
	}
	return nil
}

func nameFromURL(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return strings.TrimSuffix(trimmed, ".git")
}
