package inference

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Service wraps a Bridge with the discovered Runtime behind a lock, so
// the session, cognition, and doctor surfaces share one refreshable
// view of the provider world.
type Service struct {
	bridge *Bridge

	mu sync.RWMutex
	rt *Runtime
}

func NewService(bridge *Bridge) *Service {
	return &Service{bridge: bridge}
}

// Refresh re-runs discovery and swaps the runtime snapshot.
func (s *Service) Refresh() error {
	rt, err := s.bridge.Discover()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()
	return nil
}

func (s *Service) runtime() *Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rt
}

func (s *Service) Ready() bool { return s.runtime().Ready() }

// Selected names the chosen provider, empty when none is ready.
func (s *Service) Selected() string {
	rt := s.runtime()
	if rt == nil {
		return ""
	}
	return rt.Selected
}

// Statuses returns provider statuses in priority order.
func (s *Service) Statuses() []Status {
	rt := s.runtime()
	if rt == nil {
		return nil
	}
	out := make([]Status, 0, len(Priority))
	for _, name := range Priority {
		st := rt.Statuses[name]
		st.Name = name
		out = append(out, st)
	}
	return out
}

// Run executes with fallback against the current runtime.
func (s *Service) Run(ctx context.Context, prompt string, timeout time.Duration) (Result, error) {
	return s.bridge.RunWithFallback(ctx, s.runtime(), prompt, timeout)
}

// Stream streams with fallback against the current runtime.
func (s *Service) Stream(ctx context.Context, prompt string, timeout time.Duration, sink Sink) (Result, error) {
	return s.bridge.StreamWithFallback(ctx, s.runtime(), prompt, timeout, sink)
}

// SetKey persists an operator-provided credential into the settings
// file and re-discovers. The secret never touches any log.
func (s *Service) SetKey(envVar, secret string) error {
	settings, err := LoadSettings(s.bridge.settingsPath)
	if err != nil {
		return err
	}
	settings.SetKey(envVar, secret)
	if err := settings.Save(s.bridge.settingsPath); err != nil {
		return err
	}
	return s.Refresh()
}

// SetPreferred records the preferred provider ("auto" clears the pin)
// and re-discovers.
func (s *Service) SetPreferred(name string) error {
	if name != "auto" {
		if _, ok := definitions[name]; !ok {
			return fmt.Errorf("unknown provider %q", name)
		}
	}
	settings, err := LoadSettings(s.bridge.settingsPath)
	if err != nil {
		return err
	}
	settings.PreferredProvider = name
	if err := settings.Save(s.bridge.settingsPath); err != nil {
		return err
	}
	return s.Refresh()
}
