package inference

import (
	"encoding/json"
	"fmt"
	"os"
)

// Settings is the workspace-scoped settings file
// (state/inference-settings.json). It persists operator-set keys and
// preferences and is written user-only.
type Settings struct {
	PreferredProvider string            `json:"preferred_provider,omitempty"`
	OllamaModel       string            `json:"ollama_model,omitempty"`
	OllamaHost        string            `json:"ollama_host,omitempty"`
	APIKeys           map[string]string `json:"api_keys,omitempty"` // ENV_NAME -> secret
}

// LoadSettings reads the settings file; missing files yield empty settings.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("read inference settings: %w", err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse inference settings: %w", err)
	}
	return s, nil
}

// Save writes the settings with user-only permissions.
func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal inference settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write inference settings: %w", err)
	}
	return nil
}

// SetKey records an operator-provided key under its environment variable
// name. The caller persists via Save.
func (s *Settings) SetKey(envName, secret string) {
	if s.APIKeys == nil {
		s.APIKeys = make(map[string]string)
	}
	s.APIKeys[envName] = secret
}
