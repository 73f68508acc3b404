package inference

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func discoveryBridge(t *testing.T, lookPath func(string) (string, error)) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	b := NewBridge(Options{
		WorkspaceTmp: filepath.Join(dir, ".tako", "tmp"),
		SettingsPath: filepath.Join(dir, "inference-settings.json"),
		SnapshotPath: filepath.Join(dir, "inference.json"),
		Logger:       zap.NewNop(),
	})
	b.homeDir = t.TempDir() // isolate from the real home credential files
	if lookPath != nil {
		b.lookPath = lookPath
	}
	return b, dir
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "CLAUDE_API_KEY",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "PI_API_KEY", "PI_AUTH_TOKEN",
		"OLLAMA_MODEL", "TAKO_INFERENCE_PROVIDER",
	} {
		t.Setenv(v, "")
	}
}

func TestDiscover_NothingInstalled(t *testing.T) {
	clearProviderEnv(t)
	b, _ := discoveryBridge(t, func(string) (string, error) {
		return "", os.ErrNotExist
	})

	rt, err := b.Discover()
	require.NoError(t, err)
	require.False(t, rt.Ready())
	require.Empty(t, rt.Selected)
	for _, name := range Priority {
		require.False(t, rt.Statuses[name].Ready, "provider %s must not be ready", name)
	}
}

func TestDiscover_EnvCredentialMakesReady(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic-key")

	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		if cli == "claude" {
			return "/usr/bin/claude", nil
		}
		return "", os.ErrNotExist
	})

	rt, err := b.Discover()
	require.NoError(t, err)

	st := rt.Statuses["claude"]
	require.True(t, st.CLIInstalled)
	require.True(t, st.KeyPresent)
	require.True(t, st.Ready)
	require.Equal(t, "env:ANTHROPIC_API_KEY", st.KeySource)
	require.Equal(t, "claude", rt.Selected)
}

func TestDiscover_CLIWithoutCredentialNotReady(t *testing.T) {
	clearProviderEnv(t)
	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		if cli == "gemini" {
			return "/usr/bin/gemini", nil
		}
		return "", os.ErrNotExist
	})

	rt, err := b.Discover()
	require.NoError(t, err)
	st := rt.Statuses["gemini"]
	require.True(t, st.CLIInstalled)
	require.False(t, st.KeyPresent)
	require.False(t, st.Ready)
}

func TestDiscover_OllamaRequiresModel(t *testing.T) {
	clearProviderEnv(t)
	look := func(cli string) (string, error) {
		if cli == "ollama" {
			return "/usr/bin/ollama", nil
		}
		return "", os.ErrNotExist
	}

	b, _ := discoveryBridge(t, look)
	rt, err := b.Discover()
	require.NoError(t, err)
	require.False(t, rt.Statuses["ollama"].Ready)
	require.Contains(t, rt.Statuses["ollama"].Note, "no model configured")

	t.Setenv("OLLAMA_MODEL", "llama3")
	b2, _ := discoveryBridge(t, look)
	rt2, err := b2.Discover()
	require.NoError(t, err)
	require.True(t, rt2.Statuses["ollama"].Ready)
	require.Equal(t, "model:llama3", rt2.Statuses["ollama"].KeySource)
}

func TestDiscover_CredentialFileEvidence(t *testing.T) {
	clearProviderEnv(t)
	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		if cli == "codex" {
			return "/usr/bin/codex", nil
		}
		return "", os.ErrNotExist
	})
	credPath := filepath.Join(b.homeDir, ".codex", "auth.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(credPath), 0o755))
	require.NoError(t, os.WriteFile(credPath, []byte(`{"tokens":{}}`), 0o600))

	rt, err := b.Discover()
	require.NoError(t, err)
	st := rt.Statuses["codex"]
	require.True(t, st.Ready)
	require.Equal(t, "file:~/.codex/auth.json#tokens", st.KeySource)
}

func TestDiscover_ForcedProviderOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-codex-key-value")
	t.Setenv("GEMINI_API_KEY", "gemini-key-value")
	t.Setenv("TAKO_INFERENCE_PROVIDER", "gemini")

	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		switch cli {
		case "codex", "gemini":
			return "/usr/bin/" + cli, nil
		}
		return "", os.ErrNotExist
	})

	rt, err := b.Discover()
	require.NoError(t, err)
	// codex is first in priority but the env override wins.
	require.Equal(t, "gemini", rt.Selected)
}

func TestDiscover_PreferredProviderFromSettings(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-codex-key-value")
	t.Setenv("GEMINI_API_KEY", "gemini-key-value")

	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		switch cli {
		case "codex", "gemini":
			return "/usr/bin/" + cli, nil
		}
		return "", os.ErrNotExist
	})
	require.NoError(t, Settings{PreferredProvider: "gemini"}.Save(b.settingsPath))

	rt, err := b.Discover()
	require.NoError(t, err)
	require.Equal(t, "gemini", rt.Selected)
}

func TestDiscover_WritesSnapshotWithoutSecrets(t *testing.T) {
	clearProviderEnv(t)
	secret := "sk-super-secret-value-123"
	t.Setenv("ANTHROPIC_API_KEY", secret)

	b, _ := discoveryBridge(t, func(cli string) (string, error) {
		if cli == "claude" {
			return "/usr/bin/claude", nil
		}
		return "", os.ErrNotExist
	})

	_, err := b.Discover()
	require.NoError(t, err)

	data, err := os.ReadFile(b.snapshotPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), secret, "snapshot must never contain credentials")

	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, "claude", snap["selected_provider"])
}

func TestSettings_SetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	var s Settings
	s.SetKey("OPENAI_API_KEY", "sk-abc")
	s.PreferredProvider = "codex"
	require.NoError(t, s.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	require.Equal(t, "sk-abc", loaded.APIKeys["OPENAI_API_KEY"])
	require.Equal(t, "codex", loaded.PreferredProvider)
}
