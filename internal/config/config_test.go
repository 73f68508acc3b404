package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tako/internal/stage"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "tako.toml"))
	require.NoError(t, err)
	require.Equal(t, "tako", cfg.Name)
	require.Equal(t, string(stage.Hatchling), cfg.Stage)
	require.Equal(t, 30, cfg.Cadence.HeartbeatSeconds)
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tako.toml")
	require.NoError(t, os.WriteFile(path, []byte("name = \"inky\"\nstage = \"child\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "inky", cfg.Name)
	require.Equal(t, "child", cfg.Stage)
	require.Equal(t, 30, cfg.Cadence.HeartbeatSeconds)
	require.Equal(t, 10, cfg.Cadence.SnapshotEveryTicks)
}

func TestLoad_RejectsUnknownStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tako.toml")
	require.NoError(t, os.WriteFile(path, []byte("stage = \"elder\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tako.toml")
	cfg := Default()
	cfg.Name = "inky"
	cfg.XMTP.Enabled = true
	cfg.Watch = []string{"https://example.com/releases"}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestWithStage_CopySemantics(t *testing.T) {
	cfg := Default()
	next := cfg.WithStage(stage.Teen)
	require.Equal(t, string(stage.Hatchling), cfg.Stage)
	require.Equal(t, string(stage.Teen), next.Stage)
}
