package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/percyio/percy-core/internal/percy"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultPort, cfg.Port)
	require.True(t, cfg.Server)
	require.Equal(t, []int{375, 1280}, cfg.Snapshot.Widths)
	require.Equal(t, DefaultMinHeight, cfg.Snapshot.MinHeight)
	require.Equal(t, DefaultDiscoveryConcurrency, cfg.Discovery.Concurrency)
	require.Equal(t, 100*time.Millisecond, cfg.Discovery.NetworkIdleTimeout)
}

func TestLoadAppliesYAMLFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "percy.yml")
	yamlContent := "token: filetoken\nport: 9000\ndiscovery:\n  concurrency: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "filetoken", cfg.Token)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 3, cfg.Discovery.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "percy.yml")
	require.NoError(t, os.WriteFile(path, []byte("token: filetoken\n"), 0o644))

	t.Setenv("PERCY_TOKEN", "envtoken")
	t.Setenv("PERCY_LOGLEVEL", "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "envtoken", cfg.Token)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadWithEmptyPathSkipsFileLayer(t *testing.T) {
	t.Setenv("PERCY_TOKEN", "envonly")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "envonly", cfg.Token)
}

func TestPercyEnableZeroDisablesDiscovery(t *testing.T) {
	t.Setenv("PERCY_TOKEN", "tok")
	t.Setenv("PERCY_ENABLE", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	require.False(t, cfg.Enabled)
}

func TestValidateRejectsMissingToken(t *testing.T) {
	cfg := Default()
	err := Validate(cfg)
	require.ErrorIs(t, err, percy.ErrConfigValidation)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := Default()
	cfg.Token = "tok"
	cfg.Port = 70000
	require.ErrorIs(t, Validate(cfg), percy.ErrConfigValidation)
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Token = "tok"
	cfg.Discovery.Concurrency = 0
	require.ErrorIs(t, Validate(cfg), percy.ErrConfigValidation)
}

func TestValidateRejectsEmptyHostnamePattern(t *testing.T) {
	cfg := Default()
	cfg.Token = "tok"
	cfg.Discovery.AllowedHostnames = []string{""}
	require.ErrorIs(t, Validate(cfg), percy.ErrConfigValidation)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Default()
	cfg.Token = "tok"
	require.NoError(t, Validate(cfg))
}
