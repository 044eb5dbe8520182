package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoConfigFile(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultDataDir, cfg.DataDir)
	require.Equal(t, DefaultDebounceQuiet, cfg.LLMDebounce.Quiet)
	require.Equal(t, DefaultDebounceMaxWait, cfg.LLMDebounce.MaxWait)
	require.Equal(t, DefaultClockIntervalSeconds, cfg.ClockIntervalSeconds)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrt.yaml")
	yaml := "port: 4000\nclock_interval_seconds: 5\nlanguage_model:\n  provider: anthropic\n  model: claude\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, 5, cfg.ClockIntervalSeconds)
	require.Equal(t, "anthropic", cfg.LanguageModel.Provider)
	require.Equal(t, "claude", cfg.LanguageModel.Model)
}

func TestLoad_EnvironmentVariableOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\n"), 0o600))

	t.Setenv("AGENTRT_PORT", "5000")

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Port)
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{Port: 0, DataDir: "x", ClockIntervalSeconds: 1, LLMDebounce: DebounceConfig{Quiet: time.Second, MaxWait: 2 * time.Second}}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMaxWaitBelowQuiet(t *testing.T) {
	cfg := &Config{Port: 3000, DataDir: "x", ClockIntervalSeconds: 1, LLMDebounce: DebounceConfig{Quiet: 2 * time.Second, MaxWait: time.Second}}
	require.Error(t, cfg.Validate())
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}
