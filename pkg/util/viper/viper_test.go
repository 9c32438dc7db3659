package viper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSection struct {
	Listen   string        `mapstructure:"listen"`
	Debounce time.Duration `mapstructure:"debounce"`
}

func TestLoadFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample:\n  listen: \":9000\"\n"), 0o600))

	cfg := New()
	cfg.SetDefault("sample.listen", ":8081")
	cfg.SetDefault("sample.debounce", "250ms")
	require.NoError(t, cfg.LoadFile(path))

	var s sampleSection
	require.NoError(t, cfg.UnmarshalKey("sample", &s))
	assert.Equal(t, ":9000", s.Listen)
	assert.Equal(t, 250*time.Millisecond, s.Debounce)
	assert.True(t, cfg.IsSet("sample.listen"))
	assert.False(t, cfg.IsSet("sample.missing"))
}

func TestAutomaticEnv(t *testing.T) {
	t.Setenv("COEDITTEST_SAMPLE_LISTEN", ":7000")

	cfg := New()
	cfg.SetDefault("sample.listen", ":8081")
	cfg.AutomaticEnv("COEDITTEST")

	var all struct {
		Sample sampleSection `mapstructure:"sample"`
	}
	require.NoError(t, cfg.Unmarshal(&all))
	assert.Equal(t, ":7000", all.Sample.Listen)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := New()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
