// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtpbridge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ulaw", cfg.Codec)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 50, cfg.StatsEveryNFrames)
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Port, cfg.Port)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 0.0.0.0\nport: 13000\ncodec: slin16\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 13000, cfg.Port)
	assert.Equal(t, "slin16", cfg.Codec)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("RTP_PORT", "14000")
	t.Setenv("RTP_CODEC", "slin16")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 14000, cfg.Port)
	assert.Equal(t, "slin16", cfg.Codec)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
