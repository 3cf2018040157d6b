package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := parseConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/usbfreedom/isos", config.BaseISODir)
	assert.Equal(t, "/etc/usbfreedom/toolkits.toml", config.ToolkitsFile)
	assert.Equal(t, "info", config.LogLevel)
	assert.Empty(t, config.IgnoreDevices)
	assert.False(t, config.LogJournal)
}

func TestParseConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbfreedom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_iso_dir = "/srv/isos"
cache_dir = "/tmp/usbfreedom-cache"
ignore_devices = ["/dev/mmcblk*", "/dev/sda"]
log_level = "debug"
log_journal = true
`), 0o600))

	config, err := parseConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/isos", config.BaseISODir)
	assert.Equal(t, "/tmp/usbfreedom-cache", config.CacheDir)
	assert.Equal(t, []string{"/dev/mmcblk*", "/dev/sda"}, config.IgnoreDevices)
	assert.Equal(t, "debug", config.LogLevel)
	assert.True(t, config.LogJournal)

	// untouched keys keep their defaults
	assert.Equal(t, "/etc/usbfreedom/categories.toml", config.CategoriesFile)
}

func TestParseConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usbfreedom.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = [1,"), 0o600))

	_, err := parseConfig(path)
	assert.Error(t, err)
}
