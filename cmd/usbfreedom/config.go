package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/Jacobcdsmith/USBFREEDOM/internal/flasher"
)

type cliConfig struct {
	// BaseISODir is where non-URL base ISO references are resolved.
	BaseISODir string `toml:"base_iso_dir"`
	// OverlayDir is an optional tree copied over every extracted ISO.
	OverlayDir string `toml:"overlay_dir"`
	// CacheDir holds downloaded base images.
	CacheDir string `toml:"cache_dir"`

	ToolkitsFile   string `toml:"toolkits_file"`
	CategoriesFile string `toml:"categories_file"`

	LockDir string `toml:"lock_dir"`

	// IgnoreDevices are glob patterns for device paths that must never
	// be offered as flash targets.
	IgnoreDevices []string `toml:"ignore_devices"`

	LogLevel   string `toml:"log_level"`
	LogJournal bool   `toml:"log_journal"`
}

func parseConfig(file string) (*cliConfig, error) {
	// set defaults
	config := cliConfig{
		BaseISODir:     "/var/lib/usbfreedom/isos",
		OverlayDir:     "/etc/usbfreedom/overlay",
		CacheDir:       "/var/cache/usbfreedom",
		ToolkitsFile:   "/etc/usbfreedom/toolkits.toml",
		CategoriesFile: "/etc/usbfreedom/categories.toml",
		LockDir:        flasher.DefaultLockDir,
		LogLevel:       "info",
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// Return error only when we failed to decode the file.
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}

		logrus.Info("Configuration file not found, using defaults")
	}

	return &config, nil
}
