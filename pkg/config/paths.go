package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// BaseSettingsDir returns the directory holding the active settings file,
// or the project-local .relay directory when no file was read.
func BaseSettingsDir() string {
	// config.path overrides everything (used by tests)
	if configPath := viper.GetString("config.path"); configPath != "" {
		return configPath
	}

	if used := viper.ConfigFileUsed(); used != "" {
		return filepath.Dir(used)
	}
	return ".relay"
}

// BuildSettingsPath joins target onto the settings directory
func BuildSettingsPath(target string) string {
	return filepath.Join(BaseSettingsDir(), target)
}

// ResolvePath leaves absolute paths alone and anchors relative ones at the
// settings directory when the path has no directory component of its own.
func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if filepath.Dir(path) == "." {
		return BuildSettingsPath(path)
	}
	return filepath.Clean(path)
}
