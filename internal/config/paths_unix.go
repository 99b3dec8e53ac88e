//go:build !windows
// +build !windows

package config

import (
	"os"
	"path/filepath"
)

// getConfigPaths returns the directories searched for config.yaml on Unix
// systems, most specific first.
func getConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "synctray-agent"))
	}
	return append(paths, "/etc/synctray-agent/")
}

// defaultExecutable relies on PATH lookup.
func defaultExecutable() string {
	return "syncthing"
}
