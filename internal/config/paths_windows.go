//go:build windows
// +build windows

package config

import (
	"os"
	"path/filepath"
)

// getConfigPaths returns the directories searched for config.yaml on Windows
func getConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "synctray-agent"))
	}

	appData := os.Getenv("PROGRAMDATA")
	if appData == "" {
		appData = "C:\\ProgramData"
	}
	return append(paths, filepath.Join(appData, "SyncTray", "config"))
}

// defaultExecutable expects syncthing.exe next to the agent binary, and falls
// back to PATH lookup.
func defaultExecutable() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "syncthing.exe")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "syncthing.exe"
}
