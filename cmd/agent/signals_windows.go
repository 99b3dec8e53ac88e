//go:build windows
// +build windows

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"synctray-agent/internal/agent"
	"synctray-agent/internal/logger"
)

// setupSignalHandling creates OS-specific signal handling for Windows systems
func setupSignalHandling() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	// Windows doesn't support SIGHUP; config changes are picked up by the
	// file watcher instead.
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// handleSignal processes Windows-specific signals
func handleSignal(sig os.Signal, a *agent.Agent, stopTimeout time.Duration, log logger.Logger) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		return handleGracefulShutdown(a, stopTimeout, log)
	default:
		return false
	}
}
