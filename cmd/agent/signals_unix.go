//go:build !windows
// +build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"synctray-agent/internal/agent"
	"synctray-agent/internal/logger"
)

// setupSignalHandling creates OS-specific signal handling for Unix systems
func setupSignalHandling() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	return sigChan
}

// handleSignal processes Unix-specific signals. It returns true when the
// agent should exit.
func handleSignal(sig os.Signal, a *agent.Agent, stopTimeout time.Duration, log logger.Logger) bool {
	switch sig {
	case syscall.SIGHUP:
		return handleConfigReload(a, log)
	case syscall.SIGINT, syscall.SIGTERM:
		return handleGracefulShutdown(a, stopTimeout, log)
	default:
		return false
	}
}
