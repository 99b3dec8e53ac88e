package main

import (
	"context"
	"time"

	"synctray-agent/internal/agent"
	"synctray-agent/internal/logger"
)

const defaultStopTimeout = 30 * time.Second

// handleConfigReload handles configuration reload requests
func handleConfigReload(a *agent.Agent, log logger.Logger) bool {
	log.Infof("Reloading configuration...")
	if err := reloadAgentConfig(a); err != nil {
		log.Errorf("Failed to reload config: %v", err)
	}
	return false // Continue running
}

// handleGracefulShutdown handles graceful shutdown requests
func handleGracefulShutdown(a *agent.Agent, timeout time.Duration, log logger.Logger) bool {
	log.Infof("Initiating graceful shutdown...")
	stopAgent(a, timeout, log)
	return true // Exit application
}

// stopAgent stops the agent, giving Syncthing timeout to exit before it is
// killed.
func stopAgent(a *agent.Agent, timeout time.Duration, log logger.Logger) error {
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		log.Errorf("Error during shutdown: %v", err)
		return err
	}
	log.Infof("Graceful shutdown completed")
	return nil
}
