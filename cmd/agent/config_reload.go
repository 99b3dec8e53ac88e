package main

import (
	"fmt"

	"synctray-agent/internal/agent"
)

// reloadAgentConfig reloads the agent configuration from file
func reloadAgentConfig(a *agent.Agent) error {
	if err := a.ReloadFromDisk(); err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	return nil
}
