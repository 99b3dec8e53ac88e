package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"synctray-agent/internal/agent"
	"synctray-agent/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long:  `Runs the agent directly. The service manager uses this command too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if service.Interactive() {
			return runInteractive()
		}

		// Under a service manager s.Run must be called to check in with it.
		s, err := getService(configFile)
		if err != nil {
			return fmt.Errorf("failed to initialize service: %w", err)
		}
		return s.Run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runInteractive() error {
	log := logger.New("main")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		log.Infof("Using config file %s", cfg.Path)
	}

	a, err := agent.New(cfg, log)
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		stopAgent(a, cfg.StopTimeoutDuration(), log)
		return err
	}

	sigChan := setupSignalHandling()
	for sig := range sigChan {
		if handleSignal(sig, a, cfg.StopTimeoutDuration(), log) {
			return nil
		}
	}
	return nil
}

// program adapts the agent to the service manager.
type program struct {
	log         logger.Logger
	agent       *agent.Agent
	stopTimeout time.Duration
}

func (p *program) Start(s service.Service) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := agent.New(cfg, p.log)
	if err != nil {
		return err
	}
	p.agent = a
	p.stopTimeout = cfg.StopTimeoutDuration()

	// Start must return quickly; the agent runs on its own goroutines.
	go func() {
		if err := a.Start(context.Background()); err != nil {
			p.log.Errorf("Failed to start: %v", err)
		}
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.agent == nil {
		return nil
	}
	return stopAgent(p.agent, p.stopTimeout, p.log)
}
