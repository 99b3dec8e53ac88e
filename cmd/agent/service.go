package main

import (
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"synctray-agent/internal/logger"
)

const serviceName = "SyncTrayAgent"

func getService(configPath string) (service.Service, error) {
	args := []string{"run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if debug {
		args = append(args, "--debug")
	}

	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: "SyncTray Agent",
		Description: "Runs and monitors Syncthing and serves its state over a local API.",
		Arguments:   args,
	}

	prg := &program{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, err
	}

	svcLog, err := s.Logger(nil)
	if err != nil {
		prg.log = logger.New("service")
	} else {
		prg.log = logger.FromService("service", svcLog)
	}
	return s, nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start the agent as an OS service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Path == "" {
			return fmt.Errorf("no config file found; run 'synctray-agent config init' first")
		}

		s, err := getService(cfg.Path)
		if err != nil {
			return fmt.Errorf("setup failed: %w", err)
		}

		if status, err := s.Status(); err == nil {
			state := "stopped"
			if status == service.StatusRunning {
				state = "running"
			}
			fmt.Printf("%s is already installed and %s.\n", serviceName, state)
			return nil
		}

		fmt.Printf("Installing %s...\n", serviceName)
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install (are you running as administrator?): %w", err)
		}
		if err := s.Start(); err != nil {
			return fmt.Errorf("installed, but failed to start: %w", err)
		}
		fmt.Println("Service installed and started.")
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the agent OS service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService("")
		if err != nil {
			return err
		}

		// It might not be running.
		_ = s.Stop()

		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall: %w", err)
		}
		fmt.Println("Service uninstalled.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
