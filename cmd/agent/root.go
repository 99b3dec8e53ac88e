package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"synctray-agent/internal/config"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "synctray-agent",
	Short: "Headless Syncthing supervisor",
	Long: `synctray-agent launches and monitors a Syncthing process, keeps a live
model of its folders and devices, and serves it over a local HTTP API and a
websocket notification feed.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is config.yaml in the standard config directories)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level regardless of the config file")
}

// loadConfig reads the configuration named by --config and applies --debug.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
