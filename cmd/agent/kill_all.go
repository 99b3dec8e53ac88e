package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"synctray-agent/internal/logger"
	"synctray-agent/internal/process"
)

var killAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Kill every Syncthing process on this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner := process.NewRunner(logger.New("process"))
		if err := runner.KillAll(); err != nil {
			return err
		}
		fmt.Println("Done.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(killAllCmd)
}
