package main

import (
	"os"

	"github.com/spf13/cobra"

	"demobank/core"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the bankctl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bankctl",
		Short:         "Demo bank operator tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (overrides CONFIG_FILE)")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewHashPasswordCmd())

	return cmd
}

// loadConfig applies --config and loads the same configuration the server uses.
func loadConfig() (core.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return core.Config{}, err
		}
	}
	return core.Load()
}
