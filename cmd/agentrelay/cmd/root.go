// Package cmd provides the CLI commands for agentrelay.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentrelay",
	Short: "agentrelay - session gateway for agent runtimes",
	Long: `agentrelay is a session-aware JSON-RPC gateway in front of an agent
runtime. It owns conversational session state (identity, data, expiry)
and relays agent queries upstream, merging returned state back into the
session.

Quick start:
  1. Create a config file: agentrelay.yaml
  2. Run: agentrelay serve

Configuration:
  Config is loaded from agentrelay.yaml in the current directory,
  $HOME/.agentrelay/, or /etc/agentrelay/.

  Environment variables can override config values with the AGENTRELAY_ prefix.
  Example: AGENTRELAY_SERVER_ADDR=:9090

Commands:
  serve       Start the gateway
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./agentrelay.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
