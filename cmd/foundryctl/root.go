package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "foundryctl",
	Short: "Protocol Foundry CLI",
	Long: `foundryctl drives protocol workflows from the command line.

Core Commands:
  create    Start a protocol drafting workflow
  run       Advance a workflow until it halts for input
  status    Show a workflow's current state
  approve   Sign off on a halted workflow
  answer    Answer a workflow's clarifying questions
  list      List all workflows`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "Foundry server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for authenticated servers")
}
