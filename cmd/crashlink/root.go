package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command when crashlink is called without subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crashlink",
		Short: "Relay crash reports into GitHub issues",
		Long: `crashlink receives crash reports from client applications, stores them
and opens an issue in a configured GitHub repository using a credential
obtained through the GitHub OAuth install flow.`,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "crashlink version %s\n" .Version}}`)
	cmd.AddCommand(newServeCmd(), newVersionCmd())
	return cmd
}

// SetVersion sets the version reported by the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
