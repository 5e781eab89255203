// Package cmd provides the CLI commands for ragserve.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/markerlab/ragserve/pkg/version"
)

// NewRootCmd creates the root command for the ragserve CLI.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ragserve",
		Short: "Local RAG service over Ollama",
		Long: `Ragserve indexes markdown documents into a local vector store and
answers questions grounded in the retrieved chunks, generating through
a local Ollama instance.

Run 'ragserve serve' to expose the pipeline over HTTP at /api/rag, or
use 'ragserve index' and 'ragserve query' directly from the shell.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("ragserve version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to ragserve.yaml (default: $XDG_CONFIG_HOME/ragserve/ragserve.yaml)")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newIndexCmd(&configPath))
	cmd.AddCommand(newQueryCmd(&configPath))
	cmd.AddCommand(newStatsCmd(&configPath))
	cmd.AddCommand(newClearCmd(&configPath))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
