// Package cmd implements the certvaultd commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the base "certvaultd" command with its "init" and
// "run" subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "certvaultd",
		Short: "Encrypted certificate storage with a ledger of record",
		Long: `certvaultd stores encrypted certificate envelopes in a content-addressed
store and records which address each certificate points at in a ledger.`,
		SilenceUsage: true,
	}
	root.AddCommand(newInitCmd(), newRunCmd())
	return root
}

// Execute runs the root command until SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
