// Package cmd implements the ledgerd commands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd returns the base "ledgerd" command with its "run" subcommand
// attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ledgerd",
		Short:        "Certificate ledger node",
		Long:         `ledgerd serves a bbolt-backed certificate ledger over JSON-RPC 1.0.`,
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(runNode))
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
