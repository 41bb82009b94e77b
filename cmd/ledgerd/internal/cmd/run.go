package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/api"
	"github.com/bitfsorg/certvault-go/config"
	"github.com/bitfsorg/certvault-go/ledger"
	"github.com/bitfsorg/certvault-go/logging"
)

type options struct {
	listen            string
	dbPath            string
	user              string
	password          string
	requireSignatures bool
	logLevel          string
	reindex           bool
}

// newRunCmd builds the run command; serve receives the parsed options.
func newRunCmd(serve func(*cobra.Command, options) error) *cobra.Command {
	var o options
	c := &cobra.Command{
		Use:   "run",
		Short: "Serve the ledger over JSON-RPC",
		Long: `Serve the ledger over JSON-RPC until interrupted.

Basic auth credentials fall back to LEDGERD_RPCUSER and LEDGERD_RPCPASSWORD
when the flags are empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.applyEnv()
			return serve(cmd, o)
		},
	}
	f := c.Flags()
	f.StringVar(&o.listen, "listen", "127.0.0.1:8332", "RPC listen address")
	f.StringVar(&o.dbPath, "db", filepath.Join(config.DefaultDataDir(), "ledgerd.db"), "Ledger database file")
	f.StringVar(&o.user, "rpcuser", "", "Basic auth user (empty disables auth)")
	f.StringVar(&o.password, "rpcpassword", "", "Basic auth password")
	f.BoolVar(&o.requireSignatures, "require-signatures", true, "Reject mutating calls without a valid actor signature")
	f.StringVar(&o.logLevel, "loglevel", "info", "Log level")
	f.BoolVar(&o.reindex, "reindex", false, "Rebuild the email index before serving")
	return c
}

func (o *options) applyEnv() {
	if o.user == "" {
		o.user = os.Getenv("LEDGERD_RPCUSER")
	}
	if o.password == "" {
		o.password = os.Getenv("LEDGERD_RPCPASSWORD")
	}
}

func runNode(cmd *cobra.Command, o options) error {
	ctx := cmd.Context()

	logger, err := logging.New(o.logLevel, "")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	l, err := ledger.OpenBoltLedger(o.dbPath)
	if err != nil {
		return err
	}
	defer l.Close()

	if o.reindex {
		n, err := l.RebuildIndex(ctx)
		if err != nil {
			return fmt.Errorf("rebuild index: %w", err)
		}
		logger.Info("rebuilt email index", zap.Int("certificates", n))
	}
	if o.user == "" {
		logger.Warn("RPC basic auth disabled")
	}
	if !o.requireSignatures {
		logger.Warn("RPC signatures not required; any caller may act as any issuer")
	}

	srv := &http.Server{
		Addr: o.listen,
		Handler: ledger.NewRPCHandler(l, ledger.HandlerOptions{
			User:              o.user,
			Password:          o.password,
			RequireSignatures: o.requireSignatures,
			Logger:            logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	logger.Info("ledgerd listening",
		zap.String("addr", o.listen),
		zap.String("db", o.dbPath),
		zap.Bool("require_signatures", o.requireSignatures))

	if err := api.StartHTTP(ctx, srv, 5*time.Second); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("ledgerd stopped")
	return nil
}
