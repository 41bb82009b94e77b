package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/api"
	"github.com/bitfsorg/certvault-go/config"
	"github.com/bitfsorg/certvault-go/logging"
	"github.com/bitfsorg/certvault-go/metrics"
)

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Serve the certificate API",
		Long: `Serve the certificate API until interrupted.

The configuration is read from {datadir}/config unless --config is given.
A default configuration is written on first run.`,
		Args: cobra.NoArgs,
		RunE: runServer,
	}
	c.Flags().StringP("datadir", "d", config.DefaultDataDir(), "Data directory")
	c.Flags().StringP("config", "c", "", "Configuration file (default {datadir}/config)")
	c.Flags().String("listen", "", "Listen address, overrides the configuration")
	c.Flags().Int("ratelimit", 120, "Per-IP requests per minute on /v1, 0 disables")
	c.Flags().Bool("trust-proxy", false, "Take client IPs from X-Forwarded-For for rate limiting")
	return c
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dataDir := cmd.Flag("datadir").Value.String()
	cfgPath := cmd.Flag("config").Value.String()
	if cfgPath == "" {
		cfgPath = config.ConfigPath(dataDir)
	}
	rateLimit, err := cmd.Flags().GetInt("ratelimit")
	if err != nil {
		return err
	}
	trustProxy, err := cmd.Flags().GetBool("trust-proxy")
	if err != nil {
		return err
	}

	cfg, firstRun, err := loadConfig(cfgPath, dataDir)
	if err != nil {
		return err
	}
	if listen := cmd.Flag("listen").Value.String(); listen != "" {
		cfg.ListenAddr = listen
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if firstRun {
		logger.Info("wrote default configuration", zap.String("path", cfgPath))
	}
	generated, err := config.EnsureEncryptionKey(cfgPath, &cfg)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn("generated a new encryption key; envelopes written under a previous key cannot be decrypted",
			zap.String("config", cfgPath))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, closer, err := buildService(cfg, logger, metrics.New(reg))
	if err != nil {
		return err
	}
	defer closer.Close()

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(svc, api.Options{
			Logger:     logger,
			Gatherer:   reg,
			RateLimit:  rateLimit,
			TrustProxy: trustProxy,
		}).Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info("certvaultd listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("issuer", svc.Issuer()),
		zap.String("store", cfg.StoreBackend),
		zap.String("ledger", cfg.LedgerBackend),
	)
	if err := api.StartHTTP(ctx, srv, 10*time.Second); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("certvaultd stopped")
	return nil
}
