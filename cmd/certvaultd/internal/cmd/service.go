package cmd

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/bitfsorg/certvault-go/certificate"
	"github.com/bitfsorg/certvault-go/config"
	"github.com/bitfsorg/certvault-go/contentstore"
	"github.com/bitfsorg/certvault-go/emailcheck"
	"github.com/bitfsorg/certvault-go/envelope"
	"github.com/bitfsorg/certvault-go/identity"
	"github.com/bitfsorg/certvault-go/ledger"
	"github.com/bitfsorg/certvault-go/metrics"
)

// loadConfig reads path, writing a default configuration when it does not
// exist, then applies environment overrides and validates.
func loadConfig(path, dataDir string) (config.Config, bool, error) {
	firstRun := false
	cfg, err := config.LoadConfig(path)
	if errors.Is(err, config.ErrConfigNotFound) {
		cfg = config.DefaultConfig()
		cfg.DataDir = dataDir
		if err := config.SaveConfig(path, cfg); err != nil {
			return cfg, false, err
		}
		firstRun = true
	} else if err != nil {
		return cfg, false, err
	}

	if err := config.ApplyEnv(&cfg); err != nil {
		return cfg, false, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return cfg, false, err
	}
	return cfg, firstRun, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// buildService wires codec, store, ledger and issuer identity from cfg.
// The returned closer releases the ledger.
func buildService(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) (*certificate.Service, io.Closer, error) {
	key, err := envelope.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	alg, err := envelope.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, nil, err
	}
	codec, err := envelope.NewCodec(key, alg)
	if err != nil {
		return nil, nil, err
	}

	var store contentstore.Store
	switch cfg.StoreBackend {
	case config.StoreHTTP:
		store = contentstore.NewHTTPStore(cfg.StoreURL, nil)
	default:
		files, err := contentstore.NewFileStore(cfg.StorePath())
		if err != nil {
			return nil, nil, err
		}
		store = files
	}

	issuer, created, err := identity.LoadOrCreate(cfg.IdentityPath())
	if err != nil {
		return nil, nil, err
	}
	if created {
		logger.Info("generated issuer identity",
			zap.String("path", cfg.IdentityPath()), zap.String("issuer", issuer.ID()))
	}

	var l ledger.Ledger
	closer := io.Closer(closerFunc(func() error { return nil }))
	switch cfg.LedgerBackend {
	case config.LedgerRPC:
		l = ledger.NewRPCClient(ledger.RPCConfig{
			URL:      cfg.LedgerURL,
			User:     cfg.LedgerUser,
			Password: cfg.LedgerPassword,
			Signers:  []ledger.Signer{issuer},
		})
	case config.LedgerMemory:
		logger.Warn("using in-memory ledger; certificate pointers are lost on exit")
		l = ledger.NewMemory()
	default:
		bl, err := ledger.OpenBoltLedger(cfg.LedgerPath())
		if err != nil {
			return nil, nil, err
		}
		l, closer = bl, bl
	}

	opts := certificate.Options{Issuer: issuer.ID(), Logger: logger, Metrics: m}
	if cfg.EmailCheck {
		opts.DomainChecker = emailcheck.NewMXChecker(cfg.DNSUpstream)
	}

	svc, err := certificate.NewService(codec, store, l, opts)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return svc, closer, nil
}
