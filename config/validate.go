// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/bitfsorg/certvault-go/envelope"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
// An empty EncryptionKey is valid; EnsureEncryptionKey fills it in.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if err := validateAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidListenAddr, err)
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if _, err := envelope.ParseAlgorithm(cfg.Algorithm); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAlgorithm, cfg.Algorithm)
	}

	if cfg.EncryptionKey != "" {
		k, err := envelope.ParseKey(cfg.EncryptionKey)
		if err != nil || k.IsZero() {
			return ErrInvalidEncryptionKey
		}
	}

	switch cfg.StoreBackend {
	case StoreFile:
	case StoreHTTP:
		if err := validateURL(cfg.StoreURL); err != nil {
			return fmt.Errorf("%w: storeurl: %w", ErrInvalidURL, err)
		}
	default:
		return ErrInvalidStoreBackend
	}

	switch cfg.LedgerBackend {
	case LedgerBolt, LedgerMemory:
	case LedgerRPC:
		if err := validateURL(cfg.LedgerURL); err != nil {
			return fmt.Errorf("%w: ledgerurl: %w", ErrInvalidURL, err)
		}
	default:
		return ErrInvalidLedgerBackend
	}

	if cfg.EmailCheck && cfg.DNSUpstream != "" {
		if err := validateAddr(cfg.DNSUpstream); err != nil {
			return fmt.Errorf("%w: dnsupstream: %w", ErrInvalidListenAddr, err)
		}
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}

// validateURL checks that raw is an absolute http(s) URL.
func validateURL(raw string) error {
	if raw == "" {
		return errors.New("empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
