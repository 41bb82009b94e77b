// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidListenAddr indicates the listen address is malformed.
	ErrInvalidListenAddr = errors.New("config: invalid listen address")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrInvalidBool indicates a boolean key has a value other than true/false.
	ErrInvalidBool = errors.New("config: invalid boolean value")

	// ErrInvalidAlgorithm indicates the envelope algorithm is not supported.
	ErrInvalidAlgorithm = errors.New("config: invalid algorithm (must be \"aes-256-gcm\" or \"chacha20-poly1305\")")

	// ErrInvalidEncryptionKey indicates the encryption key is not 64 hex characters.
	ErrInvalidEncryptionKey = errors.New("config: invalid encryption key (must be 64 hex characters)")

	// ErrInvalidStoreBackend indicates the store backend name is not recognized.
	ErrInvalidStoreBackend = errors.New("config: invalid store backend (must be \"file\" or \"http\")")

	// ErrInvalidLedgerBackend indicates the ledger backend name is not recognized.
	ErrInvalidLedgerBackend = errors.New("config: invalid ledger backend (must be \"bolt\", \"rpc\", or \"memory\")")

	// ErrInvalidURL indicates a required endpoint URL is missing or malformed.
	ErrInvalidURL = errors.New("config: invalid URL")
)
