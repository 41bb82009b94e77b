// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads, saves and validates the certvault configuration file.
//
// The file is a flat list of "key = value" lines; blank lines and lines
// starting with '#' are ignored. Environment variables named CERTVAULT_<KEY>
// override file values.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bitfsorg/certvault-go/envelope"
)

// Storage and ledger backends.
const (
	StoreFile = "file"
	StoreHTTP = "http"

	LedgerBolt   = "bolt"
	LedgerRPC    = "rpc"
	LedgerMemory = "memory"
)

// Config holds the daemon configuration.
type Config struct {
	DataDir    string
	ListenAddr string
	LogLevel   string
	LogFile    string

	// EncryptionKey is the 256-bit process key as hex. Generated on first run.
	EncryptionKey string
	Algorithm     string

	StoreBackend string
	StoreURL     string

	LedgerBackend  string
	LedgerURL      string
	LedgerUser     string
	LedgerPassword string

	// IdentityFile holds the issuer's private key. Empty means
	// {DataDir}/identity.key.
	IdentityFile string

	EmailCheck  bool
	DNSUpstream string
}

// DefaultDataDir returns ~/.certvault, or ./.certvault if the home directory
// cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".certvault"
	}
	return filepath.Join(home, ".certvault")
}

// ConfigPath returns the configuration file path inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(filepath.Clean(dataDir), "config")
}

// DefaultConfig returns a configuration for a single-node setup: local file
// store, embedded bolt ledger.
func DefaultConfig() Config {
	return Config{
		DataDir:       DefaultDataDir(),
		ListenAddr:    ":8080",
		LogLevel:      "info",
		Algorithm:     envelope.DefaultAlgorithm.String(),
		StoreBackend:  StoreFile,
		LedgerBackend: LedgerBolt,
	}
}

// StorePath is the FileStore root.
func (c Config) StorePath() string { return filepath.Join(c.DataDir, "store") }

// LedgerPath is the BoltLedger database file.
func (c Config) LedgerPath() string { return filepath.Join(c.DataDir, "ledger.db") }

// IdentityPath resolves IdentityFile against DataDir.
func (c Config) IdentityPath() string {
	if c.IdentityFile != "" {
		return c.IdentityFile
	}
	return filepath.Join(c.DataDir, "identity.key")
}

// keys lists every configuration key in file order.
var keys = []string{
	"datadir", "listen", "loglevel", "logfile",
	"encryptionkey", "algorithm",
	"store", "storeurl",
	"ledger", "ledgerurl", "ledgeruser", "ledgerpassword",
	"identityfile", "emailcheck", "dnsupstream",
}

// set assigns value to the field named by key. Unknown keys are ignored so
// newer files remain loadable.
func (c *Config) set(key, value string) error {
	switch key {
	case "datadir":
		c.DataDir = value
	case "listen":
		c.ListenAddr = value
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	case "encryptionkey":
		c.EncryptionKey = value
	case "algorithm":
		c.Algorithm = value
	case "store":
		c.StoreBackend = value
	case "storeurl":
		c.StoreURL = value
	case "ledger":
		c.LedgerBackend = value
	case "ledgerurl":
		c.LedgerURL = value
	case "ledgeruser":
		c.LedgerUser = value
	case "ledgerpassword":
		c.LedgerPassword = value
	case "identityfile":
		c.IdentityFile = value
	case "emailcheck":
		if value == "" {
			c.EmailCheck = false
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: emailcheck = %q", ErrInvalidBool, value)
		}
		c.EmailCheck = b
	case "dnsupstream":
		c.DNSUpstream = value
	}
	return nil
}

func (c Config) get(key string) string {
	switch key {
	case "datadir":
		return c.DataDir
	case "listen":
		return c.ListenAddr
	case "loglevel":
		return c.LogLevel
	case "logfile":
		return c.LogFile
	case "encryptionkey":
		return c.EncryptionKey
	case "algorithm":
		return c.Algorithm
	case "store":
		return c.StoreBackend
	case "storeurl":
		return c.StoreURL
	case "ledger":
		return c.LedgerBackend
	case "ledgerurl":
		return c.LedgerURL
	case "ledgeruser":
		return c.LedgerUser
	case "ledgerpassword":
		return c.LedgerPassword
	case "identityfile":
		return c.IdentityFile
	case "emailcheck":
		return strconv.FormatBool(c.EmailCheck)
	case "dnsupstream":
		return c.DNSUpstream
	}
	return ""
}

// LoadConfig reads the file at path on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", err, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("%w (line %d)", err, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// parseKeyValue splits "key = value" on the first '='.
func parseKeyValue(line string) (string, string, error) {
	k, v, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "", "", ErrInvalidConfigLine
	}
	return k, strings.TrimSpace(v), nil
}

// SaveConfig writes cfg to path with 0600 permissions, creating parent
// directories as needed. The file holds the encryption key.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# certvault configuration\n")
	b.WriteString("# Lines are \"key = value\"; CERTVAULT_<KEY> environment variables override them.\n\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, cfg.get(k))
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with CERTVAULT_<KEY> variables that are set,
// e.g. CERTVAULT_LEDGERURL.
func ApplyEnv(cfg *Config) error {
	for _, k := range keys {
		v, ok := os.LookupEnv("CERTVAULT_" + strings.ToUpper(k))
		if !ok {
			continue
		}
		if err := cfg.set(k, strings.TrimSpace(v)); err != nil {
			return err
		}
	}
	return nil
}

// EnsureEncryptionKey generates a process key when cfg has none and saves
// the configuration to path. It reports whether a key was generated so the
// caller can warn that existing envelopes, if any, are now unreadable.
func EnsureEncryptionKey(path string, cfg *Config) (bool, error) {
	if cfg.EncryptionKey != "" {
		return false, nil
	}
	k, err := envelope.GenerateKey()
	if err != nil {
		return false, err
	}
	cfg.EncryptionKey = k.Hex()
	if err := SaveConfig(path, *cfg); err != nil {
		return false, err
	}
	return true, nil
}
