// Package logging builds the structured logger shared by the daemons.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// New builds a JSON logger at level ("debug", "info", "warn", "error"; empty
// means "info"). When file is non-empty, output goes to the file as well as
// stderr. It uses zap's production configuration without sampling.
func New(level, file string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Sampling = nil
	cfg.OutputPaths = []string{"stderr"}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		cfg.OutputPaths = append(cfg.OutputPaths, file)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, nil
}
