package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", "warn", "error"} {
		logger, err := New(lvl, "")
		require.NoError(t, err, "level %q", lvl)
		assert.NotNil(t, logger)
	}

	_, err := New("verbose", "")
	assert.Error(t, err)
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "certvault.log")
	logger, err := New("info", path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("issued", zap.String("fid", "fid-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry), "exactly one JSON line expected: %s", data)
	assert.Equal(t, "issued", entry["msg"])
	assert.Equal(t, "fid-1", entry["fid"])
}
