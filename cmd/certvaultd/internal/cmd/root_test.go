package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/certvault-go/config"
)

// execute runs the root command with args under ctx and returns its output.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestInitCmd(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, context.Background(), "init", "--datadir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, config.ConfigPath(dir))

	cfg, err := config.LoadConfig(config.ConfigPath(dir))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.EncryptionKey)
	assert.FileExists(t, cfg.IdentityPath())

	again, err := execute(t, context.Background(), "init", "-d", dir)
	require.NoError(t, err)
	assert.Equal(t, out, again, "init is idempotent")

	cfg2, err := config.LoadConfig(config.ConfigPath(dir))
	require.NoError(t, err)
	assert.Equal(t, cfg.EncryptionKey, cfg2.EncryptionKey)
}

func TestRunCmdStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, "run", "--datadir", dir, "--listen", "127.0.0.1:0", "--ratelimit", "0")
	require.NoError(t, err)

	cfg, err := config.LoadConfig(config.ConfigPath(dir))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.EncryptionKey)
	assert.FileExists(t, cfg.IdentityPath())
	assert.FileExists(t, cfg.LedgerPath())
}

func TestRunCmdBadFlags(t *testing.T) {
	_, err := execute(t, context.Background(), "run", "--bogus")
	assert.Error(t, err)

	_, err = execute(t, context.Background(), "run", "--ratelimit", "many")
	assert.Error(t, err)

	_, err = execute(t, context.Background(), "init", "extra-arg")
	assert.Error(t, err)
}

func TestRunCmdInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CERTVAULT_STORE", "tape")

	_, err := execute(t, context.Background(), "run", "--datadir", dir, "--listen", "127.0.0.1:0")
	assert.ErrorIs(t, err, config.ErrInvalidStoreBackend)
}
