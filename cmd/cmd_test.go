package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mezonai/headerd/bootstrap"
	"github.com/mezonai/headerd/config"
	"github.com/mezonai/headerd/store"
)

func writeNodeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "node.yml")
	content := "config:\n  network: regtest\n  data_dir: " + filepath.Join(dir, "data") + "\n  store:\n    type: bolt\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPeersAddAndList(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeNodeConfig(t, dir)

	_, err := execute(t, "peers", "list", "--config", cfgPath)
	require.Error(t, err, "a missing address book is an error")

	out, err := execute(t, "peers", "add", "--config", cfgPath, "127.0.0.1:18444", "127.0.0.2:18444")
	require.NoError(t, err)
	assert.Contains(t, out, "2 peers")

	// one bad argument rejects the whole command and leaves the book alone
	_, err = execute(t, "peers", "add", "--config", cfgPath, "127.0.0.3:18444", "garbage")
	require.Error(t, err)

	out, err = execute(t, "peers", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:18444\n127.0.0.2:18444\n", out)

	_, err = os.Stat(filepath.Join(dir, "data", "regtest", config.AddressBookFileName))
	assert.NoError(t, err)
}

func TestBuildRunConfigFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeNodeConfig(t, dir)

	require.NoError(t, runCmd.ParseFlags([]string{
		"--config", cfgPath,
		"--network", "testnet",
		"--log-level", "debug",
		"--connect", "10.0.0.1:18333",
		"--connect", "10.0.0.2:18333",
		"--store-type", "leveldb",
	}))
	cfg, err := buildRunConfig(runCmd)
	require.NoError(t, err)

	assert.Equal(t, config.Testnet, cfg.Network)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"10.0.0.1:18333", "10.0.0.2:18333"}, cfg.Connect)
	assert.Equal(t, "leveldb", cfg.Store.Type)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
}

// runArgsEnv carries the arguments of a re-executed test binary that acts as headerd.
const runArgsEnv = "HEADERD_TEST_RUN_ARGS"

// seedRegtestStore leaves a closed store holding genesis at the regtest store path.
func seedRegtestStore(t *testing.T, dir string, genesis wire.BlockHeader) {
	t.Helper()
	cfg := config.Default()
	cfg.Network = config.Regtest
	cfg.DataDir = filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(cfg.NetworkDir(), 0o755))
	hs, err := store.Create(&store.StoreConfig{Type: store.StoreType(cfg.Store.Type), Path: cfg.StorePath()}, genesis)
	require.NoError(t, err)
	require.NoError(t, hs.Close())
}

// runHeaderd runs `headerd run` in a child process and returns its exit status and output.
func runHeaderd(t *testing.T, cfgPath string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	child := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestRunExitStatus$")
	child.Env = append(os.Environ(), runArgsEnv+"="+strings.Join([]string{"run", "--config", cfgPath}, "\n"))
	out, err := child.CombinedOutput()
	require.NoError(t, ctx.Err(), "headerd did not exit: %s", out)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "headerd exited cleanly: %s", out)
	return exitErr.ExitCode(), string(out)
}

func TestRunExitStatus(t *testing.T) {
	if args := os.Getenv(runArgsEnv); args != "" {
		rootCmd.SetArgs(strings.Split(args, "\n"))
		Execute()
		return
	}

	t.Run("missing address book is reported", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeNodeConfig(t, dir)
		seedRegtestStore(t, dir, chaincfg.RegressionNetParams.GenesisBlock.Header)

		code, out := runHeaderd(t, cfgPath)
		assert.Equal(t, bootstrap.ExitReported, code)
		assert.Contains(t, out, "[ERROR][PEERS]")
		assert.Contains(t, out, "Failed to load address book")
		assert.NotContains(t, out, "Connecting to")
	})

	t.Run("foreign genesis aborts", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := writeNodeConfig(t, dir)
		seedRegtestStore(t, dir, chaincfg.MainNetParams.GenesisBlock.Header)

		code, out := runHeaderd(t, cfgPath)
		assert.Equal(t, bootstrap.ExitAbort, code)
		assert.Contains(t, out, "Startup aborted")
		assert.NotContains(t, out, "Failed to load address book")
	})
}
