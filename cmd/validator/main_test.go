package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyExitCode(t *testing.T) {
	require.Equal(t, exitStartupError, classifyExitCode(startupError{errors.New("bad flag")}))
	require.Equal(t, exitRuntimeFault, classifyExitCode(runtimeFault{errors.New("engine crashed")}))
	require.Equal(t, exitStartupError, classifyExitCode(errors.New("unclassified")))
}

func TestRootCmdRegistersSpecFlags(t *testing.T) {
	cmd := rootCmd()
	for _, name := range []string{
		"secret-key", "data-dir", "listen-addr", "bootstrap",
		"subtensor-endpoint", "netuid", "wasm-module-dir",
		"wasm-max-memory", "wasm-enable-fuel", "wasm-fuel-limit",
	} {
		require.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestRootCmdDefaultsMatchConfigDefault(t *testing.T) {
	rootCmd()
	require.Equal(t, "0.0.0.0:9651", cfg.ListenAddr)
	require.Equal(t, "./wasm-modules", cfg.WasmModuleDir)
}
