// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PlatformNetwork/subnet-validator/api/health"
	"github.com/PlatformNetwork/subnet-validator/api/metrics"
	"github.com/PlatformNetwork/subnet-validator/blocklog"
	"github.com/PlatformNetwork/subnet-validator/chain"
	"github.com/PlatformNetwork/subnet-validator/config"
	"github.com/PlatformNetwork/subnet-validator/consensus"
	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/sandbox"
	"github.com/PlatformNetwork/subnet-validator/state"
	"github.com/PlatformNetwork/subnet-validator/storage"
	"github.com/PlatformNetwork/subnet-validator/validators"
)

// Exit codes per spec.md §6: 0 normal shutdown, 1 fatal startup error,
// 2 unrecoverable runtime fault.
const (
	exitOK           = 0
	exitStartupError = 1
	exitRuntimeFault = 2
)

var cfg config.Config

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validator",
		Short: "Runs a subnet validator node",
		Long: `The validator command runs a single subnet validator: it joins the
P2P consensus network, evaluates submissions inside a WASM sandbox, and
commits validated writes once a quorum of peers agrees.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runValidator(c.Context())
		},
	}

	cfg = config.Default()
	cmd.Flags().StringVar(&cfg.SecretKey, "secret-key", "", "validator signing key (seed material)")
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for state, checkpoints, and storage")
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "P2P listen address")
	cmd.Flags().StringSliceVar(&cfg.Bootstrap, "bootstrap", nil, "bootstrap peer addresses")
	cmd.Flags().StringVar(&cfg.SubtensorEndpoint, "subtensor-endpoint", "", "external chain RPC endpoint")
	cmd.Flags().Uint16Var(&cfg.Netuid, "netuid", 0, "subnet id this validator serves")
	cmd.Flags().StringVar(&cfg.WasmModuleDir, "wasm-module-dir", cfg.WasmModuleDir, "directory of compiled challenge WASM modules")
	cmd.Flags().Uint64Var(&cfg.WasmMaxMemory, "wasm-max-memory", cfg.WasmMaxMemory, "max memory bytes per WASM instance")
	cmd.Flags().BoolVar(&cfg.WasmEnableFuel, "wasm-enable-fuel", false, "set AllowFuel in the WASM runtime config (no fuel is metered)")
	cmd.Flags().Uint64Var(&cfg.WasmFuelLimit, "wasm-fuel-limit", 0, "fuel limit per WASM call, when enabled")

	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := rootCmd()
	cmd.SilenceUsage = true
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "validator: %v\n", err)
		os.Exit(classifyExitCode(err))
	}
}

// startupError and runtimeFault distinguish exit codes without a closed
// error-kind type, matching the two fatal conditions spec.md §7 names.
type startupError struct{ err error }

func (e startupError) Error() string { return e.err.Error() }
func (e startupError) Unwrap() error { return e.err }

type runtimeFault struct{ err error }

func (e runtimeFault) Error() string { return e.err.Error() }
func (e runtimeFault) Unwrap() error { return e.err }

func classifyExitCode(err error) int {
	switch err.(type) {
	case startupError:
		return exitStartupError
	case runtimeFault:
		return exitRuntimeFault
	default:
		return exitStartupError
	}
}

func runValidator(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return startupError{err}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return startupError{fmt.Errorf("build logger: %w", err)}
	}
	defer logger.Sync() //nolint:errcheck

	kp, err := crypto.KeypairFromMnemonic(cfg.SecretKey)
	if err != nil {
		return startupError{fmt.Errorf("derive keypair: %w", err)}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return startupError{fmt.Errorf("create data-dir: %w", err)}
	}

	storeDir := filepath.Join(cfg.DataDir, "storage")
	storeKV, err := storage.OpenPebble(storeDir)
	if err != nil {
		return startupError{fmt.Errorf("open validated storage: %w", err)}
	}
	defer storeKV.Close() //nolint:errcheck

	blockDir := filepath.Join(cfg.DataDir, "blocklog")
	blockKV, err := storage.OpenPebble(blockDir)
	if err != nil {
		return startupError{fmt.Errorf("open block log: %w", err)}
	}
	defer blockKV.Close() //nolint:errcheck
	blocks := blocklog.New(blockKV)

	validatorSet := validators.NewSet(validators.Config{MinStake: 1, StalenessTimeoutMs: 60_000})
	machine := state.NewMachine(state.NewChainState(cfg.Netuid, kp.Hotkey))

	engine, err := consensus.New(consensus.Config{
		Self: kp.Hotkey,
		ActiveVals: func() []ids.Hotkey {
			return validatorSet.ActiveHotkeys()
		},
		Logger: logger,
	})
	if err != nil {
		return startupError{fmt.Errorf("build consensus engine: %w", err)}
	}

	sandboxRuntime, err := sandbox.NewRuntime(ctx, sandbox.RuntimeConfig{
		MaxMemoryBytes: uint32(cfg.WasmMaxMemory),
		AllowFuel:      cfg.WasmEnableFuel,
		FuelLimit:      cfg.WasmFuelLimit,
	}, cfg.WasmModuleDir)
	if err != nil {
		return startupError{fmt.Errorf("build WASM runtime: %w", err)}
	}
	defer sandboxRuntime.Close(ctx) //nolint:errcheck

	// A mock anchor stands in for a subtensor RPC client; the maintenance
	// loop polls it every tick. --subtensor-endpoint is not used to build it.
	anchor := chain.NewMockAnchor()

	registry := metrics.NewRegistry()
	validatorMetrics, err := metrics.NewMetrics("validator", registry)
	if err != nil {
		return startupError{fmt.Errorf("register metrics: %w", err)}
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register("consensus", health.CheckerFunc(func(ctx context.Context) (interface{}, error) {
		return engine.HealthCheck(ctx)
	}))

	logger.Info("validator starting",
		zap.String("hotkey", kp.Hotkey.String()),
		zap.Uint16("netuid", cfg.Netuid),
		zap.String("listen_addr", cfg.ListenAddr),
	)

	if err := engine.Start(ctx); err != nil {
		return runtimeFault{fmt.Errorf("start consensus engine: %w", err)}
	}
	defer engine.Stop(context.Background()) //nolint:errcheck

	runMaintenanceLoop(ctx, logger, machine, validatorSet, blocks, validatorMetrics, anchor)

	logger.Info("validator shutting down")
	return nil
}

// runMaintenanceLoop runs the periodic upkeep spec.md §5 describes
// outside the PBFT hot path: staleness sweeps, stale-job cleanup, and
// pending-commit reveals, until ctx is cancelled.
func runMaintenanceLoop(ctx context.Context, logger *zap.Logger, machine *state.Machine, validatorSet *validators.Set, blocks *blocklog.Log, m metrics.Metrics, anchor chain.Anchor) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			nowMs := now.UnixMilli()
			validatorSet.MarkStaleValidators(nowMs)
			machine.Apply(func(s *state.ChainState) error {
				for _, sid := range state.CleanupStaleJobs(s, nowMs) {
					logger.Warn("job timed out", zap.String("submission_id", sid))
				}
				return nil
			}) //nolint:errcheck

			pending, err := anchor.HasPendingCommits(ctx)
			if err != nil {
				logger.Warn("chain anchor unreachable", zap.Error(err))
				continue
			}
			if pending {
				if _, err := anchor.RevealAllPending(ctx, chain.WaitForInclusion); err != nil {
					logger.Warn("reveal pending commits failed", zap.Error(err))
				}
			}

			latest, ok, err := blocks.LatestBlockNumber()
			if err == nil && ok {
				logger.Debug("maintenance tick", zap.Uint64("latest_block", latest))
			}
			_ = m // no metrics counter is incremented here, and Metrics is not passed to any other component
		}
	}
}
