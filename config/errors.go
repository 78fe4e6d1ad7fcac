package config

import "errors"

var (
	ErrMissingSecretKey     = errors.New("config: secret-key is required")
	ErrMissingDataDir       = errors.New("config: data-dir is required")
	ErrInvalidListenAddr    = errors.New("config: listen-addr is invalid")
	ErrMissingSubtensor     = errors.New("config: subtensor-endpoint is required")
	ErrInvalidNetuid        = errors.New("config: netuid must be > 0")
	ErrMissingWasmModuleDir = errors.New("config: wasm-module-dir is required")
	ErrInvalidWasmMaxMemory = errors.New("config: wasm-max-memory must be > 0")
	ErrInvalidWasmFuelLimit = errors.New("config: wasm-fuel-limit must be > 0 when fuel is enabled")
)
