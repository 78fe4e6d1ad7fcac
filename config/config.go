// Package config is the validator process's bootstrap configuration:
// the CLI/environment surface of spec.md §6, loaded from YAML with
// environment-variable overrides for five of the flags (see
// applyEnvOverrides).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full bootstrap configuration for a validator process.
type Config struct {
	SecretKey         string   `yaml:"secret_key"`
	DataDir           string   `yaml:"data_dir"`
	ListenAddr        string   `yaml:"listen_addr"`
	Bootstrap         []string `yaml:"bootstrap"`
	SubtensorEndpoint string   `yaml:"subtensor_endpoint"`
	Netuid            uint16   `yaml:"netuid"`
	WasmModuleDir     string   `yaml:"wasm_module_dir"`
	WasmMaxMemory     uint64   `yaml:"wasm_max_memory"`
	WasmEnableFuel    bool     `yaml:"wasm_enable_fuel"`
	WasmFuelLimit     uint64   `yaml:"wasm_fuel_limit"`
}

// Default returns a Config with the teacher's style of sane local
// defaults, matching the flag defaults a CLI would present.
func Default() Config {
	return Config{
		ListenAddr:    "0.0.0.0:9651",
		DataDir:       "./data",
		WasmModuleDir: "./wasm-modules",
		WasmMaxMemory: 256 * 1024 * 1024,
	}
}

// LoadFile reads and parses a YAML config file at path.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides overrides the secret key, data dir, listen address,
// subtensor endpoint and WASM module dir from the VALIDATOR_* variables
// below when they are set. Bootstrap, netuid, wasm-max-memory,
// wasm-enable-fuel and wasm-fuel-limit have no environment variable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VALIDATOR_SECRET_KEY"); v != "" {
		cfg.SecretKey = v
	}
	if v := os.Getenv("VALIDATOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VALIDATOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VALIDATOR_SUBTENSOR_ENDPOINT"); v != "" {
		cfg.SubtensorEndpoint = v
	}
	if v := os.Getenv("VALIDATOR_WASM_MODULE_DIR"); v != "" {
		cfg.WasmModuleDir = v
	}
}

// Validate checks the required fields and bounds described by spec.md §6.
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return ErrMissingSecretKey
	}
	if c.DataDir == "" {
		return ErrMissingDataDir
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if c.SubtensorEndpoint == "" {
		return ErrMissingSubtensor
	}
	if c.Netuid == 0 {
		return ErrInvalidNetuid
	}
	if c.WasmModuleDir == "" {
		return ErrMissingWasmModuleDir
	}
	if c.WasmMaxMemory == 0 {
		return ErrInvalidWasmMaxMemory
	}
	if c.WasmEnableFuel && c.WasmFuelLimit == 0 {
		return ErrInvalidWasmFuelLimit
	}
	return nil
}
