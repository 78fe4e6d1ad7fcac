package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"
)

// ModuleCache interns compiled wazero modules by filename under a single
// read-write lock (spec.md §4.G).
type ModuleCache struct {
	mu        sync.RWMutex
	runtime   wazero.Runtime
	moduleDir string
	compiled  map[string]wazero.CompiledModule
}

// NewModuleCache constructs a ModuleCache backed by runtime, reading
// uncompiled .wasm files from moduleDir.
func NewModuleCache(runtime wazero.Runtime, moduleDir string) *ModuleCache {
	return &ModuleCache{
		runtime:   runtime,
		moduleDir: moduleDir,
		compiled:  make(map[string]wazero.CompiledModule),
	}
}

// Get returns the compiled module for name, compiling and inserting it on
// a cache miss.
func (c *ModuleCache) Get(ctx context.Context, name string) (wazero.CompiledModule, error) {
	c.mu.RLock()
	if mod, ok := c.compiled[name]; ok {
		c.mu.RUnlock()
		return mod, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if mod, ok := c.compiled[name]; ok {
		return mod, nil
	}

	path := filepath.Join(c.moduleDir, name)
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: read module %s: %w", name, err)
	}
	mod, err := c.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile module %s: %w", name, err)
	}
	c.compiled[name] = mod
	return mod, nil
}

// InvalidateCache removes one entry, closing the compiled module.
func (c *ModuleCache) InvalidateCache(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	mod, ok := c.compiled[name]
	if !ok {
		return nil
	}
	delete(c.compiled, name)
	return mod.Close(ctx)
}

// ClearCache drops all entries, closing every compiled module.
func (c *ModuleCache) ClearCache(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, mod := range c.compiled {
		if err := mod.Close(ctx); err != nil {
			return fmt.Errorf("sandbox: close module %s: %w", name, err)
		}
		delete(c.compiled, name)
	}
	return nil
}

// Len returns the number of currently cached compiled modules.
func (c *ModuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}
