package sandbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Hard deserialization caps per entry point (spec.md §4.G).
const (
	MaxEvaluationOutputBytes = 64 * 1024 * 1024
	MaxRouteBytes            = 16 * 1024 * 1024
	MaxTaskBytes             = 16 * 1024 * 1024
	MaxWeightsBytes          = 4 * 1024 * 1024
)

// highMemoryGuard is the guard band reserved when falling back to raw
// high-memory placement (no alloc/allocate export available).
const highMemoryGuard = 1024

// wazeroPageSize is the fixed WASM linear memory page size in bytes.
const wazeroPageSize = 65536

// Errors produced by the execution contract and resource limits.
var (
	ErrNoAllocator           = errors.New("sandbox: module exports no alloc/allocate function")
	ErrGuestDeserializeErr   = errors.New("sandbox: guest reported deserialization failure")
	ErrOutputTooLarge        = errors.New("sandbox: output exceeds hard size limit")
	ErrOutOfMemory           = errors.New("sandbox: execution(oom)")
	ErrFuelExhausted         = errors.New("sandbox: fuel exhausted")
	ErrExecutionTimeout      = errors.New("sandbox: execution(timeout)")
	ErrEntryPointNotExported = errors.New("sandbox: module does not export requested entry point")
)

// RuntimeConfig is the process-wide sandbox runtime configuration
// (spec.md §4.G). AllowFuel, FuelLimit and MaxInstances are stored but not
// read: wazero, unlike wasmtime, has no first-class fuel counter, so no
// fuel is metered or consumed-fuel figure reported. The enforced limits are
// the memory page limit and the ExecutionPolicy.MaxWallTime context
// deadline; ErrFuelExhausted is returned only for a guest error whose
// message mentions fuel.
type RuntimeConfig struct {
	MaxMemoryBytes uint32
	MaxInstances   int
	AllowFuel      bool
	FuelLimit      uint64
}

// SandboxPolicy, ExecutionPolicy, TimePolicy, ConsensusPolicy, and
// LLMPolicy are narrow per-instance capability toggles named by spec.md
// §4.G's InstanceConfig field list. Each is kept intentionally small:
// the sandbox's only real capability bridge to the outside world is the
// network host functions (NetworkPolicy, policy.go).
type SandboxPolicy struct {
	AllowFilesystem bool
}

type ExecutionPolicy struct {
	MaxWallTime time.Duration
}

type TimePolicy struct {
	FixedTimestampMs *int64
}

type ConsensusPolicy struct {
	RequireQuorumBeforeRun bool
}

type LLMPolicy struct {
	AllowLLMCalls bool
	MaxTokens     int
}

// AuditLogger receives a record of each network request or DNS lookup the
// instance was denied ("network_policy_denied") and of each guest
// log_message call ("guest_log"), for post-hoc review. Allowed requests and
// storage calls are not recorded.
type AuditLogger interface {
	Audit(event string, fields map[string]any)
}

type nopAuditLogger struct{}

func (nopAuditLogger) Audit(string, map[string]any) {}

// InstanceConfig fixes everything about one challenge execution instance
// (spec.md §4.G).
type InstanceConfig struct {
	NetworkPolicy    NetworkPolicy
	SandboxPolicy    SandboxPolicy
	ExecutionPolicy  ExecutionPolicy
	TimePolicy       TimePolicy
	StoragePolicy    StoragePolicy
	ConsensusPolicy  ConsensusPolicy
	LLMPolicy        LLMPolicy
	AuditLogger      AuditLogger
	MemoryExportName string
	ChallengeID      ids.ChallengeId
	ValidatorID      ids.Hotkey
}

// StoragePolicy controls validated-storage visibility available to the
// instance (namespacing only; the actual commit path lives in package
// storage).
type StoragePolicy struct {
	Namespace string
}

func (c *InstanceConfig) memoryExportName() string {
	if c.MemoryExportName != "" {
		return c.MemoryExportName
	}
	return "memory"
}

// EvaluationInput is the canonical-binary payload written into the guest
// before invoking evaluate (spec.md §4.G step 2).
type EvaluationInput struct {
	AgentData         []byte
	ChallengeID       ids.ChallengeId
	Params            map[string]any
	TaskDefinition    map[string]any
	EnvironmentConfig map[string]any
}

// EvaluationOutput is decoded from the guest's returned buffer (spec.md
// §4.G step 5).
type EvaluationOutput struct {
	Score   int64
	Valid   bool
	Message string
	Metrics map[string]any
	Details map[string]any
}

// WeightEntry is one (uid, weight) pair decoded from get_weights' binary
// output (spec.md §4.G: "a binary-encoded list of (u16 uid, u16 weight)").
type WeightEntry struct {
	UID    uint16
	Weight uint16
}

// Runtime drives wazero module instantiation and the execution contract
// under the configured resource limits. A single "env" host module,
// exposing the spec.md §6 WASM ABI imports, is registered once onto the
// underlying wazero.Runtime and shared by every instantiated challenge
// module (see hostmodule.go).
type Runtime struct {
	cfg    RuntimeConfig
	wazero wazero.Runtime
	cache  *ModuleCache
}

// NewRuntime constructs a Runtime backed by a fresh wazero runtime
// configured per cfg's memory/fuel limits, with the "env" host module
// registered and ready for guest imports.
func NewRuntime(ctx context.Context, cfg RuntimeConfig, moduleDir string) (*Runtime, error) {
	wzConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.MaxMemoryBytes / wazeroPageSize)
	rt := wazero.NewRuntimeWithConfig(ctx, wzConfig)

	if _, err := buildEnvHostModule(ctx, rt); err != nil {
		rt.Close(ctx) //nolint:errcheck
		return nil, err
	}

	return &Runtime{
		cfg:    cfg,
		wazero: rt,
		cache:  NewModuleCache(rt, moduleDir),
	}, nil
}

// Close releases the underlying wazero runtime, the "env" host module, and
// all cached modules.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wazero.Close(ctx)
}

// Cache exposes the module cache for invalidate/clear operations.
func (r *Runtime) Cache() *ModuleCache {
	return r.cache
}

// instance wraps one instantiated guest module, its memory export, and the
// host-call state the "env" host functions read back out of ctx.
type instance struct {
	mod    api.Module
	memory api.Memory
	state  *hostCallState
}

func (r *Runtime) instantiate(ctx context.Context, cfg *InstanceConfig, moduleName string) (*instance, error) {
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = nopAuditLogger{}
	}
	compiled, err := r.cache.Get(ctx, moduleName)
	if err != nil {
		return nil, err
	}

	state := &hostCallState{
		cfg:     cfg,
		network: NewNetworkEnforcer(cfg.NetworkPolicy, nil),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	stateCtx := withHostCallState(ctx, state)

	modCfg := wazero.NewModuleConfig()
	mod, err := r.wazero.InstantiateModule(stateCtx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate %s: %w", moduleName, err)
	}

	mem := mod.ExportedMemory(cfg.memoryExportName())
	if mem == nil {
		mod.Close(ctx) //nolint:errcheck
		return nil, fmt.Errorf("sandbox: module %s exports no memory %q", moduleName, cfg.memoryExportName())
	}
	return &instance{mod: mod, memory: mem, state: state}, nil
}

// withState returns ctx carrying this instance's host-call state, so any
// env.* host function the guest invokes during this call sees the right
// network enforcer, audit logger, and policies.
func (inst *instance) withState(ctx context.Context) context.Context {
	return withHostCallState(ctx, inst.state)
}

// allocateGuestBuffer implements step 1 of the execution contract: try
// alloc(len), fall back to allocate(len, 0), fall back to a guarded
// high-memory placement.
func (inst *instance) allocateGuestBuffer(ctx context.Context, length uint32) (uint32, error) {
	return allocateBufferIn(ctx, inst.mod, length)
}

// writeInput writes the canonical-binary encoding of in into the guest's
// memory at a freshly allocated offset, returning (ptr, len).
func (inst *instance) writeInput(ctx context.Context, in EvaluationInput) (uint32, uint32, error) {
	encoded, err := crypto.Encode(in.canonicalFields())
	if err != nil {
		return 0, 0, fmt.Errorf("sandbox: encode evaluation input: %w", err)
	}
	return writeBytesIn(ctx, inst.mod, encoded)
}

func (in EvaluationInput) canonicalFields() map[string]any {
	return map[string]any{
		"agent_data":   in.AgentData,
		"challenge_id": in.ChallengeID.Bytes(),
		"params":       in.Params,
		"task_def":     in.TaskDefinition,
		"env_config":   in.EnvironmentConfig,
	}
}

// unpackResult splits a packed i64 return value into (out_len, out_ptr),
// per spec.md §4.G step 3: (out_len << 32) | out_ptr.
func unpackResult(packed uint64) (outLen uint32, outPtr uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// readPackedOutput calls fn, unpacks its i64 return value, and reads the
// resulting buffer out of guest memory, enforcing maxBytes as the hard
// deserialization cap for that entry point.
func (inst *instance) readPackedOutput(ctx context.Context, fn api.Function, maxBytes uint32, args ...uint64) ([]byte, error) {
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, classifyCallError(err)
	}
	outLen, outPtr := unpackResult(results[0])
	if outLen == 0 && outPtr == 0 {
		return nil, ErrGuestDeserializeErr
	}
	if outLen > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrOutputTooLarge, outLen)
	}
	raw, ok := inst.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("sandbox: failed to read output buffer at %d (%d bytes)", outPtr, outLen)
	}
	return raw, nil
}

// Evaluate runs the standard evaluate(ptr, len) -> i64 entry point against
// moduleName, per the five-step execution contract in spec.md §4.G.
func (r *Runtime) Evaluate(ctx context.Context, cfg InstanceConfig, moduleName string, in EvaluationInput) (*EvaluationOutput, error) {
	if cfg.ExecutionPolicy.MaxWallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ExecutionPolicy.MaxWallTime)
		defer cancel()
	}

	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return nil, err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	ptr, length, err := inst.writeInput(ctx, in)
	if err != nil {
		return nil, err
	}

	evaluateFn := inst.mod.ExportedFunction("evaluate")
	if evaluateFn == nil {
		return nil, fmt.Errorf("sandbox: module %s exports no evaluate function", moduleName)
	}

	raw, err := inst.readPackedOutput(ctx, evaluateFn, MaxEvaluationOutputBytes, uint64(ptr), uint64(length))
	if err != nil {
		return nil, err
	}
	return decodeEvaluationOutput(raw)
}

// Validate runs the optional validate(ptr, len) -> i32 entry point, a
// cheaper pre-check a guest may implement ahead of evaluate, over the same
// canonical-binary EvaluationInput encoding.
func (r *Runtime) Validate(ctx context.Context, cfg InstanceConfig, moduleName string, in EvaluationInput) (bool, error) {
	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return false, err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	fn := inst.mod.ExportedFunction("validate")
	if fn == nil {
		return false, ErrEntryPointNotExported
	}
	ptr, length, err := inst.writeInput(ctx, in)
	if err != nil {
		return false, err
	}
	results, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return false, classifyCallError(err)
	}
	return int32(results[0]) != 0, nil
}

// Configure runs the optional configure(ptr, len) -> i32 entry point,
// feeding a challenge-supplied configuration map into the guest. A zero
// return is success; any non-zero value is surfaced as an error code.
func (r *Runtime) Configure(ctx context.Context, cfg InstanceConfig, moduleName string, config map[string]any) error {
	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	fn := inst.mod.ExportedFunction("configure")
	if fn == nil {
		return ErrEntryPointNotExported
	}
	encoded, err := crypto.Encode(config)
	if err != nil {
		return fmt.Errorf("sandbox: encode configure input: %w", err)
	}
	ptr, length, err := writeBytesIn(ctx, inst.mod, encoded)
	if err != nil {
		return err
	}
	results, err := fn.Call(ctx, uint64(ptr), uint64(length))
	if err != nil {
		return classifyCallError(err)
	}
	if code := int32(results[0]); code != 0 {
		return fmt.Errorf("sandbox: configure returned error code %d", code)
	}
	return nil
}

// GetTasks runs the optional get_tasks() -> i64 entry point, capped at the
// 16 MiB task hard limit (spec.md §4.G). The returned bytes are left in
// the guest's own encoding for the caller to decode.
func (r *Runtime) GetTasks(ctx context.Context, cfg InstanceConfig, moduleName string) ([]byte, error) {
	return r.callPackedNoArgs(ctx, cfg, moduleName, "get_tasks", MaxTaskBytes)
}

// GetRoutes runs the optional get_routes() -> i64 entry point, capped at
// the 16 MiB route hard limit (spec.md §4.G).
func (r *Runtime) GetRoutes(ctx context.Context, cfg InstanceConfig, moduleName string) ([]byte, error) {
	return r.callPackedNoArgs(ctx, cfg, moduleName, "get_routes", MaxRouteBytes)
}

// GetWeights runs the optional get_weights() -> i64 entry point and decodes
// the binary-encoded (u16 uid, u16 weight) pairs (spec.md §4.G).
func (r *Runtime) GetWeights(ctx context.Context, cfg InstanceConfig, moduleName string) ([]WeightEntry, error) {
	raw, err := r.callPackedNoArgs(ctx, cfg, moduleName, "get_weights", MaxWeightsBytes)
	if err != nil {
		return nil, err
	}
	return decodeWeights(raw)
}

// HandleRoute runs the optional handle_route(ptr, len) -> i64 entry point
// against an opaque route request payload, capped at the 16 MiB route hard
// limit (spec.md §4.G). The request/response wire format is caller-defined
// and opaque to the runtime.
func (r *Runtime) HandleRoute(ctx context.Context, cfg InstanceConfig, moduleName string, request []byte) ([]byte, error) {
	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return nil, err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	fn := inst.mod.ExportedFunction("handle_route")
	if fn == nil {
		return nil, ErrEntryPointNotExported
	}
	ptr, length, err := writeBytesIn(ctx, inst.mod, request)
	if err != nil {
		return nil, err
	}
	return inst.readPackedOutput(ctx, fn, MaxRouteBytes, uint64(ptr), uint64(length))
}

// ValidateStorageWrite runs the optional validate_storage_write(kptr,
// klen, vptr, vlen) -> i32 entry point: the challenge-defined check
// validated storage's vote step depends on (spec.md §4.H step 3).
func (r *Runtime) ValidateStorageWrite(ctx context.Context, cfg InstanceConfig, moduleName string, key, value []byte) (bool, error) {
	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return false, err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	fn := inst.mod.ExportedFunction("validate_storage_write")
	if fn == nil {
		return false, ErrEntryPointNotExported
	}
	kptr, klen, err := writeBytesIn(ctx, inst.mod, key)
	if err != nil {
		return false, err
	}
	vptr, vlen, err := writeBytesIn(ctx, inst.mod, value)
	if err != nil {
		return false, err
	}
	results, err := fn.Call(ctx, uint64(kptr), uint64(klen), uint64(vptr), uint64(vlen))
	if err != nil {
		return false, classifyCallError(err)
	}
	return int32(results[0]) != 0, nil
}

func (r *Runtime) callPackedNoArgs(ctx context.Context, cfg InstanceConfig, moduleName, fnName string, maxBytes uint32) ([]byte, error) {
	inst, err := r.instantiate(ctx, &cfg, moduleName)
	if err != nil {
		return nil, err
	}
	defer inst.mod.Close(ctx) //nolint:errcheck
	ctx = inst.withState(ctx)

	fn := inst.mod.ExportedFunction(fnName)
	if fn == nil {
		return nil, ErrEntryPointNotExported
	}
	return inst.readPackedOutput(ctx, fn, maxBytes)
}

// decodeWeights parses get_weights' binary output: a flat sequence of
// little-endian (u16 uid, u16 weight) pairs.
func decodeWeights(raw []byte) ([]WeightEntry, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("sandbox: get_weights output length %d not a multiple of 4", len(raw))
	}
	out := make([]WeightEntry, 0, len(raw)/4)
	for i := 0; i < len(raw); i += 4 {
		out = append(out, WeightEntry{
			UID:    binary.LittleEndian.Uint16(raw[i : i+2]),
			Weight: binary.LittleEndian.Uint16(raw[i+2 : i+4]),
		})
	}
	return out, nil
}

// decodeEvaluationOutput is a narrow decoder for the guest's
// EvaluationOutput wire shape: a fixed 8-byte little-endian score, a
// 1-byte valid flag, then the rest of the buffer as the UTF-8 message
// (no length prefix). Metrics and Details are not decoded and stay nil.
func decodeEvaluationOutput(raw []byte) (*EvaluationOutput, error) {
	if len(raw) < 9 {
		return nil, fmt.Errorf("sandbox: evaluation output too short: %d bytes", len(raw))
	}
	score := int64(binary.LittleEndian.Uint64(raw[0:8]))
	valid := raw[8] != 0
	msg := ""
	if len(raw) > 9 {
		msg = string(raw[9:])
	}
	return &EvaluationOutput{Score: score, Valid: valid, Message: msg}, nil
}

// classifyCallError maps a wazero call failure to the resource-limit
// failure kinds in spec.md §4.G's table.
func classifyCallError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "out of memory", "oom"):
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	case containsAny(msg, "fuel"):
		return fmt.Errorf("%w: %v", ErrFuelExhausted, err)
	case containsAny(msg, "deadline", "timeout", "context canceled"):
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	default:
		return err
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
