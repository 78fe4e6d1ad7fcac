package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// defaultHTTPTimeout bounds every outbound host-function request,
// independent of the instance's overall wall-time budget.
const defaultHTTPTimeout = 30 * time.Second

// defaultMaxResponseBytes caps a response body when a policy leaves
// MaxResponseBytes unset (zero means "not configured", not "unbounded").
const defaultMaxResponseBytes = 4 * 1024 * 1024

// hostCallStateKey is the context key carrying the per-instance state a
// guest's env.* host function calls read back out via the ctx wazero
// passes through api.Function.Call.
type hostCallStateKey struct{}

// hostCallState is the mutable, per-instance state closed over by every
// env.* host function: the network enforcer, an HTTP client, and the
// InstanceConfig policies that gate the storage/LLM/consensus groups.
type hostCallState struct {
	cfg     *InstanceConfig
	network *NetworkEnforcer
	client  *http.Client
}

func withHostCallState(ctx context.Context, state *hostCallState) context.Context {
	return context.WithValue(ctx, hostCallStateKey{}, state)
}

func hostStateFrom(ctx context.Context) (*hostCallState, bool) {
	state, ok := ctx.Value(hostCallStateKey{}).(*hostCallState)
	return state, ok
}

func (s *hostCallState) auditDenied(target string, err error) {
	s.cfg.AuditLogger.Audit("network_policy_denied", map[string]any{
		"target": target,
		"reason": err.Error(),
	})
}

// buildEnvHostModule registers the "env" host module spec.md §6's WASM ABI
// names as imports, once per wazero.Runtime (SPEC_FULL.md §4.G: "a small
// HostModule interface, one per capability group, registered onto a
// wazero.Runtime"). Per-call state (the network policy in effect, the
// audit sink) travels through ctx rather than through closures bound to
// one instance, since a single "env" module name can only be instantiated
// once per runtime — concurrent Evaluate calls share it and distinguish
// themselves via the context value set in Runtime.instantiate.
func buildEnvHostModule(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	mod, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(hostHTTPRequest).Export("http_request").
		NewFunctionBuilder().WithFunc(hostHTTPGet).Export("http_get").
		NewFunctionBuilder().WithFunc(hostHTTPPost).Export("http_post").
		NewFunctionBuilder().WithFunc(hostDNSResolve).Export("dns_resolve").
		NewFunctionBuilder().WithFunc(hostLogMessage).Export("log_message").
		NewFunctionBuilder().WithFunc(hostGetTimestamp).Export("get_timestamp").
		NewFunctionBuilder().WithFunc(hostStorageGet).Export("storage_get").
		NewFunctionBuilder().WithFunc(hostStoragePut).Export("storage_put").
		NewFunctionBuilder().WithFunc(hostLLMComplete).Export("llm_complete").
		NewFunctionBuilder().WithFunc(hostConsensusSubmitVote).Export("consensus_submit_vote").
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: register env host module: %w", err)
	}
	return mod, nil
}

func hostHTTPGet(ctx context.Context, m api.Module, urlPtr, urlLen uint32) uint64 {
	return doHostHTTP(ctx, m, http.MethodGet, urlPtr, urlLen, 0, 0)
}

func hostHTTPPost(ctx context.Context, m api.Module, urlPtr, urlLen, bodyPtr, bodyLen uint32) uint64 {
	return doHostHTTP(ctx, m, http.MethodPost, urlPtr, urlLen, bodyPtr, bodyLen)
}

func hostHTTPRequest(ctx context.Context, m api.Module, methodPtr, methodLen, urlPtr, urlLen, bodyPtr, bodyLen uint32) uint64 {
	method, ok := readString(m, methodPtr, methodLen)
	if !ok || method == "" {
		method = http.MethodGet
	}
	return doHostHTTP(ctx, m, method, urlPtr, urlLen, bodyPtr, bodyLen)
}

// doHostHTTP implements the http_request/http_get/http_post host functions:
// read the target and optional body out of guest memory, run the ordered
// NetworkEnforcer pipeline, perform the request with the response streamed
// into a buffer capped at MaxResponseBytes, then write the response back
// into guest memory. Any denial or failure returns the packed (0,0)
// guest-deserialization-failure convention rather than panicking the host.
func doHostHTTP(ctx context.Context, m api.Module, method string, urlPtr, urlLen, bodyPtr, bodyLen uint32) uint64 {
	state, ok := hostStateFrom(ctx)
	if !ok {
		return 0
	}
	rawURL, ok := readString(m, urlPtr, urlLen)
	if !ok {
		return 0
	}
	var body []byte
	if bodyLen > 0 {
		body, ok = readMemory(m, bodyPtr, bodyLen)
		if !ok {
			return 0
		}
	}

	if _, err := state.network.CheckRequest(rawURL, int64(len(body)), 0); err != nil {
		state.auditDenied(rawURL, err)
		return 0
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return 0
	}
	client := state.client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()

	maxBytes := state.network.policy.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return 0
	}
	if int64(len(data)) > maxBytes {
		state.auditDenied(rawURL, ErrBodyTooLarge)
		return 0
	}

	ptr, length, err := writeBytesIn(ctx, m, data)
	if err != nil {
		return 0
	}
	return (uint64(length) << 32) | uint64(ptr)
}

func hostDNSResolve(ctx context.Context, m api.Module, hostPtr, hostLen uint32) uint64 {
	state, ok := hostStateFrom(ctx)
	if !ok {
		return 0
	}
	host, ok := readString(m, hostPtr, hostLen)
	if !ok || host == "" {
		return 0
	}
	ip, err := state.network.ResolveHost(host)
	if err != nil {
		state.auditDenied(host, err)
		return 0
	}
	ptr, length, err := writeBytesIn(ctx, m, []byte(ip.String()))
	if err != nil {
		return 0
	}
	return (uint64(length) << 32) | uint64(ptr)
}

func hostLogMessage(ctx context.Context, m api.Module, level int32, ptr, length uint32) {
	state, ok := hostStateFrom(ctx)
	if !ok {
		return
	}
	msg, ok := readString(m, ptr, length)
	if !ok {
		return
	}
	state.cfg.AuditLogger.Audit("guest_log", map[string]any{"level": level, "message": msg})
}

func hostGetTimestamp(ctx context.Context, _ api.Module) int64 {
	if state, ok := hostStateFrom(ctx); ok && state.cfg.TimePolicy.FixedTimestampMs != nil {
		return *state.cfg.TimePolicy.FixedTimestampMs
	}
	return time.Now().UnixMilli()
}

// hostStorageGet, hostStoragePut, hostLLMComplete, and
// hostConsensusSubmitVote back the storage/LLM/consensus host-fn groups
// spec.md §6 names but specifies elsewhere. They exist so a guest module
// importing them instantiates instead of failing with "module env not
// instantiated"; each always denies (storage_get and llm_complete return
// 0, storage_put and consensus_submit_vote return -1) whatever the
// instance's policies say. The validated-storage commit path lives in
// package storage, not behind these functions.
func hostStorageGet(_ context.Context, _ api.Module, _, _ uint32) uint64 {
	return 0
}

func hostStoragePut(_ context.Context, _ api.Module, _, _, _, _ uint32) int32 {
	return -1
}

func hostLLMComplete(ctx context.Context, _ api.Module, _, _ uint32) uint64 {
	if state, ok := hostStateFrom(ctx); !ok || !state.cfg.LLMPolicy.AllowLLMCalls {
		return 0
	}
	return 0
}

func hostConsensusSubmitVote(ctx context.Context, _ api.Module, _, _ uint32) int32 {
	if state, ok := hostStateFrom(ctx); !ok || !state.cfg.ConsensusPolicy.RequireQuorumBeforeRun {
		return -1
	}
	return -1
}

func readMemory(m api.Module, ptr, length uint32) ([]byte, bool) {
	return m.Memory().Read(ptr, length)
}

func readString(m api.Module, ptr, length uint32) (string, bool) {
	raw, ok := readMemory(m, ptr, length)
	if !ok {
		return "", false
	}
	return string(raw), true
}

// allocateBufferIn mirrors instance.allocateGuestBuffer but operates on any
// api.Module, since host functions receive the calling guest module
// directly rather than through an *instance.
func allocateBufferIn(ctx context.Context, m api.Module, length uint32) (uint32, error) {
	if allocFn := m.ExportedFunction("alloc"); allocFn != nil {
		results, err := allocFn.Call(ctx, uint64(length))
		if err != nil {
			return 0, fmt.Errorf("sandbox: alloc call failed: %w", err)
		}
		return uint32(results[0]), nil
	}
	if allocateFn := m.ExportedFunction("allocate"); allocateFn != nil {
		results, err := allocateFn.Call(ctx, uint64(length), 0)
		if err != nil {
			return 0, fmt.Errorf("sandbox: allocate call failed: %w", err)
		}
		return uint32(results[0]), nil
	}

	mem := m.Memory()
	size := mem.Size()
	if size < length+highMemoryGuard {
		return 0, ErrNoAllocator
	}
	return size - length - highMemoryGuard, nil
}

// writeBytesIn allocates a guest buffer and writes raw into it, returning
// (ptr, len).
func writeBytesIn(ctx context.Context, m api.Module, raw []byte) (uint32, uint32, error) {
	ptr, err := allocateBufferIn(ctx, m, uint32(len(raw)))
	if err != nil {
		return 0, 0, err
	}
	if !m.Memory().Write(ptr, raw) {
		return 0, 0, fmt.Errorf("sandbox: failed to write buffer at %d (%d bytes)", ptr, len(raw))
	}
	return ptr, uint32(len(raw)), nil
}
