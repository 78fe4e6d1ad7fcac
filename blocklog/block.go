// Package blocklog implements the append-only signed block log that
// anchors state across epochs (spec.md §4.I/§6).
package blocklog

import (
	"sort"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Header is the signed portion of a Block.
type Header struct {
	BlockNumber    uint64
	ParentHash     [32]byte
	StateRoot      [32]byte
	ChallengeRoots map[ids.ChallengeId][32]byte
	TimestampMs    int64
	Epoch          uint64
}

// Signature pairs a validator's hotkey with its signature over a block hash.
type Signature struct {
	Hotkey ids.Hotkey
	Sig    crypto.Signature
}

// Block is an appended entry in the log: a header plus the set of
// validator signatures over its hash.
type Block struct {
	Header     Header
	BlockHash  [32]byte
	Signatures []Signature
}

// ComputeBlockHash hashes Header deterministically, independent of the
// insertion order of ChallengeRoots (spec.md §8 "Hash stability").
func ComputeBlockHash(h Header) [32]byte {
	return crypto.MustHashData(canonicalHeader(h))
}

// canonicalHeader projects Header into a form with sorted map keys so
// crypto.Encode's traversal order is independent of Go's randomized map
// iteration.
func canonicalHeader(h Header) map[string]any {
	ids := make([]string, 0, len(h.ChallengeRoots))
	byID := make(map[string][32]byte, len(h.ChallengeRoots))
	for id, root := range h.ChallengeRoots {
		key := id.String()
		ids = append(ids, key)
		byID[key] = root
	}
	sort.Strings(ids)

	roots := make([]any, 0, len(ids))
	for _, key := range ids {
		root := byID[key]
		roots = append(roots, map[string]any{
			"challenge_id": key,
			"root":         root[:],
		})
	}

	return map[string]any{
		"block_number":    h.BlockNumber,
		"parent_hash":     h.ParentHash[:],
		"state_root":      h.StateRoot[:],
		"challenge_roots": roots,
		"timestamp_ms":    h.TimestampMs,
		"epoch":           h.Epoch,
	}
}

// HasQuorum reports whether count signatures meet the quorum threshold
// for an n-validator set: ceil(2n/3) for n >= 2, else n (spec.md §4.I).
func HasQuorum(count, n int) bool {
	if n < 2 {
		return count >= n
	}
	threshold := (2*n + 2) / 3 // ceil(2n/3)
	return count >= threshold
}

// hasDuplicateSignature reports whether any hotkey signs a block's
// header more than once.
func hasDuplicateSignature(sigs []Signature) bool {
	seen := make(map[ids.Hotkey]struct{}, len(sigs))
	for _, s := range sigs {
		if _, ok := seen[s.Hotkey]; ok {
			return true
		}
		seen[s.Hotkey] = struct{}{}
	}
	return false
}
