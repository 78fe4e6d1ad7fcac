package storage

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Errors returned by the validated-storage protocol (spec.md §4.H).
var (
	ErrWrongChallenge    = errors.New("storage: proposal challenge_id mismatch")
	ErrValueHashMismatch = errors.New("storage: value_hash does not match SHA-256(value)")
	ErrProposalExpired   = errors.New("storage: proposal expired")
	ErrUnknownProposal   = errors.New("storage: unknown proposal")
	ErrConflictingVotes  = errors.New("storage: conflicting votes from same voter")
	ErrDuplicateVote     = errors.New("storage: duplicate vote")
	ErrNotYetDecided     = errors.New("storage: consensus not yet reached")
	ErrAlreadyCommitted  = errors.New("storage: proposal already committed")
)

// WasmValidationResult is the outcome of running the challenge-defined
// validation WASM over (key, value), per spec.md §4.H step 3.
type WasmValidationResult struct {
	Valid           bool
	GasUsed         uint64
	ExecutionTimeMs int64
	Error           string
}

// StorageWriteProposal is a pending validated write, broadcast by its
// proposer (spec.md §3).
type StorageWriteProposal struct {
	ProposalID  [32]byte
	ChallengeID ids.ChallengeId
	Proposer    ids.Hotkey
	Key         string
	Value       []byte
	ValueHash   [32]byte
	TimestampMs int64
	Signature   crypto.Signature
}

// ComputeProposalID computes the SHA-256 over challenge_id‖proposer‖key‖
// value_hash‖timestamp, per spec.md §3.
func ComputeProposalID(challengeID ids.ChallengeId, proposer ids.Hotkey, key string, valueHash [32]byte, timestampMs int64) [32]byte {
	h := sha256.New()
	h.Write(challengeID.Bytes())
	h.Write(proposer.Bytes())
	h.Write([]byte(key))
	h.Write(valueHash[:])
	var tsBuf [8]byte
	for i := 0; i < 8; i++ {
		tsBuf[i] = byte(timestampMs >> (8 * i))
	}
	h.Write(tsBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewProposal constructs and signs a StorageWriteProposal.
func NewProposal(kp *crypto.Keypair, challengeID ids.ChallengeId, key string, value []byte, timestampMs int64) StorageWriteProposal {
	valueHash := sha256.Sum256(value)
	proposalID := ComputeProposalID(challengeID, kp.Hotkey, key, valueHash, timestampMs)
	sig := kp.SignBytes(proposalID[:])
	return StorageWriteProposal{
		ProposalID:  proposalID,
		ChallengeID: challengeID,
		Proposer:    kp.Hotkey,
		Key:         key,
		Value:       value,
		ValueHash:   valueHash,
		TimestampMs: timestampMs,
		Signature:   sig,
	}
}

// StorageWriteVote is a signed approve/reject vote on a proposal.
type StorageWriteVote struct {
	ProposalID       [32]byte
	Voter            ids.Hotkey
	Approved         bool
	ValidationResult *WasmValidationResult
	TimestampMs      int64
	Signature        crypto.Signature
}

// ConsensusResult is the immutable outcome once quorum approving votes
// have been tallied.
type ConsensusResult struct {
	ProposalID    [32]byte
	Approved      bool
	ApprovedCount int
	TotalVotes    int
	Committed     bool
}

// proposalState holds one proposal plus its accumulated votes.
type proposalState struct {
	proposal StorageWriteProposal
	votes    map[ids.Hotkey]StorageWriteVote
	result   *ConsensusResult
}

// Config parameterizes a ValidatedStorage instance.
type Config struct {
	ProposalTimeoutMs int64
	QuorumSize        int
}

// ValidatedStorage is the per-process overlay described in spec.md §4.H.
type ValidatedStorage struct {
	inner       KV
	cfg         Config
	localHotkey ids.Hotkey

	mu        sync.Mutex
	proposals map[[32]byte]*proposalState
	committed map[[32]byte]*ConsensusResult
}

// NewValidatedStorage constructs a ValidatedStorage over inner.
func NewValidatedStorage(inner KV, cfg Config, localHotkey ids.Hotkey) *ValidatedStorage {
	return &ValidatedStorage{
		inner:       inner,
		cfg:         cfg,
		localHotkey: localHotkey,
		proposals:   make(map[[32]byte]*proposalState),
		committed:   make(map[[32]byte]*ConsensusResult),
	}
}

// ProposeWrite (step 1) constructs and records a locally-originated
// proposal, returning it so the caller can broadcast it.
func (vs *ValidatedStorage) ProposeWrite(kp *crypto.Keypair, challengeID ids.ChallengeId, key string, value []byte, timestampMs int64) (StorageWriteProposal, error) {
	proposal := NewProposal(kp, challengeID, key, value, timestampMs)
	if err := vs.ReceiveProposal(proposal, challengeID, timestampMs); err != nil {
		return StorageWriteProposal{}, err
	}
	return proposal, nil
}

// ReceiveProposal (step 2) validates and records an inbound proposal:
// challenge-id match, value-hash match, not expired.
func (vs *ValidatedStorage) ReceiveProposal(p StorageWriteProposal, expectedChallengeID ids.ChallengeId, nowMs int64) error {
	if p.ChallengeID != expectedChallengeID {
		return fmt.Errorf("%w: got %s want %s", ErrWrongChallenge, p.ChallengeID, expectedChallengeID)
	}
	if sha256.Sum256(p.Value) != p.ValueHash {
		return ErrValueHashMismatch
	}
	if nowMs > p.TimestampMs+vs.cfg.ProposalTimeoutMs {
		return ErrProposalExpired
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()
	if _, exists := vs.proposals[p.ProposalID]; exists {
		return nil // idempotent re-delivery
	}
	vs.proposals[p.ProposalID] = &proposalState{
		proposal: p,
		votes:    make(map[ids.Hotkey]StorageWriteVote),
	}
	return nil
}

// RecordVote (steps 3-5 combined: the caller performs the WASM evaluation
// in 4.G and passes the resulting WasmValidationResult in through vote).
// Tallies toward quorum and produces the ConsensusResult once reached.
func (vs *ValidatedStorage) RecordVote(vote StorageWriteVote, nowMs int64) (*ConsensusResult, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	state, ok := vs.proposals[vote.ProposalID]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownProposal, vote.ProposalID)
	}
	if nowMs > state.proposal.TimestampMs+vs.cfg.ProposalTimeoutMs {
		return nil, ErrProposalExpired
	}
	if state.result != nil {
		return state.result, nil
	}

	if existing, voted := state.votes[vote.Voter]; voted {
		if existing.Approved != vote.Approved {
			return nil, fmt.Errorf("%w: voter %s", ErrConflictingVotes, vote.Voter)
		}
		return nil, fmt.Errorf("%w: voter %s", ErrDuplicateVote, vote.Voter)
	}
	state.votes[vote.Voter] = vote

	approved := 0
	for _, v := range state.votes {
		if v.Approved {
			approved++
		}
	}
	if approved >= vs.cfg.QuorumSize {
		result := &ConsensusResult{
			ProposalID:    vote.ProposalID,
			Approved:      true,
			ApprovedCount: approved,
			TotalVotes:    len(state.votes),
		}
		state.result = result
		return result, nil
	}
	return nil, nil
}

// CommitWrite (step 6) writes the proposal's value under the namespaced
// key validated:{challenge_id}:{user_key} once consensus has approved it,
// and marks the result committed.
func (vs *ValidatedStorage) CommitWrite(proposalID [32]byte) error {
	vs.mu.Lock()
	state, ok := vs.proposals[proposalID]
	if !ok {
		vs.mu.Unlock()
		return fmt.Errorf("%w: %x", ErrUnknownProposal, proposalID)
	}
	if state.result == nil || !state.result.Approved {
		vs.mu.Unlock()
		return ErrNotYetDecided
	}
	if state.result.Committed {
		vs.mu.Unlock()
		return ErrAlreadyCommitted
	}
	proposal := state.proposal
	vs.mu.Unlock()

	namespacedKey := NamespacedKey(proposal.ChallengeID, proposal.Key)
	if err := vs.inner.Put([]byte(namespacedKey), proposal.Value); err != nil {
		return fmt.Errorf("storage: commit write: %w", err)
	}

	vs.mu.Lock()
	state.result.Committed = true
	vs.committed[proposalID] = state.result
	vs.mu.Unlock()
	return nil
}

// NamespacedKey builds the validated:{challenge_id}:{user_key} key, per
// spec.md §4.H step 6.
func NamespacedKey(challengeID ids.ChallengeId, userKey string) string {
	return fmt.Sprintf("validated:%s:%s", challengeID.String(), userKey)
}

// CleanupExpired removes only proposals without a consensus result whose
// timeout has elapsed, returning the removed proposal ids.
func (vs *ValidatedStorage) CleanupExpired(nowMs int64) [][32]byte {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	var removed [][32]byte
	for id, state := range vs.proposals {
		if state.result != nil {
			continue
		}
		if nowMs > state.proposal.TimestampMs+vs.cfg.ProposalTimeoutMs {
			delete(vs.proposals, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Get reads a previously committed validated value.
func (vs *ValidatedStorage) Get(challengeID ids.ChallengeId, userKey string) ([]byte, error) {
	return vs.inner.Get([]byte(NamespacedKey(challengeID, userKey)))
}
