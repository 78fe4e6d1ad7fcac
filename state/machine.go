package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Errors returned by Machine.Apply transitions.
var (
	ErrSubmissionExists      = errors.New("state: submission already pending")
	ErrSubmissionNotPending  = errors.New("state: submission not pending")
	ErrNotValidator          = errors.New("state: signer is not a registered validator")
	ErrDuplicateVote         = errors.New("state: validator already voted for this submission")
	ErrSignatureInvalid      = errors.New("state: evaluation signature invalid")
	ErrJobNotReplaceable     = errors.New("state: existing job is not terminal")
	ErrNonMonotonicBlock     = errors.New("state: bittensor block number must be monotonic")
	ErrNotSudo               = errors.New("state: signer is not the sudo key")
	ErrWeightQuorumNotMet    = errors.New("state: weight vote quorum not reached")
)

// Machine wraps a ChainState behind a single reader/writer lock, exactly
// mirroring spec.md §4.D's read/apply split: Read takes the shared lock,
// Apply takes the exclusive lock for the whole closure. Callers MUST NOT
// perform I/O inside an Apply closure.
type Machine struct {
	mu    sync.RWMutex
	state *ChainState
}

// NewMachine constructs a Machine around an initial ChainState.
func NewMachine(initial *ChainState) *Machine {
	m := &Machine{state: initial}
	m.state.StateHash = m.computeHash()
	return m
}

// Read takes the shared lock and runs fn against a borrowed snapshot.
// fn MUST NOT retain the pointer passed in beyond the call.
func (m *Machine) Read(fn func(*ChainState)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

// Apply takes the exclusive lock, runs fn, then increments sequence and
// recomputes the canonical state hash.
func (m *Machine) Apply(fn func(*ChainState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(m.state); err != nil {
		return err
	}
	m.state.Sequence++
	m.state.StateHash = m.computeHash()
	return nil
}

// computeHash recomputes the deterministic SHA-256 over the canonical
// encoding of the whole state, per spec.md §4.D. Must be called while
// holding the write lock.
func (m *Machine) computeHash() [32]byte {
	return crypto.MustHashData(canonicalView(m.state))
}

// canonicalView builds the sorted, deterministic encodable projection of
// a ChainState. Every map is walked in sorted key order so the resulting
// hash does not depend on Go's randomized map iteration.
func canonicalView(s *ChainState) map[string]any {
	validators := make([]any, 0, len(s.Validators))
	for _, hk := range sortedHotkeys(s.Validators) {
		v := s.Validators[hk]
		validators = append(validators, map[string]any{
			"hotkey":     v.Hotkey.Bytes(),
			"stake":      v.Stake,
			"last_seen":  v.LastSeenMs,
			"last_hash":  v.LastStateHash[:],
			"last_seq":   v.LastSequence,
		})
	}

	pending := make([]any, 0, len(s.PendingEvaluations))
	for _, sid := range sortedStringKeys(s.PendingEvaluations) {
		pending = append(pending, canonicalEvaluation(s.PendingEvaluations[sid]))
	}

	completed := make([]any, 0, len(s.CompletedEvaluations))
	for _, epoch := range sortedUint64Keys(s.CompletedEvaluations) {
		recs := s.CompletedEvaluations[epoch]
		encRecs := make([]any, 0, len(recs))
		for _, r := range recs {
			encRecs = append(encRecs, canonicalEvaluation(r))
		}
		completed = append(completed, map[string]any{"epoch": epoch, "records": encRecs})
	}

	jobs := make([]any, 0, len(s.Jobs))
	for _, sid := range sortedStringKeys(s.Jobs) {
		j := s.Jobs[sid]
		jobs = append(jobs, map[string]any{
			"submission_id": j.SubmissionID,
			"challenge_id":  j.ChallengeID.Bytes(),
			"assigned":      j.AssignedValidator.Bytes(),
			"assigned_at":   j.AssignedAtMs,
			"timeout_at":    j.TimeoutAtMs,
			"status":        int(j.Status),
		})
	}

	progress := make([]any, 0, len(s.TaskProgress))
	for _, key := range sortedStringKeys(s.TaskProgress) {
		p := s.TaskProgress[key]
		progress = append(progress, map[string]any{
			"submission_id": p.SubmissionID,
			"validator":     p.Validator.Bytes(),
			"task_index":    p.TaskIndex,
			"total_tasks":   p.TotalTasks,
			"status":        p.Status,
			"progress_pct":  p.ProgressPct,
			"updated_at":    p.UpdatedAtMs,
		})
	}

	weightVotes := make([]any, 0, len(s.WeightVotes))
	for _, epoch := range sortedUint64KeysWV(s.WeightVotes) {
		wv := s.WeightVotes[epoch]
		votes := make([]any, 0, len(wv.Votes))
		for _, hk := range sortedHotkeysWV(wv.Votes) {
			uids := make([]uint16, 0, len(wv.Votes[hk].Weights))
			for uid := range wv.Votes[hk].Weights {
				uids = append(uids, uid)
			}
			sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
			weightPairs := make([]any, 0, len(uids))
			for _, uid := range uids {
				weightPairs = append(weightPairs, map[string]any{"uid": uid, "weight": wv.Votes[hk].Weights[uid]})
			}
			votes = append(votes, map[string]any{"validator": hk.Bytes(), "weights": weightPairs})
		}
		weightVotes = append(weightVotes, map[string]any{
			"epoch":     wv.Epoch,
			"netuid":    wv.Netuid,
			"votes":     votes,
			"finalized": wv.Finalized,
		})
	}

	challenges := make([]any, 0, len(s.Challenges))
	for _, cid := range sortedChallengeKeys(s.Challenges) {
		c := s.Challenges[cid]
		challenges = append(challenges, map[string]any{
			"challenge_id": c.ChallengeID.Bytes(),
			"name":         c.Name,
			"version":      c.Version,
			"wasm_module":  c.WasmModuleName,
			"max_tasks":    c.MaxTasks,
			"timeout_ms":   c.TimeoutMs,
		})
	}

	var bittensorBlock any
	if s.BittensorBlock != nil {
		bittensorBlock = *s.BittensorBlock
	}

	return map[string]any{
		"sequence":              s.Sequence,
		"epoch":                 s.Epoch,
		"netuid":                s.Netuid,
		"network_stopped":       s.NetworkStopped,
		"validators":            validators,
		"pending_evaluations":   pending,
		"completed_evaluations": completed,
		"jobs":                  jobs,
		"task_progress":         progress,
		"weight_votes":          weightVotes,
		"bittensor_block":       bittensorBlock,
		"sudo_key":              s.SudoKey.Bytes(),
		"challenges":            challenges,
	}
}

func canonicalEvaluation(r *EvaluationRecord) map[string]any {
	votes := make([]any, 0, len(r.Evaluations))
	for _, hk := range sortedHotkeysEv(r.Evaluations) {
		v := r.Evaluations[hk]
		votes = append(votes, map[string]any{
			"validator": hk.Bytes(),
			"score":     v.Score,
			"stake":     v.Stake,
			"timestamp": v.TimestampMs,
		})
	}
	var agg any
	if r.AggregatedScore != nil {
		agg = *r.AggregatedScore
	}
	return map[string]any{
		"submission_id":    r.SubmissionID,
		"challenge_id":     r.ChallengeID.Bytes(),
		"miner":            r.Miner.Bytes(),
		"agent_hash":       r.AgentHash,
		"evaluations":      votes,
		"aggregated_score": agg,
		"finalized":        r.Finalized,
		"created_at":       r.CreatedAtMs,
		"finalized_at":     r.FinalizedAtMs,
	}
}

func sortedHotkeys(m map[ids.Hotkey]ValidatorRecordSnapshot) []ids.Hotkey {
	out := make([]ids.Hotkey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedHotkeysEv(m map[ids.Hotkey]EvaluationVote) []ids.Hotkey {
	out := make([]ids.Hotkey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedHotkeysWV(m map[ids.Hotkey]WeightVote) []ids.Hotkey {
	out := make([]ids.Hotkey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func sortedStringKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedUint64Keys(m map[uint64][]*EvaluationRecord) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedUint64KeysWV(m map[uint64]*WeightVoteState) []uint64 {
	out := make([]uint64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedChallengeKeys(m map[ids.ChallengeId]*ChallengeConfig) []ids.ChallengeId {
	out := make([]ids.ChallengeId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// scoreSigningBytes is the canonical encoding of (submission_id, score)
// that evaluation signatures are taken over, per spec.md §4.D's
// precondition "signature verifies over (sid, score)".
func scoreSigningBytes(sid string, score float64) []byte {
	enc, err := crypto.Encode(map[string]any{"submission_id": sid, "score": score})
	if err != nil {
		// crypto.Encode only fails on unsupported types; sid/score are
		// always encodable, so this path is unreachable in practice.
		return nil
	}
	return enc
}

// --- Transitions (spec.md §4.D table) ---

// AddEvaluation inserts a freshly-created EvaluationRecord into pending,
// rejecting a duplicate submission id.
func AddEvaluation(s *ChainState, rec EvaluationRecord, nowMs int64) error {
	if _, exists := s.PendingEvaluations[rec.SubmissionID]; exists {
		return fmt.Errorf("%w: %s", ErrSubmissionExists, rec.SubmissionID)
	}
	rec.CreatedAtMs = nowMs
	s.PendingEvaluations[rec.SubmissionID] = newEvaluationRecord(rec)
	return nil
}

// QuorumFunc reports the minimum number of votes required for a submission
// to reach evaluation quorum, typically n-f over active validators.
type QuorumFunc func() int

// AddValidatorEvaluation records validator v's score for submission sid,
// verifying the submitted signature and validator membership, and
// finalizes the record via stake-weighted aggregation once quorum is met.
func AddValidatorEvaluation(
	s *ChainState,
	sid string,
	v ids.Hotkey,
	score float64,
	stake uint64,
	sig crypto.Signature,
	nowMs int64,
	quorum QuorumFunc,
) error {
	rec, ok := s.PendingEvaluations[sid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubmissionNotPending, sid)
	}
	if _, isValidator := s.Validators[v]; !isValidator {
		return fmt.Errorf("%w: %s", ErrNotValidator, v)
	}
	if _, already := rec.Evaluations[v]; already {
		return fmt.Errorf("%w: %s for %s", ErrDuplicateVote, v, sid)
	}
	if !crypto.VerifyHotkey(v, scoreSigningBytes(sid, score), sig) {
		return ErrSignatureInvalid
	}

	rec.Evaluations[v] = EvaluationVote{
		Score:       score,
		Stake:       stake,
		TimestampMs: nowMs,
		Signature:   sig,
	}

	if quorum != nil && len(rec.Evaluations) >= quorum() {
		agg := aggregateEvaluations(rec)
		rec.AggregatedScore = &agg
		rec.Finalized = true
		rec.FinalizedAtMs = nowMs
	}
	return nil
}

// AssignJob inserts or replaces a JobRecord, requiring the existing job
// (if any) to be in a terminal state before replacement.
func AssignJob(s *ChainState, job JobRecord) error {
	if job.TimeoutAtMs <= job.AssignedAtMs {
		return fmt.Errorf("state: job timeout_at_ms must be after assigned_at_ms")
	}
	if existing, ok := s.Jobs[job.SubmissionID]; ok && !existing.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobNotReplaceable, job.SubmissionID)
	}
	j := job
	s.Jobs[job.SubmissionID] = &j
	return nil
}

// CleanupStaleJobs transitions any Pending/Running job whose timeout has
// elapsed to Stale, returning the submission ids it touched.
func CleanupStaleJobs(s *ChainState, nowMs int64) []string {
	var touched []string
	for sid, j := range s.Jobs {
		if (j.Status == JobPending || j.Status == JobRunning) && nowMs > j.TimeoutAtMs {
			j.Status = JobStale
			touched = append(touched, sid)
		}
	}
	sort.Strings(touched)
	return touched
}

// NextEpoch moves finalized pending evaluations into completed history,
// clears the weight-vote window, and advances the epoch counter.
func NextEpoch(s *ChainState) {
	remaining := make(map[string]*EvaluationRecord, len(s.PendingEvaluations))
	for sid, rec := range s.PendingEvaluations {
		if rec.Finalized {
			s.CompletedEvaluations[s.Epoch] = append(s.CompletedEvaluations[s.Epoch], rec)
			continue
		}
		remaining[sid] = rec
	}
	s.PendingEvaluations = remaining
	delete(s.WeightVotes, s.Epoch)
	s.Epoch++
}

// LinkToBittensorBlock records the external chain anchor for block n,
// requiring n to be strictly greater than any previously recorded block.
func LinkToBittensorBlock(s *ChainState, n uint64, hash [32]byte) error {
	if s.BittensorBlock != nil && n <= *s.BittensorBlock {
		return fmt.Errorf("%w: %d <= %d", ErrNonMonotonicBlock, n, *s.BittensorBlock)
	}
	block := n
	s.BittensorBlock = &block
	_ = hash // the block hash is not stored; only the block number is recorded
	return nil
}

// StopNetwork halts the network if signer is the registered sudo key.
func StopNetwork(s *ChainState, signer ids.Hotkey, reason string) error {
	if signer != s.SudoKey {
		return fmt.Errorf("%w: %s", ErrNotSudo, signer)
	}
	s.NetworkStopped = true
	_ = reason
	return nil
}

// FinalizeWeights computes the final weight vector for the current
// epoch's WeightVoteState once quorum is reached, using stakeOf to look
// up each voting validator's stake.
func FinalizeWeights(s *ChainState, quorum QuorumFunc, stakeOf func(ids.Hotkey) uint64, nowMs int64) (map[uint16]float64, error) {
	wv, ok := s.WeightVotes[s.Epoch]
	if !ok {
		return nil, ErrWeightQuorumNotMet
	}
	if quorum != nil && len(wv.Votes) < quorum() {
		return nil, ErrWeightQuorumNotMet
	}
	final := aggregateWeightVotes(wv, stakeOf)
	wv.Finalized = true
	wv.FinalWeights = final
	return final, nil
}

// EnsureWeightVoteWindow opens the WeightVoteState for the current epoch
// if it is not already open, so RecordWeightVote has somewhere to write.
func EnsureWeightVoteWindow(s *ChainState) *WeightVoteState {
	wv, ok := s.WeightVotes[s.Epoch]
	if !ok {
		wv = newWeightVoteState(s.Epoch, s.Netuid)
		s.WeightVotes[s.Epoch] = wv
	}
	return wv
}

// RecordWeightVote stores validator v's proposed weight vector for the
// currently open epoch window.
func RecordWeightVote(s *ChainState, v ids.Hotkey, weights map[uint16]float64) {
	wv := EnsureWeightVoteWindow(s)
	wv.Votes[v] = WeightVote{Weights: weights}
}

// UpsertTaskProgress applies last-writer-wins semantics per
// (submission_id, validator).
func UpsertTaskProgress(s *ChainState, p TaskProgressRecord) {
	key := taskProgressKey(p.SubmissionID, p.Validator)
	rec := p
	s.TaskProgress[key] = &rec
}

// UpsertChallenge registers or replaces a ChallengeConfig.
func UpsertChallenge(s *ChainState, cfg ChallengeConfig) {
	c := cfg
	s.Challenges[cfg.ChallengeID] = &c
}

// SyncValidatorSnapshot mirrors a validator's current stake/liveness into
// the replicated state, called from the heartbeat-handling path.
func SyncValidatorSnapshot(s *ChainState, v ValidatorRecordSnapshot) {
	s.Validators[v.Hotkey] = v
}

// RemoveValidatorSnapshot removes a validator from the replicated state,
// e.g. in response to a SudoAction.RemoveValidator.
func RemoveValidatorSnapshot(s *ChainState, hotkey ids.Hotkey) {
	delete(s.Validators, hotkey)
}
