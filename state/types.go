// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state implements the replicated core state machine (spec.md §4.D):
// a single reader/writer-locked ChainState mutated only through Apply, with
// a deterministic, canonically-encoded SHA-256 state hash recomputed on
// every mutation.
package state

import (
	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// JobStatus is the lifecycle of a JobRecord.
type JobStatus int

const (
	JobPending JobStatus = iota
	JobRunning
	JobDone
	JobFailed
	JobStale
)

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	case JobStale:
		return "stale"
	default:
		return "unknown"
	}
}

func (s JobStatus) IsTerminal() bool {
	return s == JobDone || s == JobFailed || s == JobStale
}

// EvaluationVote is one validator's signed score for a submission.
type EvaluationVote struct {
	Score       float64
	Stake       uint64
	TimestampMs int64
	Signature   crypto.Signature
}

// EvaluationRecord tracks per-submission validator scoring (spec.md §3).
type EvaluationRecord struct {
	SubmissionID   string
	ChallengeID    ids.ChallengeId
	Miner          ids.Hotkey
	AgentHash      string
	Evaluations    map[ids.Hotkey]EvaluationVote
	AggregatedScore *float64
	Finalized      bool
	CreatedAtMs    int64
	FinalizedAtMs  int64
}

func newEvaluationRecord(rec EvaluationRecord) *EvaluationRecord {
	r := rec
	if r.Evaluations == nil {
		r.Evaluations = make(map[ids.Hotkey]EvaluationVote)
	}
	return &r
}

// JobRecord is a unit of assigned evaluation work (spec.md §3).
type JobRecord struct {
	SubmissionID      string
	ChallengeID       ids.ChallengeId
	AssignedValidator ids.Hotkey
	AssignedAtMs      int64
	TimeoutAtMs       int64
	Status            JobStatus
}

// TaskProgressRecord is last-writer-wins progress for (submission, validator).
type TaskProgressRecord struct {
	SubmissionID string
	ChallengeID  ids.ChallengeId
	Validator    ids.Hotkey
	TaskIndex    int
	TotalTasks   int
	Status       string
	ProgressPct  float64
	UpdatedAtMs  int64
}

// WeightVote is one validator's proposed (uid, weight) vector.
type WeightVote struct {
	Weights map[uint16]float64
}

// WeightVoteState tracks the commit window for a given epoch's final
// weight vector (spec.md §3).
type WeightVoteState struct {
	Epoch        uint64
	Netuid       uint16
	Votes        map[ids.Hotkey]WeightVote
	Finalized    bool
	FinalWeights map[uint16]float64
}

func newWeightVoteState(epoch uint64, netuid uint16) *WeightVoteState {
	return &WeightVoteState{
		Epoch:  epoch,
		Netuid: netuid,
		Votes:  make(map[ids.Hotkey]WeightVote),
	}
}

// NetworkPolicy controls the sandbox's outbound network access for a
// challenge (spec.md §4.G).
type NetworkPolicy struct {
	AllowNetwork bool
	AllowedHosts []string
	DenyPrivate  bool
}

// StoragePolicy controls validated-storage visibility for a challenge.
type StoragePolicy struct {
	Namespace  string
	MaxKeySize int
	MaxValSize int
}

// ChallengeConfig describes one registered challenge module, supplemented
// from the original source's subnet manifest.
type ChallengeConfig struct {
	ChallengeID    ids.ChallengeId
	Name           string
	Version        string
	WasmModuleName string
	NetworkPolicy  NetworkPolicy
	StoragePolicy  StoragePolicy
	MaxTasks       int
	TimeoutMs      int64
}

// ValidatorRecordSnapshot is a read-only projection of a validator's stake
// and liveness, stored inside ChainState (not the live validators.Set,
// which tracks process-local staleness sweeps — ChainState only mirrors
// the replicated facts: stake and last known heartbeat).
type ValidatorRecordSnapshot struct {
	Hotkey        ids.Hotkey
	Stake         uint64
	LastSeenMs    int64
	LastStateHash [32]byte
	LastSequence  uint64
}

// ChainState is the full replicated core (spec.md §3). It is never mutated
// directly outside Machine.Apply.
type ChainState struct {
	Sequence            uint64
	Epoch               uint64
	Netuid              uint16
	NetworkStopped      bool
	Validators          map[ids.Hotkey]ValidatorRecordSnapshot
	PendingEvaluations  map[string]*EvaluationRecord
	CompletedEvaluations map[uint64][]*EvaluationRecord
	Jobs                map[string]*JobRecord
	TaskProgress        map[string]*TaskProgressRecord
	WeightVotes         map[uint64]*WeightVoteState
	BittensorBlock      *uint64
	SudoKey             ids.Hotkey
	Challenges          map[ids.ChallengeId]*ChallengeConfig
	StateHash           [32]byte
}

// NewChainState returns a freshly initialized ChainState for netuid, with
// sudoKey as the initial administrative hotkey.
func NewChainState(netuid uint16, sudoKey ids.Hotkey) *ChainState {
	return &ChainState{
		Netuid:               netuid,
		Validators:           make(map[ids.Hotkey]ValidatorRecordSnapshot),
		PendingEvaluations:   make(map[string]*EvaluationRecord),
		CompletedEvaluations: make(map[uint64][]*EvaluationRecord),
		Jobs:                 make(map[string]*JobRecord),
		TaskProgress:         make(map[string]*TaskProgressRecord),
		WeightVotes:          make(map[uint64]*WeightVoteState),
		SudoKey:              sudoKey,
		Challenges:           make(map[ids.ChallengeId]*ChallengeConfig),
	}
}

func taskProgressKey(submissionID string, validator ids.Hotkey) string {
	return submissionID + "|" + validator.String()
}
