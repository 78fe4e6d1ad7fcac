// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package message implements the tagged union of P2P messages exchanged
// between validators and miners (spec.md §4.B), and the SignedMessage
// envelope that authenticates them.
package message

import (
	"github.com/PlatformNetwork/subnet-validator/ids"
)

// Kind identifies the concrete payload type carried by a Message. The set
// is closed: extending it means adding a new Kind and Payload
// implementation, not a string-typed escape hatch.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindProposal
	KindPrePrepare
	KindPrepare
	KindCommit
	KindViewChange
	KindNewView
	KindHeartbeat
	KindSubmission
	KindEvaluation
	KindWeightVote
	KindPeerAnnounce
	KindJobClaim
	KindJobAssignment
	KindDataRequest
	KindDataResponse
	KindTaskProgress
	KindTaskResult
	KindLeaderboardRequest
	KindLeaderboardResponse
	KindChallengeUpdate
	KindStorageProposal
	KindStorageVote
	KindReviewAssignment
	KindReviewDecline
	KindReviewResult
	KindAgentLogProposal
	KindSudoAction
	KindStateRequest
	KindStateResponse
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "Proposal"
	case KindPrePrepare:
		return "PrePrepare"
	case KindPrepare:
		return "Prepare"
	case KindCommit:
		return "Commit"
	case KindViewChange:
		return "ViewChange"
	case KindNewView:
		return "NewView"
	case KindHeartbeat:
		return "Heartbeat"
	case KindSubmission:
		return "Submission"
	case KindEvaluation:
		return "Evaluation"
	case KindWeightVote:
		return "WeightVote"
	case KindPeerAnnounce:
		return "PeerAnnounce"
	case KindJobClaim:
		return "JobClaim"
	case KindJobAssignment:
		return "JobAssignment"
	case KindDataRequest:
		return "DataRequest"
	case KindDataResponse:
		return "DataResponse"
	case KindTaskProgress:
		return "TaskProgress"
	case KindTaskResult:
		return "TaskResult"
	case KindLeaderboardRequest:
		return "LeaderboardRequest"
	case KindLeaderboardResponse:
		return "LeaderboardResponse"
	case KindChallengeUpdate:
		return "ChallengeUpdate"
	case KindStorageProposal:
		return "StorageProposal"
	case KindStorageVote:
		return "StorageVote"
	case KindReviewAssignment:
		return "ReviewAssignment"
	case KindReviewDecline:
		return "ReviewDecline"
	case KindReviewResult:
		return "ReviewResult"
	case KindAgentLogProposal:
		return "AgentLogProposal"
	case KindSudoAction:
		return "SudoAction"
	case KindStateRequest:
		return "StateRequest"
	case KindStateResponse:
		return "StateResponse"
	default:
		return "Unknown"
	}
}

// Payload is implemented by every concrete message body. Every message type
// must declare its expected signer (spec.md §4.B) so the network pipeline
// can reject messages whose declared signer doesn't match the embedded
// identity, and whether it requires the signer to be an active validator
// (true for all consensus traffic; false only for Submission, since miners
// are not validators).
type Payload interface {
	Kind() Kind
	ExpectedSigner() ids.Hotkey
	RequiresValidatorMembership() bool
}

// --- Consensus traffic (requires validator membership) ---

// ProposalPayload carries a PBFT proposal for a commit-window decision.
type ProposalPayload struct {
	View     uint64
	Seq      uint64
	Digest   [32]byte
	Proposer ids.Hotkey
	Data     []byte
}

func (p ProposalPayload) Kind() Kind                       { return KindProposal }
func (p ProposalPayload) ExpectedSigner() ids.Hotkey        { return p.Proposer }
func (p ProposalPayload) RequiresValidatorMembership() bool { return true }

// PrePreparePayload is sent by the leader of the current view.
type PrePreparePayload struct {
	View     uint64
	Seq      uint64
	Digest   [32]byte
	Leader   ids.Hotkey
	Data     []byte
}

func (p PrePreparePayload) Kind() Kind                       { return KindPrePrepare }
func (p PrePreparePayload) ExpectedSigner() ids.Hotkey        { return p.Leader }
func (p PrePreparePayload) RequiresValidatorMembership() bool { return true }

// PreparePayload is sent by any validator after seeing a matching PrePrepare.
type PreparePayload struct {
	View      uint64
	Seq       uint64
	Digest    [32]byte
	Validator ids.Hotkey
}

func (p PreparePayload) Kind() Kind                       { return KindPrepare }
func (p PreparePayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p PreparePayload) RequiresValidatorMembership() bool { return true }

// CommitPayload is sent by any validator after collecting quorum Prepares.
type CommitPayload struct {
	View      uint64
	Seq       uint64
	Digest    [32]byte
	Validator ids.Hotkey
}

func (p CommitPayload) Kind() Kind                       { return KindCommit }
func (p CommitPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p CommitPayload) RequiresValidatorMembership() bool { return true }

// ViewChangePayload is sent when a validator's view timer expires.
type ViewChangePayload struct {
	NewView   uint64
	LastSeq   uint64
	Validator ids.Hotkey
}

func (p ViewChangePayload) Kind() Kind                       { return KindViewChange }
func (p ViewChangePayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p ViewChangePayload) RequiresValidatorMembership() bool { return true }

// NewViewPayload is sent by the next view's leader once it collects quorum
// ViewChanges.
type NewViewPayload struct {
	View        uint64
	Leader      ids.Hotkey
	ViewChanges [][32]byte
}

func (p NewViewPayload) Kind() Kind                       { return KindNewView }
func (p NewViewPayload) ExpectedSigner() ids.Hotkey        { return p.Leader }
func (p NewViewPayload) RequiresValidatorMembership() bool { return true }

// HeartbeatPayload is periodically broadcast by validators to keep their
// ValidatorRecord fresh.
type HeartbeatPayload struct {
	Validator  ids.Hotkey
	StateHash  [32]byte
	Sequence   uint64
	Stake      uint64
	SentAtMs   int64
}

func (p HeartbeatPayload) Kind() Kind                       { return KindHeartbeat }
func (p HeartbeatPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p HeartbeatPayload) RequiresValidatorMembership() bool { return true }

// --- Miner traffic (does not require validator membership) ---

// SubmissionPayload is a miner's signed offering of an agent for evaluation.
type SubmissionPayload struct {
	SubmissionID string
	ChallengeID  ids.ChallengeId
	Miner        ids.Hotkey
	AgentHash    string
	AgentData    []byte
}

func (p SubmissionPayload) Kind() Kind                       { return KindSubmission }
func (p SubmissionPayload) ExpectedSigner() ids.Hotkey        { return p.Miner }
func (p SubmissionPayload) RequiresValidatorMembership() bool { return false }

// --- Validator evaluation / weighting traffic ---

// EvaluationPayload is a validator's signed score for a submission.
type EvaluationPayload struct {
	SubmissionID string
	Validator    ids.Hotkey
	Score        float64
	TimestampMs  int64
}

func (p EvaluationPayload) Kind() Kind                       { return KindEvaluation }
func (p EvaluationPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p EvaluationPayload) RequiresValidatorMembership() bool { return true }

// WeightVotePayload carries one validator's proposed weight vector for an
// epoch's commit window.
type WeightVotePayload struct {
	Epoch     uint64
	Netuid    uint16
	Validator ids.Hotkey
	UIDs      []uint16
	Weights   []uint16
	Hash      [32]byte
}

func (p WeightVotePayload) Kind() Kind                       { return KindWeightVote }
func (p WeightVotePayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p WeightVotePayload) RequiresValidatorMembership() bool { return true }

// --- Peer / job lifecycle traffic ---

// PeerAnnouncePayload announces a validator's listen address, populating
// the DHT routing table on receipt (spec.md §4.E).
type PeerAnnouncePayload struct {
	Validator   ids.Hotkey
	ListenAddr  string
	ProtocolVer string
}

func (p PeerAnnouncePayload) Kind() Kind                       { return KindPeerAnnounce }
func (p PeerAnnouncePayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p PeerAnnouncePayload) RequiresValidatorMembership() bool { return true }

// JobClaimPayload is a validator volunteering to evaluate a submission.
type JobClaimPayload struct {
	SubmissionID string
	Validator    ids.Hotkey
}

func (p JobClaimPayload) Kind() Kind                       { return KindJobClaim }
func (p JobClaimPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p JobClaimPayload) RequiresValidatorMembership() bool { return true }

// JobAssignmentPayload assigns a submission to a validator.
type JobAssignmentPayload struct {
	SubmissionID       string
	ChallengeID        ids.ChallengeId
	AssignedValidator  ids.Hotkey
	Assigner           ids.Hotkey
	TimeoutAtMs        int64
}

func (p JobAssignmentPayload) Kind() Kind                       { return KindJobAssignment }
func (p JobAssignmentPayload) ExpectedSigner() ids.Hotkey        { return p.Assigner }
func (p JobAssignmentPayload) RequiresValidatorMembership() bool { return true }

// DataRequestPayload requests a chunk of replicated state/data from peers.
type DataRequestPayload struct {
	Requester ids.Hotkey
	Key       string
}

func (p DataRequestPayload) Kind() Kind                       { return KindDataRequest }
func (p DataRequestPayload) ExpectedSigner() ids.Hotkey        { return p.Requester }
func (p DataRequestPayload) RequiresValidatorMembership() bool { return true }

// DataResponsePayload answers a DataRequestPayload.
type DataResponsePayload struct {
	Responder ids.Hotkey
	Key       string
	Value     []byte
	Found     bool
}

func (p DataResponsePayload) Kind() Kind                       { return KindDataResponse }
func (p DataResponsePayload) ExpectedSigner() ids.Hotkey        { return p.Responder }
func (p DataResponsePayload) RequiresValidatorMembership() bool { return true }

// TaskProgressPayload reports last-writer-wins progress for one task within
// a submission's evaluation.
type TaskProgressPayload struct {
	SubmissionID string
	ChallengeID  ids.ChallengeId
	Validator    ids.Hotkey
	TaskIndex    int
	TotalTasks   int
	Status       string
	ProgressPct  float64
	UpdatedAtMs  int64
}

func (p TaskProgressPayload) Kind() Kind                       { return KindTaskProgress }
func (p TaskProgressPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p TaskProgressPayload) RequiresValidatorMembership() bool { return true }

// TaskResultPayload carries the final result of one task's execution.
type TaskResultPayload struct {
	SubmissionID string
	Validator    ids.Hotkey
	TaskIndex    int
	Score        float64
	Valid        bool
	Message      string
}

func (p TaskResultPayload) Kind() Kind                       { return KindTaskResult }
func (p TaskResultPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p TaskResultPayload) RequiresValidatorMembership() bool { return true }

// LeaderboardRequestPayload asks a peer for its current leaderboard view.
type LeaderboardRequestPayload struct {
	Requester   ids.Hotkey
	ChallengeID ids.ChallengeId
}

func (p LeaderboardRequestPayload) Kind() Kind                       { return KindLeaderboardRequest }
func (p LeaderboardRequestPayload) ExpectedSigner() ids.Hotkey        { return p.Requester }
func (p LeaderboardRequestPayload) RequiresValidatorMembership() bool { return true }

// LeaderboardResponsePayload answers a LeaderboardRequestPayload.
type LeaderboardResponsePayload struct {
	Responder ids.Hotkey
	Entries   []LeaderboardEntry
}

// LeaderboardEntry is one row of a leaderboard response.
type LeaderboardEntry struct {
	Miner ids.Hotkey
	Score float64
}

func (p LeaderboardResponsePayload) Kind() Kind                       { return KindLeaderboardResponse }
func (p LeaderboardResponsePayload) ExpectedSigner() ids.Hotkey        { return p.Responder }
func (p LeaderboardResponsePayload) RequiresValidatorMembership() bool { return true }

// ChallengeUpdatePayload announces a change to a ChallengeConfig.
type ChallengeUpdatePayload struct {
	ChallengeID ids.ChallengeId
	Proposer    ids.Hotkey
	Name        string
	Version     uint32
	WasmModule  string
}

func (p ChallengeUpdatePayload) Kind() Kind                       { return KindChallengeUpdate }
func (p ChallengeUpdatePayload) ExpectedSigner() ids.Hotkey        { return p.Proposer }
func (p ChallengeUpdatePayload) RequiresValidatorMembership() bool { return true }

// --- Validated-storage protocol (spec.md §4.H) ---

// StorageProposalPayload wraps a StorageWriteProposal for transport.
type StorageProposalPayload struct {
	ProposalID  [32]byte
	ChallengeID ids.ChallengeId
	Proposer    ids.Hotkey
	Key         string
	Value       []byte
	ValueHash   [32]byte
	TimestampMs int64
}

func (p StorageProposalPayload) Kind() Kind                       { return KindStorageProposal }
func (p StorageProposalPayload) ExpectedSigner() ids.Hotkey        { return p.Proposer }
func (p StorageProposalPayload) RequiresValidatorMembership() bool { return true }

// StorageVotePayload wraps a StorageWriteVote for transport.
type StorageVotePayload struct {
	ProposalID [32]byte
	Voter      ids.Hotkey
	Approved   bool
	GasUsed    uint64
	TimestampMs int64
}

func (p StorageVotePayload) Kind() Kind                       { return KindStorageVote }
func (p StorageVotePayload) ExpectedSigner() ids.Hotkey        { return p.Voter }
func (p StorageVotePayload) RequiresValidatorMembership() bool { return true }

// --- Multi-agent reviewer traffic (peripheral, but named in spec.md §4.B) ---

// ReviewAssignmentPayload assigns an LLM-backed reviewer validator to a
// submission.
type ReviewAssignmentPayload struct {
	SubmissionID string
	Reviewer     ids.Hotkey
	Assigner     ids.Hotkey
}

func (p ReviewAssignmentPayload) Kind() Kind                       { return KindReviewAssignment }
func (p ReviewAssignmentPayload) ExpectedSigner() ids.Hotkey        { return p.Assigner }
func (p ReviewAssignmentPayload) RequiresValidatorMembership() bool { return true }

// ReviewDeclinePayload is sent by a validator declining a ReviewAssignment.
type ReviewDeclinePayload struct {
	SubmissionID string
	Reviewer     ids.Hotkey
	Reason       string
}

func (p ReviewDeclinePayload) Kind() Kind                       { return KindReviewDecline }
func (p ReviewDeclinePayload) ExpectedSigner() ids.Hotkey        { return p.Reviewer }
func (p ReviewDeclinePayload) RequiresValidatorMembership() bool { return true }

// ReviewResultPayload carries a completed review's verdict.
type ReviewResultPayload struct {
	SubmissionID string
	Reviewer     ids.Hotkey
	Score        float64
	Notes        string
}

func (p ReviewResultPayload) Kind() Kind                       { return KindReviewResult }
func (p ReviewResultPayload) ExpectedSigner() ids.Hotkey        { return p.Reviewer }
func (p ReviewResultPayload) RequiresValidatorMembership() bool { return true }

// AgentLogProposalPayload proposes committing a chunk of agent stdout/
// stderr capture into validated storage.
type AgentLogProposalPayload struct {
	SubmissionID string
	Validator    ids.Hotkey
	ChunkIndex   int
	Data         []byte
}

func (p AgentLogProposalPayload) Kind() Kind                       { return KindAgentLogProposal }
func (p AgentLogProposalPayload) ExpectedSigner() ids.Hotkey        { return p.Validator }
func (p AgentLogProposalPayload) RequiresValidatorMembership() bool { return true }

// --- Sudo / state sync traffic ---

// SudoActionKind enumerates the closed set of privileged operations a sudo
// key may trigger (supplemented per SPEC_FULL.md §3 from
// original_source/crates/subnet-manager/src/commands.rs).
type SudoActionKind uint8

const (
	SudoUnknown SudoActionKind = iota
	SudoStopNetwork
	SudoRemoveValidator
	SudoUpdateChallenge
	SudoSetMinStake
)

// SudoActionPayload is a sudo-signed privileged command.
type SudoActionPayload struct {
	Action      SudoActionKind
	Signer      ids.Hotkey
	Reason      string
	Target      ids.Hotkey
	ChallengeID ids.ChallengeId
	MinStake    uint64
}

func (p SudoActionPayload) Kind() Kind                       { return KindSudoAction }
func (p SudoActionPayload) ExpectedSigner() ids.Hotkey        { return p.Signer }
func (p SudoActionPayload) RequiresValidatorMembership() bool { return true }

// StateRequestPayload asks a peer for a snapshot of the replicated state at
// or above a given sequence number.
type StateRequestPayload struct {
	Requester    ids.Hotkey
	FromSequence uint64
}

func (p StateRequestPayload) Kind() Kind                       { return KindStateRequest }
func (p StateRequestPayload) ExpectedSigner() ids.Hotkey        { return p.Requester }
func (p StateRequestPayload) RequiresValidatorMembership() bool { return true }

// StateResponsePayload answers a StateRequestPayload.
type StateResponsePayload struct {
	Responder ids.Hotkey
	Sequence  uint64
	StateHash [32]byte
	Snapshot  []byte
}

func (p StateResponsePayload) Kind() Kind                       { return KindStateResponse }
func (p StateResponsePayload) ExpectedSigner() ids.Hotkey        { return p.Responder }
func (p StateResponsePayload) RequiresValidatorMembership() bool { return true }
