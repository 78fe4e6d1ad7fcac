package storage

import (
	"crypto/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/crypto"
	"github.com/PlatformNetwork/subnet-validator/ids"
)

func randHotkey(t *testing.T) ids.Hotkey {
	t.Helper()
	var h ids.Hotkey
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func newMemoryKV(t *testing.T) *PebbleKV {
	t.Helper()
	dir, err := os.MkdirTemp("", "validated-storage-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	kv, err := OpenPebble(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func testConfig() Config {
	return Config{ProposalTimeoutMs: 10_000, QuorumSize: 2}
}

func TestProposeWriteRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)
	require.Equal(t, challengeID, proposal.ChallengeID)
}

func TestReceiveProposalRejectsWrongChallenge(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)
	otherChallengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal := NewProposal(kp, challengeID, "k1", []byte("v1"), 1000)
	err = vs.ReceiveProposal(proposal, otherChallengeID, 1000)
	require.ErrorIs(t, err, ErrWrongChallenge)
}

func TestReceiveProposalRejectsValueHashMismatch(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal := NewProposal(kp, challengeID, "k1", []byte("v1"), 1000)
	proposal.Value = []byte("tampered")
	err = vs.ReceiveProposal(proposal, challengeID, 1000)
	require.ErrorIs(t, err, ErrValueHashMismatch)
}

func TestReceiveProposalRejectsExpired(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	cfg := testConfig()
	vs := NewValidatedStorage(newMemoryKV(t), cfg, kp.Hotkey)
	proposal := NewProposal(kp, challengeID, "k1", []byte("v1"), 1000)
	err = vs.ReceiveProposal(proposal, challengeID, 1000+cfg.ProposalTimeoutMs+1)
	require.ErrorIs(t, err, ErrProposalExpired)
}

func TestRecordVoteReachesQuorumAndCommits(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)

	v1, v2 := randHotkey(t), randHotkey(t)
	result, err := vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: v1, Approved: true, TimestampMs: 1001}, 1001)
	require.NoError(t, err)
	require.Nil(t, result, "quorum not yet reached")

	result, err = vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: v2, Approved: true, TimestampMs: 1002}, 1002)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.Approved)
	require.Equal(t, 2, result.ApprovedCount)

	err = vs.CommitWrite(proposal.ProposalID)
	require.NoError(t, err)

	got, err := vs.Get(challengeID, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	err = vs.CommitWrite(proposal.ProposalID)
	require.ErrorIs(t, err, ErrAlreadyCommitted)
}

func TestRecordVoteDetectsConflictingVotes(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)

	voter := randHotkey(t)
	_, err = vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: voter, Approved: true, TimestampMs: 1001}, 1001)
	require.NoError(t, err)

	_, err = vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: voter, Approved: false, TimestampMs: 1002}, 1002)
	require.ErrorIs(t, err, ErrConflictingVotes)
}

func TestRecordVoteRejectsDuplicateVote(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)

	voter := randHotkey(t)
	_, err = vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: voter, Approved: true, TimestampMs: 1001}, 1001)
	require.NoError(t, err)

	_, err = vs.RecordVote(StorageWriteVote{ProposalID: proposal.ProposalID, Voter: voter, Approved: true, TimestampMs: 1002}, 1002)
	require.ErrorIs(t, err, ErrDuplicateVote)
}

func TestCommitWriteBeforeConsensusFails(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	vs := NewValidatedStorage(newMemoryKV(t), testConfig(), kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)

	err = vs.CommitWrite(proposal.ProposalID)
	require.ErrorIs(t, err, ErrNotYetDecided)
}

func TestRecordVoteRejectsExpiredProposal(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	cfg := testConfig()
	vs := NewValidatedStorage(newMemoryKV(t), cfg, kp.Hotkey)
	proposal, err := vs.ProposeWrite(kp, challengeID, "k1", []byte("v1"), 1000)
	require.NoError(t, err)

	_, err = vs.RecordVote(StorageWriteVote{
		ProposalID:  proposal.ProposalID,
		Voter:       randHotkey(t),
		Approved:    true,
		TimestampMs: 1000 + cfg.ProposalTimeoutMs + 1,
	}, 1000+cfg.ProposalTimeoutMs+1)
	require.ErrorIs(t, err, ErrProposalExpired)
}

func TestCleanupExpiredRemovesOnlyUndecidedProposals(t *testing.T) {
	kp, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	challengeID, err := ids.NewChallengeId()
	require.NoError(t, err)

	cfg := testConfig()
	vs := NewValidatedStorage(newMemoryKV(t), cfg, kp.Hotkey)

	decided, err := vs.ProposeWrite(kp, challengeID, "decided", []byte("v1"), 1000)
	require.NoError(t, err)
	v1, v2 := randHotkey(t), randHotkey(t)
	_, err = vs.RecordVote(StorageWriteVote{ProposalID: decided.ProposalID, Voter: v1, Approved: true, TimestampMs: 1001}, 1001)
	require.NoError(t, err)
	_, err = vs.RecordVote(StorageWriteVote{ProposalID: decided.ProposalID, Voter: v2, Approved: true, TimestampMs: 1002}, 1002)
	require.NoError(t, err)

	undecided, err := vs.ProposeWrite(kp, challengeID, "undecided", []byte("v2"), 1000)
	require.NoError(t, err)

	removed := vs.CleanupExpired(1000 + cfg.ProposalTimeoutMs + 1)
	require.Len(t, removed, 1)
	require.Equal(t, undecided.ProposalID, removed[0])

	// the decided proposal must still be committable after cleanup.
	err = vs.CommitWrite(decided.ProposalID)
	require.NoError(t, err)
}
