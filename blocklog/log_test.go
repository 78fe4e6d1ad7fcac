package blocklog

import (
	"crypto/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/ids"
	"github.com/PlatformNetwork/subnet-validator/storage"
)

func randHotkey(t *testing.T) ids.Hotkey {
	t.Helper()
	var h ids.Hotkey
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func randChallengeID(t *testing.T) ids.ChallengeId {
	t.Helper()
	id, err := ids.NewChallengeId()
	require.NoError(t, err)
	return id
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dir, err := os.MkdirTemp("", "blocklog-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	kv, err := storage.OpenPebble(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return New(kv)
}

func signedGenesis(t *testing.T, stateRoot [32]byte) Block {
	t.Helper()
	header := Header{
		BlockNumber: 0,
		StateRoot:   stateRoot,
		TimestampMs: 1000,
	}
	return Block{Header: header, BlockHash: ComputeBlockHash(header)}
}

func childOf(t *testing.T, parent Block, stateRoot [32]byte, signers ...ids.Hotkey) Block {
	t.Helper()
	header := Header{
		BlockNumber: parent.Header.BlockNumber + 1,
		ParentHash:  parent.BlockHash,
		StateRoot:   stateRoot,
		TimestampMs: parent.Header.TimestampMs + 1000,
	}
	sigs := make([]Signature, 0, len(signers))
	for _, s := range signers {
		sigs = append(sigs, Signature{Hotkey: s})
	}
	return Block{Header: header, BlockHash: ComputeBlockHash(header), Signatures: sigs}
}

func TestAppendGenesisRequiresZeroParent(t *testing.T) {
	log := newTestLog(t)
	bad := Header{BlockNumber: 0, ParentHash: [32]byte{1}}
	b := Block{Header: bad, BlockHash: ComputeBlockHash(bad)}
	err := log.Append(b)
	require.ErrorIs(t, err, ErrGenesisParent)
}

func TestAppendGenesisSucceeds(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{7})
	require.NoError(t, log.Append(genesis))

	latest, ok, err := log.LatestBlockNumber()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, latest)
}

func TestAppendNonGenesisWithoutSignatureFails(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	child := childOf(t, genesis, [32]byte{2})
	err := log.Append(child)
	require.ErrorIs(t, err, ErrMissingSig)
}

func TestAppendRejectsWrongSequence(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	header := Header{BlockNumber: 5, ParentHash: genesis.BlockHash, StateRoot: [32]byte{2}}
	b := Block{Header: header, BlockHash: ComputeBlockHash(header), Signatures: []Signature{{Hotkey: randHotkey(t)}}}
	err := log.Append(b)
	require.ErrorIs(t, err, ErrSequenceMismatch)
}

func TestAppendRejectsParentMismatch(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	header := Header{BlockNumber: 1, ParentHash: [32]byte{0xFF}, StateRoot: [32]byte{2}}
	b := Block{Header: header, BlockHash: ComputeBlockHash(header), Signatures: []Signature{{Hotkey: randHotkey(t)}}}
	err := log.Append(b)
	require.ErrorIs(t, err, ErrParentMismatch)
}

func TestAppendRejectsTamperedHash(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	genesis.BlockHash[0] ^= 0xFF
	err := log.Append(genesis)
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestAppendRejectsDuplicateSignature(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	signer := randHotkey(t)
	child := childOf(t, genesis, [32]byte{2}, signer, signer)
	err := log.Append(child)
	require.ErrorIs(t, err, ErrDuplicateSig)
}

func TestBlockChainIntegrityAcrossAppends(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	child1 := childOf(t, genesis, [32]byte{2}, randHotkey(t))
	require.NoError(t, log.Append(child1))

	child2 := childOf(t, child1, [32]byte{3}, randHotkey(t))
	require.NoError(t, log.Append(child2))

	b1, err := log.GetBlockByNumber(1)
	require.NoError(t, err)
	require.Equal(t, genesis.BlockHash, b1.Header.ParentHash)

	b2, err := log.GetBlockByNumber(2)
	require.NoError(t, err)
	require.Equal(t, child1.BlockHash, b2.Header.ParentHash)
}

func TestGetBlockByHashMatchesGetBlockByNumber(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))

	byHash, err := log.GetBlockByHash(genesis.BlockHash)
	require.NoError(t, err)
	require.Equal(t, genesis.Header.BlockNumber, byHash.Header.BlockNumber)
}

func TestListBlocksInRangeEmptyWhenStartAfterEnd(t *testing.T) {
	log := newTestLog(t)
	blocks, err := log.ListBlocksInRange(5, 2)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestListBlocksInRangeInclusive(t *testing.T) {
	log := newTestLog(t)
	genesis := signedGenesis(t, [32]byte{1})
	require.NoError(t, log.Append(genesis))
	child1 := childOf(t, genesis, [32]byte{2}, randHotkey(t))
	require.NoError(t, log.Append(child1))

	blocks, err := log.ListBlocksInRange(0, 1)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
}

func TestComputeBlockHashStableUnderChallengeRootPermutation(t *testing.T) {
	id1, id2, id3 := randChallengeID(t), randChallengeID(t), randChallengeID(t)
	base := map[ids.ChallengeId][32]byte{id1: {1}, id2: {2}, id3: {3}}

	h1 := Header{BlockNumber: 1, ChallengeRoots: base}
	orderA := Header{BlockNumber: 1, ChallengeRoots: map[ids.ChallengeId][32]byte{id3: {3}, id1: {1}, id2: {2}}}

	require.Equal(t, ComputeBlockHash(h1), ComputeBlockHash(orderA))
}

func TestHasQuorumThresholds(t *testing.T) {
	require.True(t, HasQuorum(1, 1))
	require.False(t, HasQuorum(0, 1))
	require.True(t, HasQuorum(3, 4)) // ceil(8/3) = 3
	require.False(t, HasQuorum(2, 4))
	require.True(t, HasQuorum(7, 10)) // ceil(20/3) = 7
	require.False(t, HasQuorum(6, 10))
}

func TestGetStateRootAtBlockByChallenge(t *testing.T) {
	log := newTestLog(t)
	id := randChallengeID(t)
	header := Header{
		BlockNumber:    0,
		StateRoot:      [32]byte{9},
		ChallengeRoots: map[ids.ChallengeId][32]byte{id: {4, 5, 6}},
	}
	genesis := Block{Header: header, BlockHash: ComputeBlockHash(header)}
	require.NoError(t, log.Append(genesis))

	root, err := log.GetStateRootAtBlock(0, &id)
	require.NoError(t, err)
	require.Equal(t, [32]byte{4, 5, 6}, root)

	blockRoot, err := log.GetStateRootAtBlock(0, nil)
	require.NoError(t, err)
	require.Equal(t, [32]byte{9}, blockRoot)
}
