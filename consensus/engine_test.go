package consensus

import (
	"crypto/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

func randHotkey(t *testing.T) ids.Hotkey {
	t.Helper()
	var b [32]byte
	_, err := rand.Read(b[:])
	require.NoError(t, err)
	hk, err := ids.HotkeyFromBytes(b[:])
	require.NoError(t, err)
	return hk
}

func sortedHotkeys(hks []ids.Hotkey) []ids.Hotkey {
	out := append([]ids.Hotkey(nil), hks...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func fourValidatorCluster(t *testing.T) []ids.Hotkey {
	t.Helper()
	hks := make([]ids.Hotkey, 4)
	for i := range hks {
		hks[i] = randHotkey(t)
	}
	return sortedHotkeys(hks)
}

func TestQuorumMath(t *testing.T) {
	cases := []struct{ n, wantQuorum int }{
		{1, 1}, {2, 2}, {3, 3}, {4, 3}, {7, 5}, {10, 7},
	}
	for _, c := range cases {
		hks := make([]ids.Hotkey, c.n)
		e, err := New(Config{Self: ids.Hotkey{}, ActiveVals: func() []ids.Hotkey { return hks }})
		require.NoError(t, err)
		require.Equal(t, c.wantQuorum, e.quorum(), "n=%d", c.n)
	}
}

func TestLeaderSelectionRoundRobin(t *testing.T) {
	hks := fourValidatorCluster(t)
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	for v := View(0); v < View(len(hks)*2); v++ {
		leader, err := e.Leader(v)
		require.NoError(t, err)
		require.Equal(t, hks[int(v)%len(hks)], leader)
	}
}

func TestHandleProposalRejectsNonLeader(t *testing.T) {
	hks := fourValidatorCluster(t)
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	notLeader := hks[1]
	_, err = e.HandleProposal(PrePrepare{View: 0, Seq: 1, Digest: Digest{1}, Proposer: notLeader})
	require.Error(t, err)
	require.NotEmpty(t, e.Faults(notLeader))
}

func TestFullAgreementRoundReachesDecision(t *testing.T) {
	hks := fourValidatorCluster(t)
	leader := hks[0]
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	digest := Digest{9}
	prepare, err := e.HandleProposal(PrePrepare{View: 0, Seq: 1, Digest: digest, Proposer: leader})
	require.NoError(t, err)
	require.NotNil(t, prepare)

	quorum := e.quorum()
	var commit *Commit
	for i := 0; i < quorum; i++ {
		c, err := e.HandlePrepare(Prepare{View: 0, Seq: 1, Digest: digest, Voter: hks[i]})
		require.NoError(t, err)
		if c != nil {
			commit = c
		}
	}
	require.NotNil(t, commit, "expected commit to be emitted once prepare quorum reached")

	var decision *Decision
	for i := 0; i < quorum; i++ {
		d, err := e.HandleCommit(Commit{View: 0, Seq: 1, Digest: digest, Voter: hks[i]})
		require.NoError(t, err)
		if d != nil {
			decision = d
		}
	}
	require.NotNil(t, decision)
	require.Equal(t, digest, decision.Digest)
	require.Equal(t, Decided, e.Phase(1))

	got, ok := e.Decision(1)
	require.True(t, ok)
	require.Equal(t, digest, got.Digest)
}

func TestDoubleProposalTriggersViewChange(t *testing.T) {
	hks := fourValidatorCluster(t)
	leader := hks[0]
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	_, err = e.HandleProposal(PrePrepare{View: 0, Seq: 1, Digest: Digest{1}, Proposer: leader})
	require.NoError(t, err)

	_, err = e.HandleProposal(PrePrepare{View: 0, Seq: 1, Digest: Digest{2}, Proposer: leader})
	require.Error(t, err)
	require.NotEmpty(t, e.Faults(leader))
	require.Equal(t, Idle, e.Phase(1))
}

func TestContradictingPrepareRecordsFaultButDoesNotPanic(t *testing.T) {
	hks := fourValidatorCluster(t)
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	_, err = e.HandlePrepare(Prepare{View: 0, Seq: 1, Digest: Digest{1}, Voter: hks[1]})
	require.NoError(t, err)
	_, err = e.HandlePrepare(Prepare{View: 0, Seq: 1, Digest: Digest{2}, Voter: hks[1]})
	require.NoError(t, err)
	require.NotEmpty(t, e.Faults(hks[1]))
}

func TestViewChangeQuorumProducesNewViewForNextLeader(t *testing.T) {
	hks := fourValidatorCluster(t)
	probe, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)
	nextLeader, err := probe.Leader(1)
	require.NoError(t, err)

	e, err := New(Config{Self: nextLeader, ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	quorum := e.quorum()
	var nv *NewView
	for i := 0; i < quorum; i++ {
		out, err := e.HandleViewChange(ViewChange{NewView: 1, Voter: hks[i], LastDecided: 0})
		require.NoError(t, err)
		if out != nil {
			nv = out
		}
	}
	require.NotNil(t, nv)
	require.Equal(t, View(1), nv.View)
	require.Equal(t, nextLeader, nv.Leader)
}

func TestHandleNewViewAdoptsAndRejectsStale(t *testing.T) {
	hks := fourValidatorCluster(t)
	e, err := New(Config{Self: hks[0], ActiveVals: func() []ids.Hotkey { return hks }})
	require.NoError(t, err)

	require.NoError(t, e.HandleNewView(NewView{View: 1}))
	require.Equal(t, View(1), e.CurrentView())

	err = e.HandleNewView(NewView{View: 1})
	require.Error(t, err)
	err = e.HandleNewView(NewView{View: 0})
	require.Error(t, err)
}
