package network

import (
	"crypto/rand"
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

func TestPeerIndexBasicAssociation(t *testing.T) {
	idx := NewPeerIndex()
	hk := randHotkey(t)
	idx.Associate("peer-a", hk)

	got, ok := idx.HotkeyForPeer("peer-a")
	require.True(t, ok)
	require.Equal(t, hk, got)

	peer, ok := idx.PeerForHotkey(hk)
	require.True(t, ok)
	require.Equal(t, "peer-a", peer)
}

func TestPeerIndexOverwriteCleansBothDirections(t *testing.T) {
	idx := NewPeerIndex()
	hkA, hkB := randHotkey(t), randHotkey(t)

	idx.Associate("peer-1", hkA)
	// hkA reconnects over a new transport peer id.
	idx.Associate("peer-2", hkA)

	// Stale forward entry for peer-1 must be gone, not just shadowed.
	_, ok := idx.HotkeyForPeer("peer-1")
	require.False(t, ok, "overwritten peer id must not resolve to the old hotkey")

	peer, ok := idx.PeerForHotkey(hkA)
	require.True(t, ok)
	require.Equal(t, "peer-2", peer)

	// A different hotkey taking over peer-2 must also clean hkA's reverse entry.
	idx.Associate("peer-2", hkB)
	_, ok = idx.PeerForHotkey(hkA)
	require.False(t, ok, "old hotkey must not still resolve to the reassigned peer id")

	got, ok := idx.HotkeyForPeer("peer-2")
	require.True(t, ok)
	require.Equal(t, hkB, got)
}

func TestPeerIndexRemoveCleansBothDirections(t *testing.T) {
	idx := NewPeerIndex()
	hk := randHotkey(t)
	idx.Associate("peer-1", hk)
	idx.Remove("peer-1")

	_, ok := idx.HotkeyForPeer("peer-1")
	require.False(t, ok)
	_, ok = idx.PeerForHotkey(hk)
	require.False(t, ok)
	require.Equal(t, 0, idx.Len())
}
