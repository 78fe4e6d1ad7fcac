package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHotkeyRoundTrip(t *testing.T) {
	var raw [HotkeyLen]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	h, err := HotkeyFromBytes(raw[:])
	require.NoError(t, err)

	parsed, err := HotkeyFromHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestHotkeyFromBytesWrongLength(t *testing.T) {
	_, err := HotkeyFromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestHotkeyLess(t *testing.T) {
	a, err := HotkeyFromBytes(make([]byte, HotkeyLen))
	require.NoError(t, err)
	bBytes := make([]byte, HotkeyLen)
	bBytes[HotkeyLen-1] = 1
	b, err := HotkeyFromBytes(bBytes)
	require.NoError(t, err)

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.False(t, a.Less(a))
}

func TestChallengeIdRoundTrip(t *testing.T) {
	id, err := NewChallengeId()
	require.NoError(t, err)

	parsed, err := ChallengeIdFromHex(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestHotkeyIsEmpty(t *testing.T) {
	var h Hotkey
	require.True(t, h.IsEmpty())
	h[0] = 1
	require.False(t, h.IsEmpty())
}
