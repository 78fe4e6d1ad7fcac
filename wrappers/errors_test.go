package wrappers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

func TestErrsAccumulates(t *testing.T) {
	var e Errs
	require.False(t, e.Errored())
	e.Add(nil)
	require.False(t, e.Errored())

	e.Add(errors.New("one"))
	require.True(t, e.Errored())
	require.Equal(t, 1, e.Len())
	require.EqualError(t, e.Err(), "one")

	e.Add(errors.New("two"))
	require.Equal(t, 2, e.Len())
	require.Contains(t, e.Err().Error(), "2 errors occurred")
}

func TestKindedErrs(t *testing.T) {
	k := NewKindedErrs()
	var h ids.Hotkey
	h[0] = 1

	require.Equal(t, 0, k.Count(h))
	k.Add(h, errors.New("equivocation"))
	require.Equal(t, 1, k.Count(h))
	require.Len(t, k.For(h), 1)
}
