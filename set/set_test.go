package set

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type orderedInt int

func (o orderedInt) Less(other orderedInt) bool { return o < other }

func TestSetBasics(t *testing.T) {
	s := Of(3, 1, 2)
	require.Equal(t, 3, s.Len())
	require.True(t, s.Contains(1))
	require.False(t, s.Contains(4))

	s.Remove(1)
	require.False(t, s.Contains(1))
	require.Equal(t, 2, s.Len())
}

func TestSetUnionDifference(t *testing.T) {
	a := Of(1, 2, 3)
	b := Of(3, 4)

	a.Union(b)
	require.True(t, a.Contains(4))

	a.Difference(Of(1, 2))
	require.False(t, a.Contains(1))
	require.False(t, a.Contains(2))
	require.True(t, a.Contains(3))
	require.True(t, a.Contains(4))
}

func TestSetOverlaps(t *testing.T) {
	a := Of(1, 2)
	b := Of(2, 3)
	c := Of(4, 5)

	require.True(t, a.Overlaps(b))
	require.False(t, a.Overlaps(c))
}

func TestSorted(t *testing.T) {
	s := Of[orderedInt](5, 1, 3)
	sorted := Sorted(s)
	require.Equal(t, []orderedInt{1, 3, 5}, sorted)
}

func TestSetJSONRoundTrip(t *testing.T) {
	s := Of("a", "b", "c")
	data, err := s.MarshalJSON()
	require.NoError(t, err)

	var out Set[string]
	require.NoError(t, out.UnmarshalJSON(data))
	require.True(t, out.Equals(s))
}
