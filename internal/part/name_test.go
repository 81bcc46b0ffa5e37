package part

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	names := []string{
		"202301_1_1_0",
		"202301_2_4_1",
		"202312_0_100_3",
	}
	for _, s := range names {
		n, err := Parse(s)
		require.NoError(t, err)
		require.Equal(t, s, n.String())
	}
}

func TestParseMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"202301_1_1",
		"202301_1_1_0_0",
		"abc_1_1_0",
	} {
		_, err := Parse(s)
		require.Error(t, err)
	}
}

func TestCovers(t *testing.T) {
	outer := MustParse("202301_1_4_1")
	inner := MustParse("202301_2_3_0")
	other := MustParse("202302_2_3_0")

	require.True(t, outer.Covers(inner))
	require.True(t, outer.Covers(outer))
	require.False(t, inner.Covers(outer))
	require.False(t, outer.Covers(other))
}

func TestAdjacent(t *testing.T) {
	a := MustParse("202301_1_2_0")
	b := MustParse("202301_2_3_0")
	c := MustParse("202301_3_4_0")
	other := MustParse("202302_2_3_0")

	require.True(t, a.Adjacent(b), "touching ranges are adjacent")
	require.True(t, a.Adjacent(c), "a numeric gap does not exclude adjacency")
	require.False(t, b.Adjacent(a), "adjacency is directional")
	require.False(t, a.Adjacent(other), "different months are never adjacent")
}
