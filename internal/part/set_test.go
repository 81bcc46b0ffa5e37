package part

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetContainingSelfMaximal(t *testing.T) {
	s := NewSet()
	n := MustParse("202301_1_1_0")
	require.Equal(t, n, s.Containing(n))
}

func TestSetAddSupersedesCoveredMembers(t *testing.T) {
	s := NewSet()
	p1 := MustParse("202301_1_1_0")
	p2 := MustParse("202301_2_2_0")
	merged := MustParse("202301_1_2_1")

	s.Add(p1)
	s.Add(p2)
	require.ElementsMatch(t, []Name{p1, p2}, s.List())

	s.Add(merged)
	require.Equal(t, []Name{merged}, s.List())
	require.Equal(t, merged, s.Containing(p1))
	require.Equal(t, merged, s.Containing(p2))
}

func TestSetAddDeclinesWhenAlreadyCovered(t *testing.T) {
	s := NewSet()
	merged := MustParse("202301_1_2_1")
	p1 := MustParse("202301_1_1_0")

	s.Add(merged)
	s.Add(p1)
	require.Equal(t, []Name{merged}, s.List())
}

func TestSetIsAntichain(t *testing.T) {
	s := NewSet()
	for _, n := range []Name{
		MustParse("202301_1_1_0"),
		MustParse("202301_2_2_0"),
		MustParse("202301_3_3_0"),
		MustParse("202301_1_3_1"),
	} {
		s.Add(n)
	}
	members := s.List()
	for i := range members {
		for j := range members {
			if i == j {
				continue
			}
			require.False(t, members[i].Covers(members[j]),
				"%v should not cover %v in an antichain", members[i], members[j])
		}
	}
}
